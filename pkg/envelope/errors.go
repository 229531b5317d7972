package envelope

import (
	"errors"
	"fmt"
)

var (
	ErrBeamDynamicsDivergence = errors.New("envelope: beam dynamics divergence")
	ErrFieldNotLoaded         = errors.New("envelope: field map not loaded")
	ErrInvalidConfig          = errors.New("envelope: invalid config")
)

// DivergenceError reports a non physical energy inside an element.
type DivergenceError struct {
	Element string
	Index   int
	Step    int
	Gamma   float64
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("envelope: beam dynamics divergence in %s (index %d) at step %d: gamma = %g",
		e.Element, e.Index, e.Step, e.Gamma)
}

func (e *DivergenceError) Unwrap() error { return ErrBeamDynamicsDivergence }

// FieldNotLoadedError is returned for a field map element without field.
type FieldNotLoadedError struct {
	Element string
	Index   int
}

func (e *FieldNotLoadedError) Error() string {
	return fmt.Sprintf("envelope: field map of %s (index %d) is not loaded", e.Element, e.Index)
}

func (e *FieldNotLoadedError) Unwrap() error { return ErrFieldNotLoaded }
