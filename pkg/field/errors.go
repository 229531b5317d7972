package field

import (
	"errors"
	"fmt"
)

// ErrFieldMapLoad is wrapped by every error raised while reading or
// validating a field map.
var ErrFieldMapLoad = errors.New("field: field map load error")

// LoadError locates a field map problem in its source.
type LoadError struct {
	Path string
	Line int
	Err  error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("field: %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("field: %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrFieldMapLoad, e.Err}
}

func loadErr(path string, line int, format string, args ...interface{}) error {
	return &LoadError{Path: path, Line: line, Err: fmt.Errorf(format, args...)}
}
