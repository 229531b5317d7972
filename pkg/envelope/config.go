package envelope

import (
	"fmt"

	"github.com/kacperjurak/linaccore/pkg/beam"
	"github.com/kacperjurak/linaccore/pkg/diag"
	"gonum.org/v1/gonum/mat"
)

// Method is the field map integration scheme.
type Method string

const (
	RK4      Method = "RK4"
	Leapfrog Method = "leapfrog"
)

// Config configures a calculator.
type Config struct {
	Method        Method
	NStepsPerCell int
	Particle      beam.Particle
	// SigmaIn holds the entrance beam matrices. ZDelta is enough for the
	// longitudinal calculator; leave it empty to skip beam parameters.
	SigmaIn map[beam.Plane]*mat.Dense
	Diag    *diag.Collector
}

func (c Config) withDefaults() Config {
	if c.Method == "" {
		c.Method = RK4
	}
	if c.NStepsPerCell == 0 {
		if c.Method == Leapfrog {
			c.NStepsPerCell = 20
		} else {
			c.NStepsPerCell = 40
		}
	}
	return c
}

func (c Config) validate(threeD bool) error {
	if c.Method != RK4 && c.Method != Leapfrog {
		return fmt.Errorf("%w: method %q", ErrInvalidConfig, c.Method)
	}
	if c.NStepsPerCell < 1 {
		return fmt.Errorf("%w: n_steps_per_cell = %d", ErrInvalidConfig, c.NStepsPerCell)
	}
	if err := c.Particle.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(c.SigmaIn) == 0 {
		return nil
	}
	planes := []beam.Plane{beam.ZDelta}
	if threeD {
		planes = append(planes, beam.X, beam.Y)
	}
	for _, p := range planes {
		s, ok := c.SigmaIn[p]
		if !ok {
			return fmt.Errorf("%w: sigma_in is missing plane %s", ErrInvalidConfig, p)
		}
		if r, cl := s.Dims(); r != 2 || cl != 2 {
			return fmt.Errorf("%w: sigma_in %s is %dx%d", ErrInvalidConfig, p, r, cl)
		}
	}
	return nil
}
