// Package designspace describes the variables an optimisation may change
// and the constraints it must respect, and writes a candidate point back to
// a set of cavity settings.
package designspace

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kacperjurak/linaccore/pkg/cavity"
	"github.com/kacperjurak/linaccore/pkg/simout"
)

var (
	ErrUnknownPreset   = errors.New("designspace: unknown preset")
	ErrUnknownVariable = errors.New("designspace: unknown variable")
)

// Variable names.
const (
	KE      = "k_e"
	Phi0Abs = "phi_0_abs"
	Phi0Rel = "phi_0_rel"
	PhiS    = "phi_s"
)

// Variable is one dimension of the design space, attached to a cavity.
type Variable struct {
	Name   string
	Cavity int
	X0     float64
	Min    float64
	Max    float64
}

// IsPhase reports whether the variable is an angle.
func (v Variable) IsPhase() bool { return strings.HasPrefix(v.Name, "phi") }

func (v Variable) String() string {
	return fmt.Sprintf("%s@%d x0=%g [%g, %g]", v.Name, v.Cavity, v.X0, v.Min, v.Max)
}

func (v Variable) validate() error {
	switch v.Name {
	case KE, Phi0Abs, Phi0Rel, PhiS:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownVariable, v.Name)
	}
	if !(v.Min <= v.Max) {
		return fmt.Errorf("designspace: %s has limits [%g, %g]", v, v.Min, v.Max)
	}
	return nil
}

// Constraint keeps a cavity quantity within [Min, Max]. Only phi_s is
// supported.
type Constraint struct {
	Name   string
	Cavity int
	Min    float64
	Max    float64
}

func (c Constraint) String() string {
	return fmt.Sprintf("%s@%d [%g, %g]", c.Name, c.Cavity, c.Min, c.Max)
}

// Space holds the variables in the order of the optimisation vector.
type Space struct {
	Variables   []Variable
	Constraints []Constraint
}

// New checks the variables and constraints.
func New(vars []Variable, cons []Constraint) (*Space, error) {
	seen := make(map[string]bool)
	for _, v := range vars {
		if err := v.validate(); err != nil {
			return nil, err
		}
		key := fmt.Sprintf("%s@%d", v.Name, v.Cavity)
		if seen[key] {
			return nil, fmt.Errorf("designspace: duplicate variable %s", key)
		}
		seen[key] = true
	}
	for _, c := range cons {
		if c.Name != PhiS {
			return nil, fmt.Errorf("designspace: unsupported constraint %q", c.Name)
		}
		if !(c.Min <= c.Max) {
			return nil, fmt.Errorf("designspace: %s has inverted limits", c)
		}
	}
	return &Space{Variables: vars, Constraints: cons}, nil
}

func (s *Space) Dim() int { return len(s.Variables) }

// Restrict returns the variables and constraints of the given cavities.
func (s *Space) Restrict(cavities []int) (*Space, error) {
	keep := make(map[int]bool, len(cavities))
	for _, c := range cavities {
		keep[c] = true
	}
	var vars []Variable
	for _, v := range s.Variables {
		if keep[v.Cavity] {
			vars = append(vars, v)
		}
	}
	var cons []Constraint
	for _, c := range s.Constraints {
		if keep[c.Cavity] {
			cons = append(cons, c)
		}
	}
	if len(vars) == 0 {
		return nil, fmt.Errorf("designspace: no variable for cavities %v", cavities)
	}
	return New(vars, cons)
}

// Bounds returns the initial point and the box of the optimisation.
func (s *Space) Bounds() (x0, lower, upper []float64) {
	n := len(s.Variables)
	x0, lower, upper = make([]float64, n), make([]float64, n), make([]float64, n)
	for i, v := range s.Variables {
		x0[i], lower[i], upper[i] = v.X0, v.Min, v.Max
	}
	return x0, lower, upper
}

// Phase marks the angle variables.
func (s *Space) Phase() []bool {
	out := make([]bool, len(s.Variables))
	for i, v := range s.Variables {
		out[i] = v.IsPhase()
	}
	return out
}

// Cavities returns the cavities touched by the variables, in order of first
// appearance.
func (s *Space) Cavities() []int {
	var out []int
	seen := make(map[int]bool)
	for _, v := range s.Variables {
		if !seen[v.Cavity] {
			seen[v.Cavity] = true
			out = append(out, v.Cavity)
		}
	}
	return out
}

// Apply writes x into the settings of set. It is the only place where an
// optimisation changes cavity settings.
func (s *Space) Apply(x []float64, set cavity.Set) error {
	if len(x) != len(s.Variables) {
		return fmt.Errorf("designspace: got %d values for %d variables", len(x), len(s.Variables))
	}
	for i, v := range s.Variables {
		c, ok := set[v.Cavity]
		if !ok {
			return fmt.Errorf("designspace: cavity %d is not in the set", v.Cavity)
		}
		switch v.Name {
		case KE:
			c.SetKE(x[i])
		case Phi0Abs:
			c.SetPhaseAs(cavity.Phi0Abs, x[i])
		case Phi0Rel:
			c.SetPhaseAs(cavity.Phi0Rel, x[i])
		case PhiS:
			c.SetPhaseAs(cavity.PhiS, x[i])
		}
	}
	return nil
}

// ConstraintValues returns two values per constraint, min - v and v - max,
// both <= 0 when the constraint holds. A missing value counts as violated.
func (s *Space) ConstraintValues(o *simout.Output) []float64 {
	out := make([]float64, 0, 2*len(s.Constraints))
	for _, c := range s.Constraints {
		v, err := o.Scalar(simout.PhiS, c.Cavity, simout.Out)
		if err != nil || math.IsNaN(v) {
			out = append(out, 1, 1)
			continue
		}
		out = append(out, c.Min-v, v-c.Max)
	}
	return out
}

// PhiSLimits returns the synchronous phase bounds of every cavity, taken
// from the constraints first and from phi_s variables otherwise.
func (s *Space) PhiSLimits() map[int][2]float64 {
	out := make(map[int][2]float64)
	for _, v := range s.Variables {
		if v.Name == PhiS {
			out[v.Cavity] = [2]float64{v.Min, v.Max}
		}
	}
	for _, c := range s.Constraints {
		out[c.Cavity] = [2]float64{c.Min, c.Max}
	}
	return out
}

func (s *Space) String() string {
	var b strings.Builder
	for _, v := range s.Variables {
		fmt.Fprintln(&b, v)
	}
	for _, c := range s.Constraints {
		fmt.Fprintln(&b, c)
	}
	return b.String()
}
