// Package objective defines the quantities an optimisation drives back to
// their reference values, and the presets that assemble them for a
// compensation zone.
package objective

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kacperjurak/linaccore/pkg/beam"
	"github.com/kacperjurak/linaccore/pkg/simout"
	"gonum.org/v1/gonum/floats"
)

var ErrUnknownPreset = errors.New("objective: unknown preset")

// Objective evaluates one residual on a simulation output. Evaluate returns
// NaN when the value cannot be read.
type Objective interface {
	Name() string
	Weight() float64
	Ideal() float64
	Evaluate(o *simout.Output) float64
}

type base struct {
	name   string
	weight float64
	elt    int
	pos    simout.Pos
}

func (b base) Name() string    { return b.name }
func (b base) Weight() float64 { return b.weight }

func posName(p simout.Pos) string {
	if p == simout.In {
		return "in"
	}
	return "out"
}

// DifferenceWithRef is weight*(value - ideal), the ideal value being read
// on the reference output.
type DifferenceWithRef struct {
	base
	q     simout.Quantity
	ideal float64
}

func NewDifferenceWithRef(q simout.Quantity, elt int, pos simout.Pos, weight float64, ref *simout.Output) (*DifferenceWithRef, error) {
	ideal, err := ref.Scalar(q, elt, pos)
	if err != nil {
		return nil, fmt.Errorf("objective: reference %s at element %d: %w", q, elt, err)
	}
	return &DifferenceWithRef{
		base:  base{name: string(q), weight: weight, elt: elt, pos: pos},
		q:     q,
		ideal: ideal,
	}, nil
}

func (d *DifferenceWithRef) Ideal() float64 { return d.ideal }

func (d *DifferenceWithRef) Evaluate(o *simout.Output) float64 {
	v, err := o.Scalar(d.q, d.elt, d.pos)
	if err != nil {
		return math.NaN()
	}
	return d.weight * (v - d.ideal)
}

func (d *DifferenceWithRef) String() string {
	return fmt.Sprintf("%23s @elt %5d (%3s) | %5g | %10g", d.name, d.elt, posName(d.pos), d.weight, d.ideal)
}

// Mismatch is weight times the mismatch factor between the reference and
// the fixed Twiss parameters of a plane. Its ideal value is 0.
type Mismatch struct {
	base
	plane beam.Plane
	ref   beam.Twiss
}

func NewMismatch(elt int, pos simout.Pos, plane beam.Plane, weight float64, ref *simout.Output) (*Mismatch, error) {
	tw, err := ref.Twiss(elt, pos, plane)
	if err != nil {
		return nil, fmt.Errorf("objective: reference twiss at element %d: %w", elt, err)
	}
	return &Mismatch{
		base:  base{name: "mismatch_" + plane.String(), weight: weight, elt: elt, pos: pos},
		plane: plane,
		ref:   tw,
	}, nil
}

func (m *Mismatch) Ideal() float64 { return 0 }

func (m *Mismatch) Evaluate(o *simout.Output) float64 {
	fix, err := o.Twiss(m.elt, m.pos, m.plane)
	if err != nil {
		return math.NaN()
	}
	return m.weight * beam.Mismatch(m.ref, fix)
}

func (m *Mismatch) String() string {
	return fmt.Sprintf("%23s @elt %5d (%3s) | %5g | %10g", m.name, m.elt, posName(m.pos), m.weight, 0.0)
}

// QuantityIsBetween is 0 inside [Lo, Hi] and weight*(value - bound)^2
// outside.
type QuantityIsBetween struct {
	base
	q      simout.Quantity
	lo, hi float64
}

func NewQuantityIsBetween(q simout.Quantity, elt int, pos simout.Pos, lo, hi, weight float64) (*QuantityIsBetween, error) {
	if lo > hi {
		return nil, fmt.Errorf("objective: %s limits [%g, %g] are inverted", q, lo, hi)
	}
	return &QuantityIsBetween{
		base: base{name: string(q), weight: weight, elt: elt, pos: pos},
		q:    q,
		lo:   lo,
		hi:   hi,
	}, nil
}

// RelativeToReference builds the limits as percentages of the reference
// value. relLo must be <= 100 and relHi >= 100. For a non positive
// reference the limits are swapped so that lo <= hi.
func RelativeToReference(q simout.Quantity, elt int, pos simout.Pos, relLo, relHi, weight float64, ref *simout.Output) (*QuantityIsBetween, error) {
	if relLo > 100 || relHi < 100 {
		return nil, fmt.Errorf("objective: relative limits (%g, %g) should surround 100%%", relLo, relHi)
	}
	v, err := ref.Scalar(q, elt, pos)
	if err != nil {
		return nil, fmt.Errorf("objective: reference %s at element %d: %w", q, elt, err)
	}
	lo, hi := v*relLo*1e-2, v*relHi*1e-2
	if v <= 0 {
		lo, hi = hi, lo
	}
	return NewQuantityIsBetween(q, elt, pos, lo, hi, weight)
}

// Ideal is the middle of the interval.
func (b *QuantityIsBetween) Ideal() float64 { return (b.lo + b.hi) / 2 }

func (b *QuantityIsBetween) Limits() (float64, float64) { return b.lo, b.hi }

func (b *QuantityIsBetween) Evaluate(o *simout.Output) float64 {
	v, err := o.Scalar(b.q, b.elt, b.pos)
	if err != nil || math.IsNaN(v) {
		return math.NaN()
	}
	switch {
	case v < b.lo:
		return b.weight * (v - b.lo) * (v - b.lo)
	case v > b.hi:
		return b.weight * (v - b.hi) * (v - b.hi)
	}
	return 0
}

func (b *QuantityIsBetween) String() string {
	return fmt.Sprintf("%23s @elt %5d (%3s) | %5g | %+.2e ~ %+.2e", b.name, b.elt, posName(b.pos), b.weight, b.lo, b.hi)
}

// Residuals evaluates every objective on o.
func Residuals(objs []Objective, o *simout.Output) []float64 {
	out := make([]float64, len(objs))
	for i, obj := range objs {
		out[i] = obj.Evaluate(o)
	}
	return out
}

func Norm(residuals []float64) float64 {
	return floats.Norm(residuals, 2)
}

// Describe renders one line per objective, with its current residual when
// o is not nil.
func Describe(objs []Objective, o *simout.Output) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%23s | %5s | %10s", "name", "wgt", "ideal")
	if o != nil {
		fmt.Fprintf(&b, " | %10s", "residual")
	}
	b.WriteByte('\n')
	for _, obj := range objs {
		fmt.Fprintf(&b, "%23s | %5g | %10g", obj.Name(), obj.Weight(), obj.Ideal())
		if o != nil {
			fmt.Fprintf(&b, " | %10g", obj.Evaluate(o))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
