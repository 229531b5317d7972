// Package simout holds the immutable result of a beam calculator run.
package simout

import (
	"errors"
	"fmt"
	"math"

	"github.com/kacperjurak/linaccore/pkg/beam"
	"github.com/kacperjurak/linaccore/pkg/cavity"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrUnknownElement  = errors.New("simout: element not in output")
	ErrUnknownQuantity = errors.New("simout: unknown quantity")
	ErrNotComputed     = errors.New("simout: quantity not computed")
)

// Entry is the state of the synchronous particle and of the cumulated
// transfer matrix at the entrance of a (sub-)structure.
type Entry struct {
	WKin   float64    // MeV
	PhiAbs float64    // rad, bunch frequency
	Z      float64    // m
	Matrix *mat.Dense // nil means identity
}

// Span is the range of mesh indices [In, Out] of an element.
type Span struct {
	In, Out int
}

// CavitySnapshot copies the tuning of a cavity at run time.
type CavitySnapshot struct {
	Index     int
	KE        float64
	Phi0Abs   float64
	Phi0Rel   float64
	PhiS      float64
	VCav      float64
	Status    cavity.Status
	Reference cavity.Reference
}

// Snapshot reads s. Phases that cannot be derived are NaN.
func Snapshot(idx int, s *cavity.Settings) CavitySnapshot {
	get := func(fn func() (float64, error)) float64 {
		v, err := fn()
		if err != nil {
			return math.NaN()
		}
		return v
	}
	snap := CavitySnapshot{
		Index:     idx,
		KE:        s.KE(),
		Phi0Abs:   get(s.Phi0Abs),
		Phi0Rel:   get(s.Phi0Rel),
		PhiS:      get(s.PhiS),
		VCav:      s.VCav(),
		Status:    s.Status(),
		Reference: s.Reference(),
	}
	if s.Status() == cavity.Failed {
		snap.PhiS = math.NaN()
		snap.VCav = math.NaN()
	}
	return snap
}

// Data is everything a calculator hands to Build.
type Data struct {
	Calculator string
	Particle   beam.Particle
	Elements   []int
	Spans      map[int]Span
	Z          []float64
	WKin       []float64
	PhiAbs     []float64
	Transfer   *beam.TransferMatrix
	SigmaIn    map[beam.Plane]*mat.Dense
	Cavities   map[int]CavitySnapshot
}

// Output is read only once built and safe for concurrent readers.
type Output struct {
	calculator string
	particle   beam.Particle
	elements   []int
	spans      map[int]Span
	z          []float64
	wKin       []float64
	gamma      []float64
	beta       []float64
	phiAbs     []float64
	transfer   *beam.TransferMatrix
	params     *beam.Parameters
	cavities   map[int]CavitySnapshot
	mismatch   map[beam.Plane][]float64
}

// Build validates d and derives the Lorentz factors and beam parameters.
func Build(d Data) (*Output, error) {
	if d.Transfer == nil {
		return nil, fmt.Errorf("simout: transfer matrix is missing")
	}
	n := d.Transfer.Len()
	for name, arr := range map[string][]float64{"z": d.Z, "w_kin": d.WKin, "phi_abs": d.PhiAbs} {
		if len(arr) != n {
			return nil, fmt.Errorf("simout: %s has %d points, transfer matrix has %d", name, len(arr), n)
		}
	}
	for _, idx := range d.Elements {
		sp, ok := d.Spans[idx]
		if !ok || sp.In < 0 || sp.Out >= n || sp.In > sp.Out {
			return nil, fmt.Errorf("simout: invalid mesh span %v for element %d", sp, idx)
		}
	}
	o := &Output{
		calculator: d.Calculator,
		particle:   d.Particle,
		elements:   append([]int(nil), d.Elements...),
		spans:      make(map[int]Span, len(d.Spans)),
		z:          append([]float64(nil), d.Z...),
		wKin:       append([]float64(nil), d.WKin...),
		phiAbs:     append([]float64(nil), d.PhiAbs...),
		gamma:      make([]float64, n),
		beta:       make([]float64, n),
		transfer:   d.Transfer,
		cavities:   make(map[int]CavitySnapshot, len(d.Cavities)),
	}
	for k, v := range d.Spans {
		o.spans[k] = v
	}
	for k, v := range d.Cavities {
		o.cavities[k] = v
	}
	for i, w := range o.wKin {
		o.gamma[i] = d.Particle.Gamma(w)
		o.beta[i] = beam.Beta(o.gamma[i])
	}
	if len(d.SigmaIn) > 0 {
		params, err := beam.Compute(d.Transfer, d.SigmaIn)
		if err != nil {
			return nil, fmt.Errorf("simout: %w", err)
		}
		o.params = params
	}
	return o, nil
}

// Calculator is the id of the calculator that produced the output.
func (o *Output) Calculator() string { return o.calculator }

func (o *Output) Particle() beam.Particle { return o.particle }

// Len is the number of mesh points.
func (o *Output) Len() int { return len(o.z) }

// Elements returns the element indices in beam order.
func (o *Output) Elements() []int { return append([]int(nil), o.elements...) }

// Span returns the mesh span of element idx.
func (o *Output) Span(idx int) (Span, error) {
	sp, ok := o.spans[idx]
	if !ok {
		return Span{}, fmt.Errorf("%w: %d", ErrUnknownElement, idx)
	}
	return sp, nil
}

func (o *Output) TransferMatrix() *beam.TransferMatrix { return o.transfer }

// Beam returns the beam parameters, nil when no entrance sigma was given.
func (o *Output) Beam() *beam.Parameters { return o.params }

// Cavity returns the snapshot of cavity idx.
func (o *Output) Cavity(idx int) (CavitySnapshot, bool) {
	c, ok := o.cavities[idx]
	return c, ok
}

// CavityIndices returns the cavity indices in beam order.
func (o *Output) CavityIndices() []int {
	var out []int
	for _, idx := range o.elements {
		if _, ok := o.cavities[idx]; ok {
			out = append(out, idx)
		}
	}
	return out
}

// Exit is the entry state of whatever follows the structure.
func (o *Output) Exit() Entry {
	return o.entryAt(len(o.z) - 1)
}

// EntryAt is the state at the entrance of element idx.
func (o *Output) EntryAt(idx int) (Entry, error) {
	sp, err := o.Span(idx)
	if err != nil {
		return Entry{}, err
	}
	return o.entryAt(sp.In), nil
}

// ExitOf is the state at the exit of element idx.
func (o *Output) ExitOf(idx int) (Entry, error) {
	sp, err := o.Span(idx)
	if err != nil {
		return Entry{}, err
	}
	return o.entryAt(sp.Out), nil
}

func (o *Output) entryAt(i int) Entry {
	return Entry{
		WKin:   o.wKin[i],
		PhiAbs: o.phiAbs[i],
		Z:      o.z[i],
		Matrix: mat.DenseCopyOf(o.transfer.Cumulated(i)),
	}
}

// WithMismatch returns a copy of o holding the mismatch factor with respect
// to ref at every mesh point, for every plane both outputs computed.
func (o *Output) WithMismatch(ref *Output) (*Output, error) {
	if o.params == nil || ref.params == nil {
		return nil, fmt.Errorf("%w: beam parameters", ErrNotComputed)
	}
	if ref.Len() != o.Len() {
		return nil, fmt.Errorf("simout: mismatch needs equal meshes, got %d and %d points", ref.Len(), o.Len())
	}
	c := *o
	c.mismatch = make(map[beam.Plane][]float64)
	for _, p := range []beam.Plane{beam.ZDelta, beam.X, beam.Y} {
		fix, ok := o.params.Plane(p)
		if !ok {
			continue
		}
		r, ok := ref.params.Plane(p)
		if !ok {
			continue
		}
		m, err := beam.MismatchAll(r.Twiss, fix.Twiss)
		if err != nil {
			return nil, fmt.Errorf("simout: %w", err)
		}
		c.mismatch[p] = m
	}
	return &c, nil
}
