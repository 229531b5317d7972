package simout

import (
	"fmt"

	"github.com/kacperjurak/linaccore/pkg/beam"
)

// Quantity names a value that can be read from an Output.
type Quantity string

const (
	Z          Quantity = "z_abs"
	WKin       Quantity = "w_kin"
	Gamma      Quantity = "gamma"
	Beta       Quantity = "beta"
	PhiAbs     Quantity = "phi_abs"
	Emittance  Quantity = "eps"
	TwissAlpha Quantity = "alpha"
	TwissBeta  Quantity = "beta_twiss"
	TwissGamma Quantity = "gamma_twiss"
	Mismatch   Quantity = "mismatch_factor"

	VCav    Quantity = "v_cav_mv"
	PhiS    Quantity = "phi_s"
	KE      Quantity = "k_e"
	Phi0Abs Quantity = "phi_0_abs"
	Phi0Rel Quantity = "phi_0_rel"
)

// IsCavityQuantity reports whether q has one value per cavity rather than
// one per mesh point.
func (q Quantity) IsCavityQuantity() bool {
	switch q {
	case VCav, PhiS, KE, Phi0Abs, Phi0Rel:
		return true
	}
	return false
}

// Pos selects the entrance or the exit of an element.
type Pos int

const (
	All Pos = iota
	In
	Out
)

type query struct {
	elts  []int
	pos   Pos
	plane beam.Plane
}

// Option refines a Get query.
type Option func(*query)

// At restricts the query to the given elements.
func At(elts ...int) Option {
	return func(q *query) { q.elts = append(q.elts, elts...) }
}

// AtPos selects the entrance or exit mesh point of every element.
func AtPos(p Pos) Option {
	return func(q *query) { q.pos = p }
}

// InPlane selects the phase space of beam quantities. Default is ZDelta.
func InPlane(p beam.Plane) Option {
	return func(q *query) { q.plane = p }
}

// Get returns the values of q. Without At, mesh quantities cover the whole
// mesh and cavity quantities every cavity. With At and no AtPos, every mesh
// point of the elements is returned.
func (o *Output) Get(q Quantity, opts ...Option) ([]float64, error) {
	qu := query{plane: beam.ZDelta}
	for _, opt := range opts {
		opt(&qu)
	}
	if q.IsCavityQuantity() {
		return o.getCavity(q, qu)
	}
	arr, err := o.mesh(q, qu.plane)
	if err != nil {
		return nil, err
	}
	if len(qu.elts) == 0 {
		switch qu.pos {
		case In:
			return []float64{arr[0]}, nil
		case Out:
			return []float64{arr[len(arr)-1]}, nil
		}
		return append([]float64(nil), arr...), nil
	}
	var out []float64
	for _, idx := range qu.elts {
		sp, err := o.Span(idx)
		if err != nil {
			return nil, err
		}
		switch qu.pos {
		case In:
			out = append(out, arr[sp.In])
		case Out:
			out = append(out, arr[sp.Out])
		default:
			out = append(out, arr[sp.In:sp.Out+1]...)
		}
	}
	return out, nil
}

// Scalar returns q at the entrance or exit of element idx.
func (o *Output) Scalar(q Quantity, idx int, pos Pos, opts ...Option) (float64, error) {
	if pos == All {
		pos = Out
	}
	vals, err := o.Get(q, append(opts, At(idx), AtPos(pos))...)
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// Twiss returns the Twiss parameters of plane p at the entrance or exit of
// element idx.
func (o *Output) Twiss(idx int, pos Pos, p beam.Plane) (beam.Twiss, error) {
	if o.params == nil {
		return beam.Twiss{}, fmt.Errorf("%w: beam parameters", ErrNotComputed)
	}
	ps, ok := o.params.Plane(p)
	if !ok {
		return beam.Twiss{}, fmt.Errorf("%w: plane %s", ErrNotComputed, p)
	}
	sp, err := o.Span(idx)
	if err != nil {
		return beam.Twiss{}, err
	}
	if pos == In {
		return ps.Twiss[sp.In], nil
	}
	return ps.Twiss[sp.Out], nil
}

func (o *Output) mesh(q Quantity, p beam.Plane) ([]float64, error) {
	switch q {
	case Z:
		return o.z, nil
	case WKin:
		return o.wKin, nil
	case Gamma:
		return o.gamma, nil
	case Beta:
		return o.beta, nil
	case PhiAbs:
		return o.phiAbs, nil
	case Mismatch:
		m, ok := o.mismatch[p]
		if !ok {
			return nil, fmt.Errorf("%w: mismatch in plane %s", ErrNotComputed, p)
		}
		return m, nil
	case Emittance, TwissAlpha, TwissBeta, TwissGamma:
		if o.params == nil {
			return nil, fmt.Errorf("%w: beam parameters", ErrNotComputed)
		}
		ps, ok := o.params.Plane(p)
		if !ok {
			return nil, fmt.Errorf("%w: plane %s", ErrNotComputed, p)
		}
		switch q {
		case Emittance:
			return ps.Emittance(), nil
		case TwissAlpha:
			return ps.Alpha(), nil
		case TwissBeta:
			return ps.Beta(), nil
		}
		return ps.Gamma(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownQuantity, q)
}

func (o *Output) getCavity(q Quantity, qu query) ([]float64, error) {
	idx := qu.elts
	if len(idx) == 0 {
		idx = o.CavityIndices()
	}
	out := make([]float64, 0, len(idx))
	for _, i := range idx {
		c, ok := o.cavities[i]
		if !ok {
			return nil, fmt.Errorf("%w: %d is not a cavity", ErrUnknownElement, i)
		}
		var v float64
		switch q {
		case VCav:
			v = c.VCav
		case PhiS:
			v = c.PhiS
		case KE:
			v = c.KE
		case Phi0Abs:
			v = c.Phi0Abs
		case Phi0Rel:
			v = c.Phi0Rel
		}
		out = append(out, v)
	}
	return out, nil
}
