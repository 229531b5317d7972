package beam

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// PhaseSpace is the beam matrix and Twiss parameters of one plane at every
// mesh point.
type PhaseSpace struct {
	Sigma []*mat.Dense
	Twiss []Twiss
}

func newPhaseSpace(sigma []*mat.Dense) (*PhaseSpace, error) {
	ps := &PhaseSpace{Sigma: sigma, Twiss: make([]Twiss, len(sigma))}
	for i, s := range sigma {
		tw, err := TwissFromSigma(s)
		if err != nil {
			return nil, fmt.Errorf("mesh point %d: %w", i, err)
		}
		ps.Twiss[i] = tw
	}
	return ps, nil
}

func (ps *PhaseSpace) column(f func(Twiss) float64) []float64 {
	out := make([]float64, len(ps.Twiss))
	for i, tw := range ps.Twiss {
		out[i] = f(tw)
	}
	return out
}

func (ps *PhaseSpace) Emittance() []float64 { return ps.column(func(t Twiss) float64 { return t.Emittance }) }
func (ps *PhaseSpace) Alpha() []float64     { return ps.column(func(t Twiss) float64 { return t.Alpha }) }
func (ps *PhaseSpace) Beta() []float64      { return ps.column(func(t Twiss) float64 { return t.Beta }) }
func (ps *PhaseSpace) Gamma() []float64     { return ps.column(func(t Twiss) float64 { return t.Gamma }) }

// Degenerate is the mask of mesh points with a degenerate beam matrix.
func (ps *PhaseSpace) Degenerate() []bool {
	out := make([]bool, len(ps.Twiss))
	for i, tw := range ps.Twiss {
		out[i] = tw.Degenerate
	}
	return out
}

// Parameters holds the beam parameters of every mesh point. X and Y are nil
// for a longitudinal only computation.
type Parameters struct {
	ZDelta *PhaseSpace
	X      *PhaseSpace
	Y      *PhaseSpace
}

// Plane returns the phase space p, or false when it was not computed.
func (bp *Parameters) Plane(p Plane) (*PhaseSpace, bool) {
	var ps *PhaseSpace
	switch p {
	case ZDelta:
		ps = bp.ZDelta
	case X:
		ps = bp.X
	case Y:
		ps = bp.Y
	}
	return ps, ps != nil
}

// Compute propagates the entrance beam matrices through tm. For a 2x2
// transfer matrix only the ZDelta entry of sigmaIn is used; for a 6x6 one the
// three planes are assembled block diagonally so that coupling terms are
// propagated.
func Compute(tm *TransferMatrix, sigmaIn map[Plane]*mat.Dense) (*Parameters, error) {
	if tm.Size() == 2 {
		s, ok := sigmaIn[ZDelta]
		if !ok {
			return nil, fmt.Errorf("beam: longitudinal sigma is missing")
		}
		ps, err := newPhaseSpace(PropagateSigma(s, tm.CumulatedAll()))
		if err != nil {
			return nil, fmt.Errorf("beam: zdelta: %w", err)
		}
		return &Parameters{ZDelta: ps}, nil
	}

	full := mat.NewDense(6, 6, nil)
	for _, p := range []Plane{X, Y, ZDelta} {
		s, ok := sigmaIn[p]
		if !ok {
			return nil, fmt.Errorf("beam: %s sigma is missing", p)
		}
		SetBlock(full, p, s)
	}
	sigmas := PropagateSigma(full, tm.CumulatedAll())
	bp := &Parameters{}
	for _, p := range []Plane{X, Y, ZDelta} {
		block := make([]*mat.Dense, len(sigmas))
		for i, s := range sigmas {
			block[i] = Block(s, p)
		}
		ps, err := newPhaseSpace(block)
		if err != nil {
			return nil, fmt.Errorf("beam: %s: %w", p, err)
		}
		switch p {
		case X:
			bp.X = ps
		case Y:
			bp.Y = ps
		default:
			bp.ZDelta = ps
		}
	}
	return bp, nil
}
