// Package envelope computes transfer matrices and the synchronous particle
// energy and phase element by element, in the longitudinal plane only
// (Envelope1D) or in the three planes (Envelope3D).
package envelope

import (
	"fmt"
	"math"

	"github.com/kacperjurak/linaccore/pkg/beam"
	"github.com/kacperjurak/linaccore/pkg/cavity"
	"github.com/kacperjurak/linaccore/pkg/element"
	"github.com/kacperjurak/linaccore/pkg/simout"
	"gonum.org/v1/gonum/mat"
)

// Calculator propagates the beam through a linac with the given cavity
// settings. Settings found in set receive the RF phase at entry, the voltage
// and the synchronous phase of the run; cavities missing from set use a copy
// of their nominal settings.
type Calculator interface {
	Run(l *element.Linac, set cavity.Set, in simout.Entry) (*simout.Output, error)
	ID() string
	Is3D() bool
}

// Envelope1D is the longitudinal calculator.
type Envelope1D struct {
	engine
}

// Envelope3D computes 6x6 transfer matrices.
type Envelope3D struct {
	engine
}

func NewEnvelope1D(cfg Config) (*Envelope1D, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(false); err != nil {
		return nil, err
	}
	return &Envelope1D{engine{cfg: cfg}}, nil
}

func NewEnvelope3D(cfg Config) (*Envelope3D, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(true); err != nil {
		return nil, err
	}
	return &Envelope3D{engine{cfg: cfg, threeD: true}}, nil
}

// New builds the 3D calculator when threeD is set, the 1D one otherwise.
func New(cfg Config, threeD bool) (Calculator, error) {
	if threeD {
		return NewEnvelope3D(cfg)
	}
	return NewEnvelope1D(cfg)
}

func (c *Envelope1D) ID() string {
	return fmt.Sprintf("Envelope1D_%s_%d", c.cfg.Method, c.cfg.NStepsPerCell)
}

func (c *Envelope1D) Is3D() bool { return false }

func (c *Envelope1D) Run(l *element.Linac, set cavity.Set, in simout.Entry) (*simout.Output, error) {
	return c.run(c.ID(), l, set, in)
}

func (c *Envelope3D) ID() string {
	return fmt.Sprintf("Envelope3D_%s_%d", c.cfg.Method, c.cfg.NStepsPerCell)
}

func (c *Envelope3D) Is3D() bool { return true }

func (c *Envelope3D) Run(l *element.Linac, set cavity.Set, in simout.Entry) (*simout.Output, error) {
	return c.run(c.ID(), l, set, in)
}

type engine struct {
	cfg    Config
	threeD bool
}

func (en *engine) size() int {
	if en.threeD {
		return 6
	}
	return 2
}

// stepResult is what one element adds to the mesh.
type stepResult struct {
	matrices []*mat.Dense
	gamma    []float64 // at every step exit
	phiRel   []float64 // bunch phase since element entrance
}

func (en *engine) run(id string, l *element.Linac, set cavity.Set, in simout.Entry) (*simout.Output, error) {
	p := en.cfg.Particle
	n := en.size()
	first := in.Matrix
	if first == nil {
		first = beam.Identity(n)
	} else if r, c := first.Dims(); r != n || c != n {
		return nil, fmt.Errorf("envelope: entrance matrix is %dx%d, want %dx%d", r, c, n, n)
	}
	if in.WKin <= 0 || math.IsNaN(in.WKin) {
		return nil, &DivergenceError{Element: "entrance", Index: -1, Gamma: p.Gamma(in.WKin)}
	}

	z := []float64{in.Z}
	wKin := []float64{in.WKin}
	phiAbs := []float64{in.PhiAbs}
	spans := make(map[int]simout.Span, l.Len())
	order := make([]int, 0, l.Len())
	snaps := make(map[int]simout.CavitySnapshot)
	var steps []*mat.Dense

	w, phi, zPos := in.WKin, in.PhiAbs, in.Z
	seenCav := false
	for _, e := range l.Elements() {
		gammaIn := p.Gamma(w)
		spanIn := len(z) - 1

		var (
			res stepResult
			err error
		)
		switch e.Kind {
		case element.FieldMap:
			s := set[e.Index]
			if s == nil {
				s = e.FieldMap.Settings.Clone()
			}
			s.SetPhiRFFromBunch(phi)
			rewind := !seenCav && in.Z == 0
			seenCav = true
			res, err = en.fieldMap(e, s, gammaIn, rewind)
			if err != nil {
				return nil, err
			}
			snaps[e.Index] = simout.Snapshot(e.Index, s)
		case element.Command, element.Unknown:
			// zero length no-op
		default:
			res = en.magnetic(e, gammaIn)
		}

		ds := 0.0
		if k := len(res.matrices); k > 0 {
			ds = e.Length / float64(k)
		}
		for i, g := range res.gamma {
			if math.IsNaN(g) || math.IsInf(g, 0) || g <= 1 {
				return nil, &DivergenceError{Element: e.Name, Index: e.Index, Step: i, Gamma: g}
			}
			z = append(z, zPos+ds*float64(i+1))
			wKin = append(wKin, p.KinEnergy(g))
			phiAbs = append(phiAbs, phi+res.phiRel[i])
		}
		steps = append(steps, res.matrices...)
		spans[e.Index] = simout.Span{In: spanIn, Out: len(z) - 1}
		order = append(order, e.Index)

		if k := len(res.gamma); k > 0 {
			w = p.KinEnergy(res.gamma[k-1])
			phi += res.phiRel[k-1]
		}
		if len(res.gamma) > 0 {
			zPos += e.Length
		}
	}

	tm, err := beam.NewTransferMatrix(first, steps)
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	return simout.Build(simout.Data{
		Calculator: id,
		Particle:   p,
		Elements:   order,
		Spans:      spans,
		Z:          z,
		WKin:       wKin,
		PhiAbs:     phiAbs,
		Transfer:   tm,
		SigmaIn:    en.sigmaIn(),
		Cavities:   snaps,
	})
}

func (en *engine) sigmaIn() map[beam.Plane]*mat.Dense {
	if len(en.cfg.SigmaIn) == 0 {
		return nil
	}
	if en.threeD {
		return en.cfg.SigmaIn
	}
	return map[beam.Plane]*mat.Dense{beam.ZDelta: en.cfg.SigmaIn[beam.ZDelta]}
}

// drift repeats n identical steps of ds with cumulative phase (i+1) dphi.
func (en *engine) drift(gamma, ds float64, n int) stepResult {
	var m *mat.Dense
	if en.threeD {
		m = drift6(gamma, ds)
	} else {
		m = driftZ(gamma, ds)
	}
	dphi := en.cfg.Particle.OmegaBunch() * ds / (beam.Beta(gamma) * beam.C)
	res := stepResult{
		matrices: make([]*mat.Dense, n),
		gamma:    make([]float64, n),
		phiRel:   make([]float64, n),
	}
	for i := 0; i < n; i++ {
		res.matrices[i] = m
		res.gamma[i] = gamma
		res.phiRel[i] = float64(i+1) * dphi
	}
	return res
}

// magnetic handles the elements that do not change the energy.
func (en *engine) magnetic(e *element.Element, gamma float64) stepResult {
	res := en.drift(gamma, e.Length, 1)
	if !en.threeD {
		if e.Kind == element.Bend {
			res.matrices[0] = bendZ(gamma, e.Length, e.Bend, e.Length)
		}
		return res
	}
	p := en.cfg.Particle
	switch e.Kind {
	case element.Quad:
		res.matrices[0] = quad6(p, gamma, e.Length, e.Quad.Gradient)
	case element.Solenoid:
		res.matrices[0] = solenoid6(p, gamma, e.Length, e.Solenoid.Field)
	case element.Bend:
		m := drift6(gamma, e.Length)
		bendTransverse(m, e.Length, e.Bend, e.Length)
		beam.SetBlock(m, beam.ZDelta, bendZ(gamma, e.Length, e.Bend, e.Length))
		res.matrices[0] = m
	}
	return res
}

func (en *engine) integrate(c cavityRun, gammaIn float64, rewind bool) integration {
	if en.cfg.Method == Leapfrog {
		return c.leapfrog(gammaIn, rewind)
	}
	return c.rk4(gammaIn)
}

func (en *engine) fieldMap(e *element.Element, s *cavity.Settings, gammaIn float64, rewind bool) (stepResult, error) {
	f := e.FieldMap.Field
	if f == nil || !f.Loaded() {
		return stepResult{}, &FieldNotLoadedError{Element: e.Name, Index: e.Index}
	}
	n := f.NCell() * en.cfg.NStepsPerCell
	if s.Status() == cavity.Failed {
		s.SetCavityParameters(math.NaN(), math.NaN())
		return en.drift(gammaIn, e.Length/float64(n), n), nil
	}

	p := en.cfg.Particle
	run := func(phi0 float64) cavityRun {
		return newCavityRun(p, f, s.EffectiveKE(), phi0, s.FCavity(), e.Length, n)
	}
	if s.Reference() == cavity.PhiS {
		s.SetSyncPhaseFunc(func(phi0Rel float64) (float64, error) {
			it := en.integrate(run(phi0Rel), gammaIn, rewind)
			_, phiS := syncPhase(it.itg)
			return phiS, nil
		})
	}
	phi0, err := s.Phi0Rel()
	if err != nil {
		return stepResult{}, fmt.Errorf("envelope: %s: %w", e.Name, err)
	}

	c := run(phi0)
	it := en.integrate(c, gammaIn, rewind)
	res := stepResult{
		matrices: make([]*mat.Dense, n),
		gamma:    it.gamma[1:],
		phiRel:   make([]float64, n),
	}
	for i, g := range it.gaps {
		if en.threeD {
			res.matrices[i] = c.thinLens6(g)
		} else {
			res.matrices[i] = c.thinLensZ(g)
		}
		res.phiRel[i] = s.RFPhaseToBunchPhase(it.phi[i+1])
	}
	vCav, phiS := syncPhase(it.itg)
	s.SetCavityParameters(vCav, phiS)
	return res, nil
}
