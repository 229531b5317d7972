package envelope

import (
	"errors"
	"math"
	"testing"

	"github.com/kacperjurak/linaccore/pkg/beam"
	"github.com/kacperjurak/linaccore/pkg/cavity"
	"github.com/kacperjurak/linaccore/pkg/element"
	"github.com/kacperjurak/linaccore/pkg/field"
	"github.com/kacperjurak/linaccore/pkg/simout"
	"gonum.org/v1/gonum/mat"
)

const fBunch = 352.2

func sineField(t *testing.T, length float64) *field.Field {
	t.Helper()
	n := 40
	z := make([]float64, n+1)
	e := make([]float64, n+1)
	for i := range z {
		z[i] = length * float64(i) / float64(n)
		e[i] = math.Sin(math.Pi * z[i] / length)
	}
	e[0], e[n] = 0, 0
	f, err := field.New("sine", z, e)
	if err != nil {
		t.Fatalf("field: %v", err)
	}
	return f
}

func newCalc(t *testing.T, method Method) *Envelope1D {
	t.Helper()
	c, err := NewEnvelope1D(Config{
		Method:   method,
		Particle: beam.Proton(fBunch),
		SigmaIn:  map[beam.Plane]*mat.Dense{beam.ZDelta: beam.Sigma(0, 1, 1e-6)},
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	return c
}

func cavityLinac(t *testing.T, kE, phi0 float64, ref cavity.Reference) *element.Linac {
	t.Helper()
	s := cavity.New(kE, phi0, ref, fBunch, fBunch)
	elts := []*element.Element{
		element.NewDrift("d1", 0.2),
		element.NewFieldMap("cav", 0.1, sineField(t, 0.1), s),
		element.NewDrift("d2", 0.2),
	}
	l, err := element.NewLinac("test", elts, fBunch, nil)
	if err != nil {
		t.Fatalf("linac: %v", err)
	}
	return l
}

func TestZeroLengthDriftIsIdentity(t *testing.T) {
	en := &engine{cfg: Config{Particle: beam.Proton(fBunch)}.withDefaults()}
	res := en.drift(1.02, 0, 1)
	if !mat.Equal(res.matrices[0], beam.Identity(2)) {
		t.Fatalf("R = %v", mat.Formatted(res.matrices[0]))
	}
	if res.phiRel[0] != 0 {
		t.Fatalf("dphi = %v", res.phiRel[0])
	}
	en.threeD = true
	res = en.drift(1.02, 0, 1)
	if !mat.Equal(res.matrices[0], beam.Identity(6)) {
		t.Fatalf("R6 = %v", mat.Formatted(res.matrices[0]))
	}
}

func TestDriftPhaseAndEnergy(t *testing.T) {
	c := newCalc(t, RK4)
	l, err := element.NewLinac("drift", []*element.Element{element.NewDrift("d", 1)}, fBunch, nil)
	if err != nil {
		t.Fatalf("linac: %v", err)
	}
	out, err := c.Run(l, nil, simout.Entry{WKin: 20})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	p := beam.Proton(fBunch)
	want := p.OmegaBunch() * 1 / (beam.Beta(p.Gamma(20)) * beam.C)
	phi, _ := out.Scalar(simout.PhiAbs, 0, simout.Out)
	if math.Abs(phi-want) > 1e-9*want {
		t.Fatalf("phi_abs = %v, want %v", phi, want)
	}
	w, _ := out.Get(simout.WKin)
	for i, v := range w {
		if math.Abs(v-20) > 1e-12 {
			t.Fatalf("w_kin[%d] = %v, a drift conserves energy", i, v)
		}
	}
	r := out.TransferMatrix().Last()
	g := p.Gamma(20)
	if math.Abs(r.At(0, 1)-1/(g*g)) > 1e-15 {
		t.Fatalf("R12 = %v", r.At(0, 1))
	}
}

func TestAcceleratingCavity(t *testing.T) {
	c := newCalc(t, RK4)
	l := cavityLinac(t, 5, 0.3, cavity.Phi0Rel)
	set := l.NominalSet()
	out, err := c.Run(l, set, simout.Entry{WKin: 20})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	cavIdx := l.CavityIndices()[0]
	wIn, _ := out.Scalar(simout.WKin, cavIdx, simout.In)
	wOut, _ := out.Scalar(simout.WKin, cavIdx, simout.Out)
	gain := wOut - wIn
	snap, _ := out.Cavity(cavIdx)
	if math.IsNaN(snap.VCav) || snap.VCav <= 0 {
		t.Fatalf("v_cav = %v", snap.VCav)
	}
	if predicted := snap.VCav * math.Cos(snap.PhiS); math.Abs(gain-predicted) > 5e-3*snap.VCav {
		t.Fatalf("energy gain %v, v_cav cos(phi_s) = %v", gain, predicted)
	}
	phiRF, ok := set[cavIdx].PhiRF()
	phiIn, _ := out.Scalar(simout.PhiAbs, cavIdx, simout.In)
	if !ok || math.Abs(phiRF-phiIn) > 1e-12 {
		t.Fatalf("phi_rf = %v (%v), phase at entry %v", phiRF, ok, phiIn)
	}
	sp, _ := out.Span(cavIdx)
	if got := sp.Out - sp.In; got != 3*40 {
		t.Fatalf("cavity has %d steps, want %d", got, 3*40)
	}
}

func TestZeroAmplitudeCavity(t *testing.T) {
	c := newCalc(t, RK4)
	l := cavityLinac(t, 0, 0.3, cavity.Phi0Rel)
	out, err := c.Run(l, l.NominalSet(), simout.Entry{WKin: 20})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	snap, _ := out.Cavity(1)
	if snap.VCav != 0 || !math.IsNaN(snap.PhiS) {
		t.Fatalf("v_cav = %v, phi_s = %v", snap.VCav, snap.PhiS)
	}
	w, _ := out.Get(simout.WKin)
	for i, v := range w {
		if math.Abs(v-20) > 1e-12 {
			t.Fatalf("w_kin[%d] = %v", i, v)
		}
	}
	drift, err := element.NewLinac("drift", []*element.Element{
		element.NewDrift("d1", 0.2), element.NewDrift("cav", 0.1), element.NewDrift("d2", 0.2),
	}, fBunch, nil)
	if err != nil {
		t.Fatalf("linac: %v", err)
	}
	ref, err := c.Run(drift, nil, simout.Entry{WKin: 20})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !mat.EqualApprox(out.TransferMatrix().Last(), ref.TransferMatrix().Last(), 1e-9) {
		t.Fatalf("zero field cavity %v differs from drift %v",
			mat.Formatted(out.TransferMatrix().Last()), mat.Formatted(ref.TransferMatrix().Last()))
	}
	pOut, _ := out.Scalar(simout.PhiAbs, 2, simout.Out)
	pRef, _ := ref.Scalar(simout.PhiAbs, 2, simout.Out)
	if math.Abs(pOut-pRef) > 1e-9 {
		t.Fatalf("phase %v vs drift %v", pOut, pRef)
	}
}

func TestFailedCavityKeepsMesh(t *testing.T) {
	c := newCalc(t, RK4)
	l := cavityLinac(t, 5, 0.3, cavity.Phi0Rel)
	nominal, err := c.Run(l, l.NominalSet(), simout.Entry{WKin: 20})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	set := l.NominalSet()
	set[1].SetStatus(cavity.Failed)
	broken, err := c.Run(l, set, simout.Entry{WKin: 20})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if broken.Len() != nominal.Len() {
		t.Fatalf("mesh %d vs nominal %d", broken.Len(), nominal.Len())
	}
	snap, _ := broken.Cavity(1)
	if !math.IsNaN(snap.VCav) || !math.IsNaN(snap.PhiS) {
		t.Fatalf("failed cavity parameters = %v, %v", snap.VCav, snap.PhiS)
	}
	if w := broken.Exit().WKin; math.Abs(w-20) > 1e-12 {
		t.Fatalf("exit energy %v", w)
	}
}

func TestSyncPhaseReference(t *testing.T) {
	c := newCalc(t, RK4)
	l := cavityLinac(t, 5, 0.7, cavity.Phi0Rel)
	out, err := c.Run(l, l.NominalSet(), simout.Entry{WKin: 20})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	snap, _ := out.Cavity(1)

	set := l.NominalSet()
	set[1].SetPhaseAs(cavity.PhiS, snap.PhiS)
	again, err := c.Run(l, set, simout.Entry{WKin: 20})
	if err != nil {
		t.Fatalf("run with phi_s: %v", err)
	}
	rel, err := set[1].Phi0Rel()
	if err != nil {
		t.Fatalf("phi_0_rel: %v", err)
	}
	if math.Abs(rel-0.7) > 1e-6 {
		t.Fatalf("phi_0_rel = %v, want 0.7", rel)
	}
	if math.Abs(again.Exit().WKin-out.Exit().WKin) > 1e-8 {
		t.Fatalf("exit energy %v vs %v", again.Exit().WKin, out.Exit().WKin)
	}
}

func TestLeapfrogCloseToRK4(t *testing.T) {
	l := cavityLinac(t, 5, 0.3, cavity.Phi0Rel)
	rk, err := newCalc(t, RK4).Run(l, l.NominalSet(), simout.Entry{WKin: 20})
	if err != nil {
		t.Fatalf("rk4: %v", err)
	}
	lf, err := newCalc(t, Leapfrog).Run(l, l.NominalSet(), simout.Entry{WKin: 20})
	if err != nil {
		t.Fatalf("leapfrog: %v", err)
	}
	gRK := rk.Exit().WKin - 20
	gLF := lf.Exit().WKin - 20
	if math.Abs(gRK-gLF) > 0.02*math.Abs(gRK) {
		t.Fatalf("leapfrog gain %v, rk4 gain %v", gLF, gRK)
	}
}

func TestFieldNotLoaded(t *testing.T) {
	s := cavity.New(1, 0, cavity.Phi0Rel, fBunch, fBunch)
	l, err := element.NewLinac("test", []*element.Element{element.NewFieldMap("cav", 0.1, nil, s)}, fBunch, nil)
	if err != nil {
		t.Fatalf("linac: %v", err)
	}
	_, err = newCalc(t, RK4).Run(l, nil, simout.Entry{WKin: 20})
	var fe *FieldNotLoadedError
	if !errors.Is(err, ErrFieldNotLoaded) || !errors.As(err, &fe) || fe.Element != "cav" {
		t.Fatalf("expected FieldNotLoadedError, got %v", err)
	}
}

func TestDivergence(t *testing.T) {
	// A strongly decelerating cavity on a slow beam.
	l := cavityLinac(t, 20000, math.Pi, cavity.Phi0Rel)
	_, err := newCalc(t, RK4).Run(l, nil, simout.Entry{WKin: 0.5})
	if !errors.Is(err, ErrBeamDynamicsDivergence) {
		t.Fatalf("expected divergence, got %v", err)
	}
}

func TestMissingPhiRFIsNotAnIssueInRuns(t *testing.T) {
	l := cavityLinac(t, 5, 1.0, cavity.Phi0Abs)
	set := l.NominalSet()
	if _, err := set[1].Phi0Rel(); !errors.Is(err, cavity.ErrMissingAttribute) {
		t.Fatalf("before run: %v", err)
	}
	if _, err := newCalc(t, RK4).Run(l, set, simout.Entry{WKin: 20, PhiAbs: 0.4}); err != nil {
		t.Fatalf("run: %v", err)
	}
	rel, err := set[1].Phi0Rel()
	if err != nil {
		t.Fatalf("after run: %v", err)
	}
	phiRF, _ := set[1].PhiRF()
	if math.Abs(rel-cavity.AbsToRel(1.0, phiRF)) > 1e-12 {
		t.Fatalf("phi_0_rel = %v", rel)
	}
}

func TestQuadIsSymplectic(t *testing.T) {
	p := beam.Proton(fBunch)
	g := p.Gamma(20)
	m := quad6(p, g, 0.1, 20)
	x := beam.Block(m, beam.X)
	y := beam.Block(m, beam.Y)
	if d := mat.Det(x); math.Abs(d-1) > 1e-12 {
		t.Fatalf("det x = %v", d)
	}
	if d := mat.Det(y); math.Abs(d-1) > 1e-12 {
		t.Fatalf("det y = %v", d)
	}
	if x.At(0, 0) >= 1 || y.At(0, 0) <= 1 {
		t.Fatalf("positive gradient should focus x: %v %v", x.At(0, 0), y.At(0, 0))
	}
	s := solenoid6(p, g, 0.2, 1.5)
	if d := mat.Det(s); math.Abs(d-1) > 1e-10 {
		t.Fatalf("det solenoid = %v", d)
	}
}

func TestBendMatchesDriftWithoutAngle(t *testing.T) {
	b := &element.BendParams{}
	g := 1.05
	if got, want := bendZ(g, 0.5, b, 0.5), driftZ(g, 0.5); !mat.EqualApprox(got, want, 1e-15) {
		t.Fatalf("bend %v, drift %v", mat.Formatted(got), mat.Formatted(want))
	}
	// n slightly off 1 must stay close to the n = 1 limit.
	at := func(n float64) float64 {
		return bendZ(g, 0.5, &element.BendParams{Angle: 0.2, FieldIndex: n}, 0.5).At(0, 1)
	}
	if math.Abs(at(1)-at(1-1e-4)) > 1e-6 || math.Abs(at(1)-at(1+1e-4)) > 1e-6 {
		t.Fatalf("bend R12 around n = 1: %v %v %v", at(1-1e-4), at(1), at(1+1e-4))
	}
}

func TestEnvelope3D(t *testing.T) {
	c, err := NewEnvelope3D(Config{
		Particle: beam.Proton(fBunch),
		SigmaIn: map[beam.Plane]*mat.Dense{
			beam.X:      beam.Sigma(0, 1, 1e-6),
			beam.Y:      beam.Sigma(0, 1, 1e-6),
			beam.ZDelta: beam.Sigma(0, 1, 1e-6),
		},
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	elts := []*element.Element{
		element.NewQuad("q1", 0.1, 15),
		element.NewDrift("d", 0.3),
		element.NewFieldMap("cav", 0.1, sineField(t, 0.1), cavity.New(5, 0.3, cavity.Phi0Rel, fBunch, fBunch)),
		element.NewQuad("q2", 0.1, -15),
	}
	l, err := element.NewLinac("3d", elts, fBunch, nil)
	if err != nil {
		t.Fatalf("linac: %v", err)
	}
	out, err := c.Run(l, nil, simout.Entry{WKin: 20})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.TransferMatrix().Size() != 6 || !c.Is3D() {
		t.Fatal("expected 6x6 matrices")
	}
	if _, err := out.Get(simout.TwissBeta, simout.InPlane(beam.Y)); err != nil {
		t.Fatalf("beta_y: %v", err)
	}
	oneD := newCalc(t, RK4)
	ref, err := oneD.Run(l, nil, simout.Entry{WKin: 20})
	if err != nil {
		t.Fatalf("1d run: %v", err)
	}
	if math.Abs(ref.Exit().WKin-out.Exit().WKin) > 1e-12 {
		t.Fatalf("energy differs between 1D and 3D: %v vs %v", ref.Exit().WKin, out.Exit().WKin)
	}
	z3 := beam.Block(out.TransferMatrix().Last(), beam.ZDelta)
	if !mat.EqualApprox(z3, ref.TransferMatrix().Last(), 1e-9) {
		t.Fatalf("longitudinal blocks differ: %v vs %v", mat.Formatted(z3), mat.Formatted(ref.TransferMatrix().Last()))
	}
	if _, err := NewEnvelope3D(Config{Particle: beam.Proton(fBunch), SigmaIn: map[beam.Plane]*mat.Dense{beam.ZDelta: beam.Identity(2)}}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
