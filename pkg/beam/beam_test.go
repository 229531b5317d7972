package beam

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestKinematics(t *testing.T) {
	p := Proton(352.2)
	g := p.Gamma(20)
	if math.Abs(p.KinEnergy(g)-20) > 1e-12 {
		t.Fatalf("KinEnergy(Gamma(20)) = %v", p.KinEnergy(g))
	}
	if b := Beta(g); b <= 0 || b >= 1 {
		t.Fatalf("beta = %v", b)
	}
	if math.Abs(p.OmegaBunch()-2*math.Pi*352.2e6) > 1e-3 {
		t.Fatalf("omega = %v", p.OmegaBunch())
	}
	if err := (Particle{ERest: 1, QAdim: 0, FBunch: 1}).Validate(); err == nil {
		t.Fatal("expected error for zero charge")
	}
}

func TestCumulatedIsProduct(t *testing.T) {
	steps := []*mat.Dense{
		mat.NewDense(2, 2, []float64{1, 0.3, 0, 1}),
		mat.NewDense(2, 2, []float64{0.9, 0, -0.2, 1.1}),
		mat.NewDense(2, 2, []float64{1.02, 0.05, 0.01, 0.97}),
		mat.NewDense(2, 2, []float64{1, 0.7, 0, 1}),
	}
	first := mat.NewDense(2, 2, []float64{1.1, 0.1, 0, 0.9})
	tm, err := NewTransferMatrix(first, steps)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if tm.Len() != len(steps)+1 {
		t.Fatalf("len = %d", tm.Len())
	}
	if !mat.Equal(tm.Cumulated(0), first) {
		t.Fatal("cumulated[0] must be the entrance matrix")
	}
	want := mat.DenseCopyOf(first)
	for i, s := range steps {
		var next mat.Dense
		next.Mul(s, want)
		want = &next
		if !mat.EqualApprox(tm.Cumulated(i+1), want, 1e-9) {
			t.Fatalf("cumulated[%d] = %v, want %v", i+1, mat.Formatted(tm.Cumulated(i+1)), mat.Formatted(want))
		}
	}
}

func TestTransferMatrixDims(t *testing.T) {
	if _, err := NewTransferMatrix(mat.NewDense(3, 3, nil), nil); err == nil {
		t.Fatal("expected error for 3x3")
	}
	if _, err := NewTransferMatrix(Identity(2), []*mat.Dense{Identity(6)}); err == nil {
		t.Fatal("expected error for mixed sizes")
	}
}

func TestTwissRoundTrip(t *testing.T) {
	s := Sigma(-0.4, 2.5, 1e-6)
	tw, err := TwissFromSigma(s)
	if err != nil {
		t.Fatalf("twiss: %v", err)
	}
	if tw.Degenerate {
		t.Fatal("unexpected degenerate beam")
	}
	if math.Abs(tw.Alpha+0.4) > 1e-9 || math.Abs(tw.Beta-2.5) > 1e-9 || math.Abs(tw.Emittance-1e-6) > 1e-15 {
		t.Fatalf("twiss = %+v", tw)
	}
	if math.Abs(tw.Beta*tw.Gamma-tw.Alpha*tw.Alpha-1) > 1e-9 {
		t.Fatalf("beta*gamma - alpha^2 = %v", tw.Beta*tw.Gamma-tw.Alpha*tw.Alpha)
	}
}

func TestTwissDegenerate(t *testing.T) {
	tw, err := TwissFromSigma(mat.NewDense(2, 2, []float64{1, 1, 1, 1}))
	if err != nil {
		t.Fatalf("twiss: %v", err)
	}
	if !tw.Degenerate || !math.IsNaN(tw.Beta) {
		t.Fatalf("expected degenerate result, got %+v", tw)
	}
	if !math.IsNaN(Mismatch(tw, tw)) {
		t.Fatal("mismatch of degenerate beams must be NaN")
	}
	if _, err := TwissFromSigma(Identity(6)); err == nil {
		t.Fatal("expected error for a 6x6 sigma")
	}
}

func TestMismatch(t *testing.T) {
	a, _ := TwissFromSigma(Sigma(0.3, 1.7, 2e-6))
	b, _ := TwissFromSigma(Sigma(-0.8, 3.1, 2e-6))
	if m := Mismatch(a, a); math.Abs(m) > 1e-7 {
		t.Fatalf("M(a, a) = %v", m)
	}
	mab, mba := Mismatch(a, b), Mismatch(b, a)
	if mab <= 0 {
		t.Fatalf("M(a, b) = %v, want > 0", mab)
	}
	if math.Abs(mab-mba) > 1e-12 {
		t.Fatalf("mismatch is not symmetric: %v vs %v", mab, mba)
	}
	if _, err := MismatchAll([]Twiss{a}, nil); err == nil {
		t.Fatal("expected error for different meshes")
	}
}

func TestComputeDrift(t *testing.T) {
	drift := mat.NewDense(2, 2, []float64{1, 0.5, 0, 1})
	tm, err := NewTransferMatrix(Identity(2), []*mat.Dense{drift, drift})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	sigma := Sigma(0, 1, 1e-6)
	bp, err := Compute(tm, map[Plane]*mat.Dense{ZDelta: sigma})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if _, ok := bp.Plane(X); ok {
		t.Fatal("longitudinal computation must not have an x plane")
	}
	eps := bp.ZDelta.Emittance()
	for i, e := range eps {
		if math.Abs(e-1e-6) > 1e-15 {
			t.Fatalf("emittance at %d = %v, a drift conserves it", i, e)
		}
	}
	if beta := bp.ZDelta.Beta(); beta[2] <= beta[0] {
		t.Fatalf("beam should grow through a drift: %v", beta)
	}
}

func TestCompute6x6Blocks(t *testing.T) {
	m := Identity(6)
	m.Set(0, 1, 1)
	tm, err := NewTransferMatrix(Identity(6), []*mat.Dense{m})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	in := map[Plane]*mat.Dense{X: Sigma(0, 1, 1e-6), Y: Sigma(0, 2, 1e-6), ZDelta: Sigma(0, 3, 1e-6)}
	bp, err := Compute(tm, in)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if bp.Y.Beta()[1] != bp.Y.Beta()[0] {
		t.Fatal("y plane must not see an x drift")
	}
	if bp.X.Beta()[1] <= bp.X.Beta()[0] {
		t.Fatal("x plane should grow")
	}
	delete(in, Y)
	if _, err := Compute(tm, in); err == nil {
		t.Fatal("expected error for a missing plane")
	}
}

func TestBlock(t *testing.T) {
	m := mat.NewDense(6, 6, nil)
	SetBlock(m, Y, mat.NewDense(2, 2, []float64{1, 2, 3, 4}))
	b := Block(m, Y)
	if b.At(1, 0) != 3 || m.At(3, 2) != 3 {
		t.Fatalf("block = %v", mat.Formatted(b))
	}
}
