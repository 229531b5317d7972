package objective

import (
	"errors"
	"math"
	"testing"

	"github.com/kacperjurak/linaccore/pkg/beam"
	"github.com/kacperjurak/linaccore/pkg/cavity"
	"github.com/kacperjurak/linaccore/pkg/simout"
	"gonum.org/v1/gonum/mat"
)

// output builds a drift, a cavity and a drift of the given length. w is the
// exit energy and phiS the synchronous phase of the cavity.
func output(t *testing.T, w, phiS, length float64) *simout.Output {
	t.Helper()
	drift := mat.NewDense(2, 2, []float64{1, length, 0, 1})
	steps := []*mat.Dense{drift, beam.Identity(2), drift}
	tm, err := beam.NewTransferMatrix(beam.Identity(2), steps)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	s := cavity.New(1, 0.3, cavity.Phi0Rel, 352.2, 352.2)
	s.SetCavityParameters(1.5, phiS)
	o, err := simout.Build(simout.Data{
		Calculator: "test",
		Particle:   beam.Proton(352.2),
		Elements:   []int{0, 1, 2},
		Spans:      map[int]simout.Span{0: {In: 0, Out: 1}, 1: {In: 1, Out: 2}, 2: {In: 2, Out: 3}},
		Z:          []float64{0, 1, 1.2, 2.2},
		WKin:       []float64{10, 10, w, w},
		PhiAbs:     []float64{0, 1, 1.5, 2.5},
		Transfer:   tm,
		SigmaIn:    map[beam.Plane]*mat.Dense{beam.ZDelta: beam.Sigma(0.1, 2, 1e-6)},
		Cavities:   map[int]simout.CavitySnapshot{1: simout.Snapshot(1, s)},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return o
}

func TestDifferenceWithRef(t *testing.T) {
	ref := output(t, 11, -0.5, 1)
	fix := output(t, 11.25, -0.5, 1)
	obj, err := NewDifferenceWithRef(simout.WKin, 2, simout.Out, 2, ref)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if obj.Ideal() != 11 {
		t.Fatalf("ideal = %g", obj.Ideal())
	}
	if got := obj.Evaluate(fix); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("residual = %g, want 0.5", got)
	}
	if got := obj.Evaluate(output(t, 10.5, -0.5, 1)); got >= 0 {
		t.Fatalf("residual = %g, want signed negative", got)
	}
	if _, err := NewDifferenceWithRef(simout.WKin, 9, simout.Out, 1, ref); err == nil {
		t.Fatalf("expected an error for an unknown element")
	}
}

func TestMismatchObjective(t *testing.T) {
	ref := output(t, 11, -0.5, 1)
	obj, err := NewMismatch(2, simout.Out, beam.ZDelta, 1, ref)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := obj.Evaluate(ref); math.Abs(got) > 1e-6 {
		t.Fatalf("mismatch with itself = %g", got)
	}
	if got := obj.Evaluate(output(t, 11, -0.5, 2)); !(got > 1e-3) {
		t.Fatalf("mismatch of a longer drift = %g, want > 0", got)
	}
}

func TestQuantityIsBetween(t *testing.T) {
	obj, err := NewQuantityIsBetween(simout.PhiS, 1, simout.Out, -0.7, -0.3, 1)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	cases := []struct {
		phiS, want float64
	}{
		{-0.5, 0},
		{-0.3, 0},
		{-0.1, 0.04},
		{-0.9, 0.04},
	}
	for _, tc := range cases {
		got := obj.Evaluate(output(t, 11, tc.phiS, 1))
		if math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("phi_s = %g: residual %g, want %g", tc.phiS, got, tc.want)
		}
	}
	if _, err := NewQuantityIsBetween(simout.PhiS, 1, simout.Out, 1, 0, 1); err == nil {
		t.Fatalf("expected an error for inverted limits")
	}
}

func TestRelativeToReferenceSwapsNegative(t *testing.T) {
	ref := output(t, 11, -0.5, 1)
	obj, err := RelativeToReference(simout.PhiS, 1, simout.Out, 80, 140, 1, ref)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	lo, hi := obj.Limits()
	if math.Abs(lo+0.7) > 1e-12 || math.Abs(hi+0.4) > 1e-12 {
		t.Fatalf("limits = [%g, %g], want [-0.7, -0.4]", lo, hi)
	}
	if _, err := RelativeToReference(simout.PhiS, 1, simout.Out, 110, 140, 1, ref); err == nil {
		t.Fatalf("expected an error for limits above 100%%")
	}
}

func TestPresets(t *testing.T) {
	ref := output(t, 11, -0.5, 1)
	c := Context{Reference: ref, Exit: 2, Compensating: []int{1}}
	cases := map[string]int{
		SimpleADS:               3,
		EnergyMismatch:          2,
		EnergyPhase:             2,
		EnergySyncPhaseMismatch: 3,
	}
	for name, n := range cases {
		objs, err := Preset(name, c)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(objs) != n {
			t.Fatalf("%s: %d objectives, want %d", name, len(objs), n)
		}
		r := Residuals(objs, ref)
		if Norm(r) > 1e-6 {
			t.Fatalf("%s: reference residuals %v", name, r)
		}
	}
	if _, err := Preset("rephase_everything", c); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("expected ErrUnknownPreset, got %v", err)
	}
}

func TestPresetPhiSLimits(t *testing.T) {
	ref := output(t, 11, -0.5, 1)
	c := Context{
		Reference:    ref,
		Exit:         2,
		Compensating: []int{1},
		PhiSLimits:   map[int][2]float64{1: {-0.45, -0.2}},
	}
	objs, err := Preset(EnergySyncPhaseMismatch, c)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	r := Residuals(objs, ref)
	if math.Abs(r[2]-0.0025) > 1e-12 {
		t.Fatalf("phi_s residual = %g, want 0.0025", r[2])
	}
}

func TestNaNOnMissingValue(t *testing.T) {
	obj, _ := NewQuantityIsBetween(simout.PhiS, 1, simout.Out, -1, 0, 1)
	if got := obj.Evaluate(output(t, 11, math.NaN(), 1)); !math.IsNaN(got) {
		t.Fatalf("residual = %g, want NaN", got)
	}
}
