package fault

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/kacperjurak/linaccore"
	"github.com/kacperjurak/linaccore/pkg/beam"
	"github.com/kacperjurak/linaccore/pkg/cavity"
	"github.com/kacperjurak/linaccore/pkg/designspace"
	"github.com/kacperjurak/linaccore/pkg/element"
	"github.com/kacperjurak/linaccore/pkg/envelope"
	"github.com/kacperjurak/linaccore/pkg/field"
	"github.com/kacperjurak/linaccore/pkg/objective"
	"github.com/kacperjurak/linaccore/pkg/simout"
	"gonum.org/v1/gonum/mat"
)

const fBunch = 352.2

func sineField(t *testing.T) *field.Field {
	t.Helper()
	n, length := 40, 0.1
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

// chain builds drift, cavity, drift, cavity, ... drift with one cavity per
// amplitude. Cavity k has element index 2k+1.
func chain(t *testing.T, kE ...float64) *element.Linac {
	t.Helper()
	f := sineField(t)
	var elts []*element.Element
	for _, k := range kE {
		elts = append(elts,
			element.NewDrift("d", 0.2),
			element.NewFieldMap("cav", 0.1, f, cavity.New(k, 0.3, cavity.Phi0Rel, fBunch, fBunch)),
		)
	}
	elts = append(elts, element.NewDrift("d", 0.2))
	l, err := element.NewLinac("chain", elts, fBunch, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	return l
}

// lattices builds n lattices of one drift and one cavity.
func lattices(t *testing.T, n int) *element.Linac {
	t.Helper()
	f := sineField(t)
	elts := []*element.Element{element.NewCommand("LATTICE", 2)}
	for i := 0; i < n; i++ {
		elts = append(elts,
			element.NewDrift("d", 0.2),
			element.NewFieldMap("cav", 0.1, f, cavity.New(1, 0.3, cavity.Phi0Rel, fBunch, fBunch)),
		)
	}
	l, err := element.NewLinac("lattices", elts, fBunch, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	return l
}

func calculator(t *testing.T) envelope.Calculator {
	t.Helper()
	c, err := envelope.NewEnvelope1D(envelope.Config{
		Particle: beam.Proton(fBunch),
		SigmaIn:  map[beam.Plane]*mat.Dense{beam.ZDelta: beam.Sigma(0, 1, 1e-6)},
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	return c
}

func cav(rank int) int { return 2*rank + 1 }

func TestKOutOfN(t *testing.T) {
	l := chain(t, 1, 1, 1, 1, 1, 1)
	tests := []struct {
		name     string
		k        int
		failed   []int
		wantFail [][]int
		wantComp [][]int
	}{
		{"neighbours", 2, []int{cav(2)}, [][]int{{cav(2)}}, [][]int{{cav(1), cav(3)}}},
		{"first cavity", 2, []int{cav(0)}, [][]int{{cav(0)}}, [][]int{{cav(1), cav(2)}}},
		{"tie goes upstream", 1, []int{cav(1)}, [][]int{{cav(1)}}, [][]int{{cav(0)}}},
		{"disjoint groups", 1, []int{cav(1), cav(3)}, [][]int{{cav(1)}, {cav(3)}}, [][]int{{cav(0)}, {cav(2)}}},
		{"shared cavity merges", 2, []int{cav(3), cav(1)}, [][]int{{cav(1), cav(3)}}, [][]int{{cav(0), cav(2), cav(4), cav(5)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg, cg, err := KOutOfN{K: tt.k}.Select(l, tt.failed)
			if err != nil {
				t.Fatalf("select: %v", err)
			}
			if !reflect.DeepEqual(fg, tt.wantFail) || !reflect.DeepEqual(cg, tt.wantComp) {
				t.Fatalf("got %v / %v, want %v / %v", fg, cg, tt.wantFail, tt.wantComp)
			}
		})
	}
}

func TestKOutOfNErrors(t *testing.T) {
	l := chain(t, 1, 1)
	if _, _, err := (KOutOfN{K: 0}).Select(l, []int{cav(0)}); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("k = 0: %v", err)
	}
	if _, _, err := (KOutOfN{K: 1}).Select(l, []int{cav(0), cav(1)}); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("every cavity failed: %v", err)
	}
	if _, _, err := (KOutOfN{K: 1}).Select(l, []int{0}); !errors.Is(err, ErrInvalidStrategy) {
		t.Fatalf("drift as failed cavity: %v", err)
	}
}

func TestLNeighboringLattices(t *testing.T) {
	l := lattices(t, 6)
	// Lattice k holds a drift at 2k+1 and a cavity at 2k+2.
	fg, cg, err := LNeighboringLattices{L: 2}.Select(l, []int{6})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !reflect.DeepEqual(fg, [][]int{{6}}) || !reflect.DeepEqual(cg, [][]int{{4, 8}}) {
		t.Fatalf("got %v / %v", fg, cg)
	}
	first, last, err := Zone(l, []int{4, 6, 8})
	if err != nil || first != 4 || last != 8 {
		t.Fatalf("zone = [%d, %d] (%v)", first, last, err)
	}

	// Nothing upstream of lattice 0.
	_, cg, err = LNeighboringLattices{L: 2}.Select(l, []int{2})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !reflect.DeepEqual(cg, [][]int{{4, 6}}) {
		t.Fatalf("got %v", cg)
	}

	if _, _, err := (LNeighboringLattices{L: 1}).Select(chain(t, 1, 1), []int{cav(0)}); !errors.Is(err, ErrInvalidStrategy) {
		t.Fatalf("no lattice: %v", err)
	}
}

func TestManual(t *testing.T) {
	l := chain(t, 1, 1, 1, 1)
	fg, cg, err := Manual{Compensating: [][]int{{cav(3), cav(1)}}}.Select(l, []int{cav(2)})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !reflect.DeepEqual(fg, [][]int{{cav(2)}}) || !reflect.DeepEqual(cg, [][]int{{cav(1), cav(3)}}) {
		t.Fatalf("got %v / %v", fg, cg)
	}

	bad := []Manual{
		{Compensating: [][]int{{cav(2)}}},
		{Compensating: [][]int{{0}}},
		{Compensating: [][]int{{cav(1)}, {cav(3)}}},
		{Failed: [][]int{{cav(0)}}, Compensating: [][]int{{cav(1)}}},
	}
	for i, m := range bad {
		if _, _, err := m.Select(l, []int{cav(2)}); !errors.Is(err, ErrInvalidStrategy) {
			t.Fatalf("case %d: %v", i, err)
		}
	}
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy("k_out_of_n", 3, 0, nil, nil)
	if err != nil || s != (KOutOfN{K: 3}) {
		t.Fatalf("got %v (%v)", s, err)
	}
	if _, err := NewStrategy("closest", 1, 0, nil, nil); !errors.Is(err, ErrInvalidStrategy) {
		t.Fatalf("unknown strategy: %v", err)
	}
}

func TestZoneWithoutLattice(t *testing.T) {
	l := chain(t, 1, 1, 1)
	first, last, err := Zone(l, []int{cav(0)})
	if err != nil {
		t.Fatalf("zone: %v", err)
	}
	if first != cav(0) || last != cav(0)+1 {
		t.Fatalf("zone = [%d, %d]", first, last)
	}
	_, last, _ = Zone(l, []int{cav(2)})
	if last != l.Last() {
		t.Fatalf("last zone ends at %d, want %d", last, l.Last())
	}
}

func baseConfig(strategy Strategy, failed ...int) Config {
	return Config{
		Failed:         failed,
		Strategy:       strategy,
		DesignSpace:    designspace.RelPhaseAmplitude,
		Limits:         designspace.DefaultLimits(),
		Objectives:     objective.EnergyPhase,
		Method:         linaccore.LeastSquares,
		Solver:         linaccore.Settings{Quiet: true},
		PhaseReference: AsInOriginal,
	}
}

func TestNoCandidateFailsFast(t *testing.T) {
	l := chain(t, 1, 1)
	_, err := NewScenario(l, calculator(t), simout.Entry{WKin: 20}, baseConfig(KOutOfN{K: 0}, cav(0)))
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
}

func TestHarmlessFailureKeepsNominalSettings(t *testing.T) {
	l := chain(t, 0, 3)
	s, err := NewScenario(l, calculator(t), simout.Entry{WKin: 20}, baseConfig(KOutOfN{K: 1}, cav(0)))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	sum, err := s.FixAll(context.Background())
	if err != nil {
		t.Fatalf("fix: %v", err)
	}
	o := sum.Outcomes[0]
	if !o.Success || o.Result.F > 1e-6 {
		t.Fatalf("success=%t norm=%g", o.Success, o.Result.F)
	}
	nominal, _ := s.Reference.Cavity(cav(1))
	got := o.Set[cav(1)]
	if math.Abs(got.KE()-nominal.KE) > 1e-3*nominal.KE {
		t.Fatalf("k_e = %v, nominal %v", got.KE(), nominal.KE)
	}
	if rel, _ := got.Phi0Rel(); math.Abs(rel-nominal.Phi0Rel) > 1e-3 {
		t.Fatalf("phi_0_rel = %v, nominal %v", rel, nominal.Phi0Rel)
	}
}

func TestFixRestoresEnergyAndPhase(t *testing.T) {
	l := chain(t, 0.3, 3, 3)
	calc := calculator(t)
	in := simout.Entry{WKin: 20}
	s, err := NewScenario(l, calc, in, baseConfig(KOutOfN{K: 2}, cav(0)))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	f := s.Faults[0]
	if !reflect.DeepEqual(f.Compensating, []int{cav(1), cav(2)}) {
		t.Fatalf("compensating = %v", f.Compensating)
	}
	broken, err := calc.Run(l, s.Broken(), in)
	if err != nil {
		t.Fatalf("broken run: %v", err)
	}
	brokenNorm := objective.Norm(objective.Residuals(f.Objectives, broken))
	if brokenNorm < 1e-4 {
		t.Fatalf("broken residual norm %g is too small to test", brokenNorm)
	}

	sum, err := s.FixAll(context.Background())
	if err != nil {
		t.Fatalf("fix: %v", err)
	}
	o := sum.Outcomes[0]
	if !o.Success || o.Result.F > 1e-2*brokenNorm {
		t.Fatalf("success=%t norm=%g, broken norm %g", o.Success, o.Result.F, brokenNorm)
	}
	if sum.Output == nil {
		t.Fatalf("fixed linac did not run")
	}
	wRef, _ := s.Reference.Scalar(simout.WKin, f.Last, simout.Out)
	wFix, _ := sum.Output.Scalar(simout.WKin, f.Last, simout.Out)
	if math.Abs(wFix-wRef) > 1e-2*brokenNorm {
		t.Fatalf("exit energy %v, reference %v", wFix, wRef)
	}
	if st := sum.Set[cav(0)].Status(); st != cavity.Failed {
		t.Fatalf("failed cavity status %q", st)
	}
	for _, idx := range f.Compensating {
		if st := sum.Set[idx].Status(); st != cavity.CompensateOK {
			t.Fatalf("cavity %d status %q", idx, st)
		}
	}
}

func TestRephasingStatus(t *testing.T) {
	l := chain(t, 0, 3, 3)
	s, err := NewScenario(l, calculator(t), simout.Entry{WKin: 20}, baseConfig(KOutOfN{K: 1}, cav(0)))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if st := s.Broken()[cav(2)].Status(); st != cavity.RephasedInProgress {
		t.Fatalf("status before fix %q", st)
	}
	sum, err := s.FixAll(context.Background())
	if err != nil {
		t.Fatalf("fix: %v", err)
	}
	if st := sum.Set[cav(2)].Status(); st != cavity.RephasedOK {
		t.Fatalf("status after fix %q", st)
	}
}

func TestAbsolutePhasesAreNotRephased(t *testing.T) {
	l := chain(t, 0, 3, 3)
	cfg := baseConfig(KOutOfN{K: 1}, cav(0))
	cfg.PhaseReference = cavity.Phi0Abs.String()
	cfg.DesignSpace = designspace.AbsPhaseAmplitude
	s, err := NewScenario(l, calculator(t), simout.Entry{WKin: 20}, cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	c := s.Broken()[cav(2)]
	if c.Status() != cavity.Nominal || c.Reference() != cavity.Phi0Abs {
		t.Fatalf("got %s", c)
	}
}

type countingRecorder struct {
	n      int
	closed bool
}

func (r *countingRecorder) Record(x, residuals, constraints []float64) error {
	r.n++
	return nil
}

func (r *countingRecorder) Close() error {
	r.closed = true
	return nil
}

func TestParallelFaults(t *testing.T) {
	l := chain(t, 0, 3, 3, 0)
	cfg := baseConfig(KOutOfN{K: 1}, cav(0), cav(3))
	cfg.Parallel = true
	recs := make(map[int]*countingRecorder)
	cfg.History = func(f *Fault) (Recorder, error) {
		r := &countingRecorder{}
		recs[f.ID] = r
		return r, nil
	}
	cfg.Workers = 1
	s, err := NewScenario(l, calculator(t), simout.Entry{WKin: 20}, cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if len(s.Faults) != 2 {
		t.Fatalf("got %d faults", len(s.Faults))
	}
	sum, err := s.FixAll(context.Background())
	if err != nil {
		t.Fatalf("fix: %v", err)
	}
	if !sum.Success || len(sum.Outcomes) != 2 {
		t.Fatalf("success=%t outcomes=%d", sum.Success, len(sum.Outcomes))
	}
	for i, o := range sum.Outcomes {
		if o.Fault.ID != i {
			t.Fatalf("outcome %d belongs to fault %d", i, o.Fault.ID)
		}
	}
	for id, r := range recs {
		if r.n == 0 || !r.closed {
			t.Fatalf("fault %d: %d records, closed=%t", id, r.n, r.closed)
		}
	}
}

func TestFixAllStopsOnCancel(t *testing.T) {
	l := chain(t, 0, 3)
	s, err := NewScenario(l, calculator(t), simout.Entry{WKin: 20}, baseConfig(KOutOfN{K: 1}, cav(0)))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.FixAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDivergenceIsPenalised(t *testing.T) {
	l := chain(t, 1)
	calc := calculator(t)
	ref, err := calc.Run(l, l.NominalSet(), simout.Entry{WKin: 20})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	space, _ := designspace.New([]designspace.Variable{{Name: designspace.KE, Cavity: cav(0), X0: 1, Min: 0, Max: 2}}, nil)
	objs, err := objective.Preset(objective.EnergyPhase, objective.Context{Reference: ref, Exit: l.Last()})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	f, err := New(0, l, calc, ref, []int{cav(0)}, []int{cav(0)}, space, objs)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	ev := &evaluator{fault: f, set: l.NominalSet(), in: simout.Entry{WKin: -1}}
	r := ev.residuals([]float64{1})
	if len(r) != 2 || r[0] != divergencePenalty || r[1] != divergencePenalty {
		t.Fatalf("residuals = %v", r)
	}
	if ev.fatal != nil {
		t.Fatalf("divergence is not fatal: %v", ev.fatal)
	}
}
