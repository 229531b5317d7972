package fault

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/kacperjurak/linaccore"
	"github.com/kacperjurak/linaccore/pkg/cavity"
	"github.com/kacperjurak/linaccore/pkg/designspace"
	"github.com/kacperjurak/linaccore/pkg/diag"
	"github.com/kacperjurak/linaccore/pkg/element"
	"github.com/kacperjurak/linaccore/pkg/envelope"
	"github.com/kacperjurak/linaccore/pkg/objective"
	"github.com/kacperjurak/linaccore/pkg/simout"
	"github.com/kacperjurak/linaccore/pkg/worker"
)

// AsInOriginal keeps the phase reference of every cavity.
const AsInOriginal = "as_in_original"

// RecorderFactory opens the history of one fault. A recorder that is also
// an io.Closer is closed when the fault is fixed.
type RecorderFactory func(f *Fault) (Recorder, error)

// Config describes the faults of a study and how to fix them.
type Config struct {
	Failed   []int
	Strategy Strategy
	// DesignSpace is a preset name. When Space is set, the variables and
	// constraints of the compensating cavities are taken from it instead.
	DesignSpace string
	Space       *designspace.Space
	Limits      designspace.Limits
	Objectives  string
	Method      string
	Solver      linaccore.Settings
	// PhaseReference is the phase convention of the cavities of the broken
	// linac: a cavity.Reference name or AsInOriginal.
	PhaseReference string
	Parallel       bool
	Workers        int
	History        RecorderFactory
	Diag           *diag.Collector
}

// Scenario holds every fault of a study.
type Scenario struct {
	Linac     *element.Linac
	Reference *simout.Output
	Faults    []*Fault

	calc   envelope.Calculator
	in     simout.Entry
	broken cavity.Set
	cfg    Config
}

// Summary is the result of FixAll.
type Summary struct {
	Outcomes []Outcome
	// Set is the tuning of the whole linac after every fix.
	Set cavity.Set
	// Output is the run of the whole linac with Set. It is nil when that
	// run failed.
	Output  *simout.Output
	Success bool
}

// NewScenario runs the reference linac, groups the failed cavities and
// builds one fault per group.
func NewScenario(l *element.Linac, calc envelope.Calculator, in simout.Entry, cfg Config) (*Scenario, error) {
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("%w: no strategy", ErrInvalidStrategy)
	}
	refSet := l.NominalSet()
	ref, err := calc.Run(l, refSet, in)
	if err != nil {
		return nil, fmt.Errorf("reference run: %w", err)
	}

	failedGroups, compGroups, err := cfg.Strategy.Select(l, cfg.Failed)
	if err != nil {
		return nil, err
	}

	sections := make(map[int]int)
	for _, e := range l.Cavities() {
		sections[e.Index] = e.Section
	}
	s := &Scenario{Linac: l, Reference: ref, calc: calc, in: in, cfg: cfg}
	for i := range failedGroups {
		var space *designspace.Space
		if cfg.Space != nil {
			space, err = cfg.Space.Restrict(compGroups[i])
		} else {
			space, err = designspace.FromPreset(cfg.DesignSpace, ref, compGroups[i], cfg.Limits, sections)
		}
		if err != nil {
			return nil, fmt.Errorf("fault %d: %w", i, err)
		}
		_, last, err := Zone(l, append(append([]int(nil), failedGroups[i]...), compGroups[i]...))
		if err != nil {
			return nil, err
		}
		objs, err := objective.Preset(cfg.Objectives, objective.Context{
			Reference:    ref,
			Exit:         last,
			Compensating: compGroups[i],
			PhiSLimits:   space.PhiSLimits(),
		})
		if err != nil {
			return nil, fmt.Errorf("fault %d: %w", i, err)
		}
		f, err := New(i, l, calc, ref, failedGroups[i], compGroups[i], space, objs)
		if err != nil {
			return nil, err
		}
		s.Faults = append(s.Faults, f)
	}

	s.broken, err = s.breakLinac(refSet)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// breakLinac copies the reference tuning into the convention of the broken
// linac and marks the failed cavities. Downstream of the first failure, a
// cavity that does not keep its absolute phase is rephased.
func (s *Scenario) breakLinac(refSet cavity.Set) (cavity.Set, error) {
	set := refSet.Clone()
	if p := s.cfg.PhaseReference; p != "" && p != AsInOriginal {
		ref, err := cavity.ParseReference(p)
		if err != nil {
			return nil, err
		}
		for _, idx := range set.Indices() {
			if err := set[idx].SetReference(ref); err != nil {
				return nil, fmt.Errorf("cavity %d: %w", idx, err)
			}
		}
	}

	firstFailed := -1
	for _, f := range s.Faults {
		if firstFailed < 0 || f.Failed[0] < firstFailed {
			firstFailed = f.Failed[0]
		}
		for _, idx := range f.Failed {
			set[idx].SetStatus(cavity.Failed)
		}
	}
	for _, idx := range set.Indices() {
		c := set[idx]
		if idx > firstFailed && c.Status() == cavity.Nominal && c.Reference() != cavity.Phi0Abs {
			c.SetStatus(cavity.RephasedInProgress)
		}
	}
	return set, nil
}

// Broken returns a copy of the tuning of the linac before any fix.
func (s *Scenario) Broken() cavity.Set { return s.broken.Clone() }

// FixAll fixes every fault. Sequentially, a fault starts from the beam of
// the linac fixed upstream. In parallel, every fault starts from the
// reference beam and the groups are fixed on their own copy of the tuning.
func (s *Scenario) FixAll(ctx context.Context) (*Summary, error) {
	var (
		outcomes []Outcome
		err      error
	)
	if s.cfg.Parallel && len(s.Faults) > 1 {
		outcomes, err = s.fixParallel(ctx)
	} else {
		outcomes, err = s.fixSequential(ctx)
	}
	if err != nil {
		return nil, err
	}

	set := s.broken.Clone()
	for i, o := range outcomes {
		set = set.Merge(o.Set)
		s.markRephased(set, i)
	}
	sum := &Summary{Outcomes: outcomes, Set: set, Success: true}
	for _, o := range outcomes {
		sum.Success = sum.Success && o.Success
	}
	out, runErr := s.calc.Run(s.Linac, set.Clone(), s.in)
	if runErr != nil {
		s.cfg.Diag.Warn("FixedLinacRun", s.Linac.Name(), "run with the fixed settings failed: %v", runErr)
		sum.Success = false
	} else {
		sum.Output = out
	}
	return sum, nil
}

func (s *Scenario) fixSequential(ctx context.Context) ([]Outcome, error) {
	set := s.broken.Clone()
	cur := s.Reference
	outcomes := make([]Outcome, 0, len(s.Faults))
	for i, f := range s.Faults {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in, err := cur.EntryAt(f.First)
		if err != nil {
			return nil, fmt.Errorf("fault %d: %w", f.ID, err)
		}
		o, err := s.fix(f, set, in)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
		set = set.Merge(o.Set)
		s.markRephased(set, i)

		if i+1 == len(s.Faults) {
			break
		}
		full, err := s.calc.Run(s.Linac, set.Clone(), s.in)
		if err != nil {
			s.cfg.Diag.Warn("FixedLinacRun", f.String(), "next fault starts from the reference beam: %v", err)
			cur = s.Reference
			continue
		}
		cur = full
	}
	return outcomes, nil
}

func (s *Scenario) fixParallel(ctx context.Context) ([]Outcome, error) {
	type result struct {
		o   Outcome
		err error
	}
	set := s.broken
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = len(s.Faults)
	}
	results := worker.Map(ctx, workers, s.Faults, func(ctx context.Context, f *Fault) result {
		in, err := s.Reference.EntryAt(f.First)
		if err != nil {
			return result{err: fmt.Errorf("fault %d: %w", f.ID, err)}
		}
		o, err := s.fix(f, set, in)
		return result{o: o, err: err}
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	outcomes := make([]Outcome, len(results))
	for i, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		outcomes[i] = r.o
	}
	return outcomes, nil
}

func (s *Scenario) fix(f *Fault, set cavity.Set, in simout.Entry) (Outcome, error) {
	opts := FixOptions{Method: s.cfg.Method, Settings: s.cfg.Solver, Diag: s.cfg.Diag}
	if s.cfg.History != nil {
		rec, err := s.cfg.History(f)
		if err != nil {
			return Outcome{}, fmt.Errorf("fault %d: history: %w", f.ID, err)
		}
		opts.Recorder = rec
		if c, ok := rec.(io.Closer); ok {
			defer func() {
				if err := c.Close(); err != nil {
					log.Printf("Fault %d: closing history: %v", f.ID, err)
				}
			}()
		}
	}
	return f.Fix(set, in, opts)
}

// markRephased validates the rephasing of the cavities between fault i and
// the next altered cavity.
func (s *Scenario) markRephased(set cavity.Set, i int) {
	last := s.Faults[i].Altered()
	from := last[len(last)-1]
	to := -1
	if i+1 < len(s.Faults) {
		to = s.Faults[i+1].First
	}
	for _, idx := range set.Indices() {
		if idx <= from || (to >= 0 && idx >= to) {
			continue
		}
		if set[idx].Status() == cavity.RephasedInProgress {
			set[idx].SetStatus(cavity.RephasedOK)
		}
	}
}
