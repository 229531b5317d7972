package fault

import (
	"errors"
	"fmt"
	"log"

	"github.com/kacperjurak/linaccore"
	"github.com/kacperjurak/linaccore/pkg/cavity"
	"github.com/kacperjurak/linaccore/pkg/designspace"
	"github.com/kacperjurak/linaccore/pkg/diag"
	"github.com/kacperjurak/linaccore/pkg/element"
	"github.com/kacperjurak/linaccore/pkg/envelope"
	"github.com/kacperjurak/linaccore/pkg/objective"
	"github.com/kacperjurak/linaccore/pkg/simout"
	"gonum.org/v1/gonum/floats"
)

// Value of every residual of an evaluation whose beam dynamics diverged.
const divergencePenalty = 1e10

// CodeInvalidStatus is the warning recorded when a cavity that is not
// retunable is picked by a fault.
const CodeInvalidStatus = "InvalidCavityStatus"

// Recorder stores the evaluations of one optimisation.
type Recorder interface {
	Record(x, residuals, constraints []float64) error
}

// Fault is one group of failed cavities with its compensating cavities.
type Fault struct {
	ID           int
	Failed       []int
	Compensating []int
	// First and Last are the element indices bounding the zone.
	First, Last int
	Space       *designspace.Space
	Objectives  []objective.Objective

	zone *element.Linac
	ref  *simout.Output
	calc envelope.Calculator
}

// New builds the fault of one group. The objectives are evaluated at the
// exit of the zone and compared with ref.
func New(id int, l *element.Linac, calc envelope.Calculator, ref *simout.Output, failed, comp []int, space *designspace.Space, objs []objective.Objective) (*Fault, error) {
	altered := append(append([]int(nil), failed...), comp...)
	first, last, err := Zone(l, altered)
	if err != nil {
		return nil, err
	}
	zone, err := l.Sub(first, last)
	if err != nil {
		return nil, fmt.Errorf("fault %d: %w", id, err)
	}
	if space == nil || space.Dim() == 0 {
		return nil, fmt.Errorf("fault %d: empty design space", id)
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("fault %d: no objective", id)
	}
	return &Fault{
		ID:           id,
		Failed:       sorted(failed),
		Compensating: sorted(comp),
		First:        first,
		Last:         last,
		Space:        space,
		Objectives:   objs,
		zone:         zone,
		ref:          ref,
		calc:         calc,
	}, nil
}

// Zone returns the sub-linac the fault is fixed on.
func (f *Fault) Zone() *element.Linac { return f.zone }

// Reference is the output the objectives compare with.
func (f *Fault) Reference() *simout.Output { return f.ref }

func (f *Fault) String() string {
	return fmt.Sprintf("fault %d: failed %v, compensating %v, zone [%d, %d]", f.ID, f.Failed, f.Compensating, f.First, f.Last)
}

// Altered returns the failed and compensating cavities.
func (f *Fault) Altered() []int {
	return sorted(append(append([]int(nil), f.Failed...), f.Compensating...))
}

// PreCompensationStatus marks the failed and compensating cavities of set.
// A cavity that was already altered by another fault is reported to d.
func (f *Fault) PreCompensationStatus(set cavity.Set, d *diag.Collector) {
	mark := func(idx []int, st cavity.Status) {
		for _, i := range idx {
			s, ok := set[i]
			if !ok {
				continue
			}
			if cur := s.Status(); !cur.IsRetunable() && cur != st {
				d.Warn(CodeInvalidStatus, fmt.Sprintf("cavity %d", i), "status %q changed to %q", cur, st)
			}
			s.SetStatus(st)
		}
	}
	mark(f.Failed, cavity.Failed)
	mark(f.Compensating, cavity.CompensateInProgress)
}

// PostCompensationStatus records the outcome in the compensating cavities.
func (f *Fault) PostCompensationStatus(set cavity.Set, success bool) {
	st := cavity.CompensateNotOK
	if success {
		st = cavity.CompensateOK
	}
	for _, i := range f.Compensating {
		if s, ok := set[i]; ok {
			s.SetStatus(st)
		}
	}
}

// Outcome is the result of fixing one fault.
type Outcome struct {
	Fault   *Fault
	Success bool
	// Set holds the settings of the failed and compensating cavities.
	Set    cavity.Set
	Result linaccore.Result
	// Output is the run of the zone with the best settings. It is nil when
	// that run failed.
	Output *simout.Output
	// Values are the objective values at the best settings.
	Values []float64
}

// FixOptions select the algorithm of Fix.
type FixOptions struct {
	Method   string
	Settings linaccore.Settings
	Recorder Recorder
	Diag     *diag.Collector
}

// Fix searches the settings of the compensating cavities. set is the
// current tuning of the whole linac; it is not modified. in is the beam at
// the entrance of the zone.
func (f *Fault) Fix(set cavity.Set, in simout.Entry, opts FixOptions) (Outcome, error) {
	work := set.Clone()
	f.PreCompensationStatus(work, opts.Diag)
	for _, idx := range f.Space.Cavities() {
		if _, ok := work[idx]; !ok {
			return Outcome{}, fmt.Errorf("fault %d: cavity %d is not in the settings", f.ID, idx)
		}
	}

	ev := &evaluator{fault: f, set: work, in: in, rec: opts.Recorder}
	x0, lower, upper := f.Space.Bounds()
	problem := linaccore.Problem{
		Residuals: ev.residuals,
		X0:        x0,
		Lower:     lower,
		Upper:     upper,
		Phase:     f.Space.Phase(),
	}
	if len(f.Space.Constraints) > 0 {
		problem.Constraints = ev.constraints
	}
	solver, err := linaccore.NewSolver(opts.Method, problem, opts.Settings)
	if err != nil {
		return Outcome{}, fmt.Errorf("fault %d: %w", f.ID, err)
	}
	if !opts.Settings.Quiet {
		log.Printf("Fixing %s with %s", f, solver.Method())
	}
	res := solver.Solve()
	if ev.fatal != nil {
		return Outcome{}, fmt.Errorf("fault %d: %w", f.ID, ev.fatal)
	}

	out := Outcome{Fault: f, Result: res}
	var runErr error
	if res.X != nil {
		out.Output, runErr = ev.run(res.X)
	}
	out.Success = res.Solved && out.Output != nil
	if out.Output != nil {
		out.Values = objective.Residuals(f.Objectives, out.Output)
	} else if runErr != nil {
		opts.Diag.Warn("CompensationRun", f.String(), "best settings do not run: %v", runErr)
	}
	f.PostCompensationStatus(work, out.Success)

	out.Set = make(cavity.Set)
	for _, idx := range f.Altered() {
		if s, ok := work[idx]; ok {
			out.Set[idx] = s.Clone()
		}
	}
	if !opts.Settings.Quiet {
		log.Printf("Fault %d: success=%t norm=%.6g", f.ID, out.Success, res.F)
	}
	return out, nil
}

// evaluator runs the zone for the solver. It owns its cavity set and keeps
// the last run, since the residuals and the constraints of one point are
// asked for one after the other.
type evaluator struct {
	fault *Fault
	set   cavity.Set
	in    simout.Entry
	rec   Recorder

	lastX   []float64
	lastOut *simout.Output
	lastErr error
	fatal   error
	recErr  bool
}

func (ev *evaluator) run(x []float64) (*simout.Output, error) {
	if ev.lastX != nil && floats.Equal(ev.lastX, x) {
		return ev.lastOut, ev.lastErr
	}
	ev.lastX = append(ev.lastX[:0], x...)
	if err := ev.fault.Space.Apply(x, ev.set); err != nil {
		ev.lastOut, ev.lastErr = nil, err
		ev.fatal = err
		return nil, err
	}
	ev.lastOut, ev.lastErr = ev.fault.calc.Run(ev.fault.zone, ev.set, ev.in)
	if ev.lastErr != nil && !recoverable(ev.lastErr) && ev.fatal == nil {
		ev.fatal = ev.lastErr
	}
	return ev.lastOut, ev.lastErr
}

// recoverable errors come from the settings being tried, not from the
// study: they only penalise the point.
func recoverable(err error) bool {
	return errors.Is(err, envelope.ErrBeamDynamicsDivergence) || errors.Is(err, cavity.ErrMissingAttribute)
}

func (ev *evaluator) residuals(x []float64) []float64 {
	out, err := ev.run(x)
	var r []float64
	if err != nil {
		r = penalty(len(ev.fault.Objectives))
	} else {
		r = objective.Residuals(ev.fault.Objectives, out)
	}
	if ev.rec != nil && !ev.recErr {
		var g []float64
		if len(ev.fault.Space.Constraints) > 0 {
			g = ev.constraints(x)
		}
		if err := ev.rec.Record(x, r, g); err != nil {
			log.Printf("Fault %d: history disabled: %v", ev.fault.ID, err)
			ev.recErr = true
		}
	}
	return r
}

func (ev *evaluator) constraints(x []float64) []float64 {
	out, err := ev.run(x)
	if err != nil {
		return penalty(2 * len(ev.fault.Space.Constraints))
	}
	return ev.fault.Space.ConstraintValues(out)
}

func penalty(n int) []float64 {
	r := make([]float64, n)
	for i := range r {
		r[i] = divergencePenalty
	}
	return r
}
