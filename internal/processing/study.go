package processing

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kacperjurak/linaccore/internal/utils"
	"github.com/kacperjurak/linaccore/pkg/config"
	"github.com/kacperjurak/linaccore/pkg/designspace"
	"github.com/kacperjurak/linaccore/pkg/diag"
	"github.com/kacperjurak/linaccore/pkg/element"
	"github.com/kacperjurak/linaccore/pkg/fault"
	"github.com/kacperjurak/linaccore/pkg/field"
	"github.com/kacperjurak/linaccore/pkg/history"
	"github.com/kacperjurak/linaccore/pkg/models"
	"github.com/kacperjurak/linaccore/pkg/report"
	"github.com/kacperjurak/linaccore/pkg/simout"
	"github.com/kacperjurak/linaccore/pkg/worker"
)

// StudyProcessor runs compensation studies. Field maps are shared by every
// study it processes.
type StudyProcessor struct {
	config *config.Config
	fields *field.Cache
}

// NewStudyProcessor creates a new study processor
func NewStudyProcessor(cfg *config.Config) *StudyProcessor {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &StudyProcessor{config: cfg, fields: field.NewCache()}
}

// Resolve returns the configuration of s: the blocks given in the study
// replace the ones of base.
func Resolve(base *config.Config, s models.Study) *config.Config {
	c := *base
	if s.Beam != nil {
		c.Beam = *s.Beam
	}
	if s.Calculator != nil {
		c.Calculator = *s.Calculator
	}
	if s.DesignSpace != nil {
		c.DesignSpace = *s.DesignSpace
	}
	if s.Wtf != nil {
		c.Wtf = *s.Wtf
	}
	if s.Optimisation != nil {
		c.Optimisation = *s.Optimisation
	}
	if len(s.Failed) > 0 {
		c.Wtf.Failed = append([]int(nil), s.Failed...)
	}
	return &c
}

// Process fixes the faults of s and returns the summary. An error is
// returned when the study cannot be set up; an optimisation that does not
// converge only clears Success.
func (p *StudyProcessor) Process(ctx context.Context, s models.Study) (models.StudyResult, error) {
	start := time.Now()
	if s.ID == "" {
		s.ID = utils.GenerateID()
	}
	res := models.StudyResult{ID: s.ID, Name: s.Name}

	cfg := Resolve(p.config, s)
	if err := cfg.Validate(); err != nil {
		return res, err
	}
	if len(cfg.Wtf.Failed) == 0 && len(cfg.Wtf.ManualFailed) == 0 {
		return res, fmt.Errorf("study %s: no failed cavity", s.ID)
	}

	d := diag.New()
	name := s.Name
	if name == "" {
		name = s.ID
	}
	l, err := BuildLinac(name, s.Elements, cfg.Beam.FBunch, p.fields, d)
	if err != nil {
		return res, err
	}
	calc, err := Calculator(cfg, d)
	if err != nil {
		return res, err
	}
	strategy, err := cfg.Strategy()
	if err != nil {
		return res, err
	}
	var space *designspace.Space
	if cfg.DesignSpace.VariablesFile != "" {
		if space, err = designspace.ReadFiles(cfg.DesignSpace.VariablesFile, cfg.DesignSpace.ConstraintsFile); err != nil {
			return res, err
		}
	}

	failed := cfg.Wtf.Failed
	if len(failed) == 0 {
		for _, g := range cfg.Wtf.ManualFailed {
			failed = append(failed, g...)
		}
	}
	hist := &histories{cfg: cfg, studyID: s.ID, mirror: cfg.Report.Enabled}
	in := simout.Entry{WKin: cfg.Beam.WKinIn, PhiAbs: cfg.Beam.PhiAbsIn}
	scenario, err := fault.NewScenario(l, calc, in, fault.Config{
		Failed:         failed,
		Strategy:       strategy,
		DesignSpace:    cfg.DesignSpace.Preset,
		Space:          space,
		Limits:         cfg.DesignSpace.Limits,
		Objectives:     cfg.Wtf.Objective,
		Method:         cfg.Optimisation.Method,
		Solver:         cfg.Solver(),
		PhaseReference: cfg.Wtf.PhaseReference,
		Parallel:       cfg.Optimisation.Parallel,
		Workers:        cfg.Optimisation.Workers,
		History:        hist.open,
		Diag:           d,
	})
	if err != nil {
		return res, err
	}
	if !cfg.Quiet {
		for _, f := range scenario.Faults {
			log.Printf("Study %s: %s", s.ID, f)
		}
	}

	sum, err := scenario.FixAll(ctx)
	if err != nil {
		return res, err
	}
	summarize(&res, l, scenario, sum, hist)

	if cfg.Report.Enabled && sum.Output != nil {
		broken, err := calc.Run(l, scenario.Broken(), in)
		if err != nil {
			broken = nil
		}
		files, err := report.Write(filepath.Join(cfg.Report.Dir, s.ID), scenario.Reference, sum.Output, broken, hist.entries())
		if err != nil {
			d.Warn("Report", s.ID, "%v", err)
		}
		res.Figures = files
	}

	for _, w := range d.Warnings() {
		res.Warnings = append(res.Warnings, models.Warning{Code: w.Code, Subject: w.Subject, Message: w.Message})
	}
	res.Runtime = time.Since(start).Seconds()
	if !cfg.Quiet {
		log.Printf("Study %s done - success: %t, faults: %d, warnings: %d, runtime: %.2fs",
			s.ID, res.Success, len(res.Faults), len(res.Warnings), res.Runtime)
	}
	return res, nil
}

func summarize(res *models.StudyResult, l *element.Linac, sc *fault.Scenario, sum *fault.Summary, h *histories) {
	res.Success = sum.Success
	ref := sc.Reference.Exit()
	res.WKinRefOut = finite(ref.WKin)
	res.PhiRefOut = finite(ref.PhiAbs)
	if sum.Output != nil {
		fix := sum.Output.Exit()
		res.WKinFixOut = finite(fix.WKin)
		res.PhiFixOut = finite(fix.PhiAbs)
	}

	for _, o := range sum.Outcomes {
		f := o.Fault
		fr := models.FaultResult{
			ID:           f.ID,
			Failed:       f.Failed,
			Compensating: f.Compensating,
			Zone:         [2]int{f.First, f.Last},
			Success:      o.Success,
			Status:       o.Result.Status,
			Method:       o.Result.Method,
			Norm:         finite(o.Result.F),
			X:            finites(o.Result.X),
			Values:       finites(o.Values),
			FuncEval:     o.Result.FuncEval,
			HistoryRunID: h.runID(f.ID),
		}
		for _, idx := range f.Altered() {
			fr.Cavities = append(fr.Cavities, cavityResult(l, idx, sum))
		}
		res.Faults = append(res.Faults, fr)
	}
}

func cavityResult(l *element.Linac, idx int, sum *fault.Summary) models.CavityResult {
	var snap simout.CavitySnapshot
	ok := false
	if sum.Output != nil {
		snap, ok = sum.Output.Cavity(idx)
	}
	if !ok {
		if s, found := sum.Set[idx]; found {
			snap = simout.Snapshot(idx, s)
		}
	}
	cr := models.CavityResult{
		Index:   idx,
		Status:  string(snap.Status),
		KE:      finite(snap.KE),
		Phi0Abs: finite(snap.Phi0Abs),
		Phi0Rel: finite(snap.Phi0Rel),
		PhiS:    finite(snap.PhiS),
		VCavMV:  finite(snap.VCav),
	}
	if s, found := sum.Set[idx]; found {
		cr.Status = string(s.Status())
	}
	if e, found := l.ByIndex(idx); found {
		cr.Name = e.Name
	}
	return cr
}

// finite replaces the values JSON cannot hold by 0.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func finites(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = finite(x)
	}
	return out
}

// histories opens the history store of every fault of a study. When mirror
// is set, the evaluations are also kept in memory for the report.
type histories struct {
	cfg     *config.Config
	studyID string
	mirror  bool

	mu     sync.Mutex
	stores map[int]*history.MemoryStore
	ids    map[int]string
}

func (h *histories) open(f *fault.Fault) (fault.Recorder, error) {
	opts := history.Options{
		RunID:        fmt.Sprintf("%s_fault_%d", h.studyID, f.ID),
		SaveInterval: h.cfg.History.SaveInterval,
	}
	for _, v := range f.Space.Variables {
		opts.Variables = append(opts.Variables, fmt.Sprintf("%s@%d", v.Name, v.Cavity))
	}
	for _, o := range f.Objectives {
		opts.Objectives = append(opts.Objectives, o.Name())
	}

	backend := h.cfg.History.Backend
	dir := filepath.Join(h.cfg.History.Dir, h.studyID)
	switch backend {
	case history.CSV:
		opts.Path = filepath.Join(dir, fmt.Sprintf("fault_%d", f.ID))
	case history.SQLite:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		opts.Path = filepath.Join(dir, fmt.Sprintf("fault_%d.db", f.ID))
	}
	store, err := history.Open(backend, opts)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ids == nil {
		h.ids = make(map[int]string)
		h.stores = make(map[int]*history.MemoryStore)
	}
	h.ids[f.ID] = store.RunID()
	if !h.mirror {
		return store, nil
	}
	if mem, ok := store.(*history.MemoryStore); ok {
		h.stores[f.ID] = mem
		return store, nil
	}
	mem := history.NewMemoryStore(store.RunID())
	h.stores[f.ID] = mem
	return history.Tee(store, mem), nil
}

func (h *histories) runID(id int) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ids[id]
}

func (h *histories) entries() map[int][]history.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[int][]history.Entry, len(h.stores))
	for id, s := range h.stores {
		out[id] = s.Entries()
	}
	return out
}

// ProcessorFunc creates a function compatible with the worker pool
func (p *StudyProcessor) ProcessorFunc() worker.ProcessorFunc[models.WorkItem, models.WorkResult] {
	return func(ctx context.Context, item models.WorkItem) models.WorkResult {
		result, err := p.Process(ctx, item.Study)
		if err != nil {
			log.Printf("Study processing error: %v", err)
			result.Error = err.Error()
			result.Success = false
		}
		return models.WorkResult{
			ID:             item.ID,
			RequestID:      item.RequestID,
			BatchID:        item.BatchID,
			Result:         result,
			ProcessingTime: time.Since(item.StartTime),
			Success:        err == nil && result.Success,
		}
	}
}

