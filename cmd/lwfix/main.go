package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kacperjurak/linaccore/internal/processing"
	"github.com/kacperjurak/linaccore/pkg/beam"
	"github.com/kacperjurak/linaccore/pkg/config"
	"github.com/kacperjurak/linaccore/pkg/models"
	"github.com/kacperjurak/linaccore/pkg/profiling"
	"github.com/kacperjurak/linaccore/pkg/worker"
)

type options struct {
	configFile string
	studyFile  string
	outFile    string
	failed     config.IntFlags
	twiss      config.ArrayFlags
	method     string
	strategy   string
	k          int
	l          int
	history    string
	report     bool
	parallel   bool
	profile    bool
	jobs       int
	threads    int
	quiet      bool
}

func main() {
	opts := new(options)

	flag.StringVar(&opts.configFile, "config", "", "JSON study configuration overlaid on the defaults")
	flag.StringVar(&opts.studyFile, "f", "study.json", "Study file: the linac structure and the failed cavities")
	flag.StringVar(&opts.outFile, "o", "", "Write the JSON summary to this file instead of STDOUT")
	flag.Var(&opts.failed, "failed", "Failed cavity indexes (repeatable or comma separated)")
	flag.Var(&opts.twiss, "twiss", "Longitudinal entrance Twiss parameters: alpha, beta, eps (repeat three times)")
	flag.StringVar(&opts.method, "method", "", "Optimization method")
	flag.StringVar(&opts.strategy, "strategy", "", "Compensating cavities strategy")
	flag.IntVar(&opts.k, "k", 0, "Compensating cavities per failed cavity")
	flag.IntVar(&opts.l, "l", 0, "Lattices of the compensation zone")
	flag.StringVar(&opts.history, "history", "", "History backend: memory, csv or sqlite")
	flag.BoolVar(&opts.report, "report", false, "Save the energy, phase and convergence figures")
	flag.BoolVar(&opts.parallel, "parallel", false, "Fix the faults concurrently")
	flag.BoolVar(&opts.profile, "profile", false, "Log the time and memory spent on the study")
	flag.IntVar(&opts.jobs, "jobs", 1, "Number of how many times trigger the calculations")
	flag.IntVar(&opts.threads, "threads", 4, "Number of threads to use when jobs > 1")
	flag.BoolVar(&opts.quiet, "q", false, "Quiet mode")
	flag.Parse()

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatal(err)
	}
	study, err := loadStudy(opts.studyFile)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	processor := processing.NewStudyProcessor(cfg)
	var result models.StudyResult
	run := func() (err error) {
		result, err = processor.Process(ctx, study)
		return err
	}
	switch {
	case opts.jobs > 1:
		result, err = benchmark(ctx, processor, study, opts)
	case opts.profile:
		_, err = profiling.Profile("study "+study.Name, run)
	default:
		err = run()
	}
	if err != nil {
		log.Fatal(err)
	}

	if err := writeResult(opts.outFile, result); err != nil {
		log.Fatal(err)
	}
	if !result.Success {
		os.Exit(2)
	}
}

// loadConfig applies the flags on top of the configuration file
func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configFile != "" {
		var err error
		if cfg, err = config.Load(opts.configFile); err != nil {
			return nil, err
		}
	}
	if len(opts.failed) > 0 {
		cfg.Wtf.Failed = []int(opts.failed)
	}
	switch len(opts.twiss) {
	case 0:
	case 3:
		cfg.Beam.SigmaIn = map[string]config.Twiss{
			beam.ZDelta.String(): {Alpha: opts.twiss[0], Beta: opts.twiss[1], Eps: opts.twiss[2]},
		}
	default:
		return nil, fmt.Errorf("-twiss takes 3 values, got %d", len(opts.twiss))
	}
	if opts.method != "" {
		cfg.Optimisation.Method = opts.method
	}
	if opts.strategy != "" {
		cfg.Wtf.Strategy = opts.strategy
	}
	if opts.k > 0 {
		cfg.Wtf.K = opts.k
	}
	if opts.l > 0 {
		cfg.Wtf.L = opts.l
	}
	if opts.history != "" {
		cfg.History.Backend = opts.history
	}
	if opts.report {
		cfg.Report.Enabled = true
	}
	if opts.parallel {
		cfg.Optimisation.Parallel = true
	}
	if opts.quiet {
		cfg.Quiet = true
	}
	return cfg, cfg.Validate()
}

func loadStudy(path string) (models.Study, error) {
	var s models.Study
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("study %s: %w", path, err)
	}
	return s, nil
}

// benchmark runs the study opts.jobs times on opts.threads goroutines and
// returns the first result.
func benchmark(ctx context.Context, p *processing.StudyProcessor, s models.Study, opts *options) (models.StudyResult, error) {
	items := make([]models.WorkItem, opts.jobs)
	for i := range items {
		job := s
		job.ID = fmt.Sprintf("%s_job_%03d", s.ID, i)
		items[i] = models.WorkItem{ID: i, RequestID: job.ID, Study: job, StartTime: time.Now()}
	}

	start := time.Now()
	results := worker.Map(ctx, opts.threads, items, p.ProcessorFunc())
	total := time.Since(start)

	var sum time.Duration
	for _, r := range results {
		sum += r.ProcessingTime
	}
	log.Printf("⚡ %d jobs on %d threads: total %v, average %v", opts.jobs, opts.threads, total, sum/time.Duration(len(results)))

	first := results[0]
	if first.Result.Error != "" {
		return first.Result, fmt.Errorf("%s", first.Result.Error)
	}
	return first.Result, ctx.Err()
}

func writeResult(path string, result models.StudyResult) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
