// Package worker runs jobs on a fixed set of goroutines.
package worker

import (
	"context"
	"log"
	"sync"
	"time"
)

// ProcessorFunc handles one job.
type ProcessorFunc[J, R any] func(ctx context.Context, job J) R

// Pool manages concurrent workers
type Pool[J, R any] struct {
	jobs      chan J
	results   chan R
	workers   int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	processor ProcessorFunc[J, R]
	quiet     bool
	once      sync.Once
}

// Options holds configuration for creating a new worker pool
type Options[J, R any] struct {
	Workers   int
	Processor ProcessorFunc[J, R]
	// Context is handed to every job; cancelling it stops the workers.
	Context context.Context
	Quiet   bool
}

// New creates a new worker pool with specified configuration
func New[J, R any](opts Options[J, R]) *Pool[J, R] {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	ctx, cancel := context.WithCancel(opts.Context)

	// do not block queueing new jobs and results even if the workers are busy
	pool := &Pool[J, R]{
		jobs:      make(chan J, opts.Workers*2),
		results:   make(chan R, opts.Workers*2),
		workers:   opts.Workers,
		ctx:       ctx,
		cancel:    cancel,
		processor: opts.Processor,
		quiet:     opts.Quiet,
	}

	pool.start()
	return pool
}

// start initializes and starts all workers
func (p *Pool[J, R]) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	if !p.quiet {
		log.Printf("🔧 Worker pool started with %d workers", p.workers)
	}
}

func (p *Pool[J, R]) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			start := time.Now()
			result := p.processor(p.ctx, job)
			if !p.quiet {
				log.Printf("worker %d: job done in %v", id, time.Since(start))
			}
			select {
			case p.results <- result:
			case <-p.ctx.Done():
				return
			}

		case <-p.ctx.Done():
			return
		}
	}
}

// SubmitJob submits a job to the worker pool. It blocks while the queue is
// full and returns false once the pool is shut down.
func (p *Pool[J, R]) SubmitJob(job J) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	case <-p.ctx.Done():
		return false
	default:
	}
	if !p.quiet {
		log.Printf("⚠️  Worker pool jobs channel full, job may be delayed")
	}
	select {
	case p.jobs <- job:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// GetResult retrieves a result from the worker pool (non-blocking)
func (p *Pool[J, R]) GetResult() (R, bool) {
	select {
	case result := <-p.results:
		return result, true
	default:
		var zero R
		return zero, false
	}
}

// Results is the channel the results are delivered on.
func (p *Pool[J, R]) Results() <-chan R { return p.results }

// Shutdown stops the workers. Jobs still queued are dropped.
func (p *Pool[J, R]) Shutdown() {
	p.once.Do(func() {
		if !p.quiet {
			log.Printf("🛑 Shutting down worker pool...")
		}
		p.cancel()
		p.wg.Wait()
		if !p.quiet {
			log.Printf("✅ Worker pool shutdown complete")
		}
	})
}

type indexed[J any] struct {
	i   int
	job J
}

type indexedResult[R any] struct {
	i   int
	res R
}

// Map runs fn on every job with at most workers goroutines and returns the
// results in job order.
func Map[J, R any](ctx context.Context, workers int, jobs []J, fn ProcessorFunc[J, R]) []R {
	out := make([]R, len(jobs))
	if len(jobs) == 0 {
		return out
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}
	pool := New(Options[indexed[J], indexedResult[R]]{
		Workers: workers,
		Context: ctx,
		Quiet:   true,
		Processor: func(ctx context.Context, j indexed[J]) indexedResult[R] {
			return indexedResult[R]{i: j.i, res: fn(ctx, j.job)}
		},
	})
	defer pool.Shutdown()

	go func() {
		for i, job := range jobs {
			if !pool.SubmitJob(indexed[J]{i: i, job: job}) {
				return
			}
		}
	}()
	for n := 0; n < len(jobs); n++ {
		select {
		case r := <-pool.Results():
			out[r.i] = r.res
		case <-pool.ctx.Done():
			return out
		}
	}
	return out
}
