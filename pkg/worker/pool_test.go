package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMapKeepsOrder(t *testing.T) {
	jobs := make([]int, 50)
	for i := range jobs {
		jobs[i] = i
	}
	var calls atomic.Int32
	out := Map(context.Background(), 4, jobs, func(_ context.Context, j int) int {
		calls.Add(1)
		time.Sleep(time.Duration(j%3) * time.Millisecond)
		return j * j
	})
	if int(calls.Load()) != len(jobs) {
		t.Fatalf("processor called %d times, want %d", calls.Load(), len(jobs))
	}
	for i, v := range out {
		if v != i*i {
			t.Fatalf("out[%d] = %d, want %d", i, v, i*i)
		}
	}
}

func TestMapEmpty(t *testing.T) {
	out := Map(context.Background(), 3, nil, func(_ context.Context, j int) int { return j })
	if len(out) != 0 {
		t.Fatalf("got %v", out)
	}
}

func TestPoolSubmitAndShutdown(t *testing.T) {
	p := New(Options[string, int]{
		Workers:   2,
		Quiet:     true,
		Processor: func(_ context.Context, s string) int { return len(s) },
	})
	if !p.SubmitJob("linac") {
		t.Fatalf("submit refused on a running pool")
	}
	select {
	case r := <-p.Results():
		if r != 5 {
			t.Fatalf("result = %d, want 5", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no result")
	}
	if _, ok := p.GetResult(); ok {
		t.Fatalf("unexpected extra result")
	}
	p.Shutdown()
	p.Shutdown()
	if p.SubmitJob("late") {
		t.Fatalf("submit accepted after shutdown")
	}
}
