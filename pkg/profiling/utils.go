package profiling

import (
	"log"
	"runtime"
	"sync"
	"time"
)

// Timer logs how long one outgoing operation took, such as a webhook call
type Timer struct {
	kind  string
	id    string
	start time.Time
}

// NewTimer starts timing the operation id of the given kind
func NewTimer(kind, id string) *Timer {
	return &Timer{kind: kind, id: id, start: time.Now()}
}

// Finish logs the elapsed time and returns it
func (t *Timer) Finish(success bool) time.Duration {
	d := time.Since(t.start)
	status := "✅"
	if !success {
		status = "❌"
	}
	log.Printf("🌐 %s[%s] %s: %.3fms", t.kind, t.id, status, ms(d))
	return d
}

// MemoryProfiler logs the memory in use every interval until stopped
type MemoryProfiler struct {
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
}

func NewMemoryProfiler(interval time.Duration) *MemoryProfiler {
	return &MemoryProfiler{interval: interval, stop: make(chan struct{})}
}

func (mp *MemoryProfiler) Start() {
	go func() {
		ticker := time.NewTicker(mp.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				info := ReadRuntimeInfo()
				log.Printf("📊 Memory: Alloc=%.2fMB, TotalAlloc=%.2fMB, Sys=%.2fMB, GC=%d, Goroutines=%d",
					info.Memory.AllocMB, info.Memory.TotalAllocMB, info.Memory.SysMB, info.GC.NumGC, info.Goroutines)
			case <-mp.stop:
				return
			}
		}
	}()
}

// Stop may be called more than once.
func (mp *MemoryProfiler) Stop() {
	mp.once.Do(func() { close(mp.stop) })
}

// Profile runs fn and logs its duration and memory footprint
func Profile(name string, fn func() error) (ProfileMetrics, error) {
	profiler := NewRequestProfiler(name)
	err := fn()
	metrics := profiler.Finish()

	log.Printf("⚡ %s: %.3fms, memory: %+d bytes, goroutines: %d, error: %v",
		metrics.Name, ms(metrics.Duration), metrics.MemoryDelta, metrics.Goroutines, err)
	return metrics, err
}

// GCStats is the body of /debug/gc
type GCStats struct {
	NumGC         uint32  `json:"gc_runs"`
	PauseTotalMs  float64 `json:"pause_total_ms"`
	PauseRecentUs float64 `json:"pause_recent_us"`
	CPUPercent    float64 `json:"cpu_percent"`
	LastGC        string  `json:"last_gc"`
	Timestamp     string  `json:"timestamp"`
}

// ReadGCStats samples the garbage collector
func ReadGCStats() GCStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var recent time.Duration
	if m.NumGC > 0 {
		recent = time.Duration(m.PauseNs[(m.NumGC+255)%256])
	}
	return GCStats{
		NumGC:         m.NumGC,
		PauseTotalMs:  ms(time.Duration(m.PauseTotalNs)),
		PauseRecentUs: float64(recent.Nanoseconds()) / 1000.0,
		CPUPercent:    m.GCCPUFraction * 100,
		LastGC:        time.Unix(0, int64(m.LastGC)).Format(time.RFC3339),
		Timestamp:     time.Now().Format(time.RFC3339),
	}
}

func LogGCStats() {
	s := ReadGCStats()
	log.Printf("🗑️  GC: Runs=%d, TotalPause=%.2fms, RecentPause=%.2fμs, CPU=%.2f%%, LastGC=%s",
		s.NumGC, s.PauseTotalMs, s.PauseRecentUs, s.CPUPercent, s.LastGC)
}

// CollectGarbage forces a collection and returns the statistics after it
func CollectGarbage() GCStats {
	before := ReadGCStats().NumGC
	runtime.GC()
	after := ReadGCStats()
	log.Printf("🗑️  Forced GC: %d→%d runs, pause: %.2fμs", before, after.NumGC, after.PauseRecentUs)
	return after
}

func ms(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1000000.0
}
