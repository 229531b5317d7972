package profiling

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/kacperjurak/linaccore/pkg/config"
)

// Profiler serves pprof and runtime statistics on its own port, away from
// the study endpoints
type Profiler struct {
	config *config.ServerConfig
	server *http.Server
}

// New creates a new profiler instance
func New(cfg *config.ServerConfig) *Profiler {
	return &Profiler{
		config: cfg,
	}
}

// Start starts the profiling server on a separate port
func (p *Profiler) Start() error {
	if !p.config.EnableProfiling {
		log.Println("📊 Profiling disabled")
		return nil
	}

	// Enable more detailed profiling
	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)

	p.server = &http.Server{
		Addr:    ":" + p.config.ProfilingPort,
		Handler: p.Handler(),
	}

	log.Printf("📊 Starting profiling server on port %s", p.config.ProfilingPort)
	log.Printf("📈 Profiling endpoints:")
	log.Printf("  - CPU Profile:    http://localhost:%s/debug/pprof/profile", p.config.ProfilingPort)
	log.Printf("  - Heap Profile:   http://localhost:%s/debug/pprof/heap", p.config.ProfilingPort)
	log.Printf("  - Goroutines:     http://localhost:%s/debug/pprof/goroutine", p.config.ProfilingPort)
	log.Printf("  - Block Profile:  http://localhost:%s/debug/pprof/block", p.config.ProfilingPort)
	log.Printf("  - Mutex Profile:  http://localhost:%s/debug/pprof/mutex", p.config.ProfilingPort)
	log.Printf("  - Full Index:     http://localhost:%s/debug/pprof/", p.config.ProfilingPort)
	log.Printf("  - Runtime Info:   http://localhost:%s/debug/info", p.config.ProfilingPort)
	log.Printf("  - Runtime Stats:  http://localhost:%s/debug/stats", p.config.ProfilingPort)

	// Start server in goroutine
	go func() {
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ Profiling server error: %v", err)
		}
	}()

	return nil
}

// Handler routes the pprof index and profiles, and the runtime endpoints
func (p *Profiler) Handler() http.Handler {
	mux := http.NewServeMux()
	// Index serves the named profiles (heap, goroutine, block, mutex)
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.HandleFunc("/debug/info", p.infoHandler)
	mux.HandleFunc("/debug/stats", p.statsHandler)
	return mux
}

// Stop gracefully stops the profiling server
func (p *Profiler) Stop() error {
	if p.server == nil {
		return nil
	}

	log.Println("🛑 Shutting down profiling server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("profiling server shutdown error: %w", err)
	}

	log.Println("✅ Profiling server stopped")
	return nil
}

// RuntimeInfo is the body of /debug/info
type RuntimeInfo struct {
	Timestamp  string     `json:"timestamp"`
	Goroutines int        `json:"goroutines"`
	GOMAXPROCS int        `json:"gomaxprocs"`
	NumCPU     int        `json:"num_cpu"`
	Version    string     `json:"version"`
	Memory     MemoryInfo `json:"memory"`
	GC         GCInfo     `json:"gc"`
}

type MemoryInfo struct {
	AllocMB      float64 `json:"alloc_mb"`
	TotalAllocMB float64 `json:"total_alloc_mb"`
	SysMB        float64 `json:"sys_mb"`
	HeapAllocMB  float64 `json:"heap_alloc_mb"`
	HeapSysMB    float64 `json:"heap_sys_mb"`
	HeapObjects  uint64  `json:"heap_objects"`
	StackInUseMB float64 `json:"stack_in_use_mb"`
	StackSysMB   float64 `json:"stack_sys_mb"`
}

type GCInfo struct {
	NumGC        uint32 `json:"num_gc"`
	PauseTotalNs uint64 `json:"pause_total_ns"`
	LastGC       string `json:"last_gc"`
}

// ReadRuntimeInfo samples the runtime
func ReadRuntimeInfo() RuntimeInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return RuntimeInfo{
		Timestamp:  time.Now().Format(time.RFC3339),
		Goroutines: runtime.NumGoroutine(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
		NumCPU:     runtime.NumCPU(),
		Version:    runtime.Version(),
		Memory: MemoryInfo{
			AllocMB:      bToMb(m.Alloc),
			TotalAllocMB: bToMb(m.TotalAlloc),
			SysMB:        bToMb(m.Sys),
			HeapAllocMB:  bToMb(m.HeapAlloc),
			HeapSysMB:    bToMb(m.HeapSys),
			HeapObjects:  m.HeapObjects,
			StackInUseMB: bToMb(m.StackInuse),
			StackSysMB:   bToMb(m.StackSys),
		},
		GC: GCInfo{
			NumGC:        m.NumGC,
			PauseTotalNs: m.PauseTotalNs,
			LastGC:       time.Unix(0, int64(m.LastGC)).Format(time.RFC3339),
		},
	}
}

// infoHandler provides runtime information
func (p *Profiler) infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ReadRuntimeInfo()); err != nil {
		log.Printf("debug info: %v", err)
	}
}

// statsHandler provides continuous runtime statistics
func (p *Profiler) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	// Print runtime statistics every second for 30 seconds
	for i := 0; i < 30 && r.Context().Err() == nil; i++ {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		fmt.Fprintf(w, "=== Runtime Stats [%02d] ===\n", i+1)
		fmt.Fprintf(w, "Timestamp: %s\n", time.Now().Format("15:04:05"))
		fmt.Fprintf(w, "Goroutines: %d\n", runtime.NumGoroutine())
		fmt.Fprintf(w, "Memory Allocated: %.2f MB\n", bToMb(m.Alloc))
		fmt.Fprintf(w, "Total Allocations: %.2f MB\n", bToMb(m.TotalAlloc))
		fmt.Fprintf(w, "System Memory: %.2f MB\n", bToMb(m.Sys))
		fmt.Fprintf(w, "GC Runs: %d\n", m.NumGC)
		fmt.Fprintf(w, "Heap Objects: %d\n", m.HeapObjects)
		fmt.Fprintf(w, "\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}
}

// bToMb converts bytes to megabytes
func bToMb(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
