package profiling

import (
	"log"
	"net/http"
	"runtime"
	"strconv"
	"time"
)

// Middleware logs the duration and memory of every request when profiling
// is enabled
type Middleware struct {
	enableProfiling bool
}

// NewMiddleware creates a new profiling middleware
func NewMiddleware(enableProfiling bool) *Middleware {
	return &Middleware{
		enableProfiling: enableProfiling,
	}
}

// ProfiledHandler wraps an HTTP handler with profiling capabilities
func (m *Middleware) ProfiledHandler(name string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enableProfiling {
			handler.ServeHTTP(w, r)
			return
		}

		profiler := NewRequestProfiler(name)
		// Headers must be set before the handler writes the status line
		w.Header().Set("X-Profiling-Enabled", "true")
		w.Header().Set("X-Handler-Name", name)
		w.Header().Set("X-Start-Goroutines", strconv.Itoa(runtime.NumGoroutine()))

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		handler.ServeHTTP(wrapped, r)

		metrics := profiler.Finish()
		log.Printf("⚡ %s %s %s: status %d, %.3fms, memory: %+d bytes, goroutines: %d",
			name, r.Method, r.URL.Path, wrapped.statusCode,
			ms(metrics.Duration),
			metrics.MemoryDelta, metrics.Goroutines)
	})
}

// ProfiledHandlerFunc wraps an HTTP handler function with profiling capabilities
func (m *Middleware) ProfiledHandlerFunc(name string, handlerFunc http.HandlerFunc) http.Handler {
	return m.ProfiledHandler(name, handlerFunc)
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RequestProfiler provides per-request profiling information
type RequestProfiler struct {
	StartTime   time.Time
	StartMemory uint64
	Name        string
}

// NewRequestProfiler creates a new request profiler
func NewRequestProfiler(name string) *RequestProfiler {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &RequestProfiler{
		StartTime:   time.Now(),
		StartMemory: m.Alloc,
		Name:        name,
	}
}

// Finish completes the profiling and returns metrics
func (rp *RequestProfiler) Finish() ProfileMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return ProfileMetrics{
		Name:        rp.Name,
		Duration:    time.Since(rp.StartTime),
		MemoryDelta: int64(m.Alloc) - int64(rp.StartMemory),
		FinalMemory: m.Alloc,
		Goroutines:  runtime.NumGoroutine(),
	}
}

// ProfileMetrics holds profiling metrics for a request
type ProfileMetrics struct {
	Name string
	// MemoryDelta is negative when a collection ran meanwhile.
	MemoryDelta int64
	Duration    time.Duration
	FinalMemory uint64
	Goroutines  int
}
