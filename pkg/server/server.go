package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/kacperjurak/linaccore/pkg/config"
	"github.com/kacperjurak/linaccore/pkg/handlers"
	"github.com/kacperjurak/linaccore/pkg/models"
	"github.com/kacperjurak/linaccore/pkg/profiling"
	"github.com/kacperjurak/linaccore/pkg/webhook"
	"github.com/kacperjurak/linaccore/pkg/worker"
)

// Server represents the HTTP server with all dependencies
type Server struct {
	config         *config.Config
	serverConfig   *config.ServerConfig
	workerPool     *worker.Pool[models.WorkItem, models.WorkResult]
	webhookClient  *webhook.Client
	httpServer     *http.Server
	profiler       *profiling.Profiler
	memoryProfiler *profiling.MemoryProfiler
	middleware     *profiling.Middleware
	batchHandler   *handlers.BatchHandler

	ctx        context.Context
	cancel     context.CancelFunc
	dispatched chan struct{}
}

// Options holds configuration for creating a new server
type Options struct {
	Config       *config.Config
	ServerConfig *config.ServerConfig
	Processor    handlers.ProcessorFunc
}

// New creates a new server instance
func New(opts Options) *Server {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.ServerConfig == nil {
		opts.ServerConfig = config.DefaultServerConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	workerPool := worker.New(worker.Options[models.WorkItem, models.WorkResult]{
		Workers:   opts.ServerConfig.WorkerCount,
		Processor: opts.Processor,
		Context:   ctx,
		Quiet:     opts.Config.Quiet,
	})

	server := &Server{
		config:        opts.Config,
		serverConfig:  opts.ServerConfig,
		workerPool:    workerPool,
		webhookClient: webhook.NewClient(opts.ServerConfig.WebhookURL, opts.Config),
		profiler:      profiling.New(opts.ServerConfig),
		middleware:    profiling.NewMiddleware(opts.ServerConfig.EnableProfiling),
		ctx:           ctx,
		cancel:        cancel,
		dispatched:    make(chan struct{}),
	}
	if opts.ServerConfig.EnableMetrics {
		server.memoryProfiler = profiling.NewMemoryProfiler(time.Minute)
	}
	server.batchHandler = handlers.NewBatchHandler(opts.Config, handlers.BatchOptions{
		Context:    ctx,
		Workers:    opts.ServerConfig.WorkerCount,
		Process:    opts.Processor,
		Notify:     server.notify,
		TimingFile: opts.ServerConfig.TimingFile,
	})

	server.setupRoutes()
	go server.dispatch()
	return server
}

// setupRoutes configures HTTP routes and handlers
func (s *Server) setupRoutes() {
	mux := http.NewServeMux()

	studyHandler := handlers.NewStudyHandler(s.config, s.workerPool)

	// Register routes with profiling middleware
	mux.Handle("/studies", s.middleware.ProfiledHandler("study-single", studyHandler))
	mux.Handle("/studies/batch", s.middleware.ProfiledHandler("study-batch", s.batchHandler))
	mux.Handle("/health", s.middleware.ProfiledHandlerFunc("health", s.healthHandler))
	mux.HandleFunc("/debug/gc", s.gcHandler)
	mux.HandleFunc("/debug/memory", s.memoryHandler)

	s.httpServer = &http.Server{
		Addr:         ":" + s.serverConfig.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// dispatch sends the webhook of every study finished by the pool
func (s *Server) dispatch() {
	defer close(s.dispatched)
	for {
		select {
		case result := <-s.workerPool.Results():
			s.notify(result)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) notify(result models.WorkResult) {
	if s.serverConfig.WebhookURL == "" {
		return
	}
	item := models.WebhookItem{
		RequestID: result.RequestID,
		BatchID:   result.BatchID,
		Result:    result.Result,
	}
	timer := profiling.NewTimer("Webhook", result.RequestID)
	err := s.webhookClient.SendContext(s.ctx, item)
	if err != nil {
		log.Printf("❌ Webhook error for %s: %v", result.RequestID, err)
	}
	if !s.config.Quiet {
		timer.Finish(err == nil)
	}
}

// healthHandler provides a simple health check endpoint
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// gcHandler triggers garbage collection and returns stats
func (s *Server) gcHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(profiling.CollectGarbage())
}

// memoryHandler provides current memory statistics
func (s *Server) memoryHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	profiling.LogGCStats()

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(profiling.ReadRuntimeInfo().Memory)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if err := s.profiler.Start(); err != nil {
		log.Printf("❌ Failed to start profiler: %v", err)
	}
	if s.memoryProfiler != nil {
		s.memoryProfiler.Start()
	}

	log.Println("🚀 Starting HTTP server on port", s.serverConfig.Port)
	log.Println("📡 Endpoints available:")
	log.Printf("  - Single: http://localhost:%s/studies", s.serverConfig.Port)
	log.Printf("  - Batch:  http://localhost:%s/studies/batch", s.serverConfig.Port)
	log.Printf("  - Health: http://localhost:%s/health", s.serverConfig.Port)
	log.Printf("  - GC:     http://localhost:%s/debug/gc", s.serverConfig.Port)
	log.Printf("  - Memory: http://localhost:%s/debug/memory", s.serverConfig.Port)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then cancels the running studies
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down server...")

	err := s.httpServer.Shutdown(ctx)

	if perr := s.profiler.Stop(); perr != nil {
		log.Printf("⚠️ Profiler shutdown error: %v", perr)
	}
	if s.memoryProfiler != nil {
		s.memoryProfiler.Stop()
	}

	s.cancel()
	s.workerPool.Shutdown()
	s.batchHandler.Wait()
	<-s.dispatched

	log.Println("✅ Server shutdown complete")
	return err
}
