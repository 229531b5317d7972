package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kacperjurak/linaccore/internal/processing"
	"github.com/kacperjurak/linaccore/pkg/config"
	"github.com/kacperjurak/linaccore/pkg/server"
)

func main() {
	// Parse command line flags
	cfg, serverConfig := parseFlags()
	if err := cfg.Validate(); err != nil {
		log.Fatal("❌ Invalid configuration: ", err)
	}

	// Create study processor
	processor := processing.NewStudyProcessor(cfg)

	// Create and start server
	srv := server.New(server.Options{
		Config:       cfg,
		ServerConfig: serverConfig,
		Processor:    processor.ProcessorFunc(),
	})

	// Setup graceful shutdown
	done := setupGracefulShutdown(srv)

	// Start server
	if err := srv.Start(); err != nil {
		log.Fatal("❌ Failed to start server:", err)
	}
	<-done
}

// parseFlags parses command line flags and returns configuration
func parseFlags() (*config.Config, *config.ServerConfig) {
	serverConfig := config.DefaultServerConfig()

	configFile := flag.String("config", "", "JSON study configuration overlaid on the defaults")
	flag.StringVar(&serverConfig.Port, "port", serverConfig.Port, "HTTP port")
	flag.IntVar(&serverConfig.WorkerCount, "threads", serverConfig.WorkerCount, "Number of worker threads")
	flag.StringVar(&serverConfig.WebhookURL, "webhook", serverConfig.WebhookURL, "Webhook receiving the study results, empty to disable")
	flag.BoolVar(&serverConfig.EnableMetrics, "metrics", serverConfig.EnableMetrics, "Log memory statistics periodically")
	flag.BoolVar(&serverConfig.EnableProfiling, "profile", serverConfig.EnableProfiling, "Enable pprof profiling")
	flag.StringVar(&serverConfig.ProfilingPort, "pprof-port", serverConfig.ProfilingPort, "pprof port")
	flag.StringVar(&serverConfig.TimingFile, "timing", serverConfig.TimingFile, "CSV file receiving batch timings, empty to disable")
	quiet := flag.Bool("quiet", false, "Suppress verbose output")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			log.Fatal("❌ ", err)
		}
	}
	if *quiet {
		cfg.Quiet = true
	}
	return cfg, serverConfig
}

// setupGracefulShutdown sets up graceful shutdown handling. The returned
// channel is closed once the server is stopped.
func setupGracefulShutdown(srv *server.Server) <-chan struct{} {
	done := make(chan struct{})
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer close(done)
		<-c
		log.Println("🛑 Received shutdown signal...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()
	return done
}
