// Command ingest records upstream order and inventory messages into the
// configured event store without serving forecasts. Modes:
//   - live:   consume from the configured source (kafka or ws) until stopped
//   - replay: load a capture file (JSON Lines envelopes) and exit at end of file
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockwise-ml/internal/config"
	"stockwise-ml/internal/features"
	"stockwise-ml/internal/ingestion"
	"stockwise-ml/internal/observability"
	"stockwise-ml/internal/storage/backend"
)

func main() {
	// Parse flags
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config file")
	mode := flag.String("mode", "live", "Ingestion mode: live or replay")
	sourceName := flag.String("source", "", "Source for live mode: kafka or ws (overrides config)")
	file := flag.String("file", "", "Capture file for replay mode")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *sourceName != "" {
		cfg.Ingestion.Source = *sourceName
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	// Start metrics server if enabled
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to signal main goroutine completion
	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	stores, cleanup, err := backend.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to open storage: %v", err)
	}

	// Run based on mode
	var source ingestion.Source
	switch *mode {
	case "live":
		source, err = newLiveSource(cfg.Ingestion)
	case "replay":
		if *file == "" {
			err = errors.New("--file is required for replay mode")
			break
		}
		source, err = ingestion.NewFileSource(*file)
	default:
		err = fmt.Errorf("unknown mode: %s", *mode)
	}

	if err == nil {
		err = run(ctx, logger, cfg, source, stores)
		source.Close()
	}
	cleanup()

	// Signal completion to shutdown handler
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// newLiveSource builds the configured streaming source.
func newLiveSource(cfg config.Ingestion) (ingestion.Source, error) {
	switch cfg.Source {
	case config.SourceKafka:
		return ingestion.NewKafkaSource(ingestion.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.GroupID,
			Logger:  log.New(os.Stdout, "[kafka] ", log.LstdFlags|log.Lshortfile),
		})
	case config.SourceWS:
		wsCfg := ingestion.DefaultWSConfig()
		wsCfg.Logger = log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lshortfile)
		return ingestion.NewWSSource(cfg.WSURL, wsCfg), nil
	default:
		return nil, fmt.Errorf("--source kafka or ws is required for live mode (got %q)", cfg.Source)
	}
}

// run drains source into the event store. The feature cache stays cold, so
// Record only appends.
func run(ctx context.Context, logger *log.Logger, cfg *config.Config, source ingestion.Source, stores *backend.Stores) error {
	store := features.NewStore(features.Options{
		Events:   stores.Events,
		DaysBack: cfg.Storage.DaysBack,
		Logger:   logger,
	})

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Source:   source,
		Recorder: store,
		Verbose:  cfg.Logging.Verbose,
		Logger:   log.New(os.Stdout, "[ingestion] ", log.LstdFlags|log.Lshortfile),
	})

	start := time.Now()
	stats, err := runner.Run(ctx)
	logger.Printf("Ingested %d events from %d messages (%d dropped) in %v",
		stats.Events, stats.Messages, stats.Dropped, time.Since(start).Round(time.Millisecond))

	if errors.Is(err, ingestion.ErrSourceClosed) {
		return nil
	}
	return err
}
