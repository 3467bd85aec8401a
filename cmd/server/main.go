// Package main runs the forecasting service:
// - Ingestion (continuous): order and inventory events from Kafka or a WebSocket feed
// - Retraining (scheduled): stale models are refit on a fixed interval
// - HTTP API: forecasts, training, features, model status and metrics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"stockwise-ml/internal/api"
	"stockwise-ml/internal/config"
	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/features"
	"stockwise-ml/internal/forecaster"
	"stockwise-ml/internal/ingestion"
	"stockwise-ml/internal/model"
	"stockwise-ml/internal/storage"
	"stockwise-ml/internal/storage/backend"
)

// Server holds all components of the service.
type Server struct {
	cfg *config.Config

	events     storage.EventStore
	features   *features.Store
	forecaster *forecaster.Forecaster
	http       *api.Server
	logger     *log.Logger

	mu             sync.Mutex
	retrainRunning bool
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	stores, cleanup, err := backend.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to open storage: %v", err)
	}
	defer cleanup()

	server := newServer(cfg, stores, logger)

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	// Channel to signal completion
	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(shutdownTimeout):
			logger.Printf("Graceful shutdown timed out after %v, forcing exit", shutdownTimeout)
			os.Exit(1)
		case <-done:
		}
	}()

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

func newServer(cfg *config.Config, stores *backend.Stores, logger *log.Logger) *Server {
	fs := features.NewStore(features.Options{
		Events:   stores.Events,
		DaysBack: cfg.Storage.DaysBack,
		Logger:   log.New(os.Stdout, "[features] ", log.LstdFlags|log.Lshortfile),
	})

	defaultKind, _ := domain.ParseModelKind(cfg.Training.DefaultModel)
	fc := forecaster.New(forecaster.Options{
		Features:    fs,
		Trainer:     model.NewTrainer(model.TrainerOptions{Logger: log.New(os.Stdout, "[trainer] ", log.LstdFlags|log.Lshortfile)}),
		Models:      stores.Models,
		DefaultKind: defaultKind,
		Target:      model.Target(cfg.Training.Target),
		MaxModelAge: cfg.Training.MaxModelAge,
		Logger:      log.New(os.Stdout, "[forecaster] ", log.LstdFlags|log.Lshortfile),
	})

	return &Server{
		cfg:        cfg,
		events:     stores.Events,
		features:   fs,
		forecaster: fc,
		http: api.New(api.Options{
			Forecaster: fc,
			Features:   fs,
			Logger:     log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lshortfile),
		}),
		logger: logger,
	}
}

// Run starts every component and blocks until ctx is cancelled or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Println("Starting forecasting service...")

	errCh := make(chan error, 3)

	go func() {
		if err := s.http.Start(s.cfg.Server.Addr); err != nil {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	s.coldStart(ctx)

	if s.cfg.Ingestion.Source != "" && s.cfg.Ingestion.Source != config.SourceNone {
		go func() {
			err := s.runIngestion(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("ingestion: %w", err)
			}
		}()
	}

	if s.cfg.Training.RetrainInterval > 0 {
		go func() {
			err := s.runRetrainScheduler(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("retrain scheduler: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Printf("HTTP shutdown: %v", err)
	}
	return runErr
}

// coldStart trains the seed products, or every known product when cold_start is set.
func (s *Server) coldStart(ctx context.Context) {
	ids := s.cfg.Training.SeedProducts
	if s.cfg.Training.ColdStart {
		all, err := s.events.ProductIDs(ctx)
		if err != nil {
			s.logger.Printf("Cold start: list products: %v", err)
			return
		}
		ids = all
	}
	if len(ids) == 0 {
		return
	}
	s.forecaster.ColdStart(ctx, ids, "")
}

// newSource builds the configured message source.
func (s *Server) newSource() (ingestion.Source, error) {
	switch s.cfg.Ingestion.Source {
	case config.SourceKafka:
		return ingestion.NewKafkaSource(ingestion.KafkaConfig{
			Brokers: s.cfg.Ingestion.KafkaBrokers,
			GroupID: s.cfg.Ingestion.GroupID,
			Logger:  log.New(os.Stdout, "[kafka] ", log.LstdFlags|log.Lshortfile),
		})
	case config.SourceWS:
		wsCfg := ingestion.DefaultWSConfig()
		wsCfg.Logger = log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lshortfile)
		return ingestion.NewWSSource(s.cfg.Ingestion.WSURL, wsCfg), nil
	default:
		return nil, fmt.Errorf("unknown ingestion source %q", s.cfg.Ingestion.Source)
	}
}

// runIngestion drains the source into the feature store until ctx is cancelled.
func (s *Server) runIngestion(ctx context.Context) error {
	s.logger.Printf("Starting ingestion from %s...", s.cfg.Ingestion.Source)

	source, err := s.newSource()
	if err != nil {
		return err
	}
	defer source.Close()

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Source:   source,
		Recorder: s.features,
		Stale:    s.forecaster,
		Verbose:  s.cfg.Logging.Verbose,
		Logger:   log.New(os.Stdout, "[ingestion] ", log.LstdFlags|log.Lshortfile),
	})

	stats, err := runner.Run(ctx)
	s.logger.Printf("Ingestion stopped: messages=%d events=%d dropped=%d", stats.Messages, stats.Events, stats.Dropped)
	return err
}

// runRetrainScheduler retrains stale models on schedule.
func (s *Server) runRetrainScheduler(ctx context.Context) error {
	s.logger.Printf("Starting retrain scheduler (interval: %v)...", s.cfg.Training.RetrainInterval)

	ticker := time.NewTicker(s.cfg.Training.RetrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.retrainStale(ctx)
		}
	}
}

func (s *Server) retrainStale(ctx context.Context) {
	s.mu.Lock()
	if s.retrainRunning {
		s.mu.Unlock()
		s.logger.Println("Retrain already running, skipping...")
		return
	}
	s.retrainRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.retrainRunning = false
		s.mu.Unlock()
	}()

	start := time.Now()
	n, err := s.forecaster.RetrainStale(ctx)
	if err != nil {
		s.logger.Printf("Retrain run finished with errors: %v", err)
	}
	if n > 0 || s.cfg.Logging.Verbose {
		s.logger.Printf("Retrained %d stale models in %v", n, time.Since(start).Round(time.Millisecond))
	}
}
