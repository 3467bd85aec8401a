// Command replay feeds a capture of upstream queue messages through the
// ingestion pipeline into an in-memory feature cache, then checks every
// product's incrementally maintained features against a batch recomputation.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/features"
	"stockwise-ml/internal/ingestion"
	"stockwise-ml/internal/storage/memory"
	"stockwise-ml/internal/verification"
)

func main() {
	// Parse flags
	file := flag.String("file", "", "Capture file, one {topic, payload, received_at} envelope per line (required)")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	verbose := flag.Bool("verbose", false, "Log every recorded event")

	flag.Parse()

	logger := log.New(os.Stderr, "[replay] ", log.LstdFlags)

	if *file == "" {
		logger.Fatal("--file is required")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	source, err := ingestion.NewFileSource(*file)
	if err != nil {
		logger.Fatalf("open capture: %v", err)
	}
	defer source.Close()

	events := memory.NewEventStore()
	store := features.NewStore(features.Options{
		Events: events,
		Logger: log.New(os.Stderr, "[features] ", log.LstdFlags),
	})

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Source:   source,
		Recorder: &warmingRecorder{store: store, seen: make(map[string]bool)},
		Verbose:  *verbose,
		Logger:   logger,
	})

	stats, err := runner.Run(ctx)
	if err != nil && !errors.Is(err, ingestion.ErrSourceClosed) {
		logger.Fatalf("replay failed: %v", err)
	}

	verifier := verification.NewFeatureVerifier(verification.FeatureVerifierOptions{
		Cache:  store,
		Events: events,
	})
	report, err := verifier.VerifyAll(ctx)
	if err != nil {
		logger.Fatalf("verify failed: %v", err)
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(struct {
			Stats  ingestion.Stats                  `json:"stats"`
			Report *verification.VerificationReport `json:"report"`
		}{stats, report}, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("\n=== Replay Summary ===\n")
		fmt.Printf("Messages:            %d\n", stats.Messages)
		fmt.Printf("Events Recorded:     %d\n", stats.Events)
		fmt.Printf("Messages Dropped:    %d\n", stats.Dropped)
		fmt.Printf("Products:            %d\n", report.TotalProducts)
		fmt.Printf("Matched Products:    %d\n", report.MatchedProducts)
		fmt.Printf("Divergent Products:  %d\n", report.DivergentProducts)
		for _, r := range report.Results {
			if r.Match {
				continue
			}
			fmt.Printf("\n%s (batch rows %d, cached rows %d)\n", r.ProductID, r.Rows, r.CachedRows)
			for _, d := range r.Divergences {
				fmt.Printf("  %s %s: expected %v, got %v\n", d.Date.Format("2006-01-02"), d.Field, d.Expected, d.Actual)
			}
		}
	}

	if report.DivergentProducts > 0 {
		os.Exit(1)
	}
}

// warmingRecorder warms a product's (possibly empty) cache before its first
// event, so every replayed event is applied through the incremental path.
type warmingRecorder struct {
	store *features.Store

	mu   sync.Mutex
	seen map[string]bool
}

func (r *warmingRecorder) Record(ctx context.Context, e *domain.Event) error {
	r.mu.Lock()
	first := !r.seen[e.ProductID]
	r.seen[e.ProductID] = true
	r.mu.Unlock()

	if first {
		if err := r.store.Warm(ctx, e.ProductID); err != nil {
			return err
		}
	}
	return r.store.Record(ctx, e)
}
