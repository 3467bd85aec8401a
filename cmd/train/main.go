// Command train fits models for a list of products (or all of them), persists
// them to the model store and writes TRAINING_REPORT.md and TRAINING_RESULTS.csv.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"stockwise-ml/internal/config"
	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/features"
	"stockwise-ml/internal/forecaster"
	"stockwise-ml/internal/model"
	"stockwise-ml/internal/reporting"
	"stockwise-ml/internal/storage/backend"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config file")
	products := flag.String("products", "", "Comma-separated product IDs (default: all products with events)")
	modelType := flag.String("model", "", "Model type: prophet, arima, decomposition, autoregressive, ensemble (default: config)")
	outputDir := flag.String("output-dir", "reports", "Output directory for the training report")
	flag.Parse()

	logger := log.New(os.Stdout, "[train] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *modelType != "" {
		cfg.Training.DefaultModel = *modelType
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	kind, _ := domain.ParseModelKind(cfg.Training.DefaultModel)
	target := model.Target(cfg.Training.Target)

	ctx := context.Background()

	stores, cleanup, err := backend.Open(ctx, cfg.Storage, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening storage: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ids := parseList(*products)
	if len(ids) == 0 {
		ids, err = stores.Events.ProductIDs(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing products: %v\n", err)
			os.Exit(1)
		}
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "No products to train")
		os.Exit(1)
	}

	fc := forecaster.New(forecaster.Options{
		Features: features.NewStore(features.Options{
			Events:   stores.Events,
			DaysBack: cfg.Storage.DaysBack,
			Logger:   logger,
		}),
		Trainer:     model.NewTrainer(model.TrainerOptions{Logger: logger}),
		Models:      stores.Models,
		DefaultKind: kind,
		Target:      target,
		Logger:      logger,
	})

	builder := reporting.NewBuilder(kind, target)
	for i, id := range ids {
		fitted, err := fc.Retrain(ctx, id, kind)
		if err != nil {
			logger.Printf("[%d/%d] %s: %v", i+1, len(ids), id, err)
		} else {
			logger.Printf("[%d/%d] %s: MAE=%.4f RMSE=%.4f", i+1, len(ids), id, fitted.Metrics.MAE, fitted.Metrics.RMSE)
		}
		builder.Add(id, fitted, err)
	}

	report := builder.Build()
	if err := reporting.WriteFiles(*outputDir, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Trained %d of %d products\n", report.Summary.Trained, report.Summary.Products)
	fmt.Printf("Report written to %s/%s\n", *outputDir, reporting.MarkdownFile)

	if report.Summary.Trained == 0 {
		os.Exit(1)
	}
}

func parseList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
