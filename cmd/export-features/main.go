// Command export-features writes each product's engineered feature series to
// <output-dir>/<product_id>/features.parquet.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"stockwise-ml/internal/config"
	"stockwise-ml/internal/export"
	"stockwise-ml/internal/features"
	"stockwise-ml/internal/storage/backend"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config file")
	products := flag.String("products", "", "Comma-separated product IDs (default: all products with events)")
	outputDir := flag.String("output-dir", "features", "Output directory")
	complete := flag.Bool("complete-only", false, "Drop rows whose lag features are undefined")
	flag.Parse()

	logger := log.New(os.Stdout, "[export] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	// Models are not touched here.
	cfg.Storage.ModelStore = config.ModelStoreMemory
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	stores, cleanup, err := backend.Open(ctx, cfg.Storage, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening storage: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	var ids []string
	for _, s := range strings.Split(*products, ",") {
		if s = strings.TrimSpace(s); s != "" {
			ids = append(ids, s)
		}
	}
	if len(ids) == 0 {
		ids, err = stores.Events.ProductIDs(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing products: %v\n", err)
			os.Exit(1)
		}
	}

	fs := features.NewStore(features.Options{
		Events:   stores.Events,
		DaysBack: cfg.Storage.DaysBack,
		Logger:   logger,
	})

	written, failed := 0, 0
	for _, id := range ids {
		rows, err := fs.Snapshot(ctx, id)
		if err != nil {
			logger.Printf("%s: %v", id, err)
			failed++
			continue
		}
		if *complete {
			rows = features.DropIncomplete(rows)
		}
		path := export.Path(*outputDir, id)
		if err := export.WriteFeatures(path, rows); err != nil {
			logger.Printf("%s: %v", id, err)
			failed++
			continue
		}
		logger.Printf("%s: %d rows -> %s", id, len(rows), path)
		written++
	}

	fmt.Printf("Exported %d products (%d failed) to %s\n", written, failed, *outputDir)
	if failed > 0 {
		os.Exit(1)
	}
}
