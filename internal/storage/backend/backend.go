// Package backend opens the event and model stores selected by configuration.
package backend

import (
	"context"
	"fmt"
	"log"

	"stockwise-ml/internal/config"
	"stockwise-ml/internal/storage"
	chstore "stockwise-ml/internal/storage/clickhouse"
	"stockwise-ml/internal/storage/memory"
	"stockwise-ml/internal/storage/migrations"
	"stockwise-ml/internal/storage/modelfile"
	pgstore "stockwise-ml/internal/storage/postgres"
	"stockwise-ml/internal/storage/sqlite"
)

// Stores holds the opened storage implementations.
type Stores struct {
	Events storage.EventStore
	Models storage.ModelStore
}

// Open connects the configured backends and applies migrations.
// The returned cleanup func closes every connection that was opened.
func Open(ctx context.Context, cfg config.Storage, logger *log.Logger) (*Stores, func(), error) {
	if logger == nil {
		logger = log.Default()
	}

	var (
		closers []func()
		pool    *pgstore.Pool
		stores  = &Stores{}
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	postgresPool := func() (*pgstore.Pool, error) {
		if pool != nil {
			return pool, nil
		}
		p, err := pgstore.NewPool(ctx, cfg.PostgresDSN, pgstore.PoolOptions{})
		if err != nil {
			return nil, err
		}
		if err := migrations.RunPostgresMigrations(ctx, p); err != nil {
			p.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		closers = append(closers, p.Close)
		pool = p
		return p, nil
	}

	switch cfg.Backend {
	case config.BackendMemory, "":
		stores.Events = memory.NewEventStore()
	case config.BackendPostgres:
		p, err := postgresPool()
		if err != nil {
			return nil, nil, err
		}
		stores.Events = pgstore.NewEventStore(p)
	case config.BackendClickhouse:
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		stores.Events = chstore.NewEventStore(conn)
	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.RunSQLiteMigrations(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("sqlite migrations: %w", err)
		}
		closers = append(closers, func() { db.Close() })
		stores.Events = sqlite.NewEventStore(db)
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	switch cfg.ModelStore {
	case config.ModelStoreFile, "":
		fs, err := modelfile.New(cfg.ModelDir)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		stores.Models = fs
	case config.ModelStorePostgres:
		p, err := postgresPool()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		stores.Models = pgstore.NewModelStore(p)
	case config.ModelStoreMemory:
		stores.Models = memory.NewModelStore()
	default:
		cleanup()
		return nil, nil, fmt.Errorf("unknown model store %q", cfg.ModelStore)
	}

	logger.Printf("Storage: events=%s models=%s", orDefault(cfg.Backend, config.BackendMemory), orDefault(cfg.ModelStore, config.ModelStoreFile))
	return stores, cleanup, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
