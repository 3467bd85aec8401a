package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
storage:
  backend: postgres
  model_store: postgres
  postgres_dsn: "postgres://ml:ml@localhost:5432/ml"
  days_back: 180
ingestion:
  source: kafka
  kafka_brokers: ["kafka-1:9092", "kafka-2:9092"]
training:
  default_model: arima
  retrain_interval: 30m
  max_model_age: 12h
  seed_products: ["p1", "p2"]
  cold_start: true
logging:
  verbose: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Addr != ":9000" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":9000")
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want default 30s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Storage.Backend != "postgres" || cfg.Storage.DaysBack != 180 {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if len(cfg.Ingestion.KafkaBrokers) != 2 || cfg.Ingestion.GroupID != "ml-service-group" {
		t.Errorf("Ingestion = %+v", cfg.Ingestion)
	}
	if cfg.Training.RetrainInterval != 30*time.Minute || cfg.Training.MaxModelAge != 12*time.Hour {
		t.Errorf("Training durations = %v / %v", cfg.Training.RetrainInterval, cfg.Training.MaxModelAge)
	}
	if cfg.Training.Target != "sales" {
		t.Errorf("Training.Target = %q, want default sales", cfg.Training.Target)
	}
	if !cfg.Training.ColdStart || !cfg.Logging.Verbose {
		t.Error("expected cold_start and verbose to be set")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Storage.Backend != "memory" || cfg.Storage.ModelStore != "file" {
		t.Errorf("unexpected defaults: %+v", cfg.Storage)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: memory
training:
  retrain_interval: 1h
`)
	t.Setenv("STORAGE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/ml.db")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("SEED_PRODUCTS", "p1,p2,p3")
	t.Setenv("RETRAIN_INTERVAL", "15m")
	t.Setenv("DAYS_BACK", "90")
	t.Setenv("VERBOSE", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.Backend != "sqlite" || cfg.Storage.SQLitePath != "/tmp/ml.db" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if got := strings.Join(cfg.Ingestion.KafkaBrokers, "|"); got != "a:9092|b:9092" {
		t.Errorf("KafkaBrokers = %q", got)
	}
	if len(cfg.Training.SeedProducts) != 3 {
		t.Errorf("SeedProducts = %v", cfg.Training.SeedProducts)
	}
	if cfg.Training.RetrainInterval != 15*time.Minute {
		t.Errorf("RetrainInterval = %v, want 15m", cfg.Training.RetrainInterval)
	}
	if cfg.Storage.DaysBack != 90 || !cfg.Logging.Verbose {
		t.Errorf("DaysBack = %d, Verbose = %v", cfg.Storage.DaysBack, cfg.Logging.Verbose)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "storage: [")); err == nil {
		t.Error("expected error for invalid YAML")
	}

	t.Setenv("MAX_MODEL_AGE", "soon")
	if _, err := Load(""); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "mongo" }, "storage.backend"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }, "postgres_dsn"},
		{"clickhouse without dsn", func(c *Config) { c.Storage.Backend = "clickhouse" }, "clickhouse_dsn"},
		{"unknown model store", func(c *Config) { c.Storage.ModelStore = "s3" }, "model_store"},
		{"kafka without brokers", func(c *Config) { c.Ingestion.Source = "kafka" }, "kafka_brokers"},
		{"ws without url", func(c *Config) { c.Ingestion.Source = "ws" }, "ws_url"},
		{"unknown source", func(c *Config) { c.Ingestion.Source = "sqs" }, "ingestion.source"},
		{"unknown model", func(c *Config) { c.Training.DefaultModel = "lstm" }, "default_model"},
		{"alias model", func(c *Config) { c.Training.DefaultModel = "prophet" }, ""},
		{"unknown target", func(c *Config) { c.Training.Target = "revenue" }, "training.target"},
		{"days back", func(c *Config) { c.Storage.DaysBack = 0 }, "days_back"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}
