// Package config loads service configuration from a YAML file, a .env file
// and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"stockwise-ml/internal/domain"
)

// Storage backend names.
const (
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendClickhouse = "clickhouse"
	BackendSQLite     = "sqlite"
)

// Model store names.
const (
	ModelStoreFile     = "file"
	ModelStorePostgres = "postgres"
	ModelStoreMemory   = "memory"
)

// Ingestion source names.
const (
	SourceNone  = "none"
	SourceKafka = "kafka"
	SourceWS    = "ws"
)

// Config is the top-level configuration for the forecasting service.
type Config struct {
	Server    Server    `yaml:"server"`
	Storage   Storage   `yaml:"storage"`
	Ingestion Ingestion `yaml:"ingestion"`
	Training  Training  `yaml:"training"`
	Logging   Logging   `yaml:"logging"`
}

// Server holds network listener configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Storage selects the event and model backends.
type Storage struct {
	Backend       string `yaml:"backend"`     // memory, postgres, clickhouse, sqlite
	ModelStore    string `yaml:"model_store"` // file, postgres, memory
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	SQLitePath    string `yaml:"sqlite_path"`
	ModelDir      string `yaml:"model_dir"`
	DaysBack      int    `yaml:"days_back"`
}

// Ingestion selects the upstream message source.
type Ingestion struct {
	Source       string   `yaml:"source"` // none, kafka, ws
	KafkaBrokers []string `yaml:"kafka_brokers"`
	GroupID      string   `yaml:"group_id"`
	WSURL        string   `yaml:"ws_url"`
}

// Training controls model selection and the retraining schedule.
type Training struct {
	DefaultModel    string        `yaml:"default_model"`
	Target          string        `yaml:"target"`
	RetrainInterval time.Duration `yaml:"retrain_interval"`
	MaxModelAge     time.Duration `yaml:"max_model_age"`
	SeedProducts    []string      `yaml:"seed_products"`
	ColdStart       bool          `yaml:"cold_start"`
}

// Logging configures the application logger.
type Logging struct {
	Verbose bool `yaml:"verbose"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: Storage{
			Backend:    BackendMemory,
			ModelStore: ModelStoreFile,
			SQLitePath: "stockwise.db",
			ModelDir:   "models",
			DaysBack:   365,
		},
		Ingestion: Ingestion{
			Source:  SourceNone,
			GroupID: "ml-service-group",
		},
		Training: Training{
			DefaultModel:    string(domain.ModelKindDecomposition),
			Target:          "sales",
			RetrainInterval: time.Hour,
			MaxModelAge:     24 * time.Hour,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file. A .env file in the
// working directory is loaded first if present; it never overrides
// variables already set in the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	setString(&cfg.Server.Addr, "HTTP_ADDR")
	setString(&cfg.Storage.Backend, "STORAGE_BACKEND")
	setString(&cfg.Storage.ModelStore, "MODEL_STORE")
	setString(&cfg.Storage.PostgresDSN, "POSTGRES_DSN")
	setString(&cfg.Storage.ClickhouseDSN, "CLICKHOUSE_DSN")
	setString(&cfg.Storage.SQLitePath, "SQLITE_PATH")
	setString(&cfg.Storage.ModelDir, "MODEL_DIR")
	setString(&cfg.Ingestion.Source, "INGESTION_SOURCE")
	setString(&cfg.Ingestion.GroupID, "KAFKA_GROUP_ID")
	setString(&cfg.Ingestion.WSURL, "INGESTION_WS_URL")
	setString(&cfg.Training.DefaultModel, "DEFAULT_MODEL")
	setString(&cfg.Training.Target, "TRAINING_TARGET")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Ingestion.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("SEED_PRODUCTS"); v != "" {
		cfg.Training.SeedProducts = splitList(v)
	}

	if v := os.Getenv("DAYS_BACK"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DAYS_BACK: %w", err)
		}
		cfg.Storage.DaysBack = n
	}
	if err := setDuration(&cfg.Training.RetrainInterval, "RETRAIN_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Training.MaxModelAge, "MAX_MODEL_AGE"); err != nil {
		return err
	}
	if v := os.Getenv("VERBOSE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("VERBOSE: %w", err)
		}
		cfg.Logging.Verbose = b
	}
	return nil
}

// Validate checks backend and source choices and the settings they require.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
		}
	case BackendClickhouse:
		if c.Storage.ClickhouseDSN == "" {
			errs = append(errs, errors.New("storage.clickhouse_dsn is required for the clickhouse backend"))
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	switch c.Storage.ModelStore {
	case ModelStoreMemory:
	case ModelStoreFile:
		if c.Storage.ModelDir == "" {
			errs = append(errs, errors.New("storage.model_dir is required for the file model store"))
		}
	case ModelStorePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres model store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.model_store %q", c.Storage.ModelStore))
	}

	switch c.Ingestion.Source {
	case "", SourceNone:
	case SourceKafka:
		if len(c.Ingestion.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("ingestion.kafka_brokers is required for the kafka source"))
		}
	case SourceWS:
		if c.Ingestion.WSURL == "" {
			errs = append(errs, errors.New("ingestion.ws_url is required for the ws source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ingestion.source %q", c.Ingestion.Source))
	}

	if _, ok := domain.ParseModelKind(c.Training.DefaultModel); !ok {
		errs = append(errs, fmt.Errorf("unknown training.default_model %q", c.Training.DefaultModel))
	}
	switch c.Training.Target {
	case "sales", "purchases", "transactions":
	default:
		errs = append(errs, fmt.Errorf("unknown training.target %q", c.Training.Target))
	}
	if c.Training.RetrainInterval < 0 {
		errs = append(errs, errors.New("training.retrain_interval must not be negative"))
	}
	if c.Storage.DaysBack <= 0 {
		errs = append(errs, errors.New("storage.days_back must be positive"))
	}

	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
