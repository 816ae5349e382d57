// Package config loads cdm-builder settings from config.yaml and CDM_* env vars.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	CDM        CDMConfig        `yaml:"cdm" mapstructure:"cdm"`
	Build      BuildConfig      `yaml:"build" mapstructure:"build"`
	Vocabulary VocabularyConfig `yaml:"vocabulary" mapstructure:"vocabulary"`
	Episode    EpisodeConfig    `yaml:"episode" mapstructure:"episode"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run log backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CDMConfig points at the database holding the raw input, the vocabulary
// and the CDM output schema.
type CDMConfig struct {
	DatabaseURL      string `yaml:"database_url" mapstructure:"database_url"`
	RawSchema        string `yaml:"raw_schema" mapstructure:"raw_schema"`
	VocabularySchema string `yaml:"vocabulary_schema" mapstructure:"vocabulary_schema"`
	WriteMode        string `yaml:"write_mode" mapstructure:"write_mode"`
}

// BuildConfig configures chunk builds.
type BuildConfig struct {
	Vendor           string `yaml:"vendor" mapstructure:"vendor"`
	Workers          int    `yaml:"workers" mapstructure:"workers"`
	ChunkConcurrency int    `yaml:"chunk_concurrency" mapstructure:"chunk_concurrency"`
	PersonsPerChunk  int64  `yaml:"persons_per_chunk" mapstructure:"persons_per_chunk"`
	KeysPerPerson    int64  `yaml:"keys_per_person" mapstructure:"keys_per_person"`
	RemapVisitIDs    bool   `yaml:"remap_visit_ids" mapstructure:"remap_visit_ids"`
	ProcessingDate   string `yaml:"processing_date" mapstructure:"processing_date"`
}

// VocabularyConfig selects where the vocabulary is loaded from.
type VocabularyConfig struct {
	Source string `yaml:"source" mapstructure:"source"`
	File   string `yaml:"file" mapstructure:"file"`
}

// EpisodeConfig configures the derived episode generator. No marker concepts
// disables it.
type EpisodeConfig struct {
	ConceptID      int64   `yaml:"concept_id" mapstructure:"concept_id"`
	TypeConceptID  int64   `yaml:"type_concept_id" mapstructure:"type_concept_id"`
	MarkerConcepts []int64 `yaml:"marker_concepts" mapstructure:"marker_concepts"`
	GapDays        int     `yaml:"gap_days" mapstructure:"gap_days"`
}

// RetryConfig configures retries of chunk loads and saves.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// WorkerCount returns the per-chunk build parallelism. Non-positive values
// leave one CPU free for I/O.
func (b BuildConfig) WorkerCount() int {
	if b.Workers > 0 {
		return b.Workers
	}
	return max(runtime.NumCPU()-1, 1)
}

// Clock returns the processing clock. A configured processing_date pins it
// to that day; otherwise the wall clock is used.
func (b BuildConfig) Clock() (func() time.Time, error) {
	if b.ProcessingDate == "" {
		return time.Now, nil
	}
	d, err := time.Parse(time.DateOnly, b.ProcessingDate)
	if err != nil {
		return nil, eris.Wrapf(err, "config: parse build.processing_date %q", b.ProcessingDate)
	}
	return func() time.Time { return d }, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "build", "migrate" and "runs".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" && !(c.Store.Driver == "postgres" && c.CDM.DatabaseURL != "") {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "runs":
	case "migrate":
		if c.CDM.DatabaseURL == "" {
			errs = append(errs, "cdm.database_url is required")
		}
	case "build":
		if c.CDM.DatabaseURL == "" {
			errs = append(errs, "cdm.database_url is required")
		}
		switch c.CDM.WriteMode {
		case "copy", "upsert":
		default:
			errs = append(errs, fmt.Sprintf("cdm.write_mode must be copy or upsert, got %q", c.CDM.WriteMode))
		}
		switch c.Vocabulary.Source {
		case "postgres":
		case "file":
			if c.Vocabulary.File == "" {
				errs = append(errs, "vocabulary.file is required when vocabulary.source is file")
			}
		default:
			errs = append(errs, fmt.Sprintf("vocabulary.source must be postgres or file, got %q", c.Vocabulary.Source))
		}
		if c.Build.ChunkConcurrency < 1 {
			errs = append(errs, "build.chunk_concurrency must be >= 1")
		}
		if c.Episode.GapDays < 0 {
			errs = append(errs, "episode.gap_days must be >= 0")
		}
		if _, err := c.Build.Clock(); err != nil {
			errs = append(errs, "build.processing_date must be YYYY-MM-DD")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// StoreURL returns the run store connection string. A Postgres store falls
// back to the CDM database.
func (c *Config) StoreURL() string {
	if c.Store.DatabaseURL == "" && c.Store.Driver == "postgres" {
		return c.CDM.DatabaseURL
	}
	return c.Store.DatabaseURL
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CDM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("cdm.database_url", "")
	v.SetDefault("cdm.raw_schema", "raw")
	v.SetDefault("cdm.vocabulary_schema", "vocab")
	v.SetDefault("cdm.write_mode", "copy")
	v.SetDefault("build.vendor", "cdm")
	v.SetDefault("build.workers", 0)
	v.SetDefault("build.chunk_concurrency", 1)
	v.SetDefault("build.persons_per_chunk", 1000)
	v.SetDefault("build.keys_per_person", 1<<20)
	v.SetDefault("build.remap_visit_ids", false)
	v.SetDefault("build.processing_date", "")
	v.SetDefault("vocabulary.source", "postgres")
	v.SetDefault("vocabulary.file", "")
	v.SetDefault("episode.concept_id", 0)
	v.SetDefault("episode.type_concept_id", 32817)
	v.SetDefault("episode.gap_days", 30)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 60000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
