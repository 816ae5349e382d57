package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(4), cfg.Store.MaxConns)
	assert.Equal(t, int32(1), cfg.Store.MinConns)
	assert.Equal(t, "raw", cfg.CDM.RawSchema)
	assert.Equal(t, "vocab", cfg.CDM.VocabularySchema)
	assert.Equal(t, "copy", cfg.CDM.WriteMode)
	assert.Equal(t, "cdm", cfg.Build.Vendor)
	assert.Equal(t, 1, cfg.Build.ChunkConcurrency)
	assert.Equal(t, int64(1000), cfg.Build.PersonsPerChunk)
	assert.Equal(t, int64(1<<20), cfg.Build.KeysPerPerson)
	assert.False(t, cfg.Build.RemapVisitIDs)
	assert.Equal(t, "postgres", cfg.Vocabulary.Source)
	assert.Equal(t, 30, cfg.Episode.GapDays)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.InDelta(t, 2.0, cfg.Retry.Multiplier, 0.001)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: runs.db
cdm:
  write_mode: upsert
build:
  workers: 6
  remap_visit_ids: true
  processing_date: "2024-01-31"
episode:
  concept_id: 433260
  marker_concepts: [4299535, 4092289]
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "runs.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "upsert", cfg.CDM.WriteMode)
	assert.Equal(t, 6, cfg.Build.Workers)
	assert.True(t, cfg.Build.RemapVisitIDs)
	assert.Equal(t, "2024-01-31", cfg.Build.ProcessingDate)
	assert.Equal(t, int64(433260), cfg.Episode.ConceptID)
	assert.Equal(t, []int64{4299535, 4092289}, cfg.Episode.MarkerConcepts)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, "vocab", cfg.CDM.VocabularySchema)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("CDM_STORE_DRIVER", "postgres")
	t.Setenv("CDM_LOG_LEVEL", "warn")
	t.Setenv("CDM_CDM_DATABASE_URL", "postgres://localhost/cdm")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "postgres://localhost/cdm", cfg.CDM.DatabaseURL)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CDM_BUILD_CHUNK_CONCURRENCY", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Build.ChunkConcurrency)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

func TestBuildConfig_WorkerCount(t *testing.T) {
	assert.Equal(t, 3, BuildConfig{Workers: 3}.WorkerCount())
	assert.GreaterOrEqual(t, BuildConfig{}.WorkerCount(), 1)
}

func TestBuildConfig_Clock(t *testing.T) {
	now, err := BuildConfig{}.Clock()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), now(), time.Minute)

	pinned, err := BuildConfig{ProcessingDate: "2024-06-15"}.Clock()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), pinned())

	_, err = BuildConfig{ProcessingDate: "15/06/2024"}.Clock()
	assert.Error(t, err)
}

// validDefaults returns a Config with the loaded defaults populated.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.CDM.DatabaseURL = "postgres://localhost/cdm"
	cfg.CDM.WriteMode = "copy"
	cfg.Build.ChunkConcurrency = 1
	cfg.Vocabulary.Source = "postgres"
	return cfg
}

func TestValidateBuild(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("build"))
	assert.Equal(t, "postgres://localhost/cdm", cfg.StoreURL())
}

func TestValidateBuild_Errors(t *testing.T) {
	cfg := validDefaults()
	cfg.CDM.DatabaseURL = ""
	cfg.CDM.WriteMode = "append"
	cfg.Vocabulary.Source = "file"
	cfg.Build.ChunkConcurrency = 0
	cfg.Build.ProcessingDate = "tomorrow"

	err := cfg.Validate("build")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cdm.database_url is required")
	assert.Contains(t, err.Error(), "cdm.write_mode must be copy or upsert")
	assert.Contains(t, err.Error(), "vocabulary.file is required")
	assert.Contains(t, err.Error(), "build.chunk_concurrency must be >= 1")
	assert.Contains(t, err.Error(), "build.processing_date")
}

func TestValidateSQLiteStoreNeedsPath(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"

	err := cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "runs.db"
	assert.NoError(t, cfg.Validate("runs"))
	assert.Equal(t, "runs.db", cfg.StoreURL())
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	err := cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
