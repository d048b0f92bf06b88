package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "persistence.db", cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []int{0, 500, 1000}, cfg.Analysis.Distances)
	assert.Equal(t, "auto", cfg.Analysis.Mode)
	assert.Equal(t, 4, cfg.Analysis.Workers)
	assert.True(t, cfg.Analysis.Geographic)
	assert.InDelta(t, 0.0005, cfg.Analysis.CellSize, 1e-12)
	assert.Equal(t, 32, cfg.Analysis.BufferSegments)
	assert.Equal(t, 600, cfg.Analysis.BackendTimeoutSecs)
	assert.Equal(t, 2, cfg.Analysis.BackendAttempts)
	assert.True(t, cfg.Filter.Enabled)
	assert.Equal(t, DefaultKeep, cfg.Filter.Keep)
	assert.Equal(t, DefaultReject, cfg.Filter.Reject)
	assert.False(t, cfg.Filter.RejectOnly)
	assert.Equal(t, "targetID", cfg.Ingest.IDField)
	assert.Equal(t, "output", cfg.Output.Dir)
	assert.True(t, cfg.Output.Manifest)
	assert.Equal(t, "oceandata.sci.gsfc.nasa.gov:21", cfg.Aux.Host)
	assert.Equal(t, "/MODISA/L2", cfg.Aux.BasePath)
	assert.Equal(t, 5, cfg.Aux.Attempts)
	assert.Equal(t, 20, cfg.Aux.BackoffSecs)
	assert.Equal(t, "persistence", cfg.Postgres.Schema)
	assert.Equal(t, "targets", cfg.Postgres.Table)
	assert.Equal(t, DefaultWeightAttributes(), cfg.Weight.Attributes)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  path: /data/runs.db
log:
  level: debug
  format: console
analysis:
  distances: [0, 250]
  mode: day
ingest:
  other_sources:
    - path: legacy.shp
      id_field: ID
      year_field: YEAR
weight:
  attributes:
    - field: Ldens
      c1: 0.2
      c2: 1
      a: 1
      b: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/runs.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []int{0, 250}, cfg.Analysis.Distances)
	assert.Equal(t, "day", cfg.Analysis.Mode)
	require.Len(t, cfg.Ingest.OtherSources, 1)
	assert.Equal(t, "YEAR", cfg.Ingest.OtherSources[0].YearField)
	require.Len(t, cfg.Weight.Attributes, 1)
	assert.Equal(t, "Ldens", cfg.Weight.Attributes[0].Field)
	assert.InDelta(t, 0.2, cfg.Weight.Attributes[0].C1, 1e-9)
	// Defaults still apply for unset values
	assert.Equal(t, 4, cfg.Analysis.Workers)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  path: file.db
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PERSIST_STORE_PATH", "env.db")
	t.Setenv("PERSIST_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "env.db", cfg.Store.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PERSIST_ANALYSIS_WORKERS", "12")
	t.Setenv("PERSIST_POSTGRES_DATABASE_URL", "postgres://localhost/gis")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Analysis.Workers)
	assert.Equal(t, "postgres://localhost/gis", cfg.Postgres.DatabaseURL)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Path = "persistence.db"
	cfg.Analysis.Distances = []int{0, 500, 1000}
	cfg.Analysis.Mode = "auto"
	cfg.Analysis.Workers = 4
	cfg.Analysis.CellSize = 0.0005
	cfg.Ingest.IDField = "targetID"
	cfg.Filter.Enabled = true
	cfg.Filter.Reject = DefaultReject
	cfg.Weight.Attributes = DefaultWeightAttributes()
	cfg.Aux.Host = "ftp.example.org:21"
	cfg.Aux.Days = 1
	cfg.Aux.Attempts = 5
	cfg.Aux.RatePerSec = 2
	cfg.Postgres.Table = "targets"
	return cfg
}

func TestValidateAnalyze_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("analyze"))
}

func TestValidateAnalyze_Problems(t *testing.T) {
	cfg := validDefaults()
	cfg.Analysis.Distances = []int{0, -5}
	cfg.Analysis.Mode = "week"
	cfg.Analysis.Workers = 0

	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis.distances must be >= 0")
	assert.Contains(t, err.Error(), "analysis.mode must be one of")
	assert.Contains(t, err.Error(), "analysis.workers must be between 1 and 64")
}

func TestValidateAnalyze_RejectOnlyNeedsReject(t *testing.T) {
	cfg := validDefaults()
	cfg.Filter.RejectOnly = true
	cfg.Filter.Reject = ""

	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "filter.reject is required")
}

func TestValidateFetchAux(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("fetch-aux"))

	cfg.Aux.Attempts = 0
	cfg.Aux.RatePerSec = 0
	err := cfg.Validate("fetch-aux")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aux.attempts must be >= 1")
	assert.Contains(t, err.Error(), "aux.rate_per_sec must be > 0")
}

func TestValidatePublish_NoDB(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("publish")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres.database_url is required")

	cfg.Postgres.DatabaseURL = "postgres://localhost/gis"
	assert.NoError(t, cfg.Validate("publish"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateStorePath(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Path = ""

	err := cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.path is required")
}
