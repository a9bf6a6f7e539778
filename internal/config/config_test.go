package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 60*time.Second, cfg.Cache.SweepInterval)
	assert.Equal(t, 15*time.Minute, cfg.Cache.MinCacheableSpan)
	assert.Equal(t, 60*time.Second, cfg.Cache.ShortTTL)
	assert.Equal(t, 300*time.Second, cfg.Cache.MediumTTL)
	assert.Equal(t, 600*time.Second, cfg.Cache.LongTTL)

	assert.Equal(t, 2.5, cfg.Anomaly.FlagThreshold)
	assert.Equal(t, 2.8, cfg.Anomaly.MediumThreshold)
	assert.Equal(t, 3.5, cfg.Anomaly.HighThreshold)
	assert.Equal(t, 30, cfg.Anomaly.MinSamples)
	assert.Equal(t, 100, cfg.Anomaly.MaxResults)

	assert.Equal(t, 4*time.Hour, cfg.Optimizer.RollupMinSpan)
	assert.Equal(t, 30*24*time.Hour, cfg.Health.Window)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "analytics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
cache:
  sweepInterval: 30s
anomaly:
  minSamples: 50
`), 0o644))

	t.Setenv("MIRADOR_ANALYTICS_LOG_FORMAT", "json")
	t.Setenv("PGDATABASE", "metrics")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, 30*time.Second, cfg.Cache.SweepInterval)
	assert.Equal(t, 50, cfg.Anomaly.MinSamples)
	assert.Equal(t, 2.5, cfg.Anomaly.FlagThreshold, "unset keys keep defaults")
	assert.Equal(t, "metrics", cfg.Store.Database)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := Default()
	cfg.Anomaly.MediumThreshold = 2.0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Cache.SweepInterval = 0
	assert.Error(t, cfg.Validate())
}
