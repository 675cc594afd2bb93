package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, cfg.Matcher.ConfidenceThreshold, 0.0001)
	assert.Equal(t, "fuzzy", cfg.Matcher.Strategy)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "0 */15 * * * *", cfg.Refresh.Cron)
	assert.Equal(t, 5*time.Minute, cfg.Prefetch.Horizon)
	assert.Equal(t, 10, cfg.Prefetch.TopK)
	assert.Equal(t, 30*time.Minute, cfg.Prefetch.HalfLife)
	assert.Equal(t, "memory", cfg.Facts.Driver)
	assert.Equal(t, ":3001", cfg.Server.Addr)
}

func TestLoadFromYAMLAndEnv(t *testing.T) {
	dir := chdirTemp(t)
	yaml := `
matcher:
  confidence_threshold: 0.8
  strategy: exact
cache:
  ttl: 10m
facts:
  driver: sqlite
  dsn: file:facts.db
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spendq.yaml"), []byte(yaml), 0o600))
	t.Setenv("SPENDQ_PREFETCH_TOP_K", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, cfg.Matcher.ConfidenceThreshold, 0.0001)
	assert.Equal(t, "exact", cfg.Matcher.Strategy)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "sqlite", cfg.Facts.Driver)
	assert.Equal(t, 3, cfg.Prefetch.TopK)
}

func TestLoadRejectsBadValues(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SPENDQ_FACTS_DRIVER", "oracle")
	_, err := Load("")
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
