package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesConfigurationReference(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1024, cfg.Store.CompressionThresholdBytes)
	assert.Equal(t, 0.7, cfg.Placement.TargetUtilization)
	assert.Equal(t, 100.0, cfg.Placement.IdealScore)
	assert.Equal(t, 64, cfg.Reconciler.PriorityQuota)
}

func TestLoadOverridesFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "teeplane.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  compression_threshold_bytes: 2048
  integrity_check: true
placement:
  ideal_score: 80
  node_cache_refresh_interval: 5s
reconciler:
  max_retries: 10
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2048, cfg.Store.CompressionThresholdBytes)
	assert.True(t, cfg.Store.IntegrityCheck)
	assert.Equal(t, 80.0, cfg.Placement.IdealScore)
	assert.Equal(t, "5s", cfg.Placement.NodeCacheRefreshInterval.AsDuration().String())
	assert.Equal(t, 10, cfg.Reconciler.MaxRetries)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, 4096, cfg.Store.ChangeRingCapacity)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEnvOverrideWinsOverFileAndDefault(t *testing.T) {
	t.Setenv("TEEPLANE_STORE_COMPRESSION_THRESHOLD_BYTES", "777")

	path := filepath.Join(t.TempDir(), "teeplane.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  compression_threshold_bytes: 2048\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 777, cfg.Store.CompressionThresholdBytes)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 777, cfg.Store.CompressionThresholdBytes)
}

func TestConversionsProduceWiredComponentConfigs(t *testing.T) {
	cfg := Default()

	storeCfg := cfg.ToStoreConfig()
	assert.Equal(t, cfg.Store.CompressionThresholdBytes, storeCfg.CompressionThresholdBytes)

	placementCfg := cfg.ToPlacementConfig()
	assert.Equal(t, cfg.Placement.IdealScore, placementCfg.IdealScore)

	reconcilerCfg := cfg.ToReconcilerConfig()
	assert.Equal(t, cfg.Reconciler.WorkerThreads, reconcilerCfg.Workers)
}
