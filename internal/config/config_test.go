package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.DefaultConcurrencyLimit)
	assert.Equal(t, 0.5, cfg.MinBidThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.BidWindow)
	assert.Equal(t, 5*time.Second, cfg.KnowledgeRetrievalTimeout)
	assert.Equal(t, 3, cfg.MaxDecompositionDepth)
	assert.Equal(t, 10, cfg.MaxSubtasksPerDecomposition)
	assert.Equal(t, 100, cfg.MaxNodesPerGraph)
	assert.Equal(t, 5*time.Second, cfg.MemoryCommitDebounce)
	assert.Equal(t, 3, cfg.SupervisorMaxRestarts)
	assert.Equal(t, 60*time.Second, cfg.SupervisorWindow)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_concurrency_limit: 7\nmin_bid_threshold: 0.75\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.DefaultConcurrencyLimit)
	assert.Equal(t, 0.75, cfg.MinBidThreshold)
	// Untouched fields keep their defaults.
	assert.Equal(t, 3, cfg.MaxDecompositionDepth)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("ORCH_DEFAULT_CONCURRENCY_LIMIT", "9")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.DefaultConcurrencyLimit)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestRestartPolicy(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	policy := cfg.RestartPolicy()
	assert.Equal(t, 3, policy.MaxRestarts)
	assert.Equal(t, 60*time.Second, policy.Window)
}
