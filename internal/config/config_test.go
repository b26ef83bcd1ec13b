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

	assert.Equal(t, "rabbitmq", cfg.Broker.Kind)
	assert.Equal(t, "threadsafe", cfg.Consumer.Mode)
	assert.Equal(t, 4, cfg.Consumer.Workers)
	assert.Equal(t, 4, cfg.Broker.Prefetch)
	assert.Equal(t, time.Minute, cfg.Mapping.FailureBackoff)
	assert.Equal(t, "strict", cfg.Consumer.Handler)
	assert.Equal(t, "bleve", cfg.Index.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Mapping.RefreshInterval)
	assert.Equal(t, 5*time.Second, cfg.Visibility.ReadmeBudget)
	assert.Equal(t, 30*time.Second, cfg.Index.Timeout)
	assert.Equal(t, []string{"http://localhost:9200"}, cfg.Index.Addresses)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
broker:
  kind: memory
consumer:
  mode: sync
  handler: fast
index:
  backend: es
  addresses: [http://es1:9200, http://es2:9200]
mapping:
  refresh_interval: 5m
visibility:
  readme_budget: 2s
`), 0o644))

	t.Setenv("DIRINDEX_CONSUMER_WORKERS", "9")
	t.Setenv("DIRINDEX_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Broker.Kind)
	assert.Equal(t, "sync", cfg.Consumer.Mode)
	assert.Equal(t, "fast", cfg.Consumer.Handler)
	assert.Equal(t, 9, cfg.Consumer.Workers)
	assert.Equal(t, 1, cfg.Broker.Prefetch)
	assert.Equal(t, "elasticsearch", cfg.Index.Backend)
	assert.Equal(t, []string{"http://es1:9200", "http://es2:9200"}, cfg.Index.Addresses)
	assert.Equal(t, 5*time.Minute, cfg.Mapping.RefreshInterval)
	assert.Equal(t, 2*time.Second, cfg.Visibility.ReadmeBudget)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_PrefetchFollowsWorkers(t *testing.T) {
	t.Setenv("DIRINDEX_CONSUMER_WORKERS", "8")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Broker.Prefetch)

	t.Setenv("DIRINDEX_BROKER_PREFETCH", "2")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Broker.Prefetch)
}

func TestLoad_EnvList(t *testing.T) {
	t.Setenv("DIRINDEX_INDEX_ADDRESSES", "http://a:9200, http://b:9200")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a:9200", "http://b:9200"}, cfg.Index.Addresses)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("DIRINDEX_CONSUMER_MODE", "parallel")
	t.Setenv("DIRINDEX_CONSUMER_HANDLER", "lazy")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallel")
	assert.Contains(t, err.Error(), "lazy")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
