package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "redis", cfg.CacheBackend)
	assert.Equal(t, "us-east-1", cfg.AWSRegion)
	assert.Equal(t, "http://localhost:5173", cfg.CORSAllowOrigin)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, 60*time.Second, cfg.CascadeInterval)
	assert.Equal(t, 15*time.Second, cfg.ExecutionInterval)
	assert.Equal(t, 120*time.Second, cfg.HealthWaitTimeout)
	assert.Equal(t, []string{"postgres", "redis", "api"}, cfg.CriticalServices)
	assert.True(t, cfg.AutoRollback)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("AWS_DEFAULT_REGION", "ap-northeast-2")
	t.Setenv("CACHE_BACKEND", "badger")
	t.Setenv("HEALTH_CHECK_INTERVAL", "5s")
	t.Setenv("CRITICAL_SERVICES", "postgres, redis ,api,qdrant")
	t.Setenv("AUTO_ROLLBACK", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "ap-northeast-2", cfg.AWSRegion)
	assert.Equal(t, "badger", cfg.CacheBackend)
	assert.Equal(t, 5*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, []string{"postgres", "redis", "api", "qdrant"}, cfg.CriticalServices)
	assert.False(t, cfg.AutoRollback)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_port: "7070"
config_files:
  - /etc/app/docker-compose.yml
snapshot_interval: 10m
`), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.ServerPort)
	assert.Equal(t, []string{"/etc/app/docker-compose.yml"}, cfg.ConfigFiles)
	assert.Equal(t, 10*time.Minute, cfg.SnapshotInterval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"zero interval", "HEALTH_CHECK_INTERVAL", "0s"},
		{"bad backend", "CACHE_BACKEND", "memcached"},
		{"blast radius too large", "MAX_MANUAL_BLAST_RADIUS", "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList("a,,b, "))
	assert.Nil(t, splitList(""))
}
