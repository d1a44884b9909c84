package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvironments(t *testing.T) {
	for _, env := range []string{"production", "development", ""} {
		t.Run(env, func(t *testing.T) {
			log, err := New(Options{Environment: env})
			require.NoError(t, err)
			assert.NotNil(t, log)
		})
	}
}

func TestNewLevel(t *testing.T) {
	log, err := New(Options{Environment: "production", Level: "warn"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(-1))

	_, err = New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depmon.log")

	log, err := New(Options{Environment: "production", File: path})
	require.NoError(t, err)

	log.Info("breaker opened")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"breaker opened"`)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
