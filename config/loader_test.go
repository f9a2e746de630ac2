package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoaderDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.Equal(t, 100, cfg.Stream.ChannelCapacity)
	require.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoaderYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gagent.yaml")
	content := []byte("stream:\n  channel_capacity: 512\nstore:\n  backend: redis\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	require.Equal(t, 512, cfg.Stream.ChannelCapacity)
	require.Equal(t, "redis", cfg.Store.Backend)
}

func TestLoaderEnvOverride(t *testing.T) {
	t.Setenv("GAGENT_STREAM_CHANNEL_CAPACITY", "256")
	t.Setenv("GAGENT_DEDUP_EVENT_EXPIRATION", "1m")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.Equal(t, 256, cfg.Stream.ChannelCapacity)
	require.Equal(t, time.Minute, cfg.Dedup.EventExpiration)
}

func TestLoaderValidatorFailsOnBadBackend(t *testing.T) {
	t.Setenv("GAGENT_STORE_BACKEND", "postgres-for-fun")
	_, err := NewLoader().Load()
	require.Error(t, err)
}

func TestLoaderCustomValidator(t *testing.T) {
	called := false
	_, err := NewLoader().WithValidator(func(cfg *RuntimeConfig) error {
		called = true
		return nil
	}).Load()
	require.NoError(t, err)
	require.True(t, called)
}
