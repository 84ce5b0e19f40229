package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "siteguard.yaml")
	cfg := DefaultConfig()
	require.NoError(t, cfg.Save(path))

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { reloaded <- c })
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	cfg.Detector.SimilarityThreshold = 0.42
	require.NoError(t, cfg.Save(path))

	select {
	case got := <-reloaded:
		require.Equal(t, 0.42, got.Detector.SimilarityThreshold)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcherFailsOnMissingDirectory(t *testing.T) {
	_, err := NewWatcher(filepath.Join(os.TempDir(), "siteguard-missing-dir-xyz", "siteguard.yaml"), func(*Config) {})
	require.Error(t, err)
}
