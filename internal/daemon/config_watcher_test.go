package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitemapd/internal/config"
)

type captureReloader struct {
	applied chan *config.Config
}

func (c *captureReloader) ReloadConfig(_ context.Context, cfg *config.Config) error {
	c.applied <- cfg
	return nil
}

func writeWatchedConfig(t *testing.T, path string, batchSize int) {
	t.Helper()
	content := fmt.Sprintf(`site:
  base_url: https://example.com
content:
  source: sqlite
  sqlite:
    path: ./content.db
  kinds:
    - kind: post
      path_prefix: /posts
generation:
  batch_size: %d
  tick_interval: 2m
`, batchSize)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestConfigWatcherAppliesDebouncedReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sitemapd.yaml")
	writeWatchedConfig(t, path, 10)

	reloader := &captureReloader{applied: make(chan *config.Config, 1)}
	cw, err := NewConfigWatcher(path, reloader)
	require.NoError(t, err)
	cw.debounceTime = 50 * time.Millisecond
	t.Cleanup(func() { _ = cw.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, cw.Start(ctx))

	// Two writes in quick succession debounce into one reload.
	writeWatchedConfig(t, path, 40)
	writeWatchedConfig(t, path, 42)

	select {
	case cfg := <-reloader.applied:
		require.Equal(t, 42, cfg.Generation.BatchSize)
	case <-time.After(5 * time.Second):
		t.Fatal("reload was never applied")
	}

	select {
	case <-reloader.applied:
		t.Fatal("debounced writes should produce a single reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConfigWatcherRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sitemapd.yaml")
	writeWatchedConfig(t, path, 10)

	reloader := &captureReloader{applied: make(chan *config.Config, 1)}
	cw, err := NewConfigWatcher(path, reloader)
	require.NoError(t, err)
	cw.debounceTime = 50 * time.Millisecond
	t.Cleanup(func() { _ = cw.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, cw.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("site:\n  base_url: not-a-url\n"), 0o644))

	select {
	case <-reloader.applied:
		t.Fatal("invalid config must not reach the reloader")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestConfigWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sitemapd.yaml")
	writeWatchedConfig(t, path, 10)

	reloader := &captureReloader{applied: make(chan *config.Config, 1)}
	cw, err := NewConfigWatcher(path, reloader)
	require.NoError(t, err)
	cw.debounceTime = 50 * time.Millisecond
	t.Cleanup(func() { _ = cw.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, cw.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))

	select {
	case <-reloader.applied:
		t.Fatal("changes to unrelated files must not trigger reloads")
	case <-time.After(300 * time.Millisecond):
	}
}
