package config

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "pools:\n  p: {workers: 1}\n")

	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, slog.New(slog.NewTextHandler(io.Discard, nil)), func(c *Config) { reloaded <- c })
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "config.yaml", "service:\n  log_level: loud\n")
	writeFile(t, dir, "config.yaml", "pools:\n  p: {workers: 1}\n  q: {workers: 2}\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 2, cfg.Pools["q"].Workers)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no reload observed")
	}
}
