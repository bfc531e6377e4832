package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	reloadDebounce     = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// Watcher reloads the config whenever one of its files changes and hands
// each successfully loaded Config to onReload. A config that fails to load
// is logged and skipped; the previous one stays in effect.
type Watcher struct {
	path     string
	logger   *slog.Logger
	onReload func(*Config)
	debounce time.Duration
}

func NewWatcher(path string, logger *slog.Logger, onReload func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		logger:   logger.With("component", "config-watch"),
		onReload: onReload,
		debounce: reloadDebounce,
	}
}

// Run blocks until ctx is done. The watcher is recreated with backoff if
// fsnotify stops delivering.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, w.reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	backoff := restartBackoffBase
	for {
		if ctx.Err() != nil {
			return nil
		}
		broken, err := w.watchOnce(ctx, schedule)
		if err != nil {
			w.logger.Warn("config watch failed", "error", err)
		} else if !broken {
			return nil
		} else {
			backoff = restartBackoffBase
		}

		w.logger.Warn("config watcher stopped; restarting", "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < restartBackoffMax {
			backoff *= 2
			if backoff > restartBackoffMax {
				backoff = restartBackoffMax
			}
		}
	}
}

// watchOnce runs one fsnotify watcher. It returns broken=true when the
// watcher's channels closed underneath it.
func (w *Watcher) watchOnce(ctx context.Context, schedule func()) (bool, error) {
	files, err := DiscoverFiles(w.path)
	if err != nil {
		return false, err
	}
	watched := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, f := range files {
		watched[filepath.Clean(f)] = true
		dirs[filepath.Dir(f)] = true
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer fw.Close()
	// Directories, not files: editors often replace a file by rename.
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			return false, err
		}
	}
	w.logger.Debug("config watcher started", "files", len(files))

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case ev, ok := <-fw.Events:
			if !ok {
				return true, nil
			}
			name := filepath.Clean(ev.Name)
			if watched[name] || filepath.Base(name) == checksumsFile {
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					schedule()
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return true, nil
			}
			if err == nil {
				continue
			}
			if strings.Contains(strings.ToLower(err.Error()), "overflow") {
				w.logger.Warn("config watch overflow; forcing reload", "error", err)
				schedule()
				continue
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path, "pools", len(cfg.Pools), "recurring", len(cfg.Recurring))
	w.onReload(cfg)
}
