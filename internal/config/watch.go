package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration file when it changes on disk.
type Watcher struct {
	mu       sync.RWMutex
	path     string
	current  *Config
	logger   *slog.Logger
	onChange func(old, updated *Config)
}

// NewWatcher creates a watcher for the file at path, starting from the already loaded cfg.
func NewWatcher(path string, cfg *Config, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:    path,
		current: cfg,
		logger:  logger,
	}
}

// OnChange registers a callback that fires after a successful reload.
func (w *Watcher) OnChange(fn func(old, updated *Config)) {
	w.onChange = fn
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Reload reads the file again. An invalid file leaves the current configuration in place.
func (w *Watcher) Reload() error {
	updated, err := Load(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	old := w.current
	w.current = updated
	w.mu.Unlock()

	if RequiresRestart(old, updated) {
		w.logger.Warn("config change requires restart to take full effect; only rate and log level were applied", "path", w.path)
	}
	if w.onChange != nil {
		w.onChange(old, updated)
	}
	return nil
}

// Watch watches the config file's directory so that editor renames are seen.
// Blocks until done is closed.
func (w *Watcher) Watch(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close() // intentionally ignoring close error during cleanup
	}()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %s: %w", dir, err)
	}

	w.logger.Info("watching config file", "path", w.path)
	target := filepath.Clean(w.path)

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Info("config change detected", "file", event.Name, "op", event.Op)
			if err := w.Reload(); err != nil {
				w.logger.Error("failed to reload config, keeping previous", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// RequiresRestart reports whether anything other than the live-adjustable settings
// (rate and log level) differs between a and b.
func RequiresRestart(a, b *Config) bool {
	if a == nil || b == nil {
		return a != b
	}
	x, y := *a, *b
	x.Rate, y.Rate = RateConfig{}, RateConfig{}
	x.Observability.LogLevel, y.Observability.LogLevel = "", ""
	return !reflect.DeepEqual(x, y)
}
