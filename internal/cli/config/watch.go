package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leapstack-labs/leaptx/pkg/txn"
)

// ApplyTx pushes the runtime-adjustable transaction settings of cfg into m.
// Nesting and savepoint naming are fixed when the database is connected.
func ApplyTx(m *txn.Manager, cfg txn.Config) error {
	level, err := txn.ParseIsolation(cfg.Isolation)
	if err != nil {
		return err
	}
	if err := m.SetRetryPolicy(cfg.RetryPolicy()); err != nil {
		return err
	}
	m.SetDefaultIsolation(level)
	m.SetDefaultReadOnly(cfg.ReadOnly)
	return nil
}

// Watcher reloads the config file when it changes and applies the
// transaction settings to a manager.
type Watcher struct {
	path     string
	manager  *txn.Manager
	logger   *slog.Logger
	debounce time.Duration

	// OnReload is called after each successful reload. Optional.
	OnReload func(*Config)
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, m *txn.Manager, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		path:     path,
		manager:  m,
		logger:   logger,
		debounce: 100 * time.Millisecond,
	}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Editors often replace the file, so watch the directory.
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(w.path)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
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
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.path, nil)
	if err != nil {
		w.logger.Error("config reload failed", "path", w.path, "error", err)
		return
	}
	if err := ApplyTx(w.manager, cfg.Tx); err != nil {
		w.logger.Error("config reload rejected", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config reloaded",
		"path", w.path,
		"isolation", cfg.Tx.Isolation,
		"max_attempts", cfg.Tx.MaxAttempts)
	if w.OnReload != nil {
		w.OnReload(cfg)
	}
}
