package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultWatchDebounce = 250 * time.Millisecond

// Watcher reloads the manager when the config file is edited by hand.
// The parent directory is watched because editors and our own atomic save
// replace the file instead of writing it in place.
type Watcher struct {
	manager  *Manager
	log      *zap.Logger
	debounce time.Duration
}

func NewWatcher(m *Manager, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{manager: m, log: log, debounce: DefaultWatchDebounce}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.manager.Path())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	base := filepath.Base(w.manager.Path())
	w.log.Debug("config_watch_started", zap.String("path", w.manager.Path()))

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base || !relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config_watch_error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	changed, err := w.manager.Reload()
	switch {
	case err != nil:
		w.log.Warn("config_reload_rejected", zap.Error(err))
	case changed:
		w.log.Info("config_reloaded", zap.String("path", w.manager.Path()))
	}
}

func relevant(ev fsnotify.Event) bool {
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}
