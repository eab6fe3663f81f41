package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits after the last change event
// before reloading.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a rules file when it changes on disk. Editors often replace
// files through rename, so the parent directory is watched and events are
// filtered by file name.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *zap.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher for the rules file at path
func NewWatcher(path string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to resolve rules path: %w", err)
	}
	return &Watcher{
		path:     abs,
		debounce: debounce,
		watcher:  fw,
		logger:   logger,
	}, nil
}

// Watch blocks until ctx is cancelled, calling onReload after each burst of
// changes to the watched file. A failing onReload is logged and the watcher
// keeps running.
func (w *Watcher) Watch(ctx context.Context, onReload func() error) error {
	defer w.stopTimer()
	defer w.watcher.Close()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.logger.Info("rules file watcher started",
		zap.String("path", w.path),
		zap.Duration("debounce", w.debounce))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("rules file watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("rules file event",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()))
			w.schedule(onReload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("rules file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule(onReload func() error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := onReload(); err != nil {
			w.logger.Error("rules reload failed, keeping previous rule set",
				zap.String("path", w.path),
				zap.Error(err))
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
