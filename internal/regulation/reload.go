package regulation

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches the regulation directory for changes and triggers
// Store.Reload on settle.
type Watcher struct {
	watcher *fsnotify.Watcher
	store   *Store
	log     *zap.Logger
}

// NewWatcher creates a file watcher on store's source directory.
func NewWatcher(store *Store, log *zap.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(store.dir); err == nil {
		if err := w.Add(store.dir); err != nil {
			w.Close()
			return nil, err
		}
	}
	return &Watcher{watcher: w, store: store, log: log}, nil
}

// Run blocks until ctx is cancelled, reloading the store 500ms after the
// last write event settles.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					if err := w.store.Reload(); err != nil {
						w.log.Warn("regulation.hot_reload_failed", zap.Error(err))
					} else {
						w.log.Info("regulation.hot_reload_applied")
					}
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("regulation.watch_error", zap.Error(err))
		}
	}
}
