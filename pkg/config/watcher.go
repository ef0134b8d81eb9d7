package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"crft-host/pkg/log"
)

var logger = log.Component("config")

// Watcher reloads the profile when its file changes and hands validated
// updates to a callback. Edits that fail to parse or validate are logged
// and dropped; the previous profile stays in effect.
type Watcher struct {
	path     string
	onChange func(Profile)

	mu       sync.Mutex
	debounce *time.Timer
}

// NewWatcher watches path and calls onChange with each valid reload.
func NewWatcher(path string, onChange func(Profile)) *Watcher {
	return &Watcher{path: path, onChange: onChange}
}

// Run blocks until ctx is cancelled. Editors replace files rather than
// writing in place, so creations and renames in the directory count as
// changes too.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	logger.Debug().Str("path", w.path).Msg("watching profile")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounceReload(100 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("profile watcher error")
		}
	}
}

// debounceReload coalesces the burst of events an editor save produces
// into one reload.
func (w *Watcher) debounceReload(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(delay, w.reload)
}

func (w *Watcher) reload() {
	p, err := Load(w.path)
	if err != nil {
		logger.Warn().Err(err).Msg("profile change rejected")
		return
	}
	logger.Info().Str("path", w.path).Msg("profile reloaded")
	w.onChange(p)
}
