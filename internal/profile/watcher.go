package profile

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the profile file and reloads on changes. It supports
// fsnotify file watching (cross-platform) and SIGHUP (Unix only,
// registered in watcher_unix.go).
//
// Breakers are configured at creation, so a reload changes what future
// breakers are built from; use OnReload to rebuild or replace existing
// ones.
type Watcher struct {
	mu        sync.RWMutex
	current   *Store
	path      string
	logger    *slog.Logger
	callbacks []func(*Store)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
}

// NewWatcher creates a Watcher for the given profile file path.
func NewWatcher(path string, initial *Store, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		current: initial,
		path:    path,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Current returns the active profile store (thread-safe).
func (w *Watcher) Current() *Store {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers a callback that is invoked with the new store after a
// successful reload.
func (w *Watcher) OnReload(fn func(*Store)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Start begins watching the profile file for changes and listening for
// SIGHUP (on Unix). Must be called once after NewWatcher.
func (w *Watcher) Start() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("failed to create file watcher", "error", err)
		return
	}
	w.watcher = watcher

	if err := watcher.Add(w.path); err != nil {
		w.logger.Error("failed to watch profile file", "path", w.path, "error", err)
		watcher.Close()
		w.watcher = nil
		return
	}

	w.logger.Info("profile file watcher started", "path", w.path)

	go w.watchLoop()

	// Register SIGHUP handler (Unix only, no-op on Windows)
	w.registerSignalHandler()
}

// Stop terminates the file watcher and signal handler.
func (w *Watcher) Stop() {
	close(w.stopCh)
	if w.watcher != nil {
		w.watcher.Close()
	}
}

// Reload loads the profiles from disk, validates them, and if valid swaps
// them in and notifies all registered callbacks. Returns true if the
// reload succeeded. Exported so signal handlers and tests can call it.
func (w *Watcher) Reload() bool {
	w.logger.Info("reloading profiles", "path", w.path)

	store, err := Load(w.path)
	if err != nil {
		w.logger.Error("profile reload failed: invalid profiles, keeping current",
			"path", w.path, "error", err)
		return false
	}

	w.mu.Lock()
	old := w.current
	w.current = store
	callbacks := make([]func(*Store), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logChanges(old, store)

	for _, cb := range callbacks {
		cb(store)
	}

	w.logger.Info("profiles reloaded successfully")
	return true
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop() {
	// Debounce timer, editors often write multiple events on save.
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, func() {
					w.Reload()
				})
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)
		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

// logChanges logs a summary of what changed between the old and new store.
func (w *Watcher) logChanges(old, new *Store) {
	if old == nil {
		return
	}
	for _, name := range new.Names() {
		if _, ok := old.services[name]; !ok {
			w.logger.Info("service profile added", "service", name)
		}
	}
	for _, name := range old.Names() {
		if _, ok := new.services[name]; !ok {
			w.logger.Info("service profile removed", "service", name)
		}
	}
}
