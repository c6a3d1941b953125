//go:build windows

package profile

// registerSignalHandler is a no-op on Windows since SIGHUP is not
// available. Profile reload is still supported via the fsnotify watcher.
func (w *Watcher) registerSignalHandler() {
	w.logger.Info("SIGHUP not available on Windows, using file watcher only for profile reload")
}
