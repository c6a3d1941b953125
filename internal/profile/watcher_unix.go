//go:build !windows

package profile

import (
	"os"
	"os/signal"
	"syscall"
)

// registerSignalHandler listens for SIGHUP and triggers a profile reload.
func (w *Watcher) registerSignalHandler() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-sigCh:
				w.logger.Info("SIGHUP received, reloading profiles")
				w.Reload()
			case <-w.stopCh:
				signal.Stop(sigCh)
				return
			}
		}
	}()
}
