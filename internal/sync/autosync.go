package sync

import (
	"context"
	"time"

	"github.com/synkahealth/synka-client/internal/logging"
)

// StartAutoSync starts the background drain loop: a fixed-interval
// timer plus an immediate attempt whenever connectivity comes back.
// Starting twice does not create a second loop.
func (e *Engine) StartAutoSync() {
	e.autoMu.Lock()
	if e.running {
		e.autoMu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.autoMu.Unlock()

	changes, unsubscribe := e.oracle.Subscribe()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer unsubscribe()

		ticker := time.NewTicker(e.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				if e.oracle.IsConnected() {
					e.SyncAll(context.Background())
				}
			case online, ok := <-changes:
				if !ok {
					changes = nil
					continue
				}
				if online {
					logging.Info("Back online, draining sync queue")
					e.SyncAll(context.Background())
				}
			}
		}
	}()

	logging.Info("Auto sync started", map[string]interface{}{
		"interval_seconds": e.cfg.Interval.Seconds(),
	})
}

// StopAutoSync stops the background loop and waits for it to exit.
// Stopping when not started is a no-op.
func (e *Engine) StopAutoSync() {
	e.autoMu.Lock()
	if !e.running {
		e.autoMu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.autoMu.Unlock()

	e.wg.Wait()
	logging.Info("Auto sync stopped")
}

// IsAutoSyncRunning reports whether the background loop is active.
func (e *Engine) IsAutoSyncRunning() bool {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	return e.running
}
