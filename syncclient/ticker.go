package syncclient

import (
	"context"
	"time"
)

// startAutoSync arms the periodic sync ticker per §6.5: SyncIntervalMS==0
// means synchronous-after-mutation (handled in enqueueAndNotify, no
// ticker needed); negative disables auto-sync; positive runs a ticker.
func (e *Engine) startAutoSync() {
	if e.config.SyncIntervalMS <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.stopTicker = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		interval := e.config.syncInterval()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.Sync(ctx, false); err != nil {
					e.logger.Error("auto-sync cycle failed", "error", err)
				}
			}
		}
	}()
}
