package syncclient

import (
	"context"
	"time"

	"github.com/driftsync/driftsync/coordinator"
	"github.com/driftsync/driftsync/syncmodel"
)

// ReloadFunc reloads a Reactive Collection View for one table; the engine
// calls it after applying realtime operations so the UI-facing view picks
// up authoritative state (§4.H, §4.E realtime-driven authoritative apply
// step 3).
type ReloadFunc func(ctx context.Context, table string)

// SetReloader wires the callback used to refresh collection views after a
// realtime batch is applied. Optional; without one, callers are expected
// to reload views themselves off the coordinator's sync-complete message.
func (e *Engine) SetReloader(fn ReloadFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reloader = fn
}

// ApplyRealtimeBatch is the callback a Realtime Client (realtime package)
// invokes with a batch of operations delivered over the event stream,
// implementing §4.E "Realtime-driven authoritative apply".
func (e *Engine) ApplyRealtimeBatch(ctx context.Context, ops []syncmodel.Operation) {
	clientID := e.ClientID()
	touched := map[string]struct{}{}
	maxTS := e.lastSyncSnapshot()

	for _, op := range ops {
		if op.ClientID == clientID {
			continue // discard echoes of our own writes
		}
		if err := e.applyAuthoritative(ctx, op); err != nil {
			e.logger.Error("failed to apply realtime operation", "error", err, "op_id", op.ID)
			continue
		}
		touched[op.Table] = struct{}{}
		maxTS = maxTime(maxTS, op.Timestamp)
	}

	e.mu.Lock()
	advanced := maxTS.After(e.lastSync)
	if advanced {
		e.lastSync = maxTS
	}
	reloader := e.reloader
	e.mu.Unlock()
	if advanced {
		if err := e.store.SetLastSync(ctx, maxTS); err != nil {
			e.logger.Error("failed to persist last_sync after realtime apply", "error", err)
		}
	}

	if reloader != nil {
		for table := range touched {
			reloader(ctx, table)
		}
	}

	e.coord.BroadcastFrom(e.coordH, coordinator.Message{Type: coordinator.SyncComplete})
}

func (e *Engine) lastSyncSnapshot() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}
