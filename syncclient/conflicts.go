package syncclient

import (
	"context"
	"errors"

	"github.com/driftsync/driftsync/syncmodel"
)

// resolveConflicts applies the engine's configured ConflictPolicy to every
// queued Conflict, per §4.E conflict resolution.
func (e *Engine) resolveConflicts(ctx context.Context) error {
	e.mu.Lock()
	pending := e.conflicts
	e.conflicts = nil
	e.mu.Unlock()

	var stillPending []syncmodel.Conflict
	for _, c := range pending {
		resolved, ok, err := e.resolveOne(ctx, c)
		if err != nil {
			e.logger.Error("conflict resolution error", "error", err, "op_id", c.Operation.ID)
			stillPending = append(stillPending, c)
			continue
		}
		if !ok {
			stillPending = append(stillPending, c)
			continue
		}

		id, hasID := resolved.RecordID()
		if hasID {
			if err := e.store.Update(ctx, resolved.Table, id, resolved.Data); err != nil {
				e.logger.Error("failed to apply resolved conflict locally", "error", err)
			}
		}
		if err := e.store.RemoveFromQueue(ctx, []string{c.Operation.ID}); err != nil {
			e.logger.Error("failed to remove resolved op from queue", "error", err)
		}
	}

	e.mu.Lock()
	e.conflicts = append(e.conflicts, stillPending...)
	e.mu.Unlock()
	return nil
}

// resolveOne returns the resolved Operation and true, or ok=false when
// the conflict must remain pending (manual policy with no remote
// resolver, or a resolver that errors).
func (e *Engine) resolveOne(ctx context.Context, c syncmodel.Conflict) (syncmodel.Operation, bool, error) {
	switch e.config.ConflictPolicy {
	case PolicyClientWins:
		return c.Operation, true, nil

	case PolicyServerWins:
		resolved := c.Operation
		resolved.Data = c.ServerData
		return resolved, true, nil

	case PolicyManual:
		resolved, err := e.remote.Resolve(ctx, c)
		if err != nil {
			if errors.Is(err, ErrResolveUnsupported) {
				return syncmodel.Operation{}, false, nil
			}
			return syncmodel.Operation{}, false, err
		}
		return resolved, true, nil

	default: // last-write-wins
		// c.ClientData is the operation's raw domain payload and carries
		// no _updated_at metadata; the client-side timestamp of record is
		// the operation's own Timestamp, matching how the server resolves
		// the equivalent conflict in syncserver/conflict.go.
		serverUpdatedAt := syncmodel.RowUpdatedAt(c.ServerData)
		clientUpdatedAt := c.Operation.Timestamp
		if serverUpdatedAt.After(clientUpdatedAt) {
			resolved := c.Operation
			resolved.Data = c.ServerData
			return resolved, true, nil
		}
		return c.Operation, true, nil
	}
}

// Conflicts returns a snapshot of the currently unresolved conflicts.
func (e *Engine) Conflicts() []syncmodel.Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]syncmodel.Conflict, len(e.conflicts))
	copy(out, e.conflicts)
	return out
}
