package syncclient

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/driftsync/driftsync/coordinator"
	"github.com/driftsync/driftsync/syncmodel"
)

// Sync runs one push-then-pull cycle. If a cycle is already in flight and
// force is false, Sync returns immediately without doing anything, per
// §4.E's is_syncing guard.
func (e *Engine) Sync(ctx context.Context, force bool) (bool, error) {
	owns := e.isSyncing.CompareAndSwap(false, true)
	if !owns {
		if !force {
			return false, nil
		}
		// force=true races ahead of a concurrent cycle; it does not own
		// the flag and must not clear it out from under that cycle.
	} else {
		defer e.isSyncing.Store(false)
	}

	if err := e.requireInitialized(); err != nil {
		return false, err
	}

	e.setStatus(StatusSyncing)

	if err := e.pushPhase(ctx); err != nil {
		e.setStatus(StatusError)
		if e.onError != nil {
			e.onError(err)
		}
		return false, err
	}

	if err := e.pullPhase(ctx); err != nil {
		e.logger.Error("pull phase failed", "error", err)
	}

	e.mu.Lock()
	hasConflicts := len(e.conflicts) > 0
	e.mu.Unlock()
	if hasConflicts {
		e.setStatus(StatusConflict)
		if err := e.resolveConflicts(ctx); err != nil {
			e.logger.Error("conflict resolution failed", "error", err)
		}
	}

	e.coord.BroadcastFrom(e.coordH, coordinator.Message{Type: coordinator.SyncComplete})

	e.mu.Lock()
	remaining := len(e.conflicts)
	e.mu.Unlock()
	if remaining == 0 {
		e.setStatus(StatusIdle)
	}
	return true, nil
}

// pushPhase drains the durable queue in batches of config.BatchSize,
// reconciling each PushResult against the queue and the in-memory
// conflicts list, per §4.E push phase.
func (e *Engine) pushPhase(ctx context.Context) error {
	if e.uploadPaused.Load() {
		return nil
	}

	pending, err := e.pendingOps(ctx)
	if err != nil {
		return fmt.Errorf("read pending queue: %w", err)
	}

	batchSize := e.config.BatchSize
	if batchSize <= 0 {
		batchSize = len(pending)
		if batchSize == 0 {
			batchSize = 1
		}
	}

	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		result, err := e.pushWithRetry(ctx, batch)
		if err != nil {
			return err
		}

		if len(result.Synced) > 0 {
			if err := e.store.RemoveFromQueue(ctx, result.Synced); err != nil {
				e.logger.Error("failed to prune synced queue entries", "error", err)
			}
		}

		if len(result.Conflicts) > 0 {
			e.mu.Lock()
			e.conflicts = append(e.conflicts, result.Conflicts...)
			e.mu.Unlock()
		}

		for _, opErr := range result.Errors {
			if err := e.store.UpdateQueueStatus(ctx, opErr.ID, syncmodel.StatusError, opErr.Error); err != nil {
				e.logger.Error("failed to mark queue entry as errored", "error", err, "op_id", opErr.ID)
			}
		}
	}
	return nil
}

func (e *Engine) pendingOps(ctx context.Context) ([]syncmodel.Operation, error) {
	all, err := e.store.GetQueue(ctx)
	if err != nil {
		return nil, err
	}
	var pending []syncmodel.Operation
	for _, op := range all {
		if op.Status == syncmodel.StatusPending || op.Status == "" {
			pending = append(pending, op)
		}
	}
	return pending, nil
}

// pullPhase fetches operations since last_sync, applies every one not
// echoing this replica's own writes, and advances last_sync, per §4.E
// pull phase.
func (e *Engine) pullPhase(ctx context.Context) error {
	if e.downloadPaused.Load() {
		return nil
	}

	e.mu.Lock()
	since := e.lastSync
	clientID := e.clientID
	e.mu.Unlock()

	ops, err := e.remote.Pull(ctx, since, clientID)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}

	maxTS := since
	for _, op := range ops {
		if op.ClientID == clientID {
			continue // echo of our own write
		}
		if err := e.applyAuthoritative(ctx, op); err != nil {
			e.logger.Error("failed to apply pulled operation", "error", err, "op_id", op.ID)
			continue
		}
		maxTS = maxTime(maxTS, op.Timestamp)
	}

	if maxTS.After(since) {
		e.mu.Lock()
		e.lastSync = maxTS
		e.mu.Unlock()
		if err := e.store.SetLastSync(ctx, maxTS); err != nil {
			e.logger.Error("failed to persist last_sync", "error", err)
		}
	}
	return nil
}

// applyAuthoritative applies one server-originated Operation to the
// client store, mapping insert/update to upsert-by-id and delete to
// removal, per §9's open-question resolution (unify pull application on
// update-with-upsert semantics).
func (e *Engine) applyAuthoritative(ctx context.Context, op syncmodel.Operation) error {
	id, ok := op.RecordID()
	if !ok {
		return syncmodel.ErrInvalidOperation
	}
	switch op.Kind {
	case syncmodel.KindDelete:
		return e.store.Delete(ctx, op.Table, id)
	default: // insert and update both upsert
		existing, err := e.store.FindOne(ctx, op.Table, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return e.store.Insert(ctx, op.Table, op.Data)
		}
		return e.store.Update(ctx, op.Table, id, op.Data)
	}
}

// pushWithRetry wraps a single push RPC with the config's retry policy,
// intended only for transient transport errors: server-side conflicts
// and per-op errors are already terminal answers embedded in a
// successful PushResult, not something retry should touch. Grounded on
// smartramana-developer-mesh's resilience.Retry: a backoff.ExponentialBackOff
// held at a fixed RetryDelayMS interval (multiplier 1), bounded by
// WithMaxRetries and made context-aware by WithContext, rather than a
// hand-rolled sleep loop.
func (e *Engine) pushWithRetry(ctx context.Context, batch []syncmodel.Operation) (syncmodel.PushResult, error) {
	attempts := e.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := time.Duration(e.config.RetryDelayMS) * time.Millisecond

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.MaxInterval = delay
	b.Multiplier = 1
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	var result syncmodel.PushResult
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		r, err := e.remote.Push(ctx, batch)
		if err != nil {
			e.logger.Warn("push attempt failed", "attempt", attempt, "error", err)
			return err
		}
		result = r
		return nil
	}, policy)
	if err != nil {
		return syncmodel.PushResult{}, fmt.Errorf("push failed after %d attempts: %w", attempt, err)
	}
	return result, nil
}
