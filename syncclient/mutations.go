package syncclient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftsync/driftsync/coordinator"
	"github.com/driftsync/driftsync/syncmodel"
)

// Create optimistically inserts a row into the client store, enqueues an
// insert Operation, and (in synchronous mode) triggers an immediate sync.
func (e *Engine) Create(ctx context.Context, table string, data map[string]any) (map[string]any, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	row := syncmodel.CloneRow(data)
	id, _ := row["id"].(string)
	if id == "" {
		id = uuid.NewString()
		row["id"] = id
	}
	row[syncmodel.FieldVersion] = int64(1)

	if err := e.store.Insert(ctx, table, row); err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}

	op := syncmodel.Operation{
		ID:        uuid.NewString(),
		Table:     table,
		Kind:      syncmodel.KindInsert,
		Data:      row,
		Timestamp: e.clock(),
		ClientID:  e.ClientID(),
		Version:   1,
		Status:    syncmodel.StatusPending,
	}
	if err := e.enqueueAndNotify(ctx, table, op); err != nil {
		return nil, err
	}
	return row, nil
}

// Update optimistically merges data into the existing row, enqueues an
// update Operation stamped with the observed version + 1, and (in
// synchronous mode) triggers an immediate sync.
func (e *Engine) Update(ctx context.Context, table, id string, data map[string]any) (map[string]any, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	current, err := e.store.FindOne(ctx, table, id)
	if err != nil {
		return nil, fmt.Errorf("find current: %w", err)
	}
	if current == nil {
		current = map[string]any{"id": id}
	}
	merged := syncmodel.CloneRow(current)
	for k, v := range data {
		merged[k] = v
	}
	merged["id"] = id
	nextVersion := syncmodel.RowVersion(current) + 1
	merged[syncmodel.FieldVersion] = nextVersion

	if err := e.store.Update(ctx, table, id, merged); err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}

	op := syncmodel.Operation{
		ID:        uuid.NewString(),
		Table:     table,
		Kind:      syncmodel.KindUpdate,
		Data:      merged,
		Timestamp: e.clock(),
		ClientID:  e.ClientID(),
		Version:   nextVersion,
		Status:    syncmodel.StatusPending,
	}
	if err := e.enqueueAndNotify(ctx, table, op); err != nil {
		return nil, err
	}
	return merged, nil
}

// Delete optimistically removes the row from the client store and
// enqueues a delete Operation.
func (e *Engine) Delete(ctx context.Context, table, id string) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, table, id); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	op := syncmodel.Operation{
		ID:        uuid.NewString(),
		Table:     table,
		Kind:      syncmodel.KindDelete,
		Data:      map[string]any{"id": id},
		Timestamp: e.clock(),
		ClientID:  e.ClientID(),
		Status:    syncmodel.StatusPending,
	}
	return e.enqueueAndNotify(ctx, table, op)
}

func (e *Engine) enqueueAndNotify(ctx context.Context, table string, op syncmodel.Operation) error {
	if err := e.store.AddToQueue(ctx, op); err != nil {
		return fmt.Errorf("enqueue operation: %w", err)
	}
	e.coord.BroadcastFrom(e.coordH, coordinator.Message{
		Type: coordinator.DataChanged,
		Payload: coordinator.DataChangedPayload{
			Table: table,
			Op:    string(op.Kind),
			Data:  op.Data,
		},
	})

	if e.config.SyncIntervalMS == 0 {
		if _, err := e.Sync(ctx, false); err != nil {
			e.logger.Error("synchronous sync after mutation failed", "error", err)
			return err
		}
	}
	return nil
}

// maxTime returns the later of a and b, a small helper for call sites
// that track a running maximum timestamp.
func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
