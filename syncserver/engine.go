// Package syncserver implements the Server Sync Engine (§4.D): push,
// pull, conflict resolution, and forwarding of accepted operations to a
// realtime fan-out.
package syncserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/driftsync/driftsync/serverstore"
	"github.com/driftsync/driftsync/syncmodel"
)

// Notifier receives operations the engine has just accepted, so a
// realtime fan-out (§4.F) can relay them to subscribed peers. Engine
// forwards only the subset of a push batch that made it into
// PushResult.Synced, tagged with the pushing client's id so fan-out can
// exclude the origin.
type Notifier interface {
	Broadcast(ctx context.Context, ops []syncmodel.Operation, excludeClientID string)
}

// noopNotifier is used when no realtime fan-out is wired up.
type noopNotifier struct{}

func (noopNotifier) Broadcast(context.Context, []syncmodel.Operation, string) {}

// Engine is the Server Sync Engine.
type Engine struct {
	store    serverstore.Store
	schema   *Schema
	notifier Notifier
	logger   *slog.Logger
	clock    syncmodel.Clock
	Metrics  Metrics
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithNotifier wires a realtime fan-out; without it, accepted operations
// are simply not broadcast (push/pull still work standalone).
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithLogger overrides the default slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock overrides time.Now, for deterministic tests.
func WithClock(c syncmodel.Clock) Option { return func(e *Engine) { e.clock = c } }

// NewEngine constructs a Server Sync Engine over store, configured by schema.
func NewEngine(store serverstore.Store, schema *Schema, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		schema:   schema,
		notifier: noopNotifier{},
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Push applies a batch of client operations under per-user authorization
// and the configured conflict policy, per §4.D.
func (e *Engine) Push(ctx context.Context, operations []syncmodel.Operation, userID string) (syncmodel.PushResult, error) {
	result := syncmodel.PushResult{Success: true}
	var accepted []syncmodel.Operation
	var clientID string

	for _, op := range operations {
		if op.ClientID != "" {
			clientID = op.ClientID
		}
		if err := op.Validate(); err != nil {
			result.Errors = append(result.Errors, syncmodel.OpError{ID: op.ID, Error: err.Error()})
			continue
		}

		table, ok := e.schema.Table(op.Table)
		if !ok {
			result.Errors = append(result.Errors, syncmodel.OpError{
				ID:    op.ID,
				Error: fmt.Sprintf("Table %s not configured for sync", op.Table),
			})
			continue
		}

		if err := e.applyOne(ctx, table, op, userID, &result); err != nil {
			msg := "Unknown error"
			if err.Error() != "" {
				msg = err.Error()
			}
			result.Errors = append(result.Errors, syncmodel.OpError{ID: op.ID, Error: msg})
			continue
		}
	}

	if clientID != "" {
		if err := e.store.UpdateClientState(ctx, clientID, userID); err != nil {
			e.logger.Error("failed to update client state", "error", err, "client_id", clientID)
		}
	}

	for _, id := range result.Synced {
		for _, op := range operations {
			if op.ID == id {
				accepted = append(accepted, op)
				break
			}
		}
	}
	e.Metrics.recordPush(len(result.Synced), len(result.Conflicts), len(result.Errors))
	if len(accepted) > 0 {
		e.notifier.Broadcast(ctx, accepted, clientID)
	}

	return result, nil
}

// applyOne runs steps 2-5 of §4.D for a single, already-gated operation.
func (e *Engine) applyOne(ctx context.Context, table syncmodel.TableConfig, op syncmodel.Operation, userID string, result *syncmodel.PushResult) error {
	recordID, _ := op.RecordID()

	switch op.Kind {
	case syncmodel.KindInsert:
		if err := e.authorizeInsert(table, op, userID); err != nil {
			return err
		}
		return e.applyInsert(ctx, table, op, userID, recordID, result)

	case syncmodel.KindUpdate:
		current, err := e.store.FindOne(ctx, table.PhysicalName(), recordID)
		if err != nil && !errors.Is(err, serverstore.ErrNotFound) {
			return err
		}
		if current == nil {
			return syncmodel.ErrRecordNotFound
		}
		if err := e.authorizeExisting(table, current, userID); err != nil {
			return err
		}
		return e.applyUpdate(ctx, table, op, current, recordID, userID, result)

	case syncmodel.KindDelete:
		current, err := e.store.FindOne(ctx, table.PhysicalName(), recordID)
		if err != nil && !errors.Is(err, serverstore.ErrNotFound) {
			return err
		}
		if current == nil {
			// Idempotent delete: missing row is a no-op success.
			result.Synced = append(result.Synced, op.ID)
			return e.logOp(ctx, op, userID)
		}
		if err := e.authorizeExisting(table, current, userID); err != nil {
			return err
		}
		return e.applyDelete(ctx, table, op, recordID, userID, result)

	default:
		return syncmodel.ErrInvalidOperation
	}
}

func (e *Engine) authorizeInsert(table syncmodel.TableConfig, op syncmodel.Operation, userID string) error {
	if table.Where == nil {
		return nil
	}
	predicate := table.Where(userID)
	provided := map[string]any{}
	for k := range predicate {
		if v, ok := op.Data[k]; ok {
			provided[k] = v
			continue
		}
		if k == "user_id" && op.UserID != "" {
			provided[k] = op.UserID
		}
	}
	if len(provided) == 0 {
		return nil // table doesn't strictly enforce ownership on insert without a carried predicate field
	}
	if !rowMatchesFilter(provided, predicate) {
		return syncmodel.ErrAccessDenied
	}
	return nil
}

func (e *Engine) authorizeExisting(table syncmodel.TableConfig, row map[string]any, userID string) error {
	if table.Where == nil {
		return nil
	}
	if !rowMatchesFilter(row, table.Where(userID)) {
		return syncmodel.ErrAccessDenied
	}
	return nil
}

// rowMatchesFilter reports whether row satisfies every key/value pair a
// TableConfig.Where predicate names, the check both insert and
// existing-row authorization use. Pull does not use it; it scopes rows
// through the store's GetChangesSince userID argument.
func rowMatchesFilter(row, filter map[string]any) bool {
	for k, v := range filter {
		if row[k] != v {
			return false
		}
	}
	return true
}

func (e *Engine) applyInsert(ctx context.Context, table syncmodel.TableConfig, op syncmodel.Operation, userID, recordID string, result *syncmodel.PushResult) error {
	existing, err := e.store.FindOne(ctx, table.PhysicalName(), recordID)
	if err != nil && !errors.Is(err, serverstore.ErrNotFound) {
		return err
	}
	if existing != nil {
		result.Conflicts = append(result.Conflicts, syncmodel.Conflict{
			Operation:  op,
			ServerData: existing,
			ClientData: op.Data,
		})
		return nil
	}

	row := syncmodel.CloneRow(op.Data)
	row[syncmodel.FieldVersion] = int64(1)
	row[syncmodel.FieldUpdatedAt] = e.clock()
	row[syncmodel.FieldClientID] = op.ClientID
	row[syncmodel.FieldIsDeleted] = false
	if userID != "" {
		row["user_id"] = userID
	}

	if _, err := e.store.Insert(ctx, table.PhysicalName(), row); err != nil {
		return err
	}
	result.Synced = append(result.Synced, op.ID)
	return e.logOp(ctx, op, userID)
}

func (e *Engine) applyUpdate(ctx context.Context, table syncmodel.TableConfig, op syncmodel.Operation, current map[string]any, recordID, userID string, result *syncmodel.PushResult) error {
	currentVersion := syncmodel.RowVersion(current)
	if currentVersion != op.Version-1 {
		strategy := table.Resolution()
		resolved := resolveVersionConflict(strategy, op.Timestamp, syncmodel.RowUpdatedAt(current))
		if !resolved {
			result.Conflicts = append(result.Conflicts, syncmodel.Conflict{
				Operation:  op,
				ServerData: current,
				ClientData: op.Data,
			})
			return nil
		}
		// Conflict policy resolved in the client's favor: apply despite
		// the version gap, still incrementing from the row's true
		// current version so §8.1's gap-free invariant holds.
	}

	row := syncmodel.CloneRow(op.Data)
	row[syncmodel.FieldVersion] = currentVersion + 1
	row[syncmodel.FieldUpdatedAt] = op.Timestamp
	row[syncmodel.FieldClientID] = op.ClientID

	updated, err := e.store.Update(ctx, table.PhysicalName(), recordID, row, currentVersion)
	if err != nil {
		if errors.Is(err, serverstore.ErrVersionConflict) {
			// A concurrent writer landed between our read and this write;
			// per §9's open question this is an error for the client to
			// retry, not a policy conflict.
			return fmt.Errorf("concurrent update, retry: %w", err)
		}
		return err
	}
	_ = updated
	result.Synced = append(result.Synced, op.ID)
	return e.logOp(ctx, op, userID)
}

func (e *Engine) applyDelete(ctx context.Context, table syncmodel.TableConfig, op syncmodel.Operation, recordID, userID string, result *syncmodel.PushResult) error {
	if err := e.store.Delete(ctx, table.PhysicalName(), recordID); err != nil {
		return err
	}
	result.Synced = append(result.Synced, op.ID)
	return e.logOp(ctx, op, userID)
}

func (e *Engine) logOp(ctx context.Context, op syncmodel.Operation, userID string) error {
	if err := e.store.LogSyncOperation(ctx, op, userID); err != nil {
		e.logger.Error("failed to log sync operation", "error", err, "op_id", op.ID)
	}
	return nil
}

// Pull returns every operation applied to configured tables since `since`,
// excluding the caller's own echoes, per §4.D pull algorithm.
func (e *Engine) Pull(ctx context.Context, since time.Time, clientID, userID string) ([]syncmodel.Operation, error) {
	var ops []syncmodel.Operation

	for _, name := range e.schema.Tables() {
		table, _ := e.schema.Table(name)
		// A table with no Where predicate is public per §3.6 ("absence
		// means no filter"): pass "" so the store adapter applies no
		// row-level ownership filter, instead of leaking the caller's
		// own userID into a table that was never scoped by it.
		filterUserID := ""
		if table.Where != nil {
			filterUserID, _ = table.Where(userID)["user_id"].(string)
		}
		rows, err := e.store.GetChangesSince(ctx, table.PhysicalName(), since, filterUserID, clientID)
		if err != nil {
			e.logger.Error("pull failed for table", "table", name, "error", err)
			continue
		}
		for _, row := range rows {
			data := row
			if table.Transform != nil || len(table.Columns) > 0 {
				data = table.Apply(row)
			}
			kind := syncmodel.KindUpdate
			if syncmodel.RowIsDeleted(row) {
				kind = syncmodel.KindDelete
			}
			rowClientID := syncmodel.RowClientID(row)
			if rowClientID == "" {
				rowClientID = "server"
			}
			ops = append(ops, syncmodel.Operation{
				ID:        fmt.Sprintf("pull-%s-%d", name, syncmodel.RowVersion(row)),
				Table:     name,
				Kind:      kind,
				Data:      data,
				Timestamp: syncmodel.RowUpdatedAt(row),
				ClientID:  rowClientID,
				Version:   syncmodel.RowVersion(row),
			})
		}
	}

	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Timestamp.Before(ops[j].Timestamp) })

	if err := e.store.UpdateClientState(ctx, clientID, userID); err != nil {
		e.logger.Error("failed to update client state on pull", "error", err, "client_id", clientID)
	}
	e.Metrics.recordPull(len(ops))
	return ops, nil
}
