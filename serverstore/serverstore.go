// Package serverstore defines the contract a persistent server-side store
// must satisfy for the Server Sync Engine (syncserver) to run against it.
// Concrete implementations live under adapter/postgres and, for tests, as
// an in-memory adapter.
package serverstore

import (
	"context"
	"errors"
	"time"

	"github.com/driftsync/driftsync/syncmodel"
)

// ErrVersionConflict is returned by Update when the stored version does
// not match expectedVersion. The Server Sync Engine treats this as a
// signal to retry, per §9's open-question resolution: bare adapter
// version failures are a concurrent-writer race, not a policy conflict.
var ErrVersionConflict = errors.New("serverstore: version conflict")

// ErrNotFound is returned by Update when the row is absent. FindOne
// reports a missing row as (nil, nil), and Delete of a missing row
// succeeds.
var ErrNotFound = errors.New("serverstore: not found")

// Store is the server-side persistence contract, §6.2.
type Store interface {
	Insert(ctx context.Context, table string, data map[string]any) (map[string]any, error)
	Update(ctx context.Context, table, id string, data map[string]any, expectedVersion int64) (map[string]any, error)
	Delete(ctx context.Context, table, id string) error

	FindOne(ctx context.Context, table, id string) (map[string]any, error)
	Find(ctx context.Context, table string, filter map[string]any) ([]map[string]any, error)

	// GetChangesSince returns rows updated after `since`, optionally
	// scoped to userID and excluding rows whose _client_id equals
	// excludeClientID (never excluding rows with a null _client_id).
	GetChangesSince(ctx context.Context, table string, since time.Time, userID, excludeClientID string) ([]map[string]any, error)

	BatchInsert(ctx context.Context, table string, rows []map[string]any) error
	BatchUpdate(ctx context.Context, table string, updates []VersionedUpdate) error

	CheckConflict(ctx context.Context, table, id string, expectedVersion int64) (bool, error)

	LogSyncOperation(ctx context.Context, op syncmodel.Operation, userID string) error
	UpdateClientState(ctx context.Context, clientID, userID string) error
	GetClientState(ctx context.Context, clientID string) (syncmodel.ClientState, error)
}

// VersionedUpdate is one element of a BatchUpdate call.
type VersionedUpdate struct {
	ID              string
	Data            map[string]any
	ExpectedVersion int64
}

// TxRunner is implemented by stores that can run a function within a
// single database transaction, handing back a tx-scoped Store. Adapters
// without transactional support simply don't implement this interface.
// syncserver.Engine.Push does not use it: it always issues per-op calls
// directly against its Store, with no enclosing transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// ChangeSubscriber is implemented by adapters offering a native change
// feed (§4.D subscribe_to_changes delegation).
type ChangeSubscriber interface {
	Subscribe(ctx context.Context, tables []string, userID string, callback func(syncmodel.Operation)) (unsubscribe func(), err error)
}
