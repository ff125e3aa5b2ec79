// Package clientstore defines the contract an embedded client-side store
// must satisfy for the Client Sync Engine (syncclient) to run against it.
// A concrete SQLite-backed implementation lives under adapter/sqlite.
package clientstore

import (
	"context"
	"errors"
	"time"

	"github.com/driftsync/driftsync/syncmodel"
)

// ErrNotFound mirrors serverstore.ErrNotFound for symmetry, though most
// client-store methods use Go's usual "return nil, nil" for "not found"
// per §6.1 (find_one returns null on miss).
var ErrNotFound = errors.New("clientstore: not found")

// Store is the embedded client-side persistence contract, §6.1.
type Store interface {
	Init(ctx context.Context) error

	Insert(ctx context.Context, table string, data map[string]any) error
	Update(ctx context.Context, table, id string, data map[string]any) error
	Delete(ctx context.Context, table, id string) error
	Find(ctx context.Context, table string, query map[string]any) ([]map[string]any, error)
	FindOne(ctx context.Context, table, id string) (map[string]any, error)

	AddToQueue(ctx context.Context, op syncmodel.Operation) error
	GetQueue(ctx context.Context) ([]syncmodel.Operation, error)
	RemoveFromQueue(ctx context.Context, ids []string) error
	UpdateQueueStatus(ctx context.Context, id string, status syncmodel.Status, errMsg string) error

	GetLastSync(ctx context.Context) (time.Time, error)
	SetLastSync(ctx context.Context, ts time.Time) error

	// GetClientID returns the replica's stable identifier, generating and
	// persisting one on first call.
	GetClientID(ctx context.Context) (string, error)

	IsInitialized(ctx context.Context) (bool, error)
	SetInitialized(ctx context.Context, v bool) error
}
