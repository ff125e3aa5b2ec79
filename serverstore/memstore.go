package serverstore

import (
	"context"
	"sync"
	"time"

	"github.com/driftsync/driftsync/syncmodel"
)

// MemStore is an in-memory Store, used by syncserver's test suite in
// place of the Postgres adapter so the sync engine's own tests don't
// require a live database, mirroring the teacher's preference for
// exercising business logic against a lightweight adapter. The module
// contains no tests that run against the real Postgres adapter.
type MemStore struct {
	mu      sync.Mutex
	rows    map[string]map[string]map[string]any // table -> id -> row
	log     []loggedOp
	states  map[string]syncmodel.ClientState
	version int64
}

type loggedOp struct {
	op     syncmodel.Operation
	userID string
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		rows:   make(map[string]map[string]map[string]any),
		states: make(map[string]syncmodel.ClientState),
	}
}

func (m *MemStore) table(name string) map[string]map[string]any {
	t, ok := m.rows[name]
	if !ok {
		t = make(map[string]map[string]any)
		m.rows[name] = t
	}
	return t
}

func (m *MemStore) Insert(_ context.Context, table string, data map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, _ := data["id"].(string)
	row := syncmodel.CloneRow(data)
	m.table(table)[id] = row
	return syncmodel.CloneRow(row), nil
}

func (m *MemStore) Update(_ context.Context, table, id string, data map[string]any, expectedVersion int64) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(table)
	current, ok := t[id]
	if !ok {
		return nil, ErrNotFound
	}
	if syncmodel.RowVersion(current) != expectedVersion {
		return nil, ErrVersionConflict
	}
	merged := syncmodel.CloneRow(current)
	for k, v := range data {
		merged[k] = v
	}
	merged["id"] = id
	t[id] = merged
	return syncmodel.CloneRow(merged), nil
}

func (m *MemStore) Delete(_ context.Context, table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(table)
	row, ok := t[id]
	if !ok {
		return nil // idempotent: deleting a missing row succeeds
	}
	row = syncmodel.CloneRow(row)
	row[syncmodel.FieldIsDeleted] = true
	row[syncmodel.FieldUpdatedAt] = time.Now()
	t[id] = row
	return nil
}

func (m *MemStore) FindOne(_ context.Context, table, id string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.table(table)[id]
	if !ok {
		return nil, nil
	}
	return syncmodel.CloneRow(row), nil
}

func (m *MemStore) Find(_ context.Context, table string, filter map[string]any) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]any
	for _, row := range m.table(table) {
		if matches(row, filter) {
			out = append(out, syncmodel.CloneRow(row))
		}
	}
	return out, nil
}

func matches(row, filter map[string]any) bool {
	for k, v := range filter {
		if row[k] != v {
			return false
		}
	}
	return true
}

func (m *MemStore) GetChangesSince(_ context.Context, table string, since time.Time, userID, excludeClientID string) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]any
	for _, row := range m.table(table) {
		if !syncmodel.RowUpdatedAt(row).After(since) {
			continue
		}
		if userID != "" {
			if rowUser, _ := row["user_id"].(string); rowUser != userID {
				continue
			}
		}
		if excludeClientID != "" {
			if cid := syncmodel.RowClientID(row); cid != "" && cid == excludeClientID {
				continue
			}
		}
		out = append(out, syncmodel.CloneRow(row))
	}
	return out, nil
}

func (m *MemStore) BatchInsert(ctx context.Context, table string, rows []map[string]any) error {
	for _, r := range rows {
		if _, err := m.Insert(ctx, table, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemStore) BatchUpdate(ctx context.Context, table string, updates []VersionedUpdate) error {
	for _, u := range updates {
		if _, err := m.Update(ctx, table, u.ID, u.Data, u.ExpectedVersion); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemStore) CheckConflict(_ context.Context, table, id string, expectedVersion int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.table(table)[id]
	if !ok {
		return false, nil
	}
	return syncmodel.RowVersion(row) != expectedVersion, nil
}

func (m *MemStore) LogSyncOperation(_ context.Context, op syncmodel.Operation, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, loggedOp{op: op, userID: userID})
	return nil
}

// Log exposes the accumulated sync log for assertions in tests.
func (m *MemStore) Log() []syncmodel.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]syncmodel.Operation, len(m.log))
	for i, l := range m.log {
		out[i] = l.op
	}
	return out
}

func (m *MemStore) UpdateClientState(_ context.Context, clientID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	state := m.states[clientID]
	state.ClientID = clientID
	state.UserID = userID
	state.LastActive = now
	state.LastSync = now
	m.states[clientID] = state
	return nil
}

func (m *MemStore) GetClientState(_ context.Context, clientID string) (syncmodel.ClientState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[clientID], nil
}
