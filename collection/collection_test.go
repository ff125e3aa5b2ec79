package collection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/syncclient"
	"github.com/driftsync/driftsync/syncmodel"
)

// fakeStore is a minimal in-memory clientstore.Store for exercising the
// Collection view without a real SQLite database.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]map[string]map[string]any // table -> id -> row
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]map[string]map[string]any{}}
}

func (s *fakeStore) Init(ctx context.Context) error { return nil }

func (s *fakeStore) Insert(ctx context.Context, table string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[table] == nil {
		s.rows[table] = map[string]map[string]any{}
	}
	id, _ := data["id"].(string)
	s.rows[table][id] = syncmodel.CloneRow(data)
	return nil
}

func (s *fakeStore) Update(ctx context.Context, table, id string, data map[string]any) error {
	return s.Insert(ctx, table, data)
}

func (s *fakeStore) Delete(ctx context.Context, table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows[table], id)
	return nil
}

func (s *fakeStore) Find(ctx context.Context, table string, query map[string]any) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, row := range s.rows[table] {
		out = append(out, syncmodel.CloneRow(row))
	}
	return out, nil
}

func (s *fakeStore) FindOne(ctx context.Context, table, id string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[table][id]
	if !ok {
		return nil, nil
	}
	return syncmodel.CloneRow(row), nil
}

func (s *fakeStore) AddToQueue(ctx context.Context, op syncmodel.Operation) error       { return nil }
func (s *fakeStore) GetQueue(ctx context.Context) ([]syncmodel.Operation, error)        { return nil, nil }
func (s *fakeStore) RemoveFromQueue(ctx context.Context, ids []string) error            { return nil }
func (s *fakeStore) UpdateQueueStatus(ctx context.Context, id string, status syncmodel.Status, errMsg string) error {
	return nil
}
func (s *fakeStore) GetLastSync(ctx context.Context) (time.Time, error) { return time.Time{}, nil }
func (s *fakeStore) SetLastSync(ctx context.Context, ts time.Time) error { return nil }
func (s *fakeStore) GetClientID(ctx context.Context) (string, error)    { return "test-client", nil }
func (s *fakeStore) IsInitialized(ctx context.Context) (bool, error)    { return true, nil }
func (s *fakeStore) SetInitialized(ctx context.Context, v bool) error   { return nil }

// fakeRemote never has anything to push or pull; the collection tests
// exercise local optimistic mutation, not wire sync.
type fakeRemote struct{}

func (fakeRemote) Push(ctx context.Context, operations []syncmodel.Operation) (syncmodel.PushResult, error) {
	return syncmodel.PushResult{Success: true}, nil
}
func (fakeRemote) Pull(ctx context.Context, since time.Time, clientID string) ([]syncmodel.Operation, error) {
	return nil, nil
}
func (fakeRemote) Resolve(ctx context.Context, conflict syncmodel.Conflict) (syncmodel.Operation, error) {
	return syncmodel.Operation{}, syncclient.ErrResolveUnsupported
}

func newTestEngine(t *testing.T) *syncclient.Engine {
	t.Helper()
	cfg := syncclient.DefaultConfig()
	cfg.SyncIntervalMS = -1 // disable the auto-sync ticker for deterministic tests
	engine := syncclient.New(newFakeStore(), fakeRemote{}, cfg)
	require.NoError(t, engine.Init(context.Background()))
	t.Cleanup(engine.Destroy)
	return engine
}

func TestCollection_LoadPopulatesData(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	_, err := engine.Create(ctx, "notes", map[string]any{"id": "n1", "title": "hello"})
	require.NoError(t, err)

	view := New(engine, "notes", nil)
	defer view.Close()

	require.NoError(t, view.Reload(ctx))
	assert.Equal(t, 1, view.Count())
	assert.False(t, view.IsEmpty())
}

func TestCollection_CreateIsOptimisticThenAuthoritative(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	view := New(engine, "notes", nil)
	defer view.Close()

	var notified int
	unsub := view.Subscribe(func() { notified++ })
	defer unsub()

	record, err := view.Create(ctx, map[string]any{"id": "n1", "title": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "n1", record["id"])
	assert.Equal(t, 1, view.Count())
	assert.Greater(t, notified, 0)
}

func TestCollection_UpdateMergesFields(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	_, err := engine.Create(ctx, "notes", map[string]any{"id": "n1", "title": "hello", "body": "world"})
	require.NoError(t, err)

	view := New(engine, "notes", nil)
	defer view.Close()
	require.NoError(t, view.Reload(ctx))

	updated, err := view.Update(ctx, "n1", map[string]any{"title": "updated"})
	require.NoError(t, err)
	assert.Equal(t, "updated", updated["title"])
	assert.Equal(t, "world", updated["body"])
}

func TestCollection_DeleteRemovesEntry(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	_, err := engine.Create(ctx, "notes", map[string]any{"id": "n1"})
	require.NoError(t, err)

	view := New(engine, "notes", nil)
	defer view.Close()
	require.NoError(t, view.Reload(ctx))
	require.Equal(t, 1, view.Count())

	require.NoError(t, view.Delete(ctx, "n1"))
	assert.Equal(t, 0, view.Count())
}

func TestCollection_FilterAndFind(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	_, err := engine.Create(ctx, "notes", map[string]any{"id": "n1", "archived": false})
	require.NoError(t, err)
	_, err = engine.Create(ctx, "notes", map[string]any{"id": "n2", "archived": true})
	require.NoError(t, err)

	view := New(engine, "notes", nil)
	defer view.Close()
	require.NoError(t, view.Reload(ctx))

	archived := view.Filter(func(row map[string]any) bool { return row["archived"] == true })
	assert.Len(t, archived, 1)

	found := view.Find(func(row map[string]any) bool { return row["id"] == "n2" })
	require.NotNil(t, found)
	assert.Equal(t, "n2", found["id"])
}

func TestCollection_SubscribeUnsubscribeStopsNotifications(t *testing.T) {
	engine := newTestEngine(t)
	view := New(engine, "notes", nil)
	defer view.Close()

	var notified int
	unsub := view.Subscribe(func() { notified++ })
	unsub()

	_, err := view.Create(context.Background(), map[string]any{"id": "n1"})
	require.NoError(t, err)
	assert.Equal(t, 0, notified)
}
