package syncclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/syncmodel"
)

type fakeStore struct {
	mu       sync.Mutex
	rows     map[string]map[string]map[string]any
	queue    []syncmodel.Operation
	lastSync time.Time
	clientID string
	inited   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]map[string]map[string]any{}, clientID: "test-client"}
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

func (s *fakeStore) AddToQueue(ctx context.Context, op syncmodel.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, op)
	return nil
}

func (s *fakeStore) GetQueue(ctx context.Context) ([]syncmodel.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]syncmodel.Operation, len(s.queue))
	copy(out, s.queue)
	return out, nil
}

func (s *fakeStore) RemoveFromQueue(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	remove := map[string]struct{}{}
	for _, id := range ids {
		remove[id] = struct{}{}
	}
	var kept []syncmodel.Operation
	for _, op := range s.queue {
		if _, drop := remove[op.ID]; !drop {
			kept = append(kept, op)
		}
	}
	s.queue = kept
	return nil
}

func (s *fakeStore) UpdateQueueStatus(ctx context.Context, id string, status syncmodel.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, op := range s.queue {
		if op.ID == id {
			s.queue[i].Status = status
			s.queue[i].Error = errMsg
		}
	}
	return nil
}

func (s *fakeStore) GetLastSync(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync, nil
}

func (s *fakeStore) SetLastSync(ctx context.Context, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = ts
	return nil
}

func (s *fakeStore) GetClientID(ctx context.Context) (string, error) { return s.clientID, nil }
func (s *fakeStore) IsInitialized(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inited, nil
}
func (s *fakeStore) SetInitialized(ctx context.Context, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inited = v
	return nil
}

type fakeRemote struct {
	mu         sync.Mutex
	pushCalls  [][]syncmodel.Operation
	pushResult syncmodel.PushResult
	pushErr    error
	pullOps    []syncmodel.Operation
	pullErr    error
}

func (r *fakeRemote) Push(ctx context.Context, operations []syncmodel.Operation) (syncmodel.PushResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushCalls = append(r.pushCalls, operations)
	if r.pushErr != nil {
		return syncmodel.PushResult{}, r.pushErr
	}
	if r.pushResult.Synced == nil && r.pushResult.Conflicts == nil && r.pushResult.Errors == nil {
		synced := make([]string, 0, len(operations))
		for _, op := range operations {
			synced = append(synced, op.ID)
		}
		return syncmodel.PushResult{Success: true, Synced: synced}, nil
	}
	return r.pushResult, nil
}

func (r *fakeRemote) Pull(ctx context.Context, since time.Time, clientID string) ([]syncmodel.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pullOps, r.pullErr
}

func (r *fakeRemote) Resolve(ctx context.Context, conflict syncmodel.Conflict) (syncmodel.Operation, error) {
	return syncmodel.Operation{}, ErrResolveUnsupported
}

func newTestEngine(t *testing.T, store *fakeStore, remote *fakeRemote, cfg Config) *Engine {
	t.Helper()
	e := New(store, remote, cfg)
	require.NoError(t, e.Init(context.Background()))
	t.Cleanup(e.Destroy)
	return e
}

func TestEngine_Create_QueuesOperationAndInsertsLocally(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncIntervalMS = -1
	store := newFakeStore()
	remote := &fakeRemote{}
	e := newTestEngine(t, store, remote, cfg)

	record, err := e.Create(context.Background(), "notes", map[string]any{"id": "n1", "title": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "n1", record["id"])

	queue, _ := store.GetQueue(context.Background())
	assert.Len(t, queue, 1)
	assert.Equal(t, syncmodel.KindInsert, queue[0].Kind)
}

func TestEngine_Sync_PushesQueueAndClearsOnSuccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncIntervalMS = -1
	store := newFakeStore()
	remote := &fakeRemote{}
	e := newTestEngine(t, store, remote, cfg)

	_, err := e.Create(context.Background(), "notes", map[string]any{"id": "n1"})
	require.NoError(t, err)

	ran, err := e.Sync(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, ran)

	queue, _ := store.GetQueue(context.Background())
	assert.Empty(t, queue)
	assert.Equal(t, StatusIdle, e.Status())
}

func TestEngine_Sync_PullAppliesRemoteOperationsExceptOwnEchoes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncIntervalMS = -1
	store := newFakeStore()
	remote := &fakeRemote{pullOps: []syncmodel.Operation{
		{ID: "op-remote", Table: "notes", Kind: syncmodel.KindInsert, ClientID: "other-client",
			Data: map[string]any{"id": "n2", "title": "from server"}, Timestamp: time.Now()},
		{ID: "op-echo", Table: "notes", Kind: syncmodel.KindInsert, ClientID: "test-client",
			Data: map[string]any{"id": "n3"}, Timestamp: time.Now()},
	}}
	e := newTestEngine(t, store, remote, cfg)

	_, err := e.Sync(context.Background(), true)
	require.NoError(t, err)

	row, err := store.FindOne(context.Background(), "notes", "n2")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "from server", row["title"])

	echoRow, err := store.FindOne(context.Background(), "notes", "n3")
	require.NoError(t, err)
	assert.Nil(t, echoRow, "own echo must not be applied")
}

func TestEngine_Sync_LastWriteWinsResolvesConflictTowardNewerSide(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncIntervalMS = -1
	cfg.ConflictPolicy = PolicyLastWriteWins
	store := newFakeStore()
	remote := &fakeRemote{}
	e := newTestEngine(t, store, remote, cfg)

	_, err := e.Create(context.Background(), "notes", map[string]any{"id": "n1", "title": "client version"})
	require.NoError(t, err)

	serverData := map[string]any{
		"id": "n1", "title": "server version",
		syncmodel.FieldUpdatedAt: time.Now().Add(time.Hour),
	}
	remote.pushResult = syncmodel.PushResult{
		Success: true,
		Conflicts: []syncmodel.Conflict{{
			Operation:  syncmodel.Operation{ID: "will-not-match", Table: "notes"},
			ServerData: serverData,
			ClientData: map[string]any{"id": "n1", "title": "client version"},
		}},
	}

	_, err = e.Sync(context.Background(), true)
	require.NoError(t, err)

	row, err := store.FindOne(context.Background(), "notes", "n1")
	require.NoError(t, err)
	assert.Equal(t, "server version", row["title"])
}

func TestEngine_Sync_NotForcedSkipsWhenAlreadySyncing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncIntervalMS = -1
	store := newFakeStore()
	remote := &fakeRemote{}
	e := newTestEngine(t, store, remote, cfg)

	e.isSyncing.Store(true)
	ran, err := e.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, ran)
}
