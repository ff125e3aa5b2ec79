package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/syncmodel"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := New(db, nil)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestStore_InsertFindOneRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "notes", map[string]any{"id": "n1", "title": "hello"}))

	row, err := s.FindOne(ctx, "notes", "n1")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "hello", row["title"])
}

func TestStore_FindOneMissingReturnsNilNoError(t *testing.T) {
	s := newTestStore(t)
	row, err := s.FindOne(context.Background(), "notes", "missing")
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestStore_UpdateUpsertsWhenMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, "notes", "n1", map[string]any{"title": "created via update"}))

	row, err := s.FindOne(ctx, "notes", "n1")
	require.NoError(t, err)
	require.Equal(t, "created via update", row["title"])
	require.Equal(t, "n1", row["id"])
}

func TestStore_DeleteRemovesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "notes", map[string]any{"id": "n1"}))
	require.NoError(t, s.Delete(ctx, "notes", "n1"))

	row, err := s.FindOne(ctx, "notes", "n1")
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestStore_FindFiltersByQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "notes", map[string]any{"id": "n1", "archived": true}))
	require.NoError(t, s.Insert(ctx, "notes", map[string]any{"id": "n2", "archived": false}))

	rows, err := s.Find(ctx, "notes", map[string]any{"archived": true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "n1", rows[0]["id"])

	all, err := s.Find(ctx, "notes", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestStore_QueueLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	op := syncmodel.Operation{
		ID:        "op-1",
		Table:     "notes",
		Kind:      syncmodel.KindInsert,
		Data:      map[string]any{"id": "n1"},
		Timestamp: time.Now().UTC(),
		ClientID:  "client-1",
		Version:   1,
		Status:    syncmodel.StatusPending,
	}
	require.NoError(t, s.AddToQueue(ctx, op))

	queue, err := s.GetQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	require.Equal(t, "op-1", queue[0].ID)
	require.Equal(t, syncmodel.KindInsert, queue[0].Kind)

	require.NoError(t, s.UpdateQueueStatus(ctx, "op-1", syncmodel.StatusError, "boom"))
	queue, err = s.GetQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, syncmodel.StatusError, queue[0].Status)
	require.Equal(t, "boom", queue[0].Error)

	require.NoError(t, s.RemoveFromQueue(ctx, []string{"op-1"}))
	queue, err = s.GetQueue(ctx)
	require.NoError(t, err)
	require.Empty(t, queue)
}

func TestStore_ClientMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.GetClientID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := s.GetClientID(ctx)
	require.NoError(t, err)
	require.Equal(t, id1, id2, "GetClientID must be stable across calls")

	initialized, err := s.IsInitialized(ctx)
	require.NoError(t, err)
	require.False(t, initialized)

	require.NoError(t, s.SetInitialized(ctx, true))
	initialized, err = s.IsInitialized(ctx)
	require.NoError(t, err)
	require.True(t, initialized)

	ts := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.SetLastSync(ctx, ts))
	got, err := s.GetLastSync(ctx)
	require.NoError(t, err)
	require.True(t, got.Equal(ts))
}
