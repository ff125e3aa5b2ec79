package httpremote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/syncclient"
	"github.com/driftsync/driftsync/syncmodel"
)

func TestRemote_Push_SendsBearerTokenAndDecodesResult(t *testing.T) {
	var gotAuth string
	var gotBody pushRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(syncmodel.PushResult{Success: true, Synced: []string{"op-1"}})
	}))
	defer srv.Close()

	remote := New(srv.URL, "test-token")
	result, err := remote.Push(context.Background(), []syncmodel.Operation{{ID: "op-1", Table: "notes"}})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, []string{"op-1"}, result.Synced)
	assert.Len(t, gotBody.Operations, 1)
}

func TestRemote_Push_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	remote := New(srv.URL, "token")
	_, err := remote.Push(context.Background(), nil)
	assert.Error(t, err)
}

func TestRemote_Pull_EncodesSinceAndDecodesOperations(t *testing.T) {
	var gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		json.NewEncoder(w).Encode(pullResponse{Operations: []syncmodel.Operation{{ID: "op-2"}}})
	}))
	defer srv.Close()

	remote := New(srv.URL, "token")
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ops, err := remote.Pull(context.Background(), since, "client-1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "op-2", ops[0].ID)
	assert.NotEmpty(t, gotSince)
}

func TestRemote_Resolve_ReturnsUnsupported(t *testing.T) {
	remote := New("http://example.test", "token")
	_, err := remote.Resolve(context.Background(), syncmodel.Conflict{})
	assert.ErrorIs(t, err, syncclient.ErrResolveUnsupported)
}
