package syncserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/serverstore"
	"github.com/driftsync/driftsync/syncmodel"
)

type fakeAuth struct {
	clientID, userID string
	err              error
}

func (a fakeAuth) ClientID(r *http.Request) (string, error) { return a.clientID, a.err }
func (a fakeAuth) UserID(r *http.Request) (string, error)   { return a.userID, a.err }

func TestHandlePush_AppliesDefaultClientIDAndReturnsResult(t *testing.T) {
	schema := NewSchema(1, syncmodel.TableConfig{Table: "notes"})
	engine := NewEngine(serverstore.NewMemStore(), schema)
	handlers := NewHTTPHandlers(engine, fakeAuth{clientID: "client-1", userID: "user-1"})

	body, _ := json.Marshal(pushRequest{Operations: []syncmodel.Operation{{
		ID: "op-1", Table: "notes", Kind: syncmodel.KindInsert, Data: map[string]any{"id": "n1"},
	}}})
	req := httptest.NewRequest(http.MethodPost, "/sync/push", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handlers.HandlePush(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result syncmodel.PushResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Contains(t, result.Synced, "op-1")
}

func TestHandlePush_UnauthorizedWhenAuthFails(t *testing.T) {
	schema := NewSchema(1)
	engine := NewEngine(serverstore.NewMemStore(), schema)
	handlers := NewHTTPHandlers(engine, fakeAuth{err: assertError{}})

	req := httptest.NewRequest(http.MethodPost, "/sync/push", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handlers.HandlePush(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlePull_ReturnsOperations(t *testing.T) {
	schema := NewSchema(1, syncmodel.TableConfig{Table: "notes"})
	engine := NewEngine(serverstore.NewMemStore(), schema)
	handlers := NewHTTPHandlers(engine, fakeAuth{clientID: "client-1", userID: "user-1"})

	req := httptest.NewRequest(http.MethodGet, "/sync/pull", nil)
	rec := httptest.NewRecorder()
	handlers.HandlePull(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Contains(t, out, "operations")
}

func TestHandleStatus_ReportsSchemaAndTables(t *testing.T) {
	schema := NewSchema(3, syncmodel.TableConfig{Table: "notes"})
	engine := NewEngine(serverstore.NewMemStore(), schema)
	handlers := NewHTTPHandlers(engine, fakeAuth{})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	handlers.HandleStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, 3, out.SchemaVersion)
	assert.Contains(t, out.Tables, "notes")
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	HandleHealth(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type assertError struct{}

func (assertError) Error() string { return "auth failed" }
