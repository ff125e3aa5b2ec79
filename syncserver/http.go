package syncserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/driftsync/driftsync/syncmodel"
)

// Authenticator extracts replica and user identity from an inbound
// request, grounded on the teacher's ClientAuthenticator contract
// (oversync/jwt.go's JWTAuth.GetSourceID/GetUserID).
type Authenticator interface {
	ClientID(r *http.Request) (string, error)
	UserID(r *http.Request) (string, error)
}

// HTTPHandlers wires an Engine to plain net/http handlers, so any
// router (gorilla/mux in cmd/driftsyncd, or stdlib ServeMux) can mount
// them, matching the teacher's HTTPSyncHandlers shape.
type HTTPHandlers struct {
	engine *Engine
	auth   Authenticator
}

// NewHTTPHandlers constructs the push/pull/schema-version/status handlers.
func NewHTTPHandlers(engine *Engine, auth Authenticator) *HTTPHandlers {
	return &HTTPHandlers{engine: engine, auth: auth}
}

type pushRequest struct {
	Operations []syncmodel.Operation `json:"operations"`
}

// HandlePush serves POST /sync/push, §4.D's push contract.
func (h *HTTPHandlers) HandlePush(w http.ResponseWriter, r *http.Request) {
	clientID, err := h.auth.ClientID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	userID, err := h.auth.UserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	for i := range req.Operations {
		if req.Operations[i].ClientID == "" {
			req.Operations[i].ClientID = clientID
		}
	}

	result, err := h.engine.Push(r.Context(), req.Operations, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "push_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandlePull serves GET /sync/pull?since=<rfc3339>, §4.D's pull contract.
func (h *HTTPHandlers) HandlePull(w http.ResponseWriter, r *http.Request) {
	clientID, err := h.auth.ClientID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	userID, err := h.auth.UserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "since must be RFC3339")
			return
		}
		since = parsed
	}

	ops, err := h.engine.Pull(r.Context(), since, clientID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "pull_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

// HandleSchemaVersion serves GET /schema-version, the schema/version
// negotiation supplement.
func (h *HTTPHandlers) HandleSchemaVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"schema_version": h.engine.schema.Version()})
}

// StatusResponse mirrors the teacher's StatusResponse, the status/health
// endpoint supplement.
type StatusResponse struct {
	Tables        []string          `json:"tables"`
	SchemaVersion int               `json:"schema_version"`
	Metrics       Snapshot          `json:"metrics"`
	Features      map[string]bool   `json:"features"`
}

// HandleStatus serves GET /status.
func (h *HTTPHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Tables:        h.engine.schema.Tables(),
		SchemaVersion: h.engine.schema.Version(),
		Metrics:       h.engine.Metrics.Snapshot(),
		Features:      map[string]bool{"realtime": true},
	})
}

// HandleHealth serves GET /health.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
