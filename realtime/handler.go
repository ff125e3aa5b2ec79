package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// IdentityFunc extracts the authenticated user and replica id from an
// upgrade request; callers typically wire this to an adapter/jwtauth
// Auth.
type IdentityFunc func(r *http.Request) (userID, clientID string, err error)

// Handler adapts a Server to an http.Handler that upgrades requests to
// the websocket event stream described in §4.F's "Event wire form".
type Handler struct {
	server   *Server
	identity IdentityFunc
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler constructs a Handler. The identity func governs
// authentication; the endpoint itself imposes no other access control.
func NewHandler(server *Server, identity IdentityFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		server:   server,
		identity: identity,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		logger:   logger,
	}
}

// ServeHTTP implements the connect step of §4.G: the user and client ids
// come from the identity func, and tables is read from the query string
// as a comma-separated list. clientId and lastEventId query parameters
// are not read.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, clientID, err := h.identity(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var tables []string
	if raw := r.URL.Query().Get("tables"); raw != "" {
		tables = strings.Split(raw, ",")
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("realtime: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connectionID := uuid.NewString()
	stream, err := h.server.CreateConnection(connectionID, userID, clientID, tables)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}
	defer h.server.CloseConnection(connectionID)

	go h.drainClientReads(conn, connectionID)

	for ev := range stream {
		raw, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
}

// drainClientReads discards any client->server frames (this protocol is
// server-push only) and detects peer disconnect, per §4.F step 5.
func (h *Handler) drainClientReads(conn *websocket.Conn, connectionID string) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.server.CloseConnection(connectionID)
			return
		}
	}
}
