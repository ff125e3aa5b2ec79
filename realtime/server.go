package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftsync/driftsync/syncmodel"
)

// ErrServiceUnavailable is returned by CreateConnection when the server
// has been disabled.
var ErrServiceUnavailable = fmt.Errorf("realtime: service unavailable")

// ServerConfig configures a Server, §4.F.
type ServerConfig struct {
	MaxPerUser        int
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration // 0 disables the idle-connection reaper
	AllowedTables     []string      // empty means no restriction
	Clock             syncmodel.Clock
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.MaxPerUser <= 0 {
		c.MaxPerUser = 4
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

type connection struct {
	id           string
	userID       string
	clientID     string
	tables       map[string]struct{} // empty means "all tables"
	sink         chan Event
	createdAt    time.Time
	lastActivity atomic.Int64 // unix nano
	done         chan struct{}
	closeOnce    sync.Once
}

func (c *connection) touch(now time.Time) { c.lastActivity.Store(now.UnixNano()) }

func (c *connection) idleSince(now time.Time) time.Duration {
	last := time.Unix(0, c.lastActivity.Load())
	return now.Sub(last)
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		close(c.sink)
	})
}

// Server is the Realtime Server of §4.F: a connection registry that fans
// sync operations out to long-lived per-replica event streams.
type Server struct {
	config ServerConfig
	logger *slog.Logger

	mu          sync.Mutex
	connections map[string]*connection
	byUser      map[string][]string // user_id -> connection ids, oldest first
	disabled    bool
	nextEventID atomic.Int64
	evicted     map[string]*atomic.Int64

	stopHeartbeat context.CancelFunc
	wg            sync.WaitGroup
}

// NewServer constructs a Realtime Server and starts its heartbeat loop.
func NewServer(config ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:      config.withDefaults(),
		logger:      logger,
		connections: make(map[string]*connection),
		byUser:      make(map[string][]string),
		evicted:     make(map[string]*atomic.Int64),
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopHeartbeat = cancel
	s.wg.Add(1)
	go s.heartbeatLoop(ctx)
	return s
}

// CreateConnection registers a new subscriber and returns its event
// stream, per §4.F steps 1-4.
func (s *Server) CreateConnection(connectionID, userID, clientID string, tables []string) (<-chan Event, error) {
	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		return nil, ErrServiceUnavailable
	}

	if len(s.byUser[userID]) >= s.config.MaxPerUser {
		oldest := s.byUser[userID][0]
		s.evictLocked(oldest)
	}

	effective := s.effectiveTables(tables)
	now := s.config.Clock()
	conn := &connection{
		id:        connectionID,
		userID:    userID,
		clientID:  clientID,
		tables:    effective,
		sink:      make(chan Event, 32),
		createdAt: now,
		done:      make(chan struct{}),
	}
	conn.touch(now)
	s.connections[connectionID] = conn
	s.byUser[userID] = append(s.byUser[userID], connectionID)
	s.mu.Unlock()

	s.emit(conn, EventConnected, ConnectedPayload{ConnectionID: connectionID, Tables: tablesSlice(effective)})
	return conn.sink, nil
}

func (s *Server) effectiveTables(requested []string) map[string]struct{} {
	if len(s.config.AllowedTables) == 0 {
		return toSet(requested)
	}
	allowed := toSet(s.config.AllowedTables)
	if len(requested) == 0 {
		return map[string]struct{}{}
	}
	out := map[string]struct{}{}
	for _, t := range requested {
		if _, ok := allowed[t]; ok {
			out[t] = struct{}{}
		}
	}
	return out
}

// CloseConnection deregisters a connection, per §4.F step 5 (stream
// cancelled by the peer).
func (s *Server) CloseConnection(connectionID string) {
	s.mu.Lock()
	conn, ok := s.connections[connectionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.removeLocked(conn)
	s.mu.Unlock()
	conn.close()
}

// evictLocked closes the oldest connection for a user to make room;
// caller holds s.mu.
func (s *Server) evictLocked(connectionID string) {
	conn, ok := s.connections[connectionID]
	if !ok {
		return
	}
	s.removeLocked(conn)
	counter, ok := s.evicted[conn.userID]
	if !ok {
		counter = &atomic.Int64{}
		s.evicted[conn.userID] = counter
	}
	counter.Add(1)
	go conn.close()
}

func (s *Server) removeLocked(conn *connection) {
	delete(s.connections, conn.id)
	ids := s.byUser[conn.userID]
	for i, id := range ids {
		if id == conn.id {
			s.byUser[conn.userID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byUser[conn.userID]) == 0 {
		delete(s.byUser, conn.userID)
	}
}

// EvictedCount reports how many connections have been evicted for a
// user, per the supplemented connection-eviction accounting.
func (s *Server) EvictedCount(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.evicted[userID]; ok {
		return c.Load()
	}
	return 0
}

// Broadcast fans operations out to every connection except the one
// belonging to excludeClientID, per §4.F's broadcast algorithm. It
// satisfies syncserver.Notifier directly (ctx is unused: fan-out is
// in-process and never blocks on I/O outside the per-connection sink).
func (s *Server) Broadcast(ctx context.Context, operations []syncmodel.Operation, excludeClientID string) {
	if len(operations) == 0 {
		return
	}
	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		return
	}
	conns := make([]*connection, 0, len(s.connections))
	for _, c := range s.connections {
		if c.clientID == excludeClientID {
			continue
		}
		conns = append(conns, c)
	}
	s.mu.Unlock()

	fanned := 0
	for _, conn := range conns {
		filtered := filterByTables(operations, conn.tables)
		if len(filtered) == 0 {
			continue
		}
		s.emit(conn, EventOperations, OperationsPayload{Operations: filtered, Tables: distinctTables(filtered)})
		fanned++
	}
	if fanned > 0 {
		s.logger.Debug("broadcast", "connections", fanned, "operations", len(operations))
	}
}

// SendToUser fans operations out to one user's connections only, per
// §4.F's send_to_user.
func (s *Server) SendToUser(userID string, operations []syncmodel.Operation) {
	if len(operations) == 0 {
		return
	}
	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		return
	}
	ids := append([]string(nil), s.byUser[userID]...)
	conns := make([]*connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()

	for _, conn := range conns {
		filtered := filterByTables(operations, conn.tables)
		if len(filtered) == 0 {
			continue
		}
		s.emit(conn, EventOperations, OperationsPayload{Operations: filtered, Tables: distinctTables(filtered)})
	}
}

// Disable stops accepting new connections; existing connections remain
// open until CloseConnection or Destroy.
func (s *Server) Disable() {
	s.mu.Lock()
	s.disabled = true
	s.mu.Unlock()
}

// Enable resumes accepting new connections.
func (s *Server) Enable() {
	s.mu.Lock()
	s.disabled = false
	s.mu.Unlock()
}

func (s *Server) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickHeartbeat()
		}
	}
}

func (s *Server) tickHeartbeat() {
	now := s.config.Clock()
	s.mu.Lock()
	conns := make([]*connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var stale []*connection
	for _, conn := range conns {
		if s.config.ConnectionTimeout > 0 && conn.idleSince(now) > s.config.ConnectionTimeout {
			stale = append(stale, conn)
			continue
		}
		s.emit(conn, EventHeartbeat, HeartbeatPayload{Timestamp: now})
	}
	for _, conn := range stale {
		s.CloseConnection(conn.id)
	}
}

// emit sends one event to a connection's sink; a send that would block
// (the peer isn't draining) closes that connection per §4.F's "any
// single send that fails closes that connection" rule.
func (s *Server) emit(conn *connection, typ EventType, payload any) {
	ev := Event{
		ID:        s.nextEventID.Add(1),
		Type:      typ,
		Data:      encodePayload(payload),
		Timestamp: s.config.Clock(),
	}
	select {
	case <-conn.done:
		return
	default:
	}
	select {
	case conn.sink <- ev:
		conn.touch(s.config.Clock())
	default:
		s.logger.Warn("realtime connection send failed, closing", "connection_id", conn.id)
		s.CloseConnection(conn.id)
	}
}

// Destroy stops the heartbeat and closes every connection, per §4.F's
// destroy.
func (s *Server) Destroy() {
	s.stopHeartbeat()
	s.wg.Wait()

	s.mu.Lock()
	conns := make([]*connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.connections = make(map[string]*connection)
	s.byUser = make(map[string][]string)
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}

func tablesSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}

func filterByTables(operations []syncmodel.Operation, tables map[string]struct{}) []syncmodel.Operation {
	if len(tables) == 0 {
		return operations
	}
	out := make([]syncmodel.Operation, 0, len(operations))
	for _, op := range operations {
		if _, ok := tables[op.Table]; ok {
			out = append(out, op)
		}
	}
	return out
}

func distinctTables(operations []syncmodel.Operation) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, op := range operations {
		if _, ok := seen[op.Table]; ok {
			continue
		}
		seen[op.Table] = struct{}{}
		out = append(out, op.Table)
	}
	return out
}
