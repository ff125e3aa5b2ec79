// Package syncclient implements the Client Sync Engine (§4.E): local
// operation queue, optimistic application, batched push, delta pull,
// conflict application, and the auto-sync timer.
package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftsync/driftsync/clientstore"
	"github.com/driftsync/driftsync/coordinator"
	"github.com/driftsync/driftsync/syncmodel"
)

// SyncStatus is the engine's coarse-grained state, surfaced to UI callers.
type SyncStatus string

const (
	StatusIdle     SyncStatus = "idle"
	StatusSyncing  SyncStatus = "syncing"
	StatusError    SyncStatus = "error"
	StatusConflict SyncStatus = "conflict"
	StatusOffline  SyncStatus = "offline"
)

var errNotInitialized = errors.New("SyncEngine not initialized")

// StatusCallback is invoked whenever sync_status changes.
type StatusCallback func(SyncStatus)

// ErrorCallback is invoked when a whole-cycle (transport) error escapes sync().
type ErrorCallback func(error)

// Engine is the Client Sync Engine, one instance per local replica.
type Engine struct {
	store    clientstore.Store
	remote   Remote
	config   Config
	logger   *slog.Logger
	clock    syncmodel.Clock
	coord    *coordinator.LocalCoordinator
	coordH   coordinator.Handle
	coordCh  <-chan coordinator.Message
	unsub    func()

	mu            sync.Mutex
	clientID      string
	lastSync      time.Time
	isInitialized bool
	initDone      bool
	isSyncing     atomic.Bool
	status        SyncStatus
	conflicts     []syncmodel.Conflict

	uploadPaused   atomic.Bool
	downloadPaused atomic.Bool

	onStatus StatusCallback
	onError  ErrorCallback
	reloader ReloadFunc

	stopTicker context.CancelFunc
	wg         sync.WaitGroup
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }
func WithClock(c syncmodel.Clock) Option { return func(e *Engine) { e.clock = c } }
func WithCoordinator(c *coordinator.LocalCoordinator) Option { return func(e *Engine) { e.coord = c } }
func WithStatusCallback(cb StatusCallback) Option { return func(e *Engine) { e.onStatus = cb } }
func WithErrorCallback(cb ErrorCallback) Option { return func(e *Engine) { e.onError = cb } }

// New constructs a Client Sync Engine. Call Init before any other method.
func New(store clientstore.Store, remote Remote, config Config, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		remote: remote,
		config: config,
		logger: slog.Default(),
		clock:  time.Now,
		status: StatusIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.coord == nil {
		e.coord = coordinator.NewLocalCoordinator()
	}
	e.coordH, e.coordCh, e.unsub = e.coord.SubscribeHandle()
	return e
}

// Init loads replica identity/state, runs the bootstrap pull if this is a
// fresh replica, and starts the auto-sync ticker per §4.E.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.initDone {
		e.mu.Unlock()
		e.logger.Warn("SyncEngine.Init called twice; ignoring")
		return nil
	}
	e.mu.Unlock()

	if err := e.store.Init(ctx); err != nil {
		return fmt.Errorf("init client store: %w", err)
	}

	clientID, err := e.store.GetClientID(ctx)
	if err != nil {
		return fmt.Errorf("get client id: %w", err)
	}
	lastSync, err := e.store.GetLastSync(ctx)
	if err != nil {
		return fmt.Errorf("get last sync: %w", err)
	}
	initialized, err := e.store.IsInitialized(ctx)
	if err != nil {
		return fmt.Errorf("get initialized flag: %w", err)
	}

	e.mu.Lock()
	e.clientID = clientID
	e.lastSync = lastSync
	e.isInitialized = initialized
	e.mu.Unlock()

	if !initialized {
		if err := e.bootstrapPull(ctx); err != nil {
			return fmt.Errorf("bootstrap pull: %w", err)
		}
		if err := e.store.SetInitialized(ctx, true); err != nil {
			return fmt.Errorf("set initialized: %w", err)
		}
		e.mu.Lock()
		e.isInitialized = true
		e.mu.Unlock()
	}

	e.startAutoSync()

	e.mu.Lock()
	e.initDone = true
	e.mu.Unlock()
	return nil
}

// bootstrapPull is the very first pull a fresh replica performs, from
// since=0, per the GLOSSARY's definition.
func (e *Engine) bootstrapPull(ctx context.Context) error {
	ops, err := e.remote.Pull(ctx, time.Time{}, e.clientID)
	if err != nil {
		return err
	}
	var maxTS time.Time
	for _, op := range ops {
		if op.ClientID == e.clientID {
			continue // own echo
		}
		if err := e.applyAuthoritative(ctx, op); err != nil {
			e.logger.Error("bootstrap pull: failed to apply op", "error", err, "op_id", op.ID)
			continue
		}
		if op.Timestamp.After(maxTS) {
			maxTS = op.Timestamp
		}
	}
	if !maxTS.IsZero() {
		e.mu.Lock()
		e.lastSync = maxTS
		e.mu.Unlock()
		_ = e.store.SetLastSync(ctx, maxTS)
	}
	return nil
}

func (e *Engine) requireInitialized() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initDone {
		return errNotInitialized
	}
	return nil
}

func (e *Engine) setStatus(s SyncStatus) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
	if e.onStatus != nil {
		e.onStatus(s)
	}
}

// Status returns the current sync_status.
func (e *Engine) Status() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// ClientID returns the replica's stable identifier.
func (e *Engine) ClientID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clientID
}

// PauseUploads / ResumeUploads / PausePulls / ResumePulls are the pause
// switches supplemented from the teacher (§ supplemented features #3).
func (e *Engine) PauseUploads()   { e.uploadPaused.Store(true) }
func (e *Engine) ResumeUploads()  { e.uploadPaused.Store(false) }
func (e *Engine) PausePulls()     { e.downloadPaused.Store(true) }
func (e *Engine) ResumePulls()    { e.downloadPaused.Store(false) }

// Destroy stops the auto-sync ticker and releases the coordinator
// subscription. The client store is left intact.
func (e *Engine) Destroy() {
	if e.stopTicker != nil {
		e.stopTicker()
	}
	e.wg.Wait()
	if e.unsub != nil {
		e.unsub()
	}
}
