package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// State is the Realtime Client's connection state machine, §4.G.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFallback     State = "fallback"
)

// OperationsHandler is invoked for every "operations" event received.
type OperationsHandler func(payload OperationsPayload)

// ClientConfig configures a Client, §4.G.
type ClientConfig struct {
	Endpoint            string
	ClientID            string
	Tables              []string
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	MaxReconnectAttempts int
	HeartbeatTimeout     time.Duration
	Dial                 func(ctx context.Context, url string) (*websocket.Conn, error)
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = time.Second
	}
	if c.MaxReconnectInterval <= 0 {
		c.MaxReconnectInterval = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 45 * time.Second
	}
	return c
}

// Client is the Realtime Client of §4.G, grounded on bringyour-connect's
// PlatformTransport dial/reconnect loop, generalized to JSON events and
// to cenkalti/backoff/v4 for the reconnect delay computation instead of
// a hand-rolled doubling loop.
type Client struct {
	config ClientConfig
	logger *slog.Logger

	onOperations OperationsHandler
	onError      func(error)

	mu           sync.Mutex
	state        State
	lastEventID  atomic.Int64
	disabled     atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient constructs a Realtime Client. Call Connect to start it.
func NewClient(config ClientConfig, onOperations OperationsHandler, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Dial == nil {
		config.Dial = defaultDial
	}
	return &Client{
		config:       config.withDefaults(),
		logger:       logger,
		onOperations: onOperations,
		state:        StateDisconnected,
	}
}

func defaultDial(ctx context.Context, rawURL string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	return conn, err
}

// State returns the client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// OnError registers a callback invoked for terminal (fallback) errors.
func (c *Client) OnError(fn func(error)) { c.onError = fn }

// Connect starts the connect/reconnect loop, per §4.G step 1-2. If the
// client is disabled, it transitions straight to fallback.
func (c *Client) Connect(ctx context.Context) {
	if c.disabled.Load() {
		c.setState(StateFallback)
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.run(runCtx)
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.ReconnectInterval
	b.MaxInterval = c.config.MaxReconnectInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset() // start from InitialInterval rather than the library default

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.setState(StateConnecting)
		err := c.connectOnce(ctx)
		if err == nil {
			return // context cancelled from within connectOnce's read loop
		}

		c.logger.Info("realtime client disconnected", "error", err, "attempt", attempts+1)

		// Consume the backoff delay for this attempt before counting it
		// against the cap, so max_attempts delays are actually used
		// (100,200,400,800,1600 for a cap of 5) instead of giving up one
		// short after only max_attempts-1 delays.
		delay := b.NextBackOff()
		attempts++

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if attempts >= c.config.MaxReconnectAttempts {
			c.setState(StateFallback)
			if c.onError != nil {
				c.onError(fmt.Errorf("realtime: exhausted reconnect attempts: %w", err))
			}
			return
		}
	}
}

// connectOnce opens one stream and runs its read loop until it ends,
// per §4.G steps 2-4.
func (c *Client) connectOnce(ctx context.Context) error {
	endpoint := c.buildURL()
	conn, err := c.config.Dial(ctx, endpoint)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.setState(StateConnected)

	watchdog := time.NewTimer(c.config.HeartbeatTimeout)
	defer watchdog.Stop()
	watchdogExpired := make(chan struct{})
	readDone := make(chan error, 1)

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				readDone <- err
				return
			}
			var ev Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				c.logger.Warn("realtime client: malformed event", "error", err)
				continue
			}
			c.handleEvent(ev, watchdog)
		}
	}()

	go func() {
		select {
		case <-watchdog.C:
			close(watchdogExpired)
		case <-ctx.Done():
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-readDone:
		return err
	case <-watchdogExpired:
		return fmt.Errorf("realtime: heartbeat watchdog expired")
	}
}

func (c *Client) handleEvent(ev Event, watchdog *time.Timer) {
	c.lastEventID.Store(ev.ID)
	watchdog.Reset(c.config.HeartbeatTimeout)

	switch ev.Type {
	case EventOperations:
		var payload OperationsPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			c.logger.Warn("realtime client: bad operations payload", "error", err)
			return
		}
		if c.onOperations != nil {
			c.onOperations(payload)
		}
	case EventHeartbeat, EventConnected:
		// watchdog already reset above; nothing else to do.
	case EventReconnect:
		c.logger.Info("realtime client: server requested reconnect")
	case EventError:
		c.logger.Warn("realtime client: server-sent error event")
	}
}

func (c *Client) buildURL() string {
	u := c.config.Endpoint
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	q := url.Values{}
	q.Set("clientId", c.config.ClientID)
	if len(c.config.Tables) > 0 {
		q.Set("tables", strings.Join(c.config.Tables, ","))
	}
	if id := c.lastEventID.Load(); id > 0 {
		q.Set("lastEventId", strconv.FormatInt(id, 10))
	}
	return u + sep + q.Encode()
}

// Disable fully closes the client, per §4.G disable.
func (c *Client) Disable() {
	c.disabled.Store(true)
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.setState(StateDisconnected)
}

// Enable clears the disabled flag and starts a fresh connect cycle.
func (c *Client) Enable(ctx context.Context) {
	c.disabled.Store(false)
	c.Connect(ctx)
}

// Reconnect resets the attempt counter by tearing down and reconnecting.
func (c *Client) Reconnect(ctx context.Context) {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
	c.Connect(ctx)
}

// Destroy closes the stream, clears timers and drops observers, per
// §4.G destroy.
func (c *Client) Destroy() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.onOperations = nil
	c.onError = nil
	c.setState(StateDisconnected)
}
