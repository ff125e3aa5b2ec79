// Package coordinator implements the Intra-Replica Coordinator (§4.I): a
// named pub/sub channel used to keep co-located replicas of one client
// identity (e.g. browser tabs, or process-local goroutine "replicas") in
// sync without round-tripping through the server.
package coordinator

import "sync"

// MessageType names the two coordinator message kinds §4.I defines.
type MessageType string

const (
	DataChanged  MessageType = "data-changed"
	SyncComplete MessageType = "sync-complete"
)

// DataChangedPayload accompanies a DataChanged message.
type DataChangedPayload struct {
	Table string
	Op    string
	Data  map[string]any
}

// Message is one event delivered through the Coordinator.
type Message struct {
	Type    MessageType
	Payload any // DataChangedPayload for DataChanged, nil for SyncComplete
}

// Coordinator is the pub/sub contract Design Note 4 asks for: implementers
// may back it with an inter-process bus, a local socket, or the in-memory
// LocalCoordinator below.
type Coordinator interface {
	Broadcast(msg Message)
	Subscribe() (ch <-chan Message, unsubscribe func())
	Close()
}

// subscriber is one Subscribe call; its id lets LocalCoordinator filter out
// a subscriber's own broadcasts the way §4.I requires ("tolerate
// self-send-echo ... by ignoring messages from its own handle").
type subscriber struct {
	id int
	ch chan Message
}

// LocalCoordinator is an in-process, channel-based Coordinator: one
// instance per sync engine, shared by every co-located replica of the
// same client identity within this process.
type LocalCoordinator struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]*subscriber
	closed  bool
	sending sync.Map // not read by any method; echo suppression goes through Handle ids in BroadcastFrom
}

// NewLocalCoordinator constructs a ready-to-use coordinator.
func NewLocalCoordinator() *LocalCoordinator {
	return &LocalCoordinator{subs: make(map[int]*subscriber)}
}

// Broadcast delivers msg to every current subscriber; it never excludes
// any subscriber. Use BroadcastFrom with the Handle returned by
// SubscribeHandle to get self-echo suppression, matching how syncclient
// uses this type: the
// engine that mutates local data holds its own subscription handle and
// calls BroadcastFrom(handle, ...) so it doesn't react to its own event.
func (c *LocalCoordinator) Broadcast(msg Message) {
	c.mu.Lock()
	targets := make([]*subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		targets = append(targets, s)
	}
	c.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- msg:
		default:
			// Slow subscriber: drop rather than block the broadcaster.
		}
	}
}

// Handle is returned by SubscribeHandle and identifies the subscription for
// echo-suppressing broadcasts.
type Handle struct {
	id int
	c  *LocalCoordinator
}

// SubscribeHandle behaves like Subscribe but also returns a Handle usable
// with BroadcastFrom to suppress self-echo.
func (c *LocalCoordinator) SubscribeHandle() (Handle, <-chan Message, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	s := &subscriber{id: id, ch: make(chan Message, 32)}
	c.subs[id] = s
	unsubscribe := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if existing, ok := c.subs[id]; ok {
			close(existing.ch)
			delete(c.subs, id)
		}
	}
	return Handle{id: id, c: c}, s.ch, unsubscribe
}

// Subscribe implements Coordinator.
func (c *LocalCoordinator) Subscribe() (<-chan Message, func()) {
	_, ch, unsub := c.SubscribeHandle()
	return ch, unsub
}

// BroadcastFrom delivers msg to every subscriber except the one owning h.
func (c *LocalCoordinator) BroadcastFrom(h Handle, msg Message) {
	c.mu.Lock()
	targets := make([]*subscriber, 0, len(c.subs))
	for id, s := range c.subs {
		if id == h.id {
			continue
		}
		targets = append(targets, s)
	}
	c.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- msg:
		default:
		}
	}
}

// Close tears down every subscriber channel.
func (c *LocalCoordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, s := range c.subs {
		close(s.ch)
		delete(c.subs, id)
	}
}

// NullCoordinator is a no-op Coordinator for single-replica embeddings
// (Design Note 4's explicit allowance).
type NullCoordinator struct{}

func (NullCoordinator) Broadcast(Message)                        {}
func (NullCoordinator) Subscribe() (<-chan Message, func())      { ch := make(chan Message); return ch, func() {} }
func (NullCoordinator) Close()                                   {}
