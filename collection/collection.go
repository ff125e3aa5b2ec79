// Package collection implements the Reactive Collection View (§4.H): a
// single-table, observable in-memory projection over the Client Sync
// Engine, with optimistic create/update/delete and authoritative reload.
//
// Grounded on no single teacher file (the teacher's client is exercised
// headless from Go tests, with no UI projection layer); the shape here
// reuses the "registry of callbacks under a mutex" idiom already
// established by coordinator.LocalCoordinator and realtime.Server, so
// the module has one consistent observer pattern in three places.
package collection

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/driftsync/driftsync/coordinator"
	"github.com/driftsync/driftsync/syncclient"
)

// Listener is invoked after any observable state change.
type Listener func()

// Collection wraps a single table for UI consumption, §4.H.
type Collection struct {
	engine *syncclient.Engine
	table  string
	query  map[string]any

	mu        sync.Mutex
	data      []map[string]any
	isLoading bool
	err       error

	listeners map[int]Listener
	nextID    int

	unsubCoord func()
}

// New constructs a Collection bound to one table. Call Load to populate
// it; the collection subscribes to the engine's coordinator immediately
// so data-changed/sync-complete messages from other replicas trigger a
// reload even before the first explicit Load.
func New(engine *syncclient.Engine, table string, query map[string]any) *Collection {
	c := &Collection{
		engine:    engine,
		table:     table,
		query:     query,
		listeners: make(map[int]Listener),
	}

	coord, _ := engine.Coordinator()
	_, ch, unsub := coord.SubscribeHandle()
	c.unsubCoord = unsub
	go c.watchCoordinator(ch)

	return c
}

func (c *Collection) watchCoordinator(ch <-chan coordinator.Message) {
	for msg := range ch {
		switch msg.Type {
		case coordinator.SyncComplete:
			_ = c.Reload(context.Background())
		case coordinator.DataChanged:
			payload, ok := msg.Payload.(coordinator.DataChangedPayload)
			if ok && payload.Table == c.table {
				_ = c.Reload(context.Background())
			}
		}
	}
}

// Data returns a snapshot of the current ordered record sequence.
func (c *Collection) Data() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, len(c.data))
	copy(out, c.data)
	return out
}

// IsLoading, Err, Count and IsEmpty are the derived observable fields.
func (c *Collection) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLoading
}

func (c *Collection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Collection) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *Collection) IsEmpty() bool { return c.Count() == 0 }

// Subscribe registers a listener invoked after every observable state
// change; the returned func removes it.
func (c *Collection) Subscribe(l Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Collection) notify() {
	c.mu.Lock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()
	for _, l := range listeners {
		l()
	}
}

// Load re-reads the entire table from the client store using an
// optional override query (nil reuses the collection's configured
// query), per §4.H's load(query?).
func (c *Collection) Load(ctx context.Context, query map[string]any) error {
	c.mu.Lock()
	c.isLoading = true
	c.mu.Unlock()
	c.notify()

	if query == nil {
		query = c.query
	}
	rows, err := c.engine.Find(ctx, c.table, query)

	c.mu.Lock()
	c.isLoading = false
	c.err = err
	if err == nil {
		c.data = rows
	}
	c.mu.Unlock()
	c.notify()
	return err
}

// Reload re-reads using the collection's configured query.
func (c *Collection) Reload(ctx context.Context) error { return c.Load(ctx, nil) }

// Create delegates to the engine, extending data with the provisional
// record immediately then replacing it with the canonical record once
// the engine returns, per §4.H's optimistic contract.
func (c *Collection) Create(ctx context.Context, partial map[string]any) (map[string]any, error) {
	provisional := cloneRow(partial)
	c.mu.Lock()
	c.data = append(c.data, provisional)
	c.mu.Unlock()
	c.notify()

	record, err := c.engine.Create(ctx, c.table, partial)
	c.mu.Lock()
	if err != nil {
		c.err = err
	} else {
		// Locate the provisional entry by reference rather than by the
		// index captured before the unlock: a concurrent Reload/Delete/
		// Create may have shifted the slice while the engine call was
		// in flight.
		if idx := c.indexOfRow(provisional); idx >= 0 {
			c.data[idx] = record
		} else {
			c.data = append(c.data, record)
		}
	}
	c.mu.Unlock()
	c.notify()
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Update merges partial into the existing entry immediately, then
// replaces it with the engine's returned record.
func (c *Collection) Update(ctx context.Context, id string, partial map[string]any) (map[string]any, error) {
	c.mu.Lock()
	idx := c.indexOf(id)
	if idx >= 0 {
		merged := cloneRow(c.data[idx])
		for k, v := range partial {
			merged[k] = v
		}
		c.data[idx] = merged
	}
	c.mu.Unlock()
	c.notify()

	record, err := c.engine.Update(ctx, c.table, id, partial)
	c.mu.Lock()
	if err != nil {
		c.err = err
	} else {
		idx := c.indexOf(id)
		if idx >= 0 {
			c.data[idx] = record
		}
	}
	c.mu.Unlock()
	c.notify()
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Delete removes the entry immediately.
func (c *Collection) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	idx := c.indexOf(id)
	if idx >= 0 {
		c.data = append(c.data[:idx], c.data[idx+1:]...)
	}
	c.mu.Unlock()
	c.notify()

	err := c.engine.Delete(ctx, c.table, id)
	if err != nil {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		c.notify()
	}
	return err
}

// FindOne returns a single record by id, or nil if absent. It reads
// through the engine's store, not the collection's in-memory snapshot
// (per §4.H).
func (c *Collection) FindOne(ctx context.Context, id string) (map[string]any, error) {
	return c.engine.FindOne(ctx, c.table, id)
}

// CreateMany, UpdateMany and DeleteMany are convenience bulk operations
// implemented as sequential single-op calls, per §4.H.
func (c *Collection) CreateMany(ctx context.Context, partials []map[string]any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(partials))
	for _, p := range partials {
		r, err := c.Create(ctx, p)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *Collection) UpdateMany(ctx context.Context, updates map[string]map[string]any) error {
	for id, partial := range updates {
		if _, err := c.Update(ctx, id, partial); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) DeleteMany(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := c.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the first record satisfying pred, or nil.
func (c *Collection) Find(pred func(map[string]any) bool) map[string]any {
	for _, row := range c.Data() {
		if pred(row) {
			return row
		}
	}
	return nil
}

// Filter returns every record satisfying pred, a pure snapshot operation.
func (c *Collection) Filter(pred func(map[string]any) bool) []map[string]any {
	var out []map[string]any
	for _, row := range c.Data() {
		if pred(row) {
			out = append(out, row)
		}
	}
	return out
}

// Map transforms every record in the current snapshot.
func (c *Collection) Map(fn func(map[string]any) map[string]any) []map[string]any {
	rows := c.Data()
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = fn(row)
	}
	return out
}

// Sort returns a sorted copy of the current snapshot; it does not
// mutate the collection's stored order.
func (c *Collection) Sort(less func(a, b map[string]any) bool) []map[string]any {
	rows := c.Data()
	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
	return rows
}

// Close unsubscribes from the coordinator. The collection is unusable
// afterward.
func (c *Collection) Close() {
	if c.unsubCoord != nil {
		c.unsubCoord()
	}
}

func (c *Collection) indexOf(id string) int {
	for i, row := range c.data {
		if rowID(row) == id {
			return i
		}
	}
	return -1
}

func rowID(row map[string]any) string {
	s, _ := row["id"].(string)
	return s
}

// indexOfRow locates a row by identity rather than by "id", so a
// provisional row created before its server-assigned id is known can
// still be found after a concurrent mutation reshuffles the slice.
func (c *Collection) indexOfRow(row map[string]any) int {
	for i, r := range c.data {
		if reflect.ValueOf(r).Pointer() == reflect.ValueOf(row).Pointer() {
			return i
		}
	}
	return -1
}

func cloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row)+1)
	for k, v := range row {
		out[k] = v
	}
	return out
}
