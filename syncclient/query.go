package syncclient

import (
	"context"

	"github.com/driftsync/driftsync/coordinator"
)

// Find reads every row of a table matching query from the client store,
// for use by collection.Collection's load/reload.
func (e *Engine) Find(ctx context.Context, table string, query map[string]any) ([]map[string]any, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.store.Find(ctx, table, query)
}

// FindOne reads a single row by id from the client store.
func (e *Engine) FindOne(ctx context.Context, table, id string) (map[string]any, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.store.FindOne(ctx, table, id)
}

// Coordinator exposes the engine's Intra-Replica Coordinator handle so
// collection views can subscribe to data-changed/sync-complete messages
// without the engine needing to know about any particular view.
func (e *Engine) Coordinator() (*coordinator.LocalCoordinator, coordinator.Handle) {
	return e.coord, e.coordH
}
