package syncclient

import (
	"context"
	"time"

	"github.com/driftsync/driftsync/syncmodel"
)

// Remote is the request/response RPC surface a client engine talks to
// (§6.4). Any duplex transport can implement it; driftsync ships an
// HTTP implementation alongside cmd/driftsync-cli.
type Remote interface {
	Push(ctx context.Context, operations []syncmodel.Operation) (syncmodel.PushResult, error)
	Pull(ctx context.Context, since time.Time, clientID string) ([]syncmodel.Operation, error)
	// Resolve is optional: implementations that don't support manual
	// conflict resolution may return ErrResolveUnsupported.
	Resolve(ctx context.Context, conflict syncmodel.Conflict) (syncmodel.Operation, error)
}

// ErrResolveUnsupported is returned by a Remote that has no server-side
// manual-resolution endpoint; the manual policy then leaves the conflict
// pending, per §4.E.
var ErrResolveUnsupported = errResolveUnsupported{}

type errResolveUnsupported struct{}

func (errResolveUnsupported) Error() string { return "remote: manual conflict resolution unsupported" }
