package syncserver

import (
	"time"

	"github.com/driftsync/driftsync/syncmodel"
)

// resolveVersionConflict implements the §4.D conflict resolution table.
// It returns true when the client operation should proceed despite the
// version mismatch (i.e. it is "resolved"), false when it must be
// surfaced as a Conflict.
func resolveVersionConflict(strategy syncmodel.ConflictResolution, clientTimestamp, serverUpdatedAt time.Time) bool {
	switch strategy {
	case syncmodel.ResolutionClientWins:
		return true
	case syncmodel.ResolutionServerWins:
		return false
	default: // last-write-wins, the default per §3.6
		return clientTimestamp.After(serverUpdatedAt)
	}
}
