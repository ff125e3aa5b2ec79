package syncserver

import "sync/atomic"

// Metrics tracks per-engine push/pull counters, a light echo of the
// teacher's metrics.go: enough for an operator dashboard, nothing more.
type Metrics struct {
	pushed    atomic.Int64
	conflicts atomic.Int64
	errors    atomic.Int64
	pulled    atomic.Int64
}

func (m *Metrics) recordPush(synced, conflicts, errs int) {
	m.pushed.Add(int64(synced))
	m.conflicts.Add(int64(conflicts))
	m.errors.Add(int64(errs))
}

func (m *Metrics) recordPull(n int) { m.pulled.Add(int64(n)) }

// Snapshot is a point-in-time read of the counters.
type Snapshot struct {
	Synced    int64
	Conflicts int64
	Errors    int64
	Pulled    int64
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Synced:    m.pushed.Load(),
		Conflicts: m.conflicts.Load(),
		Errors:    m.errors.Load(),
		Pulled:    m.pulled.Load(),
	}
}
