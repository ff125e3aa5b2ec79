package syncclient

import "time"

// ConflictPolicy names the client-side strategy used to resolve a queued
// Conflict when the server could not auto-resolve it (§4.E conflict
// resolution).
type ConflictPolicy string

const (
	PolicyClientWins    ConflictPolicy = "client-wins"
	PolicyServerWins    ConflictPolicy = "server-wins"
	PolicyLastWriteWins ConflictPolicy = "last-write-wins"
	PolicyManual        ConflictPolicy = "manual"
)

// Config holds the client engine's tunables, §6.5.
type Config struct {
	// SyncIntervalMS: 0 means sync synchronously after every mutation;
	// negative disables the auto-sync ticker entirely; positive runs a
	// ticker at that period.
	SyncIntervalMS int
	BatchSize      int
	ConflictPolicy ConflictPolicy
	RetryAttempts  int
	RetryDelayMS   int
}

// DefaultConfig mirrors the defaults named in §6.5.
func DefaultConfig() Config {
	return Config{
		SyncIntervalMS: 30000,
		BatchSize:      50,
		ConflictPolicy: PolicyLastWriteWins,
		RetryAttempts:  3,
		RetryDelayMS:   1000,
	}
}

func (c Config) syncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMS) * time.Millisecond
}
