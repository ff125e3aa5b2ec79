package syncmodel

import "time"

// Record metadata field names, as carried on every synced row alongside
// its domain columns (§3.2). Adapters key their storage by these names;
// the sync engine never reads a row's domain columns directly.
const (
	FieldVersion   = "_version"
	FieldUpdatedAt = "_updated_at"
	FieldClientID  = "_client_id"
	FieldIsDeleted = "_is_deleted"
)

// TableConfig is one entry of the server's sync schema (§3.6).
type TableConfig struct {
	// Table is the logical name a client sees; PhysicalTable is what the
	// adapter stores under (defaults to Table when empty).
	Table         string
	PhysicalTable string

	// Columns, if non-empty, restricts which domain fields leave the
	// server on pull/transform.
	Columns []string

	// Where returns a row-level access predicate for user_id, or nil if
	// the table carries no per-user ownership.
	Where func(userID string) map[string]any

	// Transform redacts or projects a row before it leaves the server.
	Transform func(row map[string]any) map[string]any

	// ConflictResolution defaults to ResolutionLastWriteWins.
	ConflictResolution ConflictResolution
}

func (t TableConfig) physicalName() string {
	if t.PhysicalTable != "" {
		return t.PhysicalTable
	}
	return t.Table
}

// PhysicalName returns the storage-facing table name.
func (t TableConfig) PhysicalName() string { return t.physicalName() }

// Resolution returns the effective conflict policy, defaulting per §3.6.
func (t TableConfig) Resolution() ConflictResolution {
	if t.ConflictResolution == "" {
		return ResolutionLastWriteWins
	}
	return t.ConflictResolution
}

// Apply projects and redacts row per the table's Columns/Transform config.
func (t TableConfig) Apply(row map[string]any) map[string]any {
	out := row
	if len(t.Columns) > 0 {
		projected := make(map[string]any, len(t.Columns)+4)
		for _, c := range t.Columns {
			if v, ok := row[c]; ok {
				projected[c] = v
			}
		}
		for _, meta := range []string{FieldVersion, FieldUpdatedAt, FieldClientID, FieldIsDeleted} {
			if v, ok := row[meta]; ok {
				projected[meta] = v
			}
		}
		out = projected
	}
	if t.Transform != nil {
		out = t.Transform(out)
	}
	return out
}

// RowVersion, RowUpdatedAt, RowClientID and RowIsDeleted read the sync
// metadata fields off a stored row map, tolerating absence.
func RowVersion(row map[string]any) int64 {
	switch v := row[FieldVersion].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func RowUpdatedAt(row map[string]any) time.Time {
	if t, ok := row[FieldUpdatedAt].(time.Time); ok {
		return t
	}
	return time.Time{}
}

func RowClientID(row map[string]any) string {
	if s, ok := row[FieldClientID].(string); ok {
		return s
	}
	return ""
}

func RowIsDeleted(row map[string]any) bool {
	b, _ := row[FieldIsDeleted].(bool)
	return b
}

// CloneRow returns a shallow copy, so callers can mutate metadata fields
// without aliasing the caller's map.
func CloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
