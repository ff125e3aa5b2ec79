package syncserver

import (
	"sync"

	"github.com/driftsync/driftsync/syncmodel"
)

// Schema is the server's sync configuration: the set of logical tables
// clients may push to and pull from (§3.6), grounded on the teacher's
// RegisteredTable/registeredTables map in oversync.SyncService.
type Schema struct {
	mu      sync.RWMutex
	tables  map[string]syncmodel.TableConfig
	version int
}

// NewSchema builds a Schema at the given schema version (§ supplemented
// feature: schema/version negotiation), registering tables immediately.
func NewSchema(version int, tables ...syncmodel.TableConfig) *Schema {
	s := &Schema{tables: make(map[string]syncmodel.TableConfig), version: version}
	for _, t := range tables {
		s.RegisterTable(t)
	}
	return s
}

// RegisterTable adds or replaces a table's configuration.
func (s *Schema) RegisterTable(t syncmodel.TableConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[t.Table] = t
}

// Table looks up a logical table's configuration.
func (s *Schema) Table(name string) (syncmodel.TableConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	return t, ok
}

// Tables returns every configured logical table name.
func (s *Schema) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	return names
}

// Version returns the schema's negotiated version number.
func (s *Schema) Version() int { return s.version }
