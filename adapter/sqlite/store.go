// Package sqlite implements clientstore.Store on top of an embedded
// SQLite database via mattn/go-sqlite3, grounded on the teacher's
// (go-oversync/oversqlite) client metadata tables — _sync_client_info,
// _sync_row_meta, _sync_pending — generalized from that package's
// per-business-table typed columns to a generic JSON row store, since
// this adapter has no compile-time knowledge of a consuming app's
// domain schema.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/driftsync/driftsync/syncmodel"
)

// Store is a SQLite-backed clientstore.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New wraps an existing *sql.DB opened with the sqlite3 driver.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

func dataTable(table string) string { return "data_" + table }

// Init creates the metadata tables and enables WAL + foreign keys,
// mirroring the teacher's initializeDatabase.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _sync_client_info (
			id            INTEGER PRIMARY KEY CHECK (id = 1),
			client_id     TEXT NOT NULL,
			last_sync     TEXT NOT NULL DEFAULT '',
			initialized   INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS _sync_queue (
			id         TEXT PRIMARY KEY,
			table_name TEXT NOT NULL,
			kind       TEXT NOT NULL CHECK (kind IN ('insert','update','delete')),
			payload    TEXT NOT NULL,
			ts         TEXT NOT NULL,
			client_id  TEXT NOT NULL,
			version    INTEGER NOT NULL DEFAULT 0,
			status     TEXT NOT NULL DEFAULT 'pending',
			error      TEXT NOT NULL DEFAULT '',
			queued_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create sync metadata table: %w", err)
		}
	}
	return nil
}

func (s *Store) ensureDataTable(ctx context.Context, table string) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id      TEXT PRIMARY KEY,
		payload TEXT NOT NULL
	)`, dataTable(table))
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Store) Insert(ctx context.Context, table string, data map[string]any) error {
	if err := s.ensureDataTable(ctx, table); err != nil {
		return err
	}
	id, _ := data["id"].(string)
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, payload) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`, dataTable(table)),
		id, string(payload))
	return err
}

// Update upserts, matching §6.1's "update creates if missing" contract.
func (s *Store) Update(ctx context.Context, table, id string, data map[string]any) error {
	if err := s.ensureDataTable(ctx, table); err != nil {
		return err
	}
	row := syncmodel.CloneRow(data)
	row["id"] = id
	payload, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, payload) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`, dataTable(table)),
		id, string(payload))
	return err
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	if err := s.ensureDataTable(ctx, table); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, dataTable(table)), id)
	return err
}

func (s *Store) Find(ctx context.Context, table string, query map[string]any) ([]map[string]any, error) {
	if err := s.ensureDataTable(ctx, table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT payload FROM %s`, dataTable(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, err
		}
		if matches(m, query) {
			out = append(out, m)
		}
	}
	return out, rows.Err()
}

func matches(row, query map[string]any) bool {
	for k, v := range query {
		if row[k] != v {
			return false
		}
	}
	return true
}

func (s *Store) FindOne(ctx context.Context, table, id string) (map[string]any, error) {
	if err := s.ensureDataTable(ctx, table); err != nil {
		return nil, err
	}
	var payload string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT payload FROM %s WHERE id = ?`, dataTable(table)), id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) AddToQueue(ctx context.Context, op syncmodel.Operation) error {
	payload, err := json.Marshal(op.Data)
	if err != nil {
		return err
	}
	status := op.Status
	if status == "" {
		status = syncmodel.StatusPending
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO _sync_queue (id, table_name, kind, payload, ts, client_id, version, status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Table, string(op.Kind), string(payload), op.Timestamp.Format(time.RFC3339Nano),
		op.ClientID, op.Version, string(status), op.Error,
	)
	return err
}

func (s *Store) GetQueue(ctx context.Context) ([]syncmodel.Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, table_name, kind, payload, ts, client_id, version, status, error FROM _sync_queue ORDER BY queued_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []syncmodel.Operation
	for rows.Next() {
		var op syncmodel.Operation
		var kind, ts, payload, status string
		if err := rows.Scan(&op.ID, &op.Table, &kind, &payload, &ts, &op.ClientID, &op.Version, &status, &op.Error); err != nil {
			return nil, err
		}
		op.Kind = syncmodel.Kind(kind)
		op.Status = syncmodel.Status(status)
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			op.Timestamp = parsed
		}
		if err := json.Unmarshal([]byte(payload), &op.Data); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *Store) RemoveFromQueue(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM _sync_queue WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) UpdateQueueStatus(ctx context.Context, id string, status syncmodel.Status, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE _sync_queue SET status = ?, error = ? WHERE id = ?`, string(status), errMsg, id)
	return err
}

func (s *Store) GetLastSync(ctx context.Context) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT last_sync FROM _sync_client_info WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows || raw == "" {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func (s *Store) SetLastSync(ctx context.Context, ts time.Time) error {
	return s.upsertClientInfoField(ctx, "last_sync", ts.Format(time.RFC3339Nano))
}

func (s *Store) GetClientID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT client_id FROM _sync_client_info WHERE id = 1`).Scan(&id)
	if err == sql.ErrNoRows || id == "" {
		id = uuid.NewString()
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO _sync_client_info (id, client_id) VALUES (1, ?)
			 ON CONFLICT(id) DO UPDATE SET client_id = excluded.client_id`, id)
		return id, err
	}
	return id, err
}

func (s *Store) IsInitialized(ctx context.Context) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT initialized FROM _sync_client_info WHERE id = 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (s *Store) SetInitialized(ctx context.Context, v bool) error {
	n := 0
	if v {
		n = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO _sync_client_info (id, client_id, initialized) VALUES (1, '', ?)
		 ON CONFLICT(id) DO UPDATE SET initialized = excluded.initialized`, n)
	return err
}

func (s *Store) upsertClientInfoField(ctx context.Context, column, value string) error {
	stmt := fmt.Sprintf(
		`INSERT INTO _sync_client_info (id, client_id, %s) VALUES (1, '', ?)
		 ON CONFLICT(id) DO UPDATE SET %s = excluded.%s`, column, column, column)
	_, err := s.db.ExecContext(ctx, stmt, value)
	return err
}
