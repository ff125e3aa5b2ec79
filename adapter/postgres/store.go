// Package postgres implements serverstore.Store on top of PostgreSQL via
// pgx/v5, generalizing the teacher's (go-oversync) sidecar sync-schema
// design: each registered table is stored in its own sync_rows_<table>
// table holding the row as a JSONB payload next to version, updated_at,
// client_id and is_deleted columns, instead of the teacher's separate
// sync.sync_row_meta/sync_state sidecar tables. Row storage is JSONB so
// the adapter needs no per-table Go struct.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftsync/driftsync/serverstore"
	"github.com/driftsync/driftsync/syncmodel"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting Store's
// methods run unchanged whether backed by the pool directly or by a
// transaction handed out through RunInTx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a PostgreSQL-backed serverstore.Store.
type Store struct {
	pool   *pgxpool.Pool
	db     querier
	logger *slog.Logger
}

// New wraps an existing pgxpool.Pool. Callers are expected to have run
// the migrations in adapter/postgres/migrations (see migrations.Apply) first.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, db: pool, logger: logger}
}

func rowTable(table string) string { return "sync_rows_" + table }

func (s *Store) Insert(ctx context.Context, table string, data map[string]any) (map[string]any, error) {
	id, _ := data["id"].(string)
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	clientID, _ := data[syncmodel.FieldClientID].(string)

	_, err = s.db.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, payload, version, updated_at, client_id, is_deleted)
		 VALUES ($1, $2, 1, $3, $4, false)`, rowTable(table)),
		id, payload, data[syncmodel.FieldUpdatedAt], clientID,
	)
	if err != nil {
		return nil, err
	}
	return s.FindOne(ctx, table, id)
}

func (s *Store) Update(ctx context.Context, table, id string, data map[string]any, expectedVersion int64) (map[string]any, error) {
	current, err := s.FindOne(ctx, table, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, serverstore.ErrNotFound
	}
	merged := syncmodel.CloneRow(current)
	for k, v := range data {
		merged[k] = v
	}
	merged["id"] = id
	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	tag, err := s.db.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET payload = $1, version = version + 1, updated_at = $2,
		   client_id = $3, is_deleted = false
		 WHERE id = $4 AND version = $5`, rowTable(table)),
		payload, data[syncmodel.FieldUpdatedAt], data[syncmodel.FieldClientID], id, expectedVersion,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, serverstore.ErrVersionConflict
	}
	return s.FindOne(ctx, table, id)
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET is_deleted = true, updated_at = $1 WHERE id = $2`, rowTable(table)),
		time.Now(), id,
	)
	return err
}

func (s *Store) FindOne(ctx context.Context, table, id string) (map[string]any, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT payload, version, updated_at, client_id, is_deleted
		 FROM %s WHERE id = $1`, rowTable(table)), id)
	return scanRow(row)
}

func (s *Store) Find(ctx context.Context, table string, filter map[string]any) ([]map[string]any, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT payload, version, updated_at, client_id, is_deleted FROM %s`, rowTable(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		m, err := scanRowValues(rows)
		if err != nil {
			return nil, err
		}
		if matchesFilter(m, filter) {
			out = append(out, m)
		}
	}
	return out, rows.Err()
}

func matchesFilter(row, filter map[string]any) bool {
	for k, v := range filter {
		if row[k] != v {
			return false
		}
	}
	return true
}

func (s *Store) GetChangesSince(ctx context.Context, table string, since time.Time, userID, excludeClientID string) ([]map[string]any, error) {
	query := fmt.Sprintf(`SELECT payload, version, updated_at, client_id, is_deleted
		FROM %s WHERE updated_at > $1`, rowTable(table))
	args := []any{since}

	if excludeClientID != "" {
		query += fmt.Sprintf(" AND (client_id IS NULL OR client_id != $%d)", len(args)+1)
		args = append(args, excludeClientID)
	}
	query += " ORDER BY updated_at ASC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		m, err := scanRowValues(rows)
		if err != nil {
			return nil, err
		}
		if userID != "" {
			if rowUser, _ := m["user_id"].(string); rowUser != userID {
				continue
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) BatchInsert(ctx context.Context, table string, rows []map[string]any) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, r := range rows {
			if _, err := s.insertInTx(ctx, tx, table, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) insertInTx(ctx context.Context, tx pgx.Tx, table string, data map[string]any) (map[string]any, error) {
	id, _ := data["id"].(string)
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	clientID, _ := data[syncmodel.FieldClientID].(string)
	_, err = tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, payload, version, updated_at, client_id, is_deleted)
		 VALUES ($1, $2, 1, $3, $4, false)`, rowTable(table)),
		id, payload, data[syncmodel.FieldUpdatedAt], clientID)
	return data, err
}

func (s *Store) BatchUpdate(ctx context.Context, table string, updates []serverstore.VersionedUpdate) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, u := range updates {
			payload, err := json.Marshal(u.Data)
			if err != nil {
				return err
			}
			tag, err := tx.Exec(ctx, fmt.Sprintf(
				`UPDATE %s SET payload = $1, version = version + 1, updated_at = now()
				 WHERE id = $2 AND version = $3`, rowTable(table)),
				payload, u.ID, u.ExpectedVersion)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return serverstore.ErrVersionConflict
			}
		}
		return nil
	})
}

func (s *Store) CheckConflict(ctx context.Context, table, id string, expectedVersion int64) (bool, error) {
	var version int64
	err := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT version FROM %s WHERE id = $1`, rowTable(table)), id).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return version != expectedVersion, nil
}

func (s *Store) LogSyncOperation(ctx context.Context, op syncmodel.Operation, userID string) error {
	payload, err := json.Marshal(op.Data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO sync_log (id, table_name, op, pk, payload, client_id, user_id, version, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		op.ID, op.Table, string(op.Kind), firstString(op.Data, "id"), payload, op.ClientID, userID, op.Version, op.Timestamp,
	)
	return err
}

func (s *Store) UpdateClientState(ctx context.Context, clientID, userID string) error {
	now := time.Now()
	_, err := s.db.Exec(ctx,
		`INSERT INTO client_state (client_id, user_id, last_sync, last_active)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (client_id) DO UPDATE SET
		   user_id = EXCLUDED.user_id, last_sync = EXCLUDED.last_sync, last_active = EXCLUDED.last_active`,
		clientID, userID, now,
	)
	return err
}

func (s *Store) GetClientState(ctx context.Context, clientID string) (syncmodel.ClientState, error) {
	var state syncmodel.ClientState
	err := s.db.QueryRow(ctx,
		`SELECT client_id, user_id, last_sync, last_active FROM client_state WHERE client_id = $1`, clientID,
	).Scan(&state.ClientID, &state.UserID, &state.LastSync, &state.LastActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return syncmodel.ClientState{ClientID: clientID}, nil
	}
	return state, err
}

// RunInTx implements serverstore.TxRunner, mirroring the teacher's use of
// pgx.BeginFunc to scope schema writes and (here) FK-sensitive batches to
// a single transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx serverstore.Store) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Store{pool: s.pool, db: tx, logger: s.logger})
	})
}

func firstString(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (map[string]any, error) {
	var payload []byte
	var version int64
	var updatedAt time.Time
	var clientID *string
	var isDeleted bool
	if err := row.Scan(&payload, &version, &updatedAt, &clientID, &isDeleted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return decodeRow(payload, version, updatedAt, clientID, isDeleted)
}

func scanRowValues(row rowScanner) (map[string]any, error) {
	var payload []byte
	var version int64
	var updatedAt time.Time
	var clientID *string
	var isDeleted bool
	if err := row.Scan(&payload, &version, &updatedAt, &clientID, &isDeleted); err != nil {
		return nil, err
	}
	return decodeRow(payload, version, updatedAt, clientID, isDeleted)
}

func decodeRow(payload []byte, version int64, updatedAt time.Time, clientID *string, isDeleted bool) (map[string]any, error) {
	m := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	m[syncmodel.FieldVersion] = version
	m[syncmodel.FieldUpdatedAt] = updatedAt
	if clientID != nil {
		m[syncmodel.FieldClientID] = *clientID
	}
	m[syncmodel.FieldIsDeleted] = isDeleted
	return m, nil
}
