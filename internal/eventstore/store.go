// Package eventstore is the canonical event store: the source of truth every
// index backend is rebuilt from.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
	"github.com/zenoss/zenoss-zep-sub000/internal/event"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// Drivers accepted by Open.
const (
	DriverModernc = "sqlite"
	DriverCGO     = "sqlite3"
)

// IndexMetadata records which layout a backend's index was built with.
type IndexMetadata struct {
	IndexName   string
	ZepInstance string
	Version     int
	Hash        string
}

// Batch is one page of a rebuild scan.
type Batch struct {
	// Events is empty when keys were requested.
	Events []*event.Summary
	Keys   []event.Key
	// Next is the watermark after the last listed event.
	Next event.Watermark
}

// Len is the number of listed events.
func (b Batch) Len() int {
	return len(b.Keys)
}

// Store is the canonical store backed by SQLite.
type Store struct {
	db       *sql.DB
	instance string
}

const schema = `
CREATE TABLE IF NOT EXISTS event_summary (
	uuid        TEXT PRIMARY KEY,
	last_seen   INTEGER NOT NULL,
	update_time INTEGER NOT NULL,
	data        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS event_summary_scan ON event_summary (last_seen, uuid);

CREATE TABLE IF NOT EXISTS index_metadata (
	zep_instance TEXT NOT NULL,
	index_name   TEXT NOT NULL,
	version      INTEGER NOT NULL,
	hash         TEXT NOT NULL,
	PRIMARY KEY (zep_instance, index_name)
);
`

// Open opens (creating if needed) the store at path with the named driver.
// instance scopes index metadata so several orchestrators can share a file.
// An empty path is an in-memory store.
func Open(path, driver, instance string) (*Store, error) {
	if driver == "" {
		driver = DriverModernc
	}
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, zerrors.IOError("create event store directory", err)
		}
		dsn = path
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, zerrors.New(zerrors.ErrCodeStoreUnavailable, "open event store", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, zerrors.New(zerrors.ErrCodeStoreUnavailable, "configure event store", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, zerrors.New(zerrors.ErrCodeStoreUnavailable, "create event store schema", err)
	}
	slog.Debug("event_store_opened",
		slog.String("path", path),
		slog.String("driver", driver))
	return &Store{db: db, instance: instance}, nil
}

// Put inserts or replaces events.
func (s *Store) Put(ctx context.Context, events []*event.Summary) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO event_summary (uuid, last_seen, update_time, data) VALUES (?, ?, ?, ?)
		ON CONFLICT (uuid) DO UPDATE SET
			last_seen = excluded.last_seen,
			update_time = excluded.update_time,
			data = excluded.data`)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "prepare put")
	}
	defer stmt.Close()

	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "encode event %s", e.UUID)
		}
		if _, err := stmt.ExecContext(ctx, e.UUID, e.LastSeen, e.UpdateTime, string(data)); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "put event %s", e.UUID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// Delete removes events by uuid.
func (s *Store) Delete(ctx context.Context, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM event_summary WHERE uuid IN (`+placeholders(len(uuids))+`)`, anySlice(uuids)...)
	return errors.Wrap(err, "delete events")
}

// FindByKeys resolves keys to their current summaries. Keys whose event no
// longer exists are absent from the result; order is not preserved.
func (s *Store) FindByKeys(ctx context.Context, keys []event.Key) ([]*event.Summary, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	uuids := make([]string, len(keys))
	for i, k := range keys {
		uuids[i] = k.UUID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM event_summary WHERE uuid IN (`+placeholders(len(uuids))+`)`, anySlice(uuids)...)
	if err != nil {
		return nil, errors.Wrap(err, "find by keys")
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// FindByUUID returns the summary, or nil when it does not exist.
func (s *Store) FindByUUID(ctx context.Context, uuid string) (*event.Summary, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM event_summary WHERE uuid = ?`, uuid).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find by uuid")
	}
	var e event.Summary
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, errors.Wrapf(err, "decode event %s", uuid)
	}
	return &e, nil
}

// ListBatch returns up to limit events after cursor in (last_seen, uuid)
// order, skipping events updated after throughTime.
func (s *Store) ListBatch(ctx context.Context, cursor event.Watermark, throughTime int64, limit int, keysOnly bool) (Batch, error) {
	cols := "uuid, last_seen, data"
	if keysOnly {
		cols = "uuid, last_seen, NULL"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cols+` FROM event_summary
		WHERE update_time <= ? AND (last_seen > ? OR (last_seen = ? AND uuid > ?))
		ORDER BY last_seen, uuid
		LIMIT ?`,
		throughTime, cursor.LastSeen, cursor.LastSeen, cursor.UUID, limit)
	if err != nil {
		return Batch{}, errors.Wrap(err, "list batch")
	}
	defer rows.Close()

	var b Batch
	for rows.Next() {
		var k event.Key
		var data sql.NullString
		if err := rows.Scan(&k.UUID, &k.LastSeen, &data); err != nil {
			return Batch{}, errors.Wrap(err, "scan batch")
		}
		b.Keys = append(b.Keys, k)
		b.Next = event.Watermark{LastSeen: k.LastSeen, UUID: k.UUID}
		if data.Valid {
			var e event.Summary
			if err := json.Unmarshal([]byte(data.String), &e); err != nil {
				return Batch{}, errors.Wrapf(err, "decode event %s", k.UUID)
			}
			b.Events = append(b.Events, &e)
		}
	}
	if err := rows.Err(); err != nil {
		return Batch{}, errors.Wrap(err, "iterate batch")
	}
	if len(b.Keys) == 0 {
		b.Next = cursor
	}
	return b, nil
}

// EstimateSize is the number of stored events.
func (s *Store) EstimateSize(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_summary`).Scan(&n)
	return n, errors.Wrap(err, "estimate size")
}

// FindIndexMetadata returns the metadata of the named index, or nil.
func (s *Store) FindIndexMetadata(ctx context.Context, name string) (*IndexMetadata, error) {
	m := IndexMetadata{IndexName: name, ZepInstance: s.instance}
	err := s.db.QueryRowContext(ctx,
		`SELECT version, hash FROM index_metadata WHERE zep_instance = ? AND index_name = ?`,
		s.instance, name).Scan(&m.Version, &m.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find index metadata")
	}
	return &m, nil
}

// UpdateIndexVersion records the layout the named index is now built with.
func (s *Store) UpdateIndexVersion(ctx context.Context, name string, version int, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_metadata (zep_instance, index_name, version, hash) VALUES (?, ?, ?, ?)
		ON CONFLICT (zep_instance, index_name) DO UPDATE SET
			version = excluded.version,
			hash = excluded.hash`,
		s.instance, name, version, hash)
	return errors.Wrap(err, "update index metadata")
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanSummaries(rows *sql.Rows) ([]*event.Summary, error) {
	var out []*event.Summary
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		var e event.Summary
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, errors.Wrap(err, "decode event")
		}
		out = append(out, &e)
	}
	return out, errors.Wrap(rows.Err(), "iterate events")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
