package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/query"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLite drivers accepted by openSQLite.
const (
	DriverModernc = "sqlite"
	DriverCGO     = "sqlite3"
)

// sortColumns are the docs columns ORDER BY may use, keyed by sort field.
var sortColumns = []string{
	string(event.SortStatus),
	string(event.SortSeverity),
	string(event.SortCount),
	string(event.SortFirstSeen),
	string(event.SortLastSeen),
	string(event.SortStatusChange),
	string(event.SortUpdateTime),
	string(event.SortElementID),
	string(event.SortElementSubID),
	string(event.SortEventClass),
	string(event.SortSummary),
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS docs (
	uuid                   TEXT PRIMARY KEY,
	data                   TEXT NOT NULL,
	status                 INTEGER,
	severity               INTEGER,
	count                  INTEGER,
	first_seen_time        INTEGER,
	last_seen_time         INTEGER,
	status_change_time     INTEGER,
	update_time            INTEGER,
	element_identifier     TEXT,
	element_sub_identifier TEXT,
	event_class            TEXT,
	summary                TEXT
);
CREATE INDEX IF NOT EXISTS docs_last_seen ON docs (last_seen_time);

CREATE TABLE IF NOT EXISTS terms (
	uuid  TEXT NOT NULL,
	field TEXT NOT NULL,
	pos   INTEGER NOT NULL,
	term  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS terms_lookup ON terms (field, term);
CREATE INDEX IF NOT EXISTS terms_doc ON terms (uuid, field, pos);

CREATE TABLE IF NOT EXISTS nums (
	uuid  TEXT NOT NULL,
	field TEXT NOT NULL,
	value REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS nums_lookup ON nums (field, value);
CREATE INDEX IF NOT EXISTS nums_doc ON nums (uuid);
`

// sqliteEngine keeps documents in three tables: the stored summary with its
// sort columns, one row per text token and one row per numeric value.
type sqliteEngine struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// validateSQLiteIntegrity checks an existing database file before use.
func validateSQLiteIntegrity(path, driver string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// openSQLite opens the index database at path, or an in-memory one when
// path is empty. A corrupt file is removed and recreated empty.
func openSQLite(path, driver string) (*sqliteEngine, error) {
	if driver == "" {
		driver = DriverModernc
	}
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
		}
		if verr := validateSQLiteIntegrity(path, driver); verr != nil {
			slog.Warn("sqlite_index_corrupted", slog.String("path", path), slog.String("error", verr.Error()))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("index corrupted at %s and cannot remove: %w (original error: %v)", path, err, verr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
			slog.Info("sqlite_index_cleared", slog.String("path", path), slog.String("reason", "integrity check failed"))
		}
		dsn = path
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer; also keeps one shared connection for :memory:.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	if path != "" {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &sqliteEngine{db: db, path: path}, nil
}

func (e *sqliteEngine) acquire() (*sql.DB, func(), error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, nil, errIndexClosed
	}
	return e.db, e.mu.RUnlock, nil
}

func (e *sqliteEngine) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	db, release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func deleteDocs(ctx context.Context, tx *sql.Tx, uuid string) error {
	for _, stmt := range []string{
		"DELETE FROM docs WHERE uuid = ?",
		"DELETE FROM terms WHERE uuid = ?",
		"DELETE FROM nums WHERE uuid = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, uuid); err != nil {
			return err
		}
	}
	return nil
}

func (e *sqliteEngine) index(ctx context.Context, docs []*document) error {
	if len(docs) == 0 {
		return nil
	}
	cols := append([]string{"uuid", "data"}, sortColumns...)
	insertDoc := fmt.Sprintf("INSERT INTO docs (%s) VALUES (%s)",
		strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	return e.inTx(ctx, func(tx *sql.Tx) error {
		for _, d := range docs {
			if err := deleteDocs(ctx, tx, d.uuid); err != nil {
				return err
			}
			args := make([]any, 0, len(cols))
			args = append(args, d.uuid, string(d.source))
			for _, c := range sortColumns {
				args = append(args, d.sort[c])
			}
			if _, err := tx.ExecContext(ctx, insertDoc, args...); err != nil {
				return err
			}
			for field, tokens := range d.text {
				for pos, term := range tokens {
					if _, err := tx.ExecContext(ctx,
						"INSERT INTO terms (uuid, field, pos, term) VALUES (?, ?, ?, ?)",
						d.uuid, field, pos, term); err != nil {
						return err
					}
				}
			}
			for field, vals := range d.nums {
				for _, v := range vals {
					if _, err := tx.ExecContext(ctx,
						"INSERT INTO nums (uuid, field, value) VALUES (?, ?, ?)",
						d.uuid, field, v); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func (e *sqliteEngine) delete(ctx context.Context, uuids []string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		for _, u := range uuids {
			if err := deleteDocs(ctx, tx, u); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *sqliteEngine) clear(ctx context.Context) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range []string{"docs", "terms", "nums"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return err
			}
		}
		return nil
	})
}

// flush checkpoints the WAL; every write is already committed.
func (e *sqliteEngine) flush(ctx context.Context) error {
	db, release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()
	if e.path == "" {
		return nil
	}
	_, err = db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)")
	return err
}

func (e *sqliteEngine) count(ctx context.Context) (int64, error) {
	db, release, err := e.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	var n int64
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM docs").Scan(&n)
	return n, err
}

func (e *sqliteEngine) size(ctx context.Context) (int64, error) {
	db, release, err := e.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	var pages, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return 0, err
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, err
	}
	return pages * pageSize, nil
}

func (e *sqliteEngine) ping(ctx context.Context) error {
	db, release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()
	return db.PingContext(ctx)
}

func sqliteOrder(sorts []sortKey) string {
	parts := make([]string, 0, len(sorts))
	for _, s := range sorts {
		col := "d." + s.field
		if s.desc {
			col += " DESC"
		}
		parts = append(parts, col)
	}
	return strings.Join(parts, ", ")
}

func (e *sqliteEngine) search(ctx context.Context, node *query.Node, sorts []sortKey, offset, limit int) ([]string, int, error) {
	db, release, err := e.acquire()
	if err != nil {
		return nil, 0, err
	}
	defer release()

	where, args, err := sqlWhere(node)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM docs d WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit == 0 || offset >= total {
		return []string{}, total, nil
	}
	stmt := "SELECT d.uuid FROM docs d WHERE " + where + " ORDER BY " + sqliteOrder(sorts) + " LIMIT ? OFFSET ?"
	rows, err := db.QueryContext(ctx, stmt, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var uuids []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, 0, err
		}
		uuids = append(uuids, u)
	}
	return uuids, total, rows.Err()
}

func (e *sqliteEngine) load(ctx context.Context, uuids []string) ([]*event.Summary, error) {
	if len(uuids) == 0 {
		return []*event.Summary{}, nil
	}
	db, release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	args := make([]any, len(uuids))
	for i, u := range uuids {
		args[i] = u
	}
	stmt := "SELECT uuid, data FROM docs WHERE uuid IN (" + placeholders(len(uuids)) + ")"
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]*event.Summary, len(uuids))
	for rows.Next() {
		var u, data string
		if err := rows.Scan(&u, &data); err != nil {
			return nil, err
		}
		s, err := decodeSource([]byte(data))
		if err != nil {
			slog.Warn("sqlite_source_corrupt", slog.String("uuid", u), slog.String("error", err.Error()))
			continue
		}
		byID[u] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*event.Summary, 0, len(byID))
	for _, u := range uuids {
		if s, ok := byID[u]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (e *sqliteEngine) close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
