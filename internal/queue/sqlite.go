package queue

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS queue (
	seq  INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	task TEXT NOT NULL,
	UNIQUE (name, task)
);
CREATE TABLE IF NOT EXISTS leased (
	name      TEXT NOT NULL,
	task      TEXT NOT NULL,
	leased_at INTEGER NOT NULL,
	PRIMARY KEY (name, task)
);
CREATE INDEX IF NOT EXISTS leased_at_idx ON leased (name, leased_at);
`

// SQLiteStore keeps queues in a SQLite file. Several named queues may share
// one file and several processes may share one queue.
type SQLiteStore struct {
	db    *sql.DB
	name  string
	owned bool
}

// OpenSQLite opens (creating if needed) the database at path. An empty path
// is an in-memory database.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrapf(err, "create directory for %s", path)
		}
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open queue database")
	}
	// Single writer; also keeps an in-memory database alive and shared.
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
			return nil, errors.Wrap(err, "set pragma")
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create queue schema")
	}
	return db, nil
}

// NewSQLiteStore uses queue name inside db. The caller keeps ownership of db.
func NewSQLiteStore(db *sql.DB, name string) *SQLiteStore {
	return &SQLiteStore{db: db, name: name}
}

// OpenSQLiteStore opens path and returns a store that owns the database.
func OpenSQLiteStore(path, name string) (*SQLiteStore, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	s := NewSQLiteStore(db, name)
	s.owned = true
	return s, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func (s *SQLiteStore) Push(ctx context.Context, tasks []string) (int, error) {
	added := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO queue (name, task)
			SELECT ?1, ?2 WHERE NOT EXISTS (SELECT 1 FROM leased WHERE name = ?1 AND task = ?2)`)
		if err != nil {
			return errors.Wrap(err, "prepare push")
		}
		defer stmt.Close()
		for _, t := range tasks {
			res, err := stmt.ExecContext(ctx, s.name, t)
			if err != nil {
				return errors.Wrap(err, "push")
			}
			n, _ := res.RowsAffected()
			added += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func (s *SQLiteStore) Lease(ctx context.Context, max int, now time.Time) ([]string, error) {
	var out []string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT task FROM queue WHERE name = ? ORDER BY seq LIMIT ?`, s.name, max)
		if err != nil {
			return errors.Wrap(err, "select queue head")
		}
		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				_ = rows.Close()
				return errors.Wrap(err, "scan task")
			}
			out = append(out, t)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "iterate queue")
		}
		for _, t := range out {
			if _, err := tx.ExecContext(ctx, `DELETE FROM queue WHERE name = ? AND task = ?`, s.name, t); err != nil {
				return errors.Wrap(err, "dequeue")
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO leased (name, task, leased_at) VALUES (?, ?, ?)`,
				s.name, t, now.UnixMilli()); err != nil {
				return errors.Wrap(err, "lease")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) Complete(ctx context.Context, tasks []string) error {
	if len(tasks) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		args := make([]any, 0, len(tasks)+1)
		args = append(args, s.name)
		for _, t := range tasks {
			args = append(args, t)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tasks)), ",")
		_, err := tx.ExecContext(ctx,
			`DELETE FROM leased WHERE name = ? AND task IN (`+placeholders+`)`, args...)
		return errors.Wrap(err, "complete")
	})
}

func (s *SQLiteStore) Requeue(ctx context.Context, cutoff time.Time) (int, error) {
	var old []string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT task FROM leased WHERE name = ? AND leased_at <= ? ORDER BY leased_at, task`,
			s.name, cutoff.UnixMilli())
		if err != nil {
			return errors.Wrap(err, "select expired")
		}
		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				_ = rows.Close()
				return errors.Wrap(err, "scan expired")
			}
			old = append(old, t)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "iterate expired")
		}
		for _, t := range old {
			if _, err := tx.ExecContext(ctx, `DELETE FROM leased WHERE name = ? AND task = ?`, s.name, t); err != nil {
				return errors.Wrap(err, "unlease")
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO queue (name, task) VALUES (?, ?)`, s.name, t); err != nil {
				return errors.Wrap(err, "requeue")
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(old), nil
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue WHERE name = ?`, s.name).Scan(&n)
	return n, errors.Wrap(err, "count")
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue WHERE name = ?`, s.name); err != nil {
			return errors.Wrap(err, "clear queue")
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM leased WHERE name = ?`, s.name)
		return errors.Wrap(err, "clear leased")
	})
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
