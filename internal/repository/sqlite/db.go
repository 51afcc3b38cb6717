/*
Package sqlite provides a SQLite-backed implementation of the repository interfaces.

It is the embedded alternative to the MongoDB store: the same invariants are
pushed down into the schema.

  - classes.occupied_seats carries CHECK (0 <= occupied_seats <= capacity)
  - uniq_booked_member_class is a partial UNIQUE index on
    reservations(member_id, class_id) WHERE status = 'booked'

Transactions are carried in the context by WithinTransaction, so repository
methods called with that context run on the open *sql.Tx.

The pool is limited to one connection. SQLite allows a single writer anyway,
and an in-memory database (":memory:") only exists on the connection that
created it.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps the SQLite handle shared by the repositories.
type DB struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path. Use ":memory:" for tests.
func Open(path string) (*DB, error) {
	dsn := path + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if path != ":memory:" && !strings.HasPrefix(path, "file::memory:") {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &DB{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS classes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		trainer TEXT NOT NULL,
		description TEXT NOT NULL,
		date TEXT NOT NULL,
		time TEXT NOT NULL,
		duration INTEGER NOT NULL,
		capacity INTEGER NOT NULL CHECK (capacity >= 1),
		occupied_seats INTEGER NOT NULL DEFAULT 0
			CHECK (occupied_seats >= 0 AND occupied_seats <= capacity),
		status TEXT NOT NULL CHECK (status IN ('active', 'cancelled')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_classes_status_schedule
		ON classes(status, date, time);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		class_id TEXT NOT NULL REFERENCES classes(id),
		status TEXT NOT NULL CHECK (status IN ('booked', 'cancelled')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- At most one booked reservation per member and class
	CREATE UNIQUE INDEX IF NOT EXISTS uniq_booked_member_class
		ON reservations(member_id, class_id)
		WHERE status = 'booked';

	CREATE INDEX IF NOT EXISTS idx_reservations_member_created
		ON reservations(member_id, created_at DESC);

	CREATE INDEX IF NOT EXISTS idx_reservations_class_status
		ON reservations(class_id, status);
	`
	_, err := s.db.Exec(schema)
	return err
}

type txKey struct{}

// querier is the subset of *sql.DB and *sql.Tx the repositories use.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction carried by ctx, or the pool.
func (s *DB) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// WithinTransaction implements repository.Transactor. A nested call joins the
// outer transaction.
func (s *DB) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
