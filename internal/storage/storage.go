// Package storage is the embedded transactional relational store (spec.md
// component A). It wraps a single modernc.org/sqlite connection configured
// with WAL, foreign keys, a busy timeout, and an OS-level advisory lock that
// enforces "exactly one writer process at a time" ahead of SQLite's own
// locking.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the shared *sql.DB handle plus the process-wide writer lock.
type DB struct {
	conn *sql.DB
	lock *writerLock
	path string
}

// Open creates (if needed) and opens the SQLite database at path, applying
// the pragmas spec.md §4.A requires, and acquires the single-writer
// advisory lock. Exactly one process may hold the lock at a time; a second
// Open against the same path fails fast rather than silently corrupting
// state.
func Open(ctx context.Context, path string) (*DB, error) {
	lock, err := acquireWriterLock(path)
	if err != nil {
		return nil, fmt.Errorf("storage: acquire writer lock: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	// SQLite only truly serializes writers at one connection; readers are
	// still snapshot-consistent under WAL, so we cap the pool modestly
	// rather than forcing MaxOpenConns(1), which would serialize reads too.
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		lock.Release()
		return nil, fmt.Errorf("storage: ping %s: %w", path, err)
	}

	return &DB{conn: conn, lock: lock, path: path}, nil
}

// Conn returns the underlying *sql.DB for repositories to build prepared
// statements against.
func (d *DB) Conn() *sql.DB { return d.conn }

// Path returns the database file path Open was called with.
func (d *DB) Path() string { return d.path }

// Close releases the connection pool and the writer lock.
func (d *DB) Close() error {
	err := d.conn.Close()
	d.lock.Release()
	return err
}

// retryBackoff is the brief pause before the single retry attempt below.
const retryBackoff = 10 * time.Millisecond

// WithTx runs fn inside a single serialized transaction: commit on success,
// rollback (discarding any partial side effect) on error or panic. This is
// the sole mutation unit described in spec.md §4.A and §5 -- every service
// write goes through WithTx so a rolled-back transaction never leaves a
// partial event-log row or repository row visible.
//
// A transaction that fails on SQLITE_BUSY/SQLITE_LOCKED (another writer held
// the database past busy_timeout) is retried once after a brief pause, per
// spec.md §9's "retry on deadlock once" for DatabaseError.
func WithTx(ctx context.Context, d *DB, fn func(tx *sql.Tx) error) (err error) {
	err = runTx(ctx, d, fn)
	if err != nil && isBusyOrLocked(err) {
		time.Sleep(retryBackoff)
		err = runTx(ctx, d, fn)
	}
	return err
}

func runTx(ctx context.Context, d *DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit tx: %w", err)
	}
	return nil
}

// isBusyOrLocked reports whether err is a transient sqlite contention error
// worth retrying -- modernc.org/sqlite surfaces these as plain string-wrapped
// errors, not a typed sentinel, so we match on the driver's own wording.
func isBusyOrLocked(err error) bool {
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "DATABASE IS LOCKED")
}

// Querier is satisfied by both *sql.DB and *sql.Tx so repository methods can
// run inside or outside an explicit transaction uniformly.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
