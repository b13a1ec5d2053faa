// Package migrations is the ordered forward schema migration runner (spec.md
// component B). It generalizes the teacher's internal/memory/db.go
// version-gated migrate() method -- which embeds one .sql file per step and
// checks a single integer version column -- into the getStatus()/run()
// contract spec.md requires, backed by a schema_version table that records
// every applied version with its timestamp.
package migrations

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/txcore/tx/internal/storage"
)

//go:embed 001_core_schema.sql
var sql001 string

//go:embed 002_learning_graph.sql
var sql002 string

//go:embed 003_attempts_sync.sql
var sql003 string

// Migration is one forward, additive schema step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// All is the ordered vector of every migration this build knows about.
// Migrations are additive-only -- a destructive change requires a new,
// higher version, never an edit to an existing one.
var All = []Migration{
	{Version: 1, Description: "core task graph, claims, runs, heartbeat, events, config", SQL: sql001},
	{Version: 2, Description: "learnings with FTS5 mirror, anchors, typed edges", SQL: sql002},
	{Version: 3, Description: "attempts, file-learnings, dirty-row export tracking", SQL: sql003},
}

// Status reports the current and latest schema versions and the pending
// migrations that getStatus() must surface before run() is called.
type Status struct {
	Current int
	Latest  int
	Pending []Migration
}

// Runner applies All against a *storage.DB.
type Runner struct {
	db  *storage.DB
	log *zap.Logger
}

func NewRunner(db *storage.DB, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{db: db, log: log}
}

const createVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// GetStatus returns the current/latest/pending view without mutating
// anything.
func (r *Runner) GetStatus(ctx context.Context) (Status, error) {
	if _, err := r.db.Conn().ExecContext(ctx, createVersionTable); err != nil {
		return Status{}, fmt.Errorf("migrations: ensure schema_version: %w", err)
	}

	current, err := r.currentVersion(ctx)
	if err != nil {
		return Status{}, err
	}

	sorted := sortedMigrations()
	latest := 0
	var pending []Migration
	for _, m := range sorted {
		if m.Version > latest {
			latest = m.Version
		}
		if m.Version > current {
			pending = append(pending, m)
		}
	}

	return Status{Current: current, Latest: latest, Pending: pending}, nil
}

// Run applies every migration whose version exceeds the current schema
// version, in ascending order, each inside its own transaction. It is
// idempotent: re-running against an up-to-date database is a no-op because
// each step's own INSERT OR IGNORE into schema_version short-circuits
// nothing being re-applied twice in the same process lifetime, and an
// already-applied version is simply skipped by GetStatus's pending
// computation. The process must call Run before any repository touches the
// database; a failure here is fatal to startup.
func (r *Runner) Run(ctx context.Context) error {
	status, err := r.GetStatus(ctx)
	if err != nil {
		return err
	}

	for _, m := range status.Pending {
		if err := r.applyOne(ctx, m); err != nil {
			return fmt.Errorf("migrations: apply version %d (%s): %w", m.Version, m.Description, err)
		}
		r.log.Info("migration applied", zap.Int("version", m.Version), zap.String("description", m.Description))
	}
	return nil
}

func (r *Runner) applyOne(ctx context.Context, m Migration) error {
	return storage.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("execute migration SQL: %w", err)
		}
		// INSERT OR IGNORE makes re-application within the same transaction
		// batch idempotent, per spec.md §4.B.
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
			m.Version,
		); err != nil {
			return fmt.Errorf("record schema_version: %w", err)
		}
		return nil
	})
}

func (r *Runner) currentVersion(ctx context.Context) (int, error) {
	row := r.db.Conn().QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var v int
	if err := row.Scan(&v); err != nil {
		return 0, fmt.Errorf("migrations: read current version: %w", err)
	}
	return v, nil
}

func sortedMigrations() []Migration {
	out := make([]Migration, len(All))
	copy(out, All)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}
