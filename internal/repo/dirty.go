package repo

import (
	"context"
	"database/sql"
)

// DirtyRepo maps the dirty_* tracking tables migration 003's triggers
// maintain, used to answer sync status()'s "any row updated after
// last_export" question without a full table scan.
type DirtyRepo struct{}

func NewDirtyRepo() *DirtyRepo { return &DirtyRepo{} }

// LatestMark returns the newest marked_at across a dirty table, or ("",
// false) if the table is empty.
func (r *DirtyRepo) LatestMark(ctx context.Context, q Queryer, table string) (string, bool, error) {
	var markedAt string
	err := q.QueryRowContext(ctx, `SELECT marked_at FROM `+table+` ORDER BY marked_at DESC LIMIT 1`).Scan(&markedAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, dbErr("latest dirty mark", err)
	}
	return markedAt, true, nil
}

// ClearTasks removes dirty-task markers, called after a successful
// full-table export so the next status() check reflects only post-export
// writes.
func (r *DirtyRepo) ClearTasks(ctx context.Context, q Queryer) error {
	_, err := q.ExecContext(ctx, `DELETE FROM dirty_tasks`)
	return dbErr("clear dirty tasks", err)
}

func (r *DirtyRepo) ClearLearnings(ctx context.Context, q Queryer) error {
	_, err := q.ExecContext(ctx, `DELETE FROM dirty_learnings`)
	return dbErr("clear dirty learnings", err)
}

func (r *DirtyRepo) ClearFileLearnings(ctx context.Context, q Queryer) error {
	_, err := q.ExecContext(ctx, `DELETE FROM dirty_file_learnings`)
	return dbErr("clear dirty file learnings", err)
}

func (r *DirtyRepo) ClearAttempts(ctx context.Context, q Queryer) error {
	_, err := q.ExecContext(ctx, `DELETE FROM dirty_attempts`)
	return dbErr("clear dirty attempts", err)
}

func (r *DirtyRepo) CountTasks(ctx context.Context, q Queryer) (int, error) {
	return r.count(ctx, q, "dirty_tasks")
}

func (r *DirtyRepo) CountLearnings(ctx context.Context, q Queryer) (int, error) {
	return r.count(ctx, q, "dirty_learnings")
}

func (r *DirtyRepo) CountFileLearnings(ctx context.Context, q Queryer) (int, error) {
	return r.count(ctx, q, "dirty_file_learnings")
}

func (r *DirtyRepo) CountAttempts(ctx context.Context, q Queryer) (int, error) {
	return r.count(ctx, q, "dirty_attempts")
}

func (r *DirtyRepo) count(ctx context.Context, q Queryer, table string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, dbErr("count "+table, err)
	}
	return n, nil
}
