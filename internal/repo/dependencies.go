package repo

import (
	"context"
	"database/sql"

	"github.com/txcore/tx/internal/models"
)

// DependencyRepo maps the dependencies table.
type DependencyRepo struct{}

func NewDependencyRepo() *DependencyRepo { return &DependencyRepo{} }

func (r *DependencyRepo) Insert(ctx context.Context, q Queryer, d *models.Dependency) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO dependencies (blocker_id, blocked_id, created_at) VALUES (?, ?, ?)`,
		d.BlockerID, d.BlockedID, formatTime(d.CreatedAt))
	return dbErr("insert dependency", err)
}

// Remove is idempotent: deleting a non-existent pair is not an error
// (spec.md §4.E).
func (r *DependencyRepo) Remove(ctx context.Context, q Queryer, blockerID, blockedID string) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM dependencies WHERE blocker_id=? AND blocked_id=?`, blockerID, blockedID)
	return dbErr("remove dependency", err)
}

func (r *DependencyRepo) Exists(ctx context.Context, q Queryer, blockerID, blockedID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM dependencies WHERE blocker_id=? AND blocked_id=?`, blockerID, blockedID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, dbErr("check dependency", err)
	}
	return true, nil
}

// BlockersOf returns the ids of tasks that block blockedID.
func (r *DependencyRepo) BlockersOf(ctx context.Context, q Queryer, blockedID string) ([]string, error) {
	return r.queryIDs(ctx, q, `SELECT blocker_id FROM dependencies WHERE blocked_id=?`, blockedID)
}

// BlockedByTask returns the ids of tasks that blockerID blocks.
func (r *DependencyRepo) BlockedByTask(ctx context.Context, q Queryer, blockerID string) ([]string, error) {
	return r.queryIDs(ctx, q, `SELECT blocked_id FROM dependencies WHERE blocker_id=?`, blockerID)
}

// BlockersOfMany returns, for each id in blockedIDs, the ids of the tasks
// that block it -- one query for the whole batch instead of one BlockersOf
// call per task (spec.md §4.D forbids the naive N+1 form).
func (r *DependencyRepo) BlockersOfMany(ctx context.Context, q Queryer, blockedIDs []string) (map[string][]string, error) {
	return r.queryIDsGrouped(ctx, q, `blocked_id`, `blocker_id`, blockedIDs)
}

// BlockedByTaskMany returns, for each id in blockerIDs, the ids of the
// tasks it blocks -- batched the same way as BlockersOfMany.
func (r *DependencyRepo) BlockedByTaskMany(ctx context.Context, q Queryer, blockerIDs []string) (map[string][]string, error) {
	return r.queryIDsGrouped(ctx, q, `blocker_id`, `blocked_id`, blockerIDs)
}

func (r *DependencyRepo) queryIDsGrouped(ctx context.Context, q Queryer, keyCol, valCol string, keys []string) (map[string][]string, error) {
	out := make(map[string][]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	query := `SELECT ` + keyCol + `, ` + valCol + ` FROM dependencies WHERE ` + keyCol + ` IN (`
	args := make([]any, len(keys))
	for i, k := range keys {
		if i > 0 {
			query += `,`
		}
		query += `?`
		args[i] = k
	}
	query += `)`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("query grouped dependency ids", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, val string
		if err := rows.Scan(&key, &val); err != nil {
			return nil, dbErr("scan grouped dependency id", err)
		}
		out[key] = append(out[key], val)
	}
	return out, dbErr("query grouped dependency ids rows", rows.Err())
}

func (r *DependencyRepo) queryIDs(ctx context.Context, q Queryer, query string, arg string) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, dbErr("query dependency ids", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbErr("scan dependency id", err)
		}
		out = append(out, id)
	}
	return out, dbErr("query dependency ids rows", rows.Err())
}

// ListAll returns every dependency row, oldest first -- used by JSONL
// export.
func (r *DependencyRepo) ListAll(ctx context.Context, q Queryer) ([]*models.Dependency, error) {
	rows, err := q.QueryContext(ctx, `SELECT blocker_id, blocked_id, created_at FROM dependencies ORDER BY created_at ASC`)
	if err != nil {
		return nil, dbErr("list all dependencies", err)
	}
	defer rows.Close()

	var out []*models.Dependency
	for rows.Next() {
		var d models.Dependency
		var createdAt string
		if err := rows.Scan(&d.BlockerID, &d.BlockedID, &createdAt); err != nil {
			return nil, dbErr("scan dependency", err)
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		d.CreatedAt = t
		out = append(out, &d)
	}
	return out, dbErr("list all dependencies rows", rows.Err())
}

// AllEdges returns every (blocker_id, blocked_id) pair, used by the
// dependency service's reachability search.
func (r *DependencyRepo) AllEdges(ctx context.Context, q Queryer) (map[string][]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT blocker_id, blocked_id FROM dependencies`)
	if err != nil {
		return nil, dbErr("list all dependency edges", err)
	}
	defer rows.Close()

	adj := make(map[string][]string)
	for rows.Next() {
		var blocker, blocked string
		if err := rows.Scan(&blocker, &blocked); err != nil {
			return nil, dbErr("scan dependency edge", err)
		}
		adj[blocker] = append(adj[blocker], blocked)
	}
	return adj, dbErr("list all dependency edges rows", rows.Err())
}

// StatusesOf returns the status of each task id in ids, used to evaluate
// readiness against a task's blockers without one query per blocker.
func (r *DependencyRepo) StatusesOf(ctx context.Context, q Queryer, ids []string) (map[string]models.TaskStatus, error) {
	out := make(map[string]models.TaskStatus, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT id, status FROM tasks WHERE id IN (`
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += `,`
		}
		query += `?`
		args[i] = id
	}
	query += `)`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("query task statuses", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, dbErr("scan task status", err)
		}
		out[id] = models.TaskStatus(status)
	}
	return out, dbErr("query task statuses rows", rows.Err())
}
