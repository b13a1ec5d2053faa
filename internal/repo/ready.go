package repo

import (
	"context"

	"github.com/txcore/tx/internal/models"
)

// ReadyRepo backs the aggregate readiness queries that don't fit the
// per-task shape of ready.Service's GetReady/GetBlocking.
type ReadyRepo struct{}

func NewReadyRepo() *ReadyRepo { return &ReadyRepo{} }

// CountBlocked counts ready-capable tasks with at least one non-done
// blocker -- a single aggregate query mirroring steveyegge-beads's
// blocked_issues view, for event log / metrics surfaces that only need a
// queue-depth number rather than the full task rows ready.GetBlocking
// returns.
func (r *ReadyRepo) CountBlocked(ctx context.Context, q Queryer) (int, error) {
	statuses := readyCapableStatusList()
	if len(statuses) == 0 {
		return 0, nil
	}

	query := `SELECT COUNT(DISTINCT d.blocked_id)
		FROM dependencies d
		JOIN tasks t ON t.id = d.blocked_id
		JOIN tasks blocker ON blocker.id = d.blocker_id
		WHERE blocker.status != ? AND t.status IN (`
	args := []any{string(models.StatusDone)}
	for i, st := range statuses {
		if i > 0 {
			query += `,`
		}
		query += `?`
		args = append(args, string(st))
	}
	query += `)`

	var n int
	err := q.QueryRowContext(ctx, query, args...).Scan(&n)
	if err != nil {
		return 0, dbErr("count blocked tasks", err)
	}
	return n, nil
}

func readyCapableStatusList() []models.TaskStatus {
	var out []models.TaskStatus
	for st, ok := range models.ReadyCapableStatuses {
		if ok {
			out = append(out, st)
		}
	}
	return out
}
