package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/txcore/tx/internal/models"
)

// TaskRepo maps the tasks table.
type TaskRepo struct{}

func NewTaskRepo() *TaskRepo { return &TaskRepo{} }

func (r *TaskRepo) Insert(ctx context.Context, q Queryer, t *models.Task) error {
	meta, err := marshalJSON(t.Metadata)
	if err != nil {
		return err
	}

	var assigneeKind *string
	if t.AssigneeKind != nil {
		v := string(*t.AssigneeKind)
		assigneeKind = &v
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, parent_id, score, metadata,
			assignee_kind, assignee_id, assigned_at, assigned_by, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), t.ParentID, t.Score, meta,
		assigneeKind, t.AssigneeID, nullTime(t.AssignedAt), t.AssignedBy,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), nullTime(t.CompletedAt),
	)
	return dbErr("insert task", err)
}

func (r *TaskRepo) Update(ctx context.Context, q Queryer, t *models.Task) error {
	meta, err := marshalJSON(t.Metadata)
	if err != nil {
		return err
	}
	var assigneeKind *string
	if t.AssigneeKind != nil {
		v := string(*t.AssigneeKind)
		assigneeKind = &v
	}

	_, err = q.ExecContext(ctx, `
		UPDATE tasks SET title=?, description=?, status=?, parent_id=?, score=?, metadata=?,
			assignee_kind=?, assignee_id=?, assigned_at=?, assigned_by=?, updated_at=?, completed_at=?
		WHERE id=?`,
		t.Title, t.Description, string(t.Status), t.ParentID, t.Score, meta,
		assigneeKind, t.AssigneeID, nullTime(t.AssignedAt), t.AssignedBy,
		formatTime(t.UpdatedAt), nullTime(t.CompletedAt), t.ID,
	)
	return dbErr("update task", err)
}

func (r *TaskRepo) Delete(ctx context.Context, q Queryer, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	return dbErr("delete task", err)
}

const taskColumns = `id, title, description, status, parent_id, score, metadata,
	assignee_kind, assignee_id, assigned_at, assigned_by, created_at, updated_at, completed_at`

func (r *TaskRepo) scan(row interface {
	Scan(dest ...any) error
}) (*models.Task, error) {
	var t models.Task
	var status, metaStr string
	var assigneeKind, assigneeID, assignedBy sql.NullString
	var assignedAt, completedAt sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &t.ParentID, &t.Score, &metaStr,
		&assigneeKind, &assigneeID, &assignedAt, &assignedBy, &createdAt, &updatedAt, &completedAt); err != nil {
		return nil, err
	}

	t.Status = models.TaskStatus(status)
	meta, err := unmarshalJSONMap(metaStr)
	if err != nil {
		return nil, err
	}
	t.Metadata = meta

	if assigneeKind.Valid {
		k := models.AssigneeKind(assigneeKind.String)
		t.AssigneeKind = &k
	}
	t.AssigneeID = fromNullString(assigneeID)
	t.AssignedBy = fromNullString(assignedBy)

	if t.AssignedAt, err = fromNullTime(assignedAt); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = fromNullTime(completedAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &t, nil
}

func (r *TaskRepo) Get(ctx context.Context, q Queryer, id string) (*models.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := r.scan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, dbErr("get task", err)
	}
	return t, nil
}

// Filter selects tasks by optional status set and/or parent id.
type Filter struct {
	Statuses []models.TaskStatus
	ParentID *string
	Limit    int
}

func (r *TaskRepo) List(ctx context.Context, q Queryer, f Filter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any

	if len(f.Statuses) > 0 {
		query += ` AND status IN (`
		for i, s := range f.Statuses {
			if i > 0 {
				query += `,`
			}
			query += `?`
			args = append(args, string(s))
		}
		query += `)`
	}
	if f.ParentID != nil {
		query += ` AND parent_id = ?`
		args = append(args, *f.ParentID)
	}
	query += ` ORDER BY score DESC, created_at ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list tasks", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan task", err)
		}
		out = append(out, t)
	}
	return out, dbErr("list tasks rows", rows.Err())
}

// ListByIDs fetches multiple tasks in one query, used to batch-resolve
// blockedBy/blocks/children without N+1 queries (spec.md §4.D).
func (r *TaskRepo) ListByIDs(ctx context.Context, q Queryer, ids []string) ([]*models.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id IN (`
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
		return nil, dbErr("list tasks by ids", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan task", err)
		}
		out = append(out, t)
	}
	return out, dbErr("list tasks by ids rows", rows.Err())
}

// ListChildren returns tasks whose parent_id is the given id.
func (r *TaskRepo) ListChildren(ctx context.Context, q Queryer, parentID string) ([]*models.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE parent_id=? ORDER BY created_at ASC`, parentID)
	if err != nil {
		return nil, dbErr("list children", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan child", err)
		}
		out = append(out, t)
	}
	return out, dbErr("list children rows", rows.Err())
}

// ListChildrenOfMany returns every task whose parent_id is one of parentIDs,
// grouped by parent -- one query regardless of how many parents are asked
// about, instead of one ListChildren call per parent.
func (r *TaskRepo) ListChildrenOfMany(ctx context.Context, q Queryer, parentIDs []string) (map[string][]*models.Task, error) {
	out := make(map[string][]*models.Task, len(parentIDs))
	if len(parentIDs) == 0 {
		return out, nil
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE parent_id IN (`
	args := make([]any, len(parentIDs))
	for i, id := range parentIDs {
		if i > 0 {
			query += `,`
		}
		query += `?`
		args[i] = id
	}
	query += `) ORDER BY created_at ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list children of many", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan child", err)
		}
		if t.ParentID != nil {
			out[*t.ParentID] = append(out[*t.ParentID], t)
		}
	}
	return out, dbErr("list children of many rows", rows.Err())
}

// ListRoots returns tasks whose parent_id is NULL (spec.md §4.G: orphaned
// tasks whose parent points nowhere are NOT roots).
func (r *TaskRepo) ListRoots(ctx context.Context, q Queryer) ([]*models.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE parent_id IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, dbErr("list roots", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan root", err)
		}
		out = append(out, t)
	}
	return out, dbErr("list roots rows", rows.Err())
}
