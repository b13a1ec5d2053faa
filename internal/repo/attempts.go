package repo

import (
	"context"
	"database/sql"

	"github.com/txcore/tx/internal/models"
)

// AttemptRepo maps the attempts table: an append-only log of task-solving
// attempts, one row per try.
type AttemptRepo struct{}

func NewAttemptRepo() *AttemptRepo { return &AttemptRepo{} }

func (r *AttemptRepo) Insert(ctx context.Context, q Queryer, a *models.Attempt) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO attempts (task_id, run_id, outcome, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.TaskID, a.RunID, a.Outcome, a.Notes, formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return 0, dbErr("insert attempt", err)
	}
	return res.LastInsertId()
}

func (r *AttemptRepo) UpdateOutcome(ctx context.Context, q Queryer, id int64, outcome, notes string, updatedAt string) error {
	_, err := q.ExecContext(ctx, `UPDATE attempts SET outcome=?, notes=?, updated_at=? WHERE id=?`, outcome, notes, updatedAt, id)
	return dbErr("update attempt", err)
}

const attemptColumns = `id, task_id, run_id, outcome, notes, created_at, updated_at`

func (r *AttemptRepo) scan(row interface{ Scan(dest ...any) error }) (*models.Attempt, error) {
	var a models.Attempt
	var runID sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&a.ID, &a.TaskID, &runID, &a.Outcome, &a.Notes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.RunID = fromNullString(runID)

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AttemptRepo) Get(ctx context.Context, q Queryer, id int64) (*models.Attempt, error) {
	row := q.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id=?`, id)
	a, err := r.scan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("get attempt", err)
	}
	return a, nil
}

// ListAll returns every attempt, oldest first -- used by JSONL export.
func (r *AttemptRepo) ListAll(ctx context.Context, q Queryer) ([]*models.Attempt, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+attemptColumns+` FROM attempts ORDER BY created_at ASC`)
	if err != nil {
		return nil, dbErr("list all attempts", err)
	}
	defer rows.Close()

	var out []*models.Attempt
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan attempt", err)
		}
		out = append(out, a)
	}
	return out, dbErr("list all attempts rows", rows.Err())
}

// UpsertWithID inserts or overwrites an attempt by explicit id -- the JSONL
// importer's path.
func (r *AttemptRepo) UpsertWithID(ctx context.Context, q Queryer, a *models.Attempt) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO attempts (id, task_id, run_id, outcome, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET task_id=excluded.task_id, run_id=excluded.run_id,
			outcome=excluded.outcome, notes=excluded.notes, updated_at=excluded.updated_at`,
		a.ID, a.TaskID, a.RunID, a.Outcome, a.Notes, formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	return dbErr("upsert attempt by id", err)
}

func (r *AttemptRepo) ListByTask(ctx context.Context, q Queryer, taskID string) ([]*models.Attempt, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE task_id=? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, dbErr("list attempts by task", err)
	}
	defer rows.Close()

	var out []*models.Attempt
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan attempt", err)
		}
		out = append(out, a)
	}
	return out, dbErr("list attempts by task rows", rows.Err())
}
