package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/txcore/tx/internal/models"
)

// WorkerRepo maps the workers table.
type WorkerRepo struct{}

func NewWorkerRepo() *WorkerRepo { return &WorkerRepo{} }

func (r *WorkerRepo) Insert(ctx context.Context, q Queryer, w *models.Worker) error {
	meta, err := marshalJSON(w.Metadata)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO workers (id, name, hostname, pid, status, registered_at, last_heartbeat_at,
			current_task_id, capabilities, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.Hostname, w.PID, string(w.Status),
		formatTime(w.RegisteredAt), formatTime(w.LastHeartbeatAt),
		w.CurrentTaskID, strings.Join(w.Capabilities, ","), meta,
	)
	return dbErr("insert worker", err)
}

func (r *WorkerRepo) UpdateStatus(ctx context.Context, q Queryer, id string, status models.WorkerStatus, currentTaskID *string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE workers SET status=?, current_task_id=? WHERE id=?`, string(status), currentTaskID, id)
	return dbErr("update worker status", err)
}

func (r *WorkerRepo) Heartbeat(ctx context.Context, q Queryer, id string, at string) error {
	_, err := q.ExecContext(ctx, `UPDATE workers SET last_heartbeat_at=? WHERE id=?`, at, id)
	return dbErr("worker heartbeat", err)
}

const workerColumns = `id, name, hostname, pid, status, registered_at, last_heartbeat_at,
	current_task_id, capabilities, metadata`

func (r *WorkerRepo) scan(row interface{ Scan(dest ...any) error }) (*models.Worker, error) {
	var w models.Worker
	var status, registeredAt, lastHeartbeatAt, capabilities, metaStr string
	var currentTaskID sql.NullString

	if err := row.Scan(&w.ID, &w.Name, &w.Hostname, &w.PID, &status, &registeredAt, &lastHeartbeatAt,
		&currentTaskID, &capabilities, &metaStr); err != nil {
		return nil, err
	}

	w.Status = models.WorkerStatus(status)
	w.CurrentTaskID = fromNullString(currentTaskID)
	if capabilities != "" {
		w.Capabilities = strings.Split(capabilities, ",")
	}

	var err error
	if w.RegisteredAt, err = parseTime(registeredAt); err != nil {
		return nil, err
	}
	if w.LastHeartbeatAt, err = parseTime(lastHeartbeatAt); err != nil {
		return nil, err
	}
	meta, err := unmarshalJSONMap(metaStr)
	if err != nil {
		return nil, err
	}
	w.Metadata = meta

	return &w, nil
}

func (r *WorkerRepo) Get(ctx context.Context, q Queryer, id string) (*models.Worker, error) {
	row := q.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id=?`, id)
	w, err := r.scan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, dbErr("get worker", err)
	}
	return w, nil
}

func (r *WorkerRepo) List(ctx context.Context, q Queryer) ([]*models.Worker, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers ORDER BY registered_at ASC`)
	if err != nil {
		return nil, dbErr("list workers", err)
	}
	defer rows.Close()

	var out []*models.Worker
	for rows.Next() {
		w, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan worker", err)
		}
		out = append(out, w)
	}
	return out, dbErr("list workers rows", rows.Err())
}
