package repo

import (
	"context"
	"database/sql"

	"github.com/txcore/tx/internal/models"
)

// RunRepo maps the runs table.
type RunRepo struct{}

func NewRunRepo() *RunRepo { return &RunRepo{} }

func (r *RunRepo) Insert(ctx context.Context, q Queryer, run *models.Run) error {
	meta, err := marshalJSON(run.Metadata)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, agent_name, started_at, ended_at, status, exit_code, pid,
			transcript_path, stdout_path, stderr_path, context_path, summary, error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TaskID, run.AgentName, formatTime(run.StartedAt), nullTime(run.EndedAt),
		string(run.Status), nullInt(run.ExitCode), nullInt(run.PID),
		run.TranscriptPath, run.StdoutPath, run.StderrPath, run.ContextPath,
		run.Summary, run.Error, meta,
	)
	return dbErr("insert run", err)
}

func (r *RunRepo) Update(ctx context.Context, q Queryer, run *models.Run) error {
	meta, err := marshalJSON(run.Metadata)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE runs SET ended_at=?, status=?, exit_code=?, summary=?, error=?, metadata=?
		WHERE id=?`,
		nullTime(run.EndedAt), string(run.Status), nullInt(run.ExitCode),
		run.Summary, run.Error, meta, run.ID,
	)
	return dbErr("update run", err)
}

const runColumns = `id, task_id, agent_name, started_at, ended_at, status, exit_code, pid,
	transcript_path, stdout_path, stderr_path, context_path, summary, error, metadata`

func (r *RunRepo) scan(row interface{ Scan(dest ...any) error }) (*models.Run, error) {
	var run models.Run
	var taskID, transcriptPath, stdoutPath, stderrPath, contextPath, summary, errStr sql.NullString
	var status, startedAt, metaStr string
	var endedAt sql.NullString
	var exitCode, pid sql.NullInt64

	if err := row.Scan(&run.ID, &taskID, &run.AgentName, &startedAt, &endedAt, &status, &exitCode, &pid,
		&transcriptPath, &stdoutPath, &stderrPath, &contextPath, &summary, &errStr, &metaStr); err != nil {
		return nil, err
	}

	run.Status = models.RunStatus(status)
	run.TaskID = fromNullString(taskID)
	run.TranscriptPath = fromNullString(transcriptPath)
	run.StdoutPath = fromNullString(stdoutPath)
	run.StderrPath = fromNullString(stderrPath)
	run.ContextPath = fromNullString(contextPath)
	run.Summary = fromNullString(summary)
	run.Error = fromNullString(errStr)
	run.ExitCode = fromNullInt(exitCode)
	run.PID = fromNullInt(pid)

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if run.EndedAt, err = fromNullTime(endedAt); err != nil {
		return nil, err
	}
	meta, err := unmarshalJSONMap(metaStr)
	if err != nil {
		return nil, err
	}
	run.Metadata = meta

	return &run, nil
}

func (r *RunRepo) Get(ctx context.Context, q Queryer, id string) (*models.Run, error) {
	row := q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id)
	run, err := r.scan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, dbErr("get run", err)
	}
	return run, nil
}

func (r *RunRepo) ListByTask(ctx context.Context, q Queryer, taskID string) ([]*models.Run, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE task_id=? ORDER BY started_at DESC`, taskID)
	if err != nil {
		return nil, dbErr("list runs by task", err)
	}
	defer rows.Close()

	var out []*models.Run
	for rows.Next() {
		run, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan run", err)
		}
		out = append(out, run)
	}
	return out, dbErr("list runs by task rows", rows.Err())
}

func (r *RunRepo) ListRunning(ctx context.Context, q Queryer) ([]*models.Run, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE status='running' ORDER BY started_at ASC`)
	if err != nil {
		return nil, dbErr("list running runs", err)
	}
	defer rows.Close()

	var out []*models.Run
	for rows.Next() {
		run, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan running run", err)
		}
		out = append(out, run)
	}
	return out, dbErr("list running runs rows", rows.Err())
}
