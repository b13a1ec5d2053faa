package repo

import (
	"context"
	"database/sql"

	"github.com/txcore/tx/internal/models"
)

// HeartbeatRepo maps the heartbeat_states table: one row per running run,
// upserted on every ingest so the reaper's staleness check is an O(1)
// lookup rather than a transcript re-scan (spec.md §4.J).
type HeartbeatRepo struct{}

func NewHeartbeatRepo() *HeartbeatRepo { return &HeartbeatRepo{} }

func (r *HeartbeatRepo) Upsert(ctx context.Context, q Queryer, h *models.HeartbeatState) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO heartbeat_states (run_id, last_check_at, last_activity_at, stdout_bytes,
			stderr_bytes, transcript_bytes, last_delta_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			last_check_at=excluded.last_check_at,
			last_activity_at=excluded.last_activity_at,
			stdout_bytes=excluded.stdout_bytes,
			stderr_bytes=excluded.stderr_bytes,
			transcript_bytes=excluded.transcript_bytes,
			last_delta_bytes=excluded.last_delta_bytes`,
		h.RunID, formatTime(h.LastCheckAt), formatTime(h.LastActivityAt),
		h.StdoutBytes, h.StderrBytes, h.TranscriptBytes, h.LastDeltaBytes,
	)
	return dbErr("upsert heartbeat state", err)
}

const heartbeatColumns = `run_id, last_check_at, last_activity_at, stdout_bytes, stderr_bytes, transcript_bytes, last_delta_bytes`

func (r *HeartbeatRepo) scan(row interface{ Scan(dest ...any) error }) (*models.HeartbeatState, error) {
	var h models.HeartbeatState
	var lastCheckAt, lastActivityAt string
	if err := row.Scan(&h.RunID, &lastCheckAt, &lastActivityAt, &h.StdoutBytes, &h.StderrBytes,
		&h.TranscriptBytes, &h.LastDeltaBytes); err != nil {
		return nil, err
	}
	var err error
	if h.LastCheckAt, err = parseTime(lastCheckAt); err != nil {
		return nil, err
	}
	if h.LastActivityAt, err = parseTime(lastActivityAt); err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *HeartbeatRepo) Get(ctx context.Context, q Queryer, runID string) (*models.HeartbeatState, error) {
	row := q.QueryRowContext(ctx, `SELECT `+heartbeatColumns+` FROM heartbeat_states WHERE run_id=?`, runID)
	h, err := r.scan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, dbErr("get heartbeat state", err)
	}
	return h, nil
}

// ListStaleBefore returns every heartbeat whose last_activity_at is before
// the cutoff -- candidates for reapStalled.
func (r *HeartbeatRepo) ListStaleBefore(ctx context.Context, q Queryer, cutoff string) ([]*models.HeartbeatState, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+heartbeatColumns+` FROM heartbeat_states WHERE last_activity_at < ?`, cutoff)
	if err != nil {
		return nil, dbErr("list stale heartbeats", err)
	}
	defer rows.Close()

	var out []*models.HeartbeatState
	for rows.Next() {
		h, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan stale heartbeat", err)
		}
		out = append(out, h)
	}
	return out, dbErr("list stale heartbeats rows", rows.Err())
}

func (r *HeartbeatRepo) Delete(ctx context.Context, q Queryer, runID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM heartbeat_states WHERE run_id=?`, runID)
	return dbErr("delete heartbeat state", err)
}
