package repo

import (
	"context"
	"database/sql"

	"github.com/txcore/tx/internal/models"
)

// EventRepo maps the events table: the append-only activity log.
type EventRepo struct{}

func NewEventRepo() *EventRepo { return &EventRepo{} }

func (r *EventRepo) Insert(ctx context.Context, q Queryer, e *models.Event) (int64, error) {
	meta, err := marshalJSON(e.Metadata)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO events (timestamp, event_type, run_id, task_id, agent, tool_name, content, metadata, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(e.Timestamp), string(e.Type), e.RunID, e.TaskID, e.Agent, e.ToolName,
		e.Content, meta, nullInt64(e.DurationMS),
	)
	if err != nil {
		return 0, dbErr("insert event", err)
	}
	return res.LastInsertId()
}

const eventColumns = `id, timestamp, event_type, run_id, task_id, agent, tool_name, content, metadata, duration_ms`

func (r *EventRepo) scan(row interface{ Scan(dest ...any) error }) (*models.Event, error) {
	var e models.Event
	var eventType, timestamp, metaStr string
	var runID, taskID, agent, toolName sql.NullString
	var durationMS sql.NullInt64

	if err := row.Scan(&e.ID, &timestamp, &eventType, &runID, &taskID, &agent, &toolName,
		&e.Content, &metaStr, &durationMS); err != nil {
		return nil, err
	}
	e.Type = models.EventType(eventType)
	e.RunID = fromNullString(runID)
	e.TaskID = fromNullString(taskID)
	e.Agent = fromNullString(agent)
	e.ToolName = fromNullString(toolName)
	e.DurationMS = fromNullInt64(durationMS)

	meta, err := unmarshalJSONMap(metaStr)
	if err != nil {
		return nil, err
	}
	e.Metadata = meta

	if e.Timestamp, err = parseTime(timestamp); err != nil {
		return nil, err
	}
	return &e, nil
}

// EventFilter selects events by optional task, run, and/or event-type set.
type EventFilter struct {
	TaskID *string
	RunID  *string
	Types  []models.EventType
	Limit  int
}

func (r *EventRepo) List(ctx context.Context, q Queryer, f EventFilter) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	var args []any

	if f.TaskID != nil {
		query += ` AND task_id=?`
		args = append(args, *f.TaskID)
	}
	if f.RunID != nil {
		query += ` AND run_id=?`
		args = append(args, *f.RunID)
	}
	if len(f.Types) > 0 {
		query += ` AND event_type IN (`
		for i, t := range f.Types {
			if i > 0 {
				query += `,`
			}
			query += `?`
			args = append(args, string(t))
		}
		query += `)`
	}
	query += ` ORDER BY timestamp ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list events", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		e, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan event", err)
		}
		out = append(out, e)
	}
	return out, dbErr("list events rows", rows.Err())
}
