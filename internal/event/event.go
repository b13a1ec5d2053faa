// Package event implements spec.md component P: the append-only activity
// log. Most rows are written synchronously inside another service's own
// transaction (run start/finish, heartbeat reap) via the repo layer directly;
// this package is the surface for callers that log independently of such a
// transaction -- tool-call/tool-result/metric rows a front-end reports
// after the fact -- plus the read-side query surface shared by all of them.
package event

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/storage"
	"github.com/txcore/tx/internal/txerr"
)

// RecordInput is the payload for Record.
type RecordInput struct {
	Type       models.EventType
	RunID      *string
	TaskID     *string
	Agent      *string
	ToolName   *string
	Content    string
	Metadata   map[string]any
	DurationMS *int64
}

type Service struct {
	db     *storage.DB
	events *repo.EventRepo
	log    *zap.Logger
}

func New(db *storage.DB, events *repo.EventRepo, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, events: events, log: log}
}

// knownEventTypes is the closed-but-extensible minimum vocabulary spec.md
// §4.P lists; a front-end may report an application-specific type beyond
// this set, so Record only warns rather than rejecting it.
var knownEventTypes = map[models.EventType]bool{
	models.EventRunStarted: true, models.EventRunCompleted: true, models.EventRunFailed: true,
	models.EventTaskCreated: true, models.EventTaskUpdated: true, models.EventTaskCompleted: true,
	models.EventToolCall: true, models.EventToolResult: true, models.EventError: true,
	models.EventLearningCaptured: true, models.EventMetric: true,
}

// Record appends one event row in its own transaction.
func (s *Service) Record(ctx context.Context, in RecordInput) (*models.Event, error) {
	if in.Content == "" && in.Type != models.EventMetric {
		return nil, txerr.Validation("event content must not be empty", map[string]any{"field": "content"})
	}
	if !knownEventTypes[in.Type] {
		s.log.Warn("recording event outside the documented vocabulary", zap.String("eventType", string(in.Type)))
	}

	e := &models.Event{
		Timestamp: time.Now().UTC(), Type: in.Type, RunID: in.RunID, TaskID: in.TaskID,
		Agent: in.Agent, ToolName: in.ToolName, Content: in.Content, Metadata: in.Metadata, DurationMS: in.DurationMS,
	}

	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		id, err := s.events.Insert(ctx, tx, e)
		if err != nil {
			return err
		}
		e.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// RecordInTx appends an event row using a caller-supplied transaction, for
// services that must log synchronously alongside another mutation (spec.md
// §4.P "the reaper and lifecycle write events synchronously inside their
// transactions").
func (s *Service) RecordInTx(ctx context.Context, tx *sql.Tx, in RecordInput) (*models.Event, error) {
	e := &models.Event{
		Timestamp: time.Now().UTC(), Type: in.Type, RunID: in.RunID, TaskID: in.TaskID,
		Agent: in.Agent, ToolName: in.ToolName, Content: in.Content, Metadata: in.Metadata, DurationMS: in.DurationMS,
	}
	id, err := s.events.Insert(ctx, tx, e)
	if err != nil {
		return nil, err
	}
	e.ID = id
	return e, nil
}

func (s *Service) ListForTask(ctx context.Context, taskID string, limit int) ([]*models.Event, error) {
	return s.events.List(ctx, s.db.Conn(), repo.EventFilter{TaskID: &taskID, Limit: limit})
}

func (s *Service) ListForRun(ctx context.Context, runID string, limit int) ([]*models.Event, error) {
	return s.events.List(ctx, s.db.Conn(), repo.EventFilter{RunID: &runID, Limit: limit})
}

func (s *Service) ListByTypes(ctx context.Context, types []models.EventType, limit int) ([]*models.Event, error) {
	return s.events.List(ctx, s.db.Conn(), repo.EventFilter{Types: types, Limit: limit})
}
