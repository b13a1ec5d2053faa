// Package run implements spec.md component I: start/complete/fail/cancel
// for agent runs, emitting lifecycle events synchronously inside each
// transaction.
package run

import (
	"context"
	"database/sql"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/txcore/tx/internal/ids"
	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/storage"
	"github.com/txcore/tx/internal/txerr"
)

// StartInput is the payload for Start.
type StartInput struct {
	TaskID         *string
	AgentName      string
	PID            *int
	TranscriptPath *string
	StdoutPath     *string
	StderrPath     *string
	ContextPath    *string
	Metadata       map[string]any
}

type Service struct {
	db     *storage.DB
	runs   *repo.RunRepo
	events *repo.EventRepo
	log    *zap.Logger
}

func New(db *storage.DB, runs *repo.RunRepo, events *repo.EventRepo, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, runs: runs, events: events, log: log}
}

func (s *Service) Start(ctx context.Context, in StartInput) (*models.Run, error) {
	meta := in.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	r := &models.Run{
		ID:             ids.NewRunID(),
		TaskID:         in.TaskID,
		AgentName:      in.AgentName,
		StartedAt:      time.Now().UTC(),
		Status:         models.RunRunning,
		PID:            in.PID,
		TranscriptPath: in.TranscriptPath,
		StdoutPath:     in.StdoutPath,
		StderrPath:     in.StderrPath,
		ContextPath:    in.ContextPath,
		Metadata:       meta,
	}

	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.runs.Insert(ctx, tx, r); err != nil {
			return err
		}
		_, err := s.events.Insert(ctx, tx, &models.Event{
			Timestamp: r.StartedAt,
			Type:      models.EventRunStarted,
			RunID:     &r.ID,
			TaskID:    r.TaskID,
			Agent:     &r.AgentName,
			Content:   "run started",
			Metadata:  map[string]any{},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Complete transitions a run to completed, recording an optional summary.
func (s *Service) Complete(ctx context.Context, id string, summary *string) (*models.Run, error) {
	return s.finish(ctx, id, models.RunCompleted, summary, nil, models.EventRunCompleted)
}

// Fail transitions a run to failed with an error message.
func (s *Service) Fail(ctx context.Context, id string, errMsg string) (*models.Run, error) {
	return s.finish(ctx, id, models.RunFailed, nil, &errMsg, models.EventRunFailed)
}

// Cancel transitions a run to cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Run, error) {
	return s.finish(ctx, id, models.RunCancelled, nil, nil, models.EventRunFailed)
}

func (s *Service) finish(ctx context.Context, id string, status models.RunStatus, summary, errMsg *string, evt models.EventType) (*models.Run, error) {
	var result *models.Run
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		r, err := s.runs.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return txerr.RunNotFound(id)
		}

		now := time.Now().UTC()
		r.Status = status
		r.EndedAt = &now
		if summary != nil {
			r.Summary = summary
		}
		if errMsg != nil {
			r.Error = errMsg
		}

		if err := s.runs.Update(ctx, tx, r); err != nil {
			return err
		}

		content := string(status)
		_, err = s.events.Insert(ctx, tx, &models.Event{
			Timestamp: now,
			Type:      evt,
			RunID:     &r.ID,
			TaskID:    r.TaskID,
			Agent:     &r.AgentName,
			Content:   content,
			Metadata:  map[string]any{},
		})
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Run, error) {
	r, err := s.runs.Get(ctx, s.db.Conn(), id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, txerr.RunNotFound(id)
	}
	return r, nil
}

func (s *Service) ListByTask(ctx context.Context, taskID string) ([]*models.Run, error) {
	return s.runs.ListByTask(ctx, s.db.Conn(), taskID)
}

// LogCaptures surfaces a run's recorded per-stream capture state without
// mutating anything (spec.md §4.I).
func (s *Service) LogCaptures(ctx context.Context, id string) (map[string]models.LogCapture, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, ok := r.Metadata["logCapture"]
	if !ok {
		return map[string]models.LogCapture{}, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return map[string]models.LogCapture{}, nil
	}

	out := make(map[string]models.LogCapture, len(m))
	for stream, v := range m {
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		lc := models.LogCapture{}
		if p, ok := entry["path"].(string); ok {
			lc.Path = p
		}
		if st, ok := entry["state"].(string); ok {
			lc.State = models.LogCaptureState(st)
		}
		if reason, ok := entry["reason"].(string); ok {
			lc.Reason = reason
		}
		if b, ok := entry["bytes"].(float64); ok {
			lc.Bytes = int64(b)
		}
		out[stream] = lc
	}

	s.logCaptureSizes(id, out)
	return out, nil
}

// logCaptureSizes emits one human-readable byte-count line per captured
// stream, so an operator scanning logs sees "12.4 MB" instead of a raw
// integer of bytes.
func (s *Service) logCaptureSizes(runID string, captures map[string]models.LogCapture) {
	for stream, lc := range captures {
		if lc.Bytes == 0 {
			continue
		}
		s.log.Debug("log capture size",
			zap.String("runID", runID), zap.String("stream", stream),
			zap.String("size", humanize.Bytes(uint64(lc.Bytes))))
	}
}
