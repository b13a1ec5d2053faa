// Package heartbeat implements spec.md component J: per-run progress
// ingestion, staleness classification, and reap-on-stall recovery.
package heartbeat

import (
	"context"
	"database/sql"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/txcore/tx/internal/claim"
	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/storage"
	"github.com/txcore/tx/internal/txerr"
	"github.com/txcore/tx/internal/validate"
)

// Ingest is the payload for Heartbeat.
type Ingest struct {
	RunID           string `validate:"required"`
	StdoutBytes     int64  `validate:"gte=0"`
	StderrBytes     int64  `validate:"gte=0"`
	TranscriptBytes int64  `validate:"gte=0"`
	DeltaBytes      int64
	CheckAt         string
	ActivityAt      string
}

// StallOptions parametrizes ListStalled/ReapStalled.
type StallOptions struct {
	TranscriptIdleSeconds int
	HeartbeatLagSeconds   int // 0 = disabled
	ResetTask             bool
	DryRun                bool
}

// StallReason is why a run was classified as stalled.
type StallReason string

const (
	ReasonTranscriptIdle StallReason = "transcript_idle"
	ReasonHeartbeatStale StallReason = "heartbeat_stale"
)

// Stalled is one classified candidate.
type Stalled struct {
	RunID  string
	TaskID *string
	Reason StallReason
}

// ReapEntry is one reaped run's outcome.
type ReapEntry struct {
	ID                string
	TaskID            string
	TaskReset         bool
	ProcessTerminated bool
}

type Service struct {
	db         *storage.DB
	heartbeats *repo.HeartbeatRepo
	runs       *repo.RunRepo
	tasks      *repo.TaskRepo
	claims     *claim.Service
	events     *repo.EventRepo
	log        *zap.Logger
}

func New(db *storage.DB, heartbeats *repo.HeartbeatRepo, runs *repo.RunRepo, tasks *repo.TaskRepo, claims *claim.Service, events *repo.EventRepo, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, heartbeats: heartbeats, runs: runs, tasks: tasks, claims: claims, events: events, log: log}
}

// Heartbeat validates timestamps and upserts the per-run state row. This
// is non-blocking and completes in O(1) storage ops; it never waits on
// the reaper (spec.md §5).
func (s *Service) Heartbeat(ctx context.Context, in Ingest) error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	checkAt, err := time.Parse(time.RFC3339Nano, in.CheckAt)
	if err != nil {
		return txerr.InvalidDate("checkAt", in.CheckAt)
	}
	activityAt := checkAt
	if in.ActivityAt != "" {
		activityAt, err = time.Parse(time.RFC3339Nano, in.ActivityAt)
		if err != nil {
			return txerr.InvalidDate("activityAt", in.ActivityAt)
		}
	}

	h := &models.HeartbeatState{
		RunID:           in.RunID,
		LastCheckAt:     checkAt,
		LastActivityAt:  activityAt,
		StdoutBytes:     in.StdoutBytes,
		StderrBytes:     in.StderrBytes,
		TranscriptBytes: in.TranscriptBytes,
		LastDeltaBytes:  in.DeltaBytes,
	}
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.heartbeats.Upsert(ctx, tx, h)
	})
}

// ListStalled classifies every running run with a heartbeat state.
// transcript_idle is reported ahead of heartbeat_stale when both apply.
func (s *Service) ListStalled(ctx context.Context, opts StallOptions) ([]Stalled, error) {
	q := s.db.Conn()
	running, err := s.runs.ListRunning(ctx, q)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var out []Stalled
	for _, r := range running {
		h, err := s.heartbeats.Get(ctx, q, r.ID)
		if err != nil {
			return nil, err
		}
		if h == nil {
			continue
		}

		idleFor := now.Sub(h.LastActivityAt)
		lagFor := now.Sub(h.LastCheckAt)

		switch {
		case opts.TranscriptIdleSeconds > 0 && idleFor > time.Duration(opts.TranscriptIdleSeconds)*time.Second:
			out = append(out, Stalled{RunID: r.ID, TaskID: r.TaskID, Reason: ReasonTranscriptIdle})
		case opts.HeartbeatLagSeconds > 0 && lagFor > time.Duration(opts.HeartbeatLagSeconds)*time.Second:
			out = append(out, Stalled{RunID: r.ID, TaskID: r.TaskID, Reason: ReasonHeartbeatStale})
		}
	}
	return out, nil
}

// ReapStalled cancels each stalled run (exit_code=137), expires its task's
// active claim, and optionally resets the task to ready.
func (s *Service) ReapStalled(ctx context.Context, opts StallOptions) ([]ReapEntry, error) {
	if opts.TranscriptIdleSeconds < 1 {
		return nil, txerr.Validation("transcriptIdleSeconds must be >= 1", map[string]any{"transcriptIdleSeconds": opts.TranscriptIdleSeconds})
	}

	stalled, err := s.ListStalled(ctx, opts)
	if err != nil {
		return nil, err
	}

	var out []ReapEntry
	for _, st := range stalled {
		entry := ReapEntry{ID: st.RunID}
		if st.TaskID != nil {
			entry.TaskID = *st.TaskID
		}

		if opts.DryRun {
			out = append(out, entry)
			continue
		}

		if h, herr := s.heartbeats.Get(ctx, s.db.Conn(), st.RunID); herr == nil && h != nil {
			s.log.Warn("reaping stalled run",
				zap.String("runID", st.RunID), zap.String("reason", string(st.Reason)),
				zap.String("transcriptCaptured", humanize.Bytes(uint64(h.TranscriptBytes))))
		}

		exitCode := 137
		err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			r, err := s.runs.Get(ctx, tx, st.RunID)
			if err != nil {
				return err
			}
			if r == nil {
				return nil
			}
			now := time.Now().UTC()
			r.Status = models.RunCancelled
			r.EndedAt = &now
			r.ExitCode = &exitCode
			if err := s.runs.Update(ctx, tx, r); err != nil {
				return err
			}

			_, err = s.events.Insert(ctx, tx, &models.Event{
				Timestamp: now,
				Type:      models.EventRunFailed,
				RunID:     &r.ID,
				TaskID:    r.TaskID,
				Content:   "reaped: " + string(st.Reason),
				Metadata:  map[string]any{},
			})
			if err != nil {
				return err
			}

			if st.TaskID == nil {
				return nil
			}

			if opts.ResetTask {
				t, err := s.tasks.Get(ctx, tx, entry.TaskID)
				if err != nil {
					return err
				}
				if t != nil && models.CanTransition(t.Status, models.StatusReady) {
					t.Status = models.StatusReady
					t.UpdatedAt = now
					if err := s.tasks.Update(ctx, tx, t); err != nil {
						return err
					}
					entry.TaskReset = true
				} else if t != nil {
					s.log.Warn("reap: task status does not permit reset to ready",
						zap.String("taskID", entry.TaskID), zap.String("status", string(t.Status)))
				}
			}

			c, err := s.claims.ActiveForTaskTx(ctx, tx, entry.TaskID)
			if err != nil {
				return err
			}
			if c != nil {
				if err := s.claims.ExpireTx(ctx, tx, c.ID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		out = append(out, entry)
	}
	return out, nil
}
