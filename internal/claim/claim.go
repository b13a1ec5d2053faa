// Package claim implements spec.md component H: atomic claim/renew/release
// with at-most-one-active-claim-per-task, backed by the partial unique
// index idx_claims_one_active_per_task.
package claim

import (
	"context"
	"database/sql"
	"time"

	"github.com/antithesishq/antithesis-sdk-go/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/storage"
	"github.com/txcore/tx/internal/txerr"
)

const defaultLeaseDuration = 30 * time.Minute

type Service struct {
	db             *storage.DB
	claims         *repo.ClaimRepo
	leaseDuration  time.Duration
	sweepSometimes *rate.Sometimes
	log            *zap.Logger
}

func New(db *storage.DB, claims *repo.ClaimRepo, leaseDuration time.Duration, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if leaseDuration <= 0 {
		leaseDuration = defaultLeaseDuration
	}
	return &Service{
		db: db, claims: claims, leaseDuration: leaseDuration,
		sweepSometimes: &rate.Sometimes{Interval: time.Second},
		log:            log,
	}
}

// Claim is the critical section: under any number of concurrent callers
// targeting the same task id, at most one succeeds. Inside one transaction
// it reads any active claim for the task and fails fast with
// AlreadyClaimed; otherwise it inserts, and idx_claims_one_active_per_task
// rejects the insert if a concurrent caller's claim landed first (spec.md
// §4.H, §8 scenario 1).
func (s *Service) Claim(ctx context.Context, taskID, workerID string) (*models.Claim, error) {
	var sweepErr error
	s.sweepSometimes.Do(func() {
		_, sweepErr = s.SweepExpired(ctx)
	})
	if sweepErr != nil {
		s.log.Warn("opportunistic lease sweep before claim failed", zap.String("taskId", taskID), zap.Error(sweepErr))
	}

	var result *models.Claim
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		existing, err := s.claims.ActiveForTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if existing != nil {
			return txerr.AlreadyClaimed(taskID, existing.WorkerID)
		}

		now := time.Now().UTC()
		c := &models.Claim{
			TaskID:         taskID,
			WorkerID:       workerID,
			ClaimedAt:      now,
			LeaseExpiresAt: now.Add(s.leaseDuration),
			RenewedCount:   0,
			Status:         models.ClaimActive,
		}
		id, err := s.claims.Insert(ctx, tx, c)
		if err != nil {
			return err
		}
		c.ID = id
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	assert.Always(result != nil, "a successful claim always returns a claim row", map[string]any{"taskId": taskID})
	return result, nil
}

// Renew extends the lease and increments renewed_count; forbidden unless
// the claim is active.
func (s *Service) Renew(ctx context.Context, claimID int64) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		c, err := s.claims.Get(ctx, tx, claimID)
		if err != nil {
			return err
		}
		if c == nil || c.Status != models.ClaimActive {
			return txerr.ClaimNotOwned("", "")
		}
		return s.claims.Renew(ctx, tx, claimID, formatTime(time.Now().UTC().Add(s.leaseDuration)))
	})
}

// Release sets status=released; fails if the caller doesn't own the claim.
func (s *Service) Release(ctx context.Context, taskID, workerID string) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		c, err := s.claims.ActiveForTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if c == nil || c.WorkerID != workerID {
			return txerr.ClaimNotOwned("", workerID)
		}
		return s.claims.SetStatus(ctx, tx, c.ID, models.ClaimReleased)
	})
}

// Expire sets status=expired; idempotent.
func (s *Service) Expire(ctx context.Context, claimID int64) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.ExpireTx(ctx, tx, claimID)
	})
}

// ExpireTx is Expire run against a transaction the caller already holds, so
// a claim expiry can be folded into a larger atomic unit (e.g. the
// heartbeat reaper's run-cancel + task-reset + claim-expire) instead of
// committing as an independent transaction the caller's own commit could
// race against.
func (s *Service) ExpireTx(ctx context.Context, tx *sql.Tx, claimID int64) error {
	c, err := s.claims.Get(ctx, tx, claimID)
	if err != nil {
		return err
	}
	if c == nil || c.Status != models.ClaimActive {
		return nil
	}
	return s.claims.SetStatus(ctx, tx, claimID, models.ClaimExpired)
}

// ActiveForTaskTx is ActiveForTask run against a transaction the caller
// already holds.
func (s *Service) ActiveForTaskTx(ctx context.Context, tx *sql.Tx, taskID string) (*models.Claim, error) {
	return s.claims.ActiveForTask(ctx, tx, taskID)
}

// SweepExpired expires every active claim whose lease has passed, used by
// the heartbeat reaper and by on-demand maintenance calls.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	n := 0
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		expired, err := s.claims.ListActiveExpiredBefore(ctx, tx, formatTime(time.Now().UTC()))
		if err != nil {
			return err
		}
		for _, c := range expired {
			if err := s.claims.SetStatus(ctx, tx, c.ID, models.ClaimExpired); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *Service) ActiveForTask(ctx context.Context, taskID string) (*models.Claim, error) {
	return s.claims.ActiveForTask(ctx, s.db.Conn(), taskID)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
