// Package ready implements spec.md component F: the set of tasks whose
// blockers are all done and whose status permits execution.
package ready

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/storage"
)

// Service computes the ready set on demand; no background scheduler is
// mandated (spec.md §5).
type Service struct {
	db    *storage.DB
	tasks *repo.TaskRepo
	deps  *repo.DependencyRepo
	ready *repo.ReadyRepo
	log   *zap.Logger
}

func New(db *storage.DB, tasks *repo.TaskRepo, deps *repo.DependencyRepo, ready *repo.ReadyRepo, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, tasks: tasks, deps: deps, ready: ready, log: log}
}

// CountBlocked reports how many ready-capable tasks have at least one
// outstanding blocker -- a queue-depth aggregate for event log / metrics
// surfaces that don't need the full task rows GetBlocking returns.
func (s *Service) CountBlocked(ctx context.Context) (int, error) {
	return s.ready.CountBlocked(ctx, s.db.Conn())
}

// GetReady returns ready-capable tasks with no outstanding (non-done)
// blocker, sorted by score descending then creation time ascending.
func (s *Service) GetReady(ctx context.Context, limit int) ([]*models.Task, error) {
	var statuses []models.TaskStatus
	for st, ok := range models.ReadyCapableStatuses {
		if ok {
			statuses = append(statuses, st)
		}
	}

	q := s.db.Conn()
	candidates, err := s.tasks.List(ctx, q, repo.Filter{Statuses: statuses})
	if err != nil {
		return nil, err
	}

	var out []*models.Task
	for _, t := range candidates {
		blocked, err := s.hasOutstandingBlocker(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if !blocked {
			out = append(out, t)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// IsReady is the single-task version of GetReady's predicate.
func (s *Service) IsReady(ctx context.Context, id string) (bool, error) {
	t, err := s.tasks.Get(ctx, s.db.Conn(), id)
	if err != nil {
		return false, err
	}
	if t == nil || !models.ReadyCapableStatuses[t.Status] {
		return false, nil
	}
	blocked, err := s.hasOutstandingBlocker(ctx, id)
	if err != nil {
		return false, err
	}
	return !blocked, nil
}

// GetBlocking returns the tasks for which id is the sole remaining
// blocker -- i.e. every other blocker of that task is already done.
func (s *Service) GetBlocking(ctx context.Context, id string) ([]*models.Task, error) {
	q := s.db.Conn()
	blockedIDs, err := s.deps.BlockedByTask(ctx, q, id)
	if err != nil {
		return nil, err
	}

	var out []*models.Task
	for _, blockedID := range blockedIDs {
		blockers, err := s.deps.BlockersOf(ctx, q, blockedID)
		if err != nil {
			return nil, err
		}
		statuses, err := s.deps.StatusesOf(ctx, q, blockers)
		if err != nil {
			return nil, err
		}

		soleRemaining := true
		for _, b := range blockers {
			if b == id {
				continue
			}
			if statuses[b] != models.StatusDone {
				soleRemaining = false
				break
			}
		}
		if !soleRemaining {
			continue
		}

		t, err := s.tasks.Get(ctx, q, blockedID)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Service) hasOutstandingBlocker(ctx context.Context, taskID string) (bool, error) {
	q := s.db.Conn()
	blockers, err := s.deps.BlockersOf(ctx, q, taskID)
	if err != nil {
		return false, err
	}
	if len(blockers) == 0 {
		return false, nil
	}
	statuses, err := s.deps.StatusesOf(ctx, q, blockers)
	if err != nil {
		return false, err
	}
	for _, b := range blockers {
		if statuses[b] != models.StatusDone {
			return true, nil
		}
	}
	return false, nil
}
