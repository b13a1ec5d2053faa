// Package taskgraph implements spec.md component D: task CRUD, status
// transitions, and the TaskWithDeps derived view.
package taskgraph

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/txcore/tx/internal/ids"
	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/storage"
	"github.com/txcore/tx/internal/txerr"
	"github.com/txcore/tx/internal/validate"
)

// CreateInput is the validated payload for Create.
type CreateInput struct {
	Title       string `validate:"required"`
	Description string
	ParentID    *string
	Score       int
	Metadata    map[string]any
}

// Patch describes a partial update; nil fields are left untouched.
type Patch struct {
	Title       *string
	Description *string
	Status      *models.TaskStatus
	ParentID    **string
	Score       *int
	Metadata    map[string]any
}

// Filter mirrors repo.Filter at the service boundary.
type Filter = repo.Filter

// Service implements the task graph operations.
type Service struct {
	db    *storage.DB
	tasks *repo.TaskRepo
	deps  *repo.DependencyRepo
	log   *zap.Logger
}

func New(db *storage.DB, tasks *repo.TaskRepo, deps *repo.DependencyRepo, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, tasks: tasks, deps: deps, log: log}
}

// Create validates and inserts a new task in status backlog.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Task, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, txerr.Validation("title must be non-empty", map[string]any{"field": "title"})
	}
	meta := in.Metadata
	if meta == nil {
		meta = map[string]any{}
	}

	now := time.Now().UTC()
	t := &models.Task{
		ID:          ids.NewTaskID(),
		Title:       title,
		Description: in.Description,
		Status:      models.StatusBacklog,
		ParentID:    in.ParentID,
		Score:       in.Score,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.tasks.Insert(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Task, error) {
	t, err := s.tasks.Get(ctx, s.db.Conn(), id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, txerr.TaskNotFound(id)
	}
	return t, nil
}

// GetWithDeps assembles the four derived fields in batched repository
// calls so callers never pay an N+1 cost (spec.md §4.D).
func (s *Service) GetWithDeps(ctx context.Context, id string) (*models.TaskWithDeps, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.attachDeps(ctx, []*models.Task{t})
}

func (s *Service) List(ctx context.Context, f Filter) ([]*models.Task, error) {
	return s.tasks.List(ctx, s.db.Conn(), f)
}

// ListWithDeps batches derived-field resolution across the whole result
// set via attachDepsMany, which issues one query per derived field for the
// whole batch rather than one per task.
func (s *Service) ListWithDeps(ctx context.Context, f Filter) ([]*models.TaskWithDeps, error) {
	tasks, err := s.tasks.List(ctx, s.db.Conn(), f)
	if err != nil {
		return nil, err
	}
	return s.attachDepsMany(ctx, tasks)
}

func (s *Service) attachDeps(ctx context.Context, tasks []*models.Task) (*models.TaskWithDeps, error) {
	out, err := s.attachDepsMany(ctx, tasks)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (s *Service) attachDepsMany(ctx context.Context, tasks []*models.Task) ([]*models.TaskWithDeps, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	q := s.db.Conn()

	taskIDs := make([]string, len(tasks))
	for i, t := range tasks {
		taskIDs[i] = t.ID
	}

	blockersByTask, err := s.deps.BlockersOfMany(ctx, q, taskIDs)
	if err != nil {
		return nil, err
	}
	blockedByTask, err := s.deps.BlockedByTaskMany(ctx, q, taskIDs)
	if err != nil {
		return nil, err
	}

	allRelated := map[string]bool{}
	for _, list := range blockersByTask {
		for _, id := range list {
			allRelated[id] = true
		}
	}
	for _, list := range blockedByTask {
		for _, id := range list {
			allRelated[id] = true
		}
	}
	relatedIDs := make([]string, 0, len(allRelated))
	for id := range allRelated {
		relatedIDs = append(relatedIDs, id)
	}
	relatedTasks, err := s.tasks.ListByIDs(ctx, q, relatedIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Task, len(relatedTasks)+len(tasks))
	for _, t := range relatedTasks {
		byID[t.ID] = t
	}
	for _, t := range tasks {
		byID[t.ID] = t
	}

	childrenByParent, err := s.tasks.ListChildrenOfMany(ctx, q, taskIDs)
	if err != nil {
		return nil, err
	}

	out := make([]*models.TaskWithDeps, len(tasks))
	for i, t := range tasks {
		twd := &models.TaskWithDeps{Task: *t}

		for _, bID := range blockersByTask[t.ID] {
			if bt, ok := byID[bID]; ok && bt.Status != models.StatusDone {
				twd.BlockedBy = append(twd.BlockedBy, *bt)
			}
		}
		for _, bID := range blockedByTask[t.ID] {
			if bt, ok := byID[bID]; ok {
				twd.Blocks = append(twd.Blocks, *bt)
			}
		}
		for _, c := range childrenByParent[t.ID] {
			twd.Children = append(twd.Children, *c)
		}

		twd.IsReady = models.ReadyCapableStatuses[t.Status] && len(twd.BlockedBy) == 0
		out[i] = twd
	}
	return out, nil
}

// Update applies patch, validating any status transition against
// VALID_TRANSITIONS before writing.
func (s *Service) Update(ctx context.Context, id string, p Patch) (*models.Task, error) {
	var updated *models.Task
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		t, err := s.tasks.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		if t == nil {
			return txerr.TaskNotFound(id)
		}

		if p.Title != nil {
			title := strings.TrimSpace(*p.Title)
			if title == "" {
				return txerr.Validation("title must be non-empty", map[string]any{"field": "title"})
			}
			t.Title = title
		}
		if p.Description != nil {
			t.Description = *p.Description
		}
		if p.ParentID != nil {
			t.ParentID = *p.ParentID
		}
		if p.Score != nil {
			t.Score = *p.Score
		}
		if p.Metadata != nil {
			t.Metadata = p.Metadata
		}
		if p.Status != nil && *p.Status != t.Status {
			if !models.CanTransition(t.Status, *p.Status) {
				return txerr.InvalidTransition(string(t.Status), string(*p.Status))
			}
			t.Status = *p.Status
			now := time.Now().UTC()
			if t.Status == models.StatusDone {
				t.CompletedAt = &now
			} else {
				t.CompletedAt = nil
			}
		}
		t.UpdatedAt = time.Now().UTC()

		if err := s.tasks.Update(ctx, tx, t); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Remove deletes a task. Dependencies and attempts cascade via foreign
// keys; children are detached (parent_id set null) the same way.
func (s *Service) Remove(ctx context.Context, id string) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		t, err := s.tasks.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		if t == nil {
			return txerr.TaskNotFound(id)
		}
		return s.tasks.Delete(ctx, tx, id)
	})
}
