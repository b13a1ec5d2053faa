package taskgraph

import (
	"context"
	"testing"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/testutil"
	"github.com/txcore/tx/internal/txerr"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.OpenDB(t)
	return New(db, repo.NewTaskRepo(), repo.NewDependencyRepo(), nil)
}

func TestCreate_RejectsBlankTitle(t *testing.T) {
	s := newTestService(t)
	_, err := s.Create(context.Background(), CreateInput{Title: "   "})
	if err == nil {
		t.Fatal("expected validation error for blank title")
	}
	if !txerr.Is(err, txerr.KindValidation) {
		t.Fatalf("expected a validation txerr, got %v", err)
	}
}

func TestCreate_StartsInBacklog(t *testing.T) {
	s := newTestService(t)
	got, err := s.Create(context.Background(), CreateInput{Title: "write tests"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.Status != models.StatusBacklog {
		t.Errorf("status = %v, want %v", got.Status, models.StatusBacklog)
	}
	if got.ID == "" {
		t.Error("expected a generated id")
	}
}

func TestGet_UnknownIDIsNotFound(t *testing.T) {
	s := newTestService(t)
	_, err := s.Get(context.Background(), "tx-missing")
	if !txerr.Is(err, txerr.KindNotFound) {
		t.Fatalf("expected a not-found txerr, got %v", err)
	}
}

func TestUpdate_RejectsIllegalStatusTransition(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	task, err := s.Create(ctx, CreateInput{Title: "a task"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// backlog -> done is not in VALID_TRANSITIONS.
	bad := models.StatusDone
	_, err = s.Update(ctx, task.ID, Patch{Status: &bad})
	if !txerr.Is(err, txerr.KindConflict) {
		t.Fatalf("expected a conflict txerr for the illegal transition, got %v", err)
	}
}

func TestUpdate_LegalTransitionSetsCompletedAt(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	task, err := s.Create(ctx, CreateInput{Title: "a task"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ready := models.StatusReady
	task, err = s.Update(ctx, task.ID, Patch{Status: &ready})
	if err != nil {
		t.Fatalf("backlog->ready: %v", err)
	}
	active := models.StatusActive
	task, err = s.Update(ctx, task.ID, Patch{Status: &active})
	if err != nil {
		t.Fatalf("ready->active: %v", err)
	}
	done := models.StatusDone
	task, err = s.Update(ctx, task.ID, Patch{Status: &done})
	if err != nil {
		t.Fatalf("active->done: %v", err)
	}
	if task.CompletedAt == nil {
		t.Error("expected CompletedAt to be set once status reaches done")
	}
}

func TestUpdate_RevivingFromDoneClearsCompletedAt(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	task, _ := s.Create(ctx, CreateInput{Title: "a task"})
	for _, st := range []models.TaskStatus{models.StatusReady, models.StatusActive, models.StatusDone} {
		st := st
		var err error
		task, err = s.Update(ctx, task.ID, Patch{Status: &st})
		if err != nil {
			t.Fatalf("transition to %v: %v", st, err)
		}
	}
	backlog := models.StatusBacklog
	task, err := s.Update(ctx, task.ID, Patch{Status: &backlog})
	if err != nil {
		t.Fatalf("done->backlog revive: %v", err)
	}
	if task.CompletedAt != nil {
		t.Error("expected CompletedAt cleared after reviving from done")
	}
}

func TestGetWithDeps_BlockedByExcludesDoneBlockers(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	q := s.db.Conn()

	blocker, err := s.Create(ctx, CreateInput{Title: "blocker"})
	if err != nil {
		t.Fatalf("create blocker: %v", err)
	}
	blocked, err := s.Create(ctx, CreateInput{Title: "blocked"})
	if err != nil {
		t.Fatalf("create blocked: %v", err)
	}
	if err := s.deps.Insert(ctx, q, &models.Dependency{BlockerID: blocker.ID, BlockedID: blocked.ID}); err != nil {
		t.Fatalf("insert dependency: %v", err)
	}

	twd, err := s.GetWithDeps(ctx, blocked.ID)
	if err != nil {
		t.Fatalf("get with deps: %v", err)
	}
	if len(twd.BlockedBy) != 1 {
		t.Fatalf("expected 1 live blocker, got %d", len(twd.BlockedBy))
	}
	if twd.IsReady {
		t.Error("a task with an unresolved blocker must not be ready")
	}

	// Complete the blocker; it should no longer show up as a live blocker.
	for _, st := range []models.TaskStatus{models.StatusReady, models.StatusActive, models.StatusDone} {
		st := st
		if _, err := s.Update(ctx, blocker.ID, Patch{Status: &st}); err != nil {
			t.Fatalf("transition blocker to %v: %v", st, err)
		}
	}
	twd, err = s.GetWithDeps(ctx, blocked.ID)
	if err != nil {
		t.Fatalf("get with deps after completion: %v", err)
	}
	if len(twd.BlockedBy) != 0 {
		t.Errorf("expected done blocker excluded from BlockedBy, got %+v", twd.BlockedBy)
	}
}

func TestListWithDeps_AttachesChildren(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	parent, err := s.Create(ctx, CreateInput{Title: "parent"})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err := s.Create(ctx, CreateInput{Title: "child", ParentID: &parent.ID})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}

	out, err := s.ListWithDeps(ctx, Filter{})
	if err != nil {
		t.Fatalf("list with deps: %v", err)
	}
	var parentTwd *models.TaskWithDeps
	for _, twd := range out {
		if twd.ID == parent.ID {
			parentTwd = twd
		}
	}
	if parentTwd == nil {
		t.Fatal("expected to find the parent task in the listing")
	}
	if len(parentTwd.Children) != 1 || parentTwd.Children[0].ID != child.ID {
		t.Errorf("expected parent.Children to contain the child, got %+v", parentTwd.Children)
	}
}

func TestRemove_UnknownIDIsNotFound(t *testing.T) {
	s := newTestService(t)
	err := s.Remove(context.Background(), "tx-missing")
	if !txerr.Is(err, txerr.KindNotFound) {
		t.Fatalf("expected a not-found txerr, got %v", err)
	}
}
