package ready

import (
	"context"
	"testing"
	"time"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/testutil"
)

type fixture struct {
	svc   *Service
	tasks *repo.TaskRepo
	deps  *repo.DependencyRepo
	q     repo.Queryer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	tasks := repo.NewTaskRepo()
	deps := repo.NewDependencyRepo()
	ready := repo.NewReadyRepo()
	return &fixture{svc: New(db, tasks, deps, ready, nil), tasks: tasks, deps: deps, q: db.Conn()}
}

func (f *fixture) seedTask(t *testing.T, id string, status models.TaskStatus, score int) {
	t.Helper()
	now := time.Now().UTC()
	task := &models.Task{
		ID: id, Title: id, Status: status, Score: score,
		Metadata: map[string]any{}, CreatedAt: now, UpdatedAt: now,
	}
	if status == models.StatusDone {
		task.CompletedAt = &now
	}
	if err := f.tasks.Insert(context.Background(), f.q, task); err != nil {
		t.Fatalf("seed task %s: %v", id, err)
	}
}

func (f *fixture) block(t *testing.T, blocked, blocker string) {
	t.Helper()
	if err := f.deps.Insert(context.Background(), f.q, &models.Dependency{BlockerID: blocker, BlockedID: blocked}); err != nil {
		t.Fatalf("insert dependency: %v", err)
	}
}

func TestGetReady_ExcludesTasksWithOutstandingBlocker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTask(t, "tx-blocker", models.StatusBacklog, 0)
	f.seedTask(t, "tx-blocked", models.StatusReady, 0)
	f.block(t, "tx-blocked", "tx-blocker")

	out, err := f.svc.GetReady(ctx, 0)
	if err != nil {
		t.Fatalf("get ready: %v", err)
	}
	for _, tk := range out {
		if tk.ID == "tx-blocked" {
			t.Error("tx-blocked has an outstanding blocker and must not be ready")
		}
	}
}

func TestGetReady_IncludesTaskOnceBlockerDone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTask(t, "tx-blocker", models.StatusDone, 0)
	f.seedTask(t, "tx-blocked", models.StatusReady, 0)
	f.block(t, "tx-blocked", "tx-blocker")

	out, err := f.svc.GetReady(ctx, 0)
	if err != nil {
		t.Fatalf("get ready: %v", err)
	}
	found := false
	for _, tk := range out {
		if tk.ID == "tx-blocked" {
			found = true
		}
	}
	if !found {
		t.Error("expected tx-blocked to be ready once its only blocker is done")
	}
}

func TestGetReady_OnlyReadyCapableStatusesAppear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTask(t, "tx-backlog", models.StatusBacklog, 100)
	f.seedTask(t, "tx-active", models.StatusActive, 100)
	f.seedTask(t, "tx-ready", models.StatusReady, 1)

	out, err := f.svc.GetReady(ctx, 0)
	if err != nil {
		t.Fatalf("get ready: %v", err)
	}
	if len(out) != 1 || out[0].ID != "tx-ready" {
		t.Fatalf("expected only tx-ready, got %+v", out)
	}
}

func TestGetReady_SortsByScoreDescThenCreatedAtAsc(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTask(t, "tx-low", models.StatusReady, 1)
	f.seedTask(t, "tx-high", models.StatusReady, 10)

	out, err := f.svc.GetReady(ctx, 0)
	if err != nil {
		t.Fatalf("get ready: %v", err)
	}
	if len(out) != 2 || out[0].ID != "tx-high" || out[1].ID != "tx-low" {
		t.Fatalf("expected [tx-high, tx-low] by score desc, got %+v", out)
	}
}

func TestGetReady_RespectsLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTask(t, "tx-a", models.StatusReady, 1)
	f.seedTask(t, "tx-b", models.StatusReady, 2)

	out, err := f.svc.GetReady(ctx, 1)
	if err != nil {
		t.Fatalf("get ready: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected limit=1 to return exactly 1 task, got %d", len(out))
	}
}

func TestIsReady_FalseForUnknownTask(t *testing.T) {
	f := newFixture(t)
	ok, err := f.svc.IsReady(context.Background(), "tx-missing")
	if err != nil {
		t.Fatalf("is ready: %v", err)
	}
	if ok {
		t.Error("expected false for an unknown task")
	}
}

func TestGetBlocking_ReturnsOnlyTasksWithSoleRemainingBlocker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTask(t, "tx-a", models.StatusDone, 0)
	f.seedTask(t, "tx-b", models.StatusBacklog, 0)
	f.seedTask(t, "tx-target", models.StatusBacklog, 0)
	f.block(t, "tx-target", "tx-a")
	f.block(t, "tx-target", "tx-b")

	// b is still outstanding, so target is not unblocked by a alone.
	out, err := f.svc.GetBlocking(ctx, "tx-a")
	if err != nil {
		t.Fatalf("get blocking: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no tasks unblocked by tx-a alone, got %+v", out)
	}

	// Once b also completes, asking what b unblocks should surface target.
	bTask, _ := f.tasks.Get(ctx, f.q, "tx-b")
	bTask.Status = models.StatusDone
	completedAt := time.Now().UTC()
	bTask.CompletedAt = &completedAt
	if err := f.tasks.Update(ctx, f.q, bTask); err != nil {
		t.Fatalf("update b to done: %v", err)
	}
	out, err = f.svc.GetBlocking(ctx, "tx-b")
	if err != nil {
		t.Fatalf("get blocking: %v", err)
	}
	if len(out) != 1 || out[0].ID != "tx-target" {
		t.Fatalf("expected tx-target unblocked by tx-b, got %+v", out)
	}
}

func TestCountBlocked_CountsOnlyTasksWithOutstandingBlocker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTask(t, "tx-blocker", models.StatusBacklog, 0)
	f.seedTask(t, "tx-blocked", models.StatusReady, 0)
	f.seedTask(t, "tx-free", models.StatusReady, 0)
	f.block(t, "tx-blocked", "tx-blocker")

	n, err := f.svc.CountBlocked(ctx)
	if err != nil {
		t.Fatalf("count blocked: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 blocked task, got %d", n)
	}
}

func TestCountBlocked_ExcludesTaskOnceBlockerDone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTask(t, "tx-blocker", models.StatusDone, 0)
	f.seedTask(t, "tx-blocked", models.StatusReady, 0)
	f.block(t, "tx-blocked", "tx-blocker")

	n, err := f.svc.CountBlocked(ctx)
	if err != nil {
		t.Fatalf("count blocked: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 blocked tasks once the blocker is done, got %d", n)
	}
}
