package hierarchy

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
	q     repo.Queryer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	tasks := repo.NewTaskRepo()
	return &fixture{svc: New(db, tasks, nil), tasks: tasks, q: db.Conn()}
}

func (f *fixture) seedTask(t *testing.T, id string, parent *string) {
	t.Helper()
	now := time.Now().UTC()
	if err := f.tasks.Insert(context.Background(), f.q, &models.Task{
		ID: id, Title: id, Status: models.StatusBacklog, ParentID: parent,
		Metadata: map[string]any{}, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed task %s: %v", id, err)
	}
}

func strp(s string) *string { return &s }

func TestGetTree_BuildsNestedChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTask(t, "tx-root", nil)
	f.seedTask(t, "tx-child", strp("tx-root"))
	f.seedTask(t, "tx-grandchild", strp("tx-child"))

	tree, err := f.svc.GetTree(ctx, "tx-root", 0)
	if err != nil {
		t.Fatalf("get tree: %v", err)
	}
	if tree == nil {
		t.Fatal("expected a tree")
	}
	if len(tree.Children) != 1 || tree.Children[0].Task.ID != "tx-child" {
		t.Fatalf("expected one child tx-child, got %+v", tree.Children)
	}
	if len(tree.Children[0].Children) != 1 || tree.Children[0].Children[0].Task.ID != "tx-grandchild" {
		t.Fatalf("expected grandchild nested under child, got %+v", tree.Children[0].Children)
	}
}

func TestGetTree_UnknownRootReturnsNil(t *testing.T) {
	f := newFixture(t)
	tree, err := f.svc.GetTree(context.Background(), "tx-missing", 0)
	if err != nil {
		t.Fatalf("get tree: %v", err)
	}
	if tree != nil {
		t.Errorf("expected nil for an unknown root, got %+v", tree)
	}
}

func TestGetTree_MaxDepthStopsRecursion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTask(t, "tx-root", nil)
	f.seedTask(t, "tx-child", strp("tx-root"))
	f.seedTask(t, "tx-grandchild", strp("tx-child"))

	tree, err := f.svc.GetTree(ctx, "tx-root", 1)
	if err != nil {
		t.Fatalf("get tree: %v", err)
	}
	if len(tree.Children) != 1 {
		t.Fatalf("expected the direct child, got %+v", tree.Children)
	}
	if len(tree.Children[0].Children) != 0 {
		t.Errorf("expected depth cap to stop before the grandchild, got %+v", tree.Children[0].Children)
	}
}

func TestGetDepth_SelfReferencingParentYieldsZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTask(t, "tx-a", nil)

	// Corrupt the row into a self-referencing parent pointer directly, since
	// Insert itself would reject a task referencing its own not-yet-existing
	// row as a foreign key before this one commits.
	self := "tx-a"
	task, err := f.tasks.Get(ctx, f.q, "tx-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	task.ParentID = &self
	if err := f.tasks.Update(ctx, f.q, task); err != nil {
		t.Fatalf("update to self-parent: %v", err)
	}

	depth, err := f.svc.GetDepth(ctx, "tx-a")
	if err != nil {
		t.Fatalf("get depth: %v", err)
	}
	if depth != 0 {
		t.Errorf("expected depth 0 for a self-referencing parent, got %d", depth)
	}
}

func TestGetDepth_CountsHopsToRoot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTask(t, "tx-root", nil)
	f.seedTask(t, "tx-child", strp("tx-root"))
	f.seedTask(t, "tx-grandchild", strp("tx-child"))

	depth, err := f.svc.GetDepth(ctx, "tx-grandchild")
	if err != nil {
		t.Fatalf("get depth: %v", err)
	}
	if depth != 2 {
		t.Errorf("depth = %d, want 2", depth)
	}
}

func TestGetRoots_ExcludesChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTask(t, "tx-root1", nil)
	f.seedTask(t, "tx-root2", nil)
	f.seedTask(t, "tx-child", strp("tx-root1"))

	roots, err := f.svc.GetRoots(ctx)
	if err != nil {
		t.Fatalf("get roots: %v", err)
	}
	if len(roots) != 2 {
		t.Fatalf("expected 2 roots, got %d: %+v", len(roots), roots)
	}
}
