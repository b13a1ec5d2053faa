package dependency

import (
	"context"
	"testing"
	"time"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/testutil"
	"github.com/txcore/tx/internal/txerr"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.OpenDB(t)
	return New(db, repo.NewDependencyRepo(), nil)
}

func seedTasks(t *testing.T, s *Service, ids ...string) {
	t.Helper()
	tasks := repo.NewTaskRepo()
	ctx := context.Background()
	q := s.db.Conn()
	now := time.Now().UTC()
	for _, id := range ids {
		task := &models.Task{
			ID: id, Title: id, Status: models.StatusBacklog,
			Metadata: map[string]any{}, CreatedAt: now, UpdatedAt: now,
		}
		if err := tasks.Insert(ctx, q, task); err != nil {
			t.Fatalf("seed task %s: %v", id, err)
		}
	}
}

func TestAddBlocker_RejectsSelfDependency(t *testing.T) {
	s := newTestService(t)
	seedTasks(t, s, "tx-aaaaaaaa")
	err := s.AddBlocker(context.Background(), "tx-aaaaaaaa", "tx-aaaaaaaa")
	if !txerr.Is(err, txerr.KindValidation) {
		t.Fatalf("expected a validation txerr, got %v", err)
	}
}

func TestAddBlocker_RejectsCycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedTasks(t, s, "tx-a", "tx-b", "tx-c")

	// a blocks b, b blocks c.
	if err := s.AddBlocker(ctx, "tx-b", "tx-a"); err != nil {
		t.Fatalf("a blocks b: %v", err)
	}
	if err := s.AddBlocker(ctx, "tx-c", "tx-b"); err != nil {
		t.Fatalf("b blocks c: %v", err)
	}

	// c blocks a would close the cycle a->b->c->a.
	err := s.AddBlocker(ctx, "tx-a", "tx-c")
	if !txerr.Is(err, txerr.KindConflict) {
		t.Fatalf("expected a conflict (circular dependency) txerr, got %v", err)
	}
}

func TestAddBlocker_AllowsDiamond(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedTasks(t, s, "tx-a", "tx-b", "tx-c", "tx-d")

	// a blocks b, a blocks c, b blocks d, c blocks d: a diamond, no cycle.
	if err := s.AddBlocker(ctx, "tx-b", "tx-a"); err != nil {
		t.Fatalf("a blocks b: %v", err)
	}
	if err := s.AddBlocker(ctx, "tx-c", "tx-a"); err != nil {
		t.Fatalf("a blocks c: %v", err)
	}
	if err := s.AddBlocker(ctx, "tx-d", "tx-b"); err != nil {
		t.Fatalf("b blocks d: %v", err)
	}
	if err := s.AddBlocker(ctx, "tx-d", "tx-c"); err != nil {
		t.Fatalf("c blocks d: %v", err)
	}
}

func TestRemoveBlocker_MissingPairIsNotAnError(t *testing.T) {
	s := newTestService(t)
	seedTasks(t, s, "tx-a", "tx-b")
	if err := s.RemoveBlocker(context.Background(), "tx-b", "tx-a"); err != nil {
		t.Fatalf("removing a nonexistent edge should be a no-op, got %v", err)
	}
}

func TestReaches_FindsTransitivePath(t *testing.T) {
	adj := map[string][]string{
		"a": {"b"},
		"b": {"c"},
	}
	if !reaches(adj, "a", "c") {
		t.Error("expected a to reach c transitively through b")
	}
	if reaches(adj, "c", "a") {
		t.Error("c must not reach a: no such edge exists")
	}
}
