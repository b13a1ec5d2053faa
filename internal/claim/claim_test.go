package claim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/testutil"
	"github.com/txcore/tx/internal/txerr"
)

func newTestService(t *testing.T, lease time.Duration) *Service {
	t.Helper()
	db := testutil.OpenDB(t)
	return New(db, repo.NewClaimRepo(), lease, nil)
}

func seedTaskAndWorkers(t *testing.T, s *Service, taskID string, workerIDs ...string) {
	t.Helper()
	ctx := context.Background()
	q := s.db.Conn()
	now := time.Now().UTC()

	tasks := repo.NewTaskRepo()
	if err := tasks.Insert(ctx, q, &models.Task{
		ID: taskID, Title: taskID, Status: models.StatusReady,
		Metadata: map[string]any{}, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	workers := repo.NewWorkerRepo()
	for _, id := range workerIDs {
		if err := workers.Insert(ctx, q, &models.Worker{
			ID: id, Name: id, Status: models.WorkerIdle,
			RegisteredAt: now, LastHeartbeatAt: now,
			Capabilities: []string{}, Metadata: map[string]any{},
		}); err != nil {
			t.Fatalf("seed worker %s: %v", id, err)
		}
	}
}

func TestClaim_SecondCallerRejected(t *testing.T) {
	s := newTestService(t, time.Minute)
	seedTaskAndWorkers(t, s, "tx-task1", "worker-a", "worker-b")
	ctx := context.Background()

	if _, err := s.Claim(ctx, "tx-task1", "worker-a"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := s.Claim(ctx, "tx-task1", "worker-b")
	if !txerr.Is(err, txerr.KindConflict) {
		t.Fatalf("expected AlreadyClaimed conflict, got %v", err)
	}
}

func TestClaim_ConcurrentCallersOnlyOneWins(t *testing.T) {
	s := newTestService(t, time.Minute)
	const n = 8
	workerIDs := make([]string, n)
	for i := range workerIDs {
		workerIDs[i] = "worker-" + string(rune('a'+i))
	}
	seedTaskAndWorkers(t, s, "tx-task1", workerIDs...)
	ctx := context.Background()

	var wg sync.WaitGroup
	successes := make([]bool, n)
	for i, w := range workerIDs {
		wg.Add(1)
		go func(i int, w string) {
			defer wg.Done()
			_, err := s.Claim(ctx, "tx-task1", w)
			successes[i] = err == nil
		}(i, w)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 successful claim out of %d concurrent callers, got %d", n, count)
	}
}

func TestRelease_OnlyOwnerCanRelease(t *testing.T) {
	s := newTestService(t, time.Minute)
	seedTaskAndWorkers(t, s, "tx-task1", "worker-a", "worker-b")
	ctx := context.Background()

	if _, err := s.Claim(ctx, "tx-task1", "worker-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	err := s.Release(ctx, "tx-task1", "worker-b")
	if !txerr.Is(err, txerr.KindConflict) {
		t.Fatalf("expected ClaimNotOwned conflict for the wrong worker, got %v", err)
	}
	if err := s.Release(ctx, "tx-task1", "worker-a"); err != nil {
		t.Fatalf("owner release should succeed: %v", err)
	}
}

func TestRelease_FreesTaskForReclaim(t *testing.T) {
	s := newTestService(t, time.Minute)
	seedTaskAndWorkers(t, s, "tx-task1", "worker-a", "worker-b")
	ctx := context.Background()

	if _, err := s.Claim(ctx, "tx-task1", "worker-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Release(ctx, "tx-task1", "worker-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := s.Claim(ctx, "tx-task1", "worker-b"); err != nil {
		t.Fatalf("expected worker-b to claim the freed task: %v", err)
	}
}

func TestSweepExpired_ExpiresPastLeaseOnly(t *testing.T) {
	s := newTestService(t, time.Minute)
	// New replaces a non-positive lease with the default, so set the
	// already-elapsed lease on the constructed service directly.
	s.leaseDuration = -time.Minute
	seedTaskAndWorkers(t, s, "tx-task1", "worker-a")
	ctx := context.Background()

	c, err := s.Claim(ctx, "tx-task1", "worker-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := s.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired claim, got %d", n)
	}

	active, err := s.ActiveForTask(ctx, "tx-task1")
	if err != nil {
		t.Fatalf("active for task: %v", err)
	}
	if active != nil {
		t.Errorf("expected no active claim after sweep, got claim id %d", c.ID)
	}
}
