package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/txcore/tx/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tx.db")
	db, err := storage.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGetStatus_FreshDatabaseHasAllPending(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db, nil)
	status, err := r.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Current != 0 {
		t.Errorf("current = %d, want 0", status.Current)
	}
	if len(status.Pending) != len(All) {
		t.Fatalf("expected all %d migrations pending, got %d", len(All), len(status.Pending))
	}
}

func TestRun_AppliesAllMigrationsInOrder(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db, nil)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	status, err := r.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if len(status.Pending) != 0 {
		t.Fatalf("expected no pending migrations after run, got %+v", status.Pending)
	}
	if status.Current != status.Latest {
		t.Errorf("current = %d, want latest %d", status.Current, status.Latest)
	}
}

func TestRun_IsIdempotent(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db, nil)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("second run should be a no-op, got: %v", err)
	}
}

func TestRun_CreatesCoreTables(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db, nil)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, table := range []string{"tasks", "dependencies", "claims", "runs", "learnings", "anchors", "edges", "attempts"} {
		var name string
		err := db.Conn().QueryRowContext(context.Background(),
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("expected table %q to exist after migration: %v", table, err)
		}
	}
}
