package sync

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/testutil"
)

func newTestService(t *testing.T) (*Service, *repo.TaskRepo) {
	t.Helper()
	db := testutil.OpenDB(t)
	taskRepo := repo.NewTaskRepo()
	svc := New(db, taskRepo, repo.NewDependencyRepo(), repo.NewLearningRepo(),
		repo.NewFileLearningRepo(), repo.NewAttemptRepo(), repo.NewDirtyRepo(), repo.NewKVConfigRepo(),
		t.TempDir(), nil)
	return svc, taskRepo
}

func TestExportImportTasks_RoundTrip(t *testing.T) {
	svc, taskRepo := newTestService(t)
	ctx := context.Background()
	q := svc.db.Conn()

	now := time.Now().UTC()
	task := &models.Task{
		ID: "tx-aaaaaaaa", Title: "write tests", Description: "cover the sync package",
		Status: models.StatusReady, Score: 5, Metadata: map[string]any{},
		CreatedAt: now, UpdatedAt: now,
	}
	if err := taskRepo.Insert(ctx, q, task); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	if err := svc.ExportTasks(ctx, ""); err != nil {
		t.Fatalf("export: %v", err)
	}

	// A fresh service over an empty database should reconstruct the task
	// from the exported file.
	svc2, taskRepo2 := newTestService(t)
	svc2.rootDir = svc.rootDir // share the exported file's directory

	result, err := svc2.ImportTasks(ctx, "")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Imported != 1 {
		t.Fatalf("expected 1 imported task, got %+v", result)
	}

	got, err := taskRepo2.Get(ctx, svc2.db.Conn(), "tx-aaaaaaaa")
	if err != nil {
		t.Fatalf("get imported task: %v", err)
	}
	if got == nil {
		t.Fatal("imported task not found")
	}
	if got.Title != task.Title || got.Status != task.Status {
		t.Errorf("imported task mismatch: got %+v", got)
	}
}

func TestImportTasks_LastWriterWinsOnConflict(t *testing.T) {
	svc, taskRepo := newTestService(t)
	ctx := context.Background()
	q := svc.db.Conn()

	older := time.Now().UTC().Add(-time.Hour)
	newer := time.Now().UTC()

	existing := &models.Task{
		ID: "tx-bbbbbbbb", Title: "original", Status: models.StatusBacklog,
		Metadata: map[string]any{}, CreatedAt: older, UpdatedAt: older,
	}
	if err := taskRepo.Insert(ctx, q, existing); err != nil {
		t.Fatalf("seed: %v", err)
	}

	incoming := &models.Task{
		ID: "tx-bbbbbbbb", Title: "updated", Status: models.StatusReady,
		Metadata: map[string]any{}, CreatedAt: older, UpdatedAt: newer,
	}
	l, err := taskToLine(incoming)
	if err != nil {
		t.Fatalf("encode line: %v", err)
	}
	text, err := encodeLine(l)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := writeLinesAtomic(svc.resolve(DefaultTasksFile), []string{text}); err != nil {
		t.Fatalf("write fixture file: %v", err)
	}

	result, err := svc.ImportTasks(ctx, "")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Imported != 1 {
		t.Fatalf("expected newer row to win, got %+v", result)
	}

	got, err := taskRepo.Get(ctx, q, "tx-bbbbbbbb")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "updated" {
		t.Errorf("title = %q, want %q (newer write should win)", got.Title, "updated")
	}

	// Re-importing the same file a second time must be a no-op: the row
	// already reflects this exact ts, so it should be skipped not re-applied.
	result2, err := svc.ImportTasks(ctx, "")
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if result2.Imported != 0 || result2.Skipped != 1 {
		t.Fatalf("expected second import to be a no-op, got %+v", result2)
	}
}

func TestImportTasks_OlderWriteIsConflictNotOverwrite(t *testing.T) {
	svc, taskRepo := newTestService(t)
	ctx := context.Background()
	q := svc.db.Conn()

	older := time.Now().UTC().Add(-time.Hour)
	newer := time.Now().UTC()

	existing := &models.Task{
		ID: "tx-cccccccc", Title: "current", Status: models.StatusReady,
		Metadata: map[string]any{}, CreatedAt: older, UpdatedAt: newer,
	}
	if err := taskRepo.Insert(ctx, q, existing); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stale := &models.Task{
		ID: "tx-cccccccc", Title: "stale write", Status: models.StatusBacklog,
		Metadata: map[string]any{}, CreatedAt: older, UpdatedAt: older,
	}
	l, err := taskToLine(stale)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	text, _ := encodeLine(l)
	if err := writeLinesAtomic(svc.resolve(DefaultTasksFile), []string{text}); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	result, err := svc.ImportTasks(ctx, "")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Conflicts != 1 {
		t.Fatalf("expected a conflict for the older write, got %+v", result)
	}

	got, _ := taskRepo.Get(ctx, q, "tx-cccccccc")
	if got.Title != "current" {
		t.Errorf("an older write must not overwrite the current row; got title %q", got.Title)
	}
}

func TestReadLines_TruncatedFileAtEndIsTolerated(t *testing.T) {
	svc, _ := newTestService(t)
	path := svc.resolve(DefaultTasksFile)
	if err := writeLinesAtomic(path, []string{`{"v":1,"op":"upsert","ts":"2026-01-01T00:00:00Z","id":"tx-dddddddd","data":{}}`}); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	// Append a truncated trailing line with no newline, simulating a crash
	// mid-write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString(`{"v":1,"op":"upsert`); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	lines, parseErrors, err := readLines(path)
	if err != nil {
		t.Fatalf("readLines should tolerate a truncated trailing line: %v", err)
	}
	if len(lines) != 1 || parseErrors != 1 {
		t.Fatalf("expected 1 valid line and 1 parse error, got %d/%d", len(lines), parseErrors)
	}
}
