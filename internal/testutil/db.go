// Package testutil builds a fully migrated storage.DB rooted in a
// t.TempDir() for service-level tests that need the real schema rather
// than a mock.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/txcore/tx/internal/migrations"
	"github.com/txcore/tx/internal/storage"
)

// OpenDB opens a fresh on-disk database under t.TempDir(), applies every
// migration, and registers t.Cleanup to close it.
func OpenDB(t *testing.T) *storage.DB {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tx.db")

	db, err := storage.Open(ctx, path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	runner := migrations.NewRunner(db, nil)
	if err := runner.Run(ctx); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return db
}
