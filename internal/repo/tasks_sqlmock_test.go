package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/txerr"
)

func TestTaskRepo_Insert_WrapsDriverErrorAsDatabaseKind(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("new sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO tasks").WillReturnError(errors.New("disk I/O error"))

	r := NewTaskRepo()
	now := time.Now().UTC()
	task := &models.Task{
		ID: "tx-aaaaaaaa", Title: "t", Status: models.StatusBacklog,
		Metadata: map[string]any{}, CreatedAt: now, UpdatedAt: now,
	}
	err = r.Insert(context.Background(), db, task)
	if err == nil {
		t.Fatal("expected an error from the failing exec")
	}
	if !txerr.Is(err, txerr.KindDatabase) {
		t.Errorf("expected a database-kind error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTaskRepo_Get_ReturnsNilNilOnNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("new sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT (.|\n)* FROM tasks WHERE id=\\?").
		WithArgs("tx-missing").
		WillReturnRows(sqlmock.NewRows(nil))

	r := NewTaskRepo()
	task, err := r.Get(context.Background(), db, "tx-missing")
	if err != nil {
		t.Fatalf("expected no error for a missing row, got %v", err)
	}
	if task != nil {
		t.Errorf("expected a nil task, got %+v", task)
	}
}

func TestTaskRepo_Get_PropagatesMalformedMetadataAsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("new sqlmock: %v", err)
	}
	defer db.Close()

	cols := []string{"id", "title", "description", "status", "parent_id", "score", "metadata",
		"assignee_kind", "assignee_id", "assigned_at", "assigned_by", "created_at", "updated_at", "completed_at"}
	rows := sqlmock.NewRows(cols).AddRow(
		"tx-bbbbbbbb", "broken metadata", "", "backlog", nil, 0.0, "not-json",
		nil, nil, nil, nil, "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z", nil,
	)
	mock.ExpectQuery("SELECT (.|\n)* FROM tasks WHERE id=\\?").
		WithArgs("tx-bbbbbbbb").
		WillReturnRows(rows)

	r := NewTaskRepo()
	_, err = r.Get(context.Background(), db, "tx-bbbbbbbb")
	if err == nil {
		t.Fatal("expected malformed metadata JSON to produce an error")
	}
}
