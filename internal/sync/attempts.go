package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/storage"
)

type attemptPayload struct {
	TaskID    string  `json:"taskId"`
	RunID     *string `json:"runId,omitempty"`
	Outcome   string  `json:"outcome"`
	Notes     string  `json:"notes"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`
}

func attemptToLine(a *models.Attempt) (line, error) {
	p := attemptPayload{
		TaskID: a.TaskID, RunID: a.RunID, Outcome: a.Outcome, Notes: a.Notes,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return line{}, fmt.Errorf("sync: marshal attempt payload: %w", err)
	}
	id, err := json.Marshal(a.ID)
	if err != nil {
		return line{}, err
	}
	return line{V: jsonlVersion, Op: opAttemptUpsert, TS: p.UpdatedAt, ID: id, Data: data}, nil
}

// ExportAttempts writes every attempt as an attempt_upsert op.
func (s *Service) ExportAttempts(ctx context.Context, path string) error {
	if path == "" {
		path = DefaultAttemptsFile
	}
	q := s.db.Conn()
	rows, err := s.attempts.ListAll(ctx, q)
	if err != nil {
		return err
	}

	lines := make([]line, 0, len(rows))
	for _, a := range rows {
		l, err := attemptToLine(a)
		if err != nil {
			return err
		}
		lines = append(lines, l)
	}
	sort.SliceStable(lines, func(i, j int) bool { return tsLess(lines[i].TS, lines[j].TS) })

	encoded := make([]string, 0, len(lines))
	for _, l := range lines {
		text, err := encodeLine(l)
		if err != nil {
			return err
		}
		encoded = append(encoded, text)
	}
	if err := writeLinesAtomic(s.resolve(path), encoded); err != nil {
		return err
	}
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.dirty.ClearAttempts(ctx, tx); err != nil {
			return err
		}
		return s.kv.Set(ctx, tx, kvLastExport, time.Now().UTC().Format(time.RFC3339Nano))
	})
}

// ImportAttempts applies attempts.jsonl's attempt_upsert ops.
func (s *Service) ImportAttempts(ctx context.Context, path string) (ImportResult, error) {
	if path == "" {
		path = DefaultAttemptsFile
	}
	lines, parseErrors, err := readLines(s.resolve(path))
	if err != nil {
		return ImportResult{}, err
	}

	var kindLines []line
	for _, l := range lines {
		if l.Op == opAttemptUpsert {
			kindLines = append(kindLines, l)
		} else {
			parseErrors++
		}
	}
	latest := reduceLatest(kindLines, func(l line) (string, bool) {
		var id int64
		if json.Unmarshal(l.ID, &id) != nil {
			return "", false
		}
		return strconv.FormatInt(id, 10), true
	})

	result := ImportResult{ParseErrors: parseErrors}
	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, l := range latest {
			r, err := s.applyAttemptLine(ctx, tx, l)
			if err != nil {
				return err
			}
			result = result.merge(r)
		}
		return s.kv.Set(ctx, tx, kvLastImport, time.Now().UTC().Format(time.RFC3339Nano))
	})
	if err != nil {
		return ImportResult{}, err
	}
	return result, nil
}

func (s *Service) applyAttemptLine(ctx context.Context, tx *sql.Tx, l line) (ImportResult, error) {
	var id int64
	if err := json.Unmarshal(l.ID, &id); err != nil {
		return ImportResult{ParseErrors: 1}, nil
	}
	var p attemptPayload
	if err := json.Unmarshal(l.Data, &p); err != nil {
		return ImportResult{ParseErrors: 1}, nil
	}
	createdAt, err := parseISO(p.CreatedAt)
	if err != nil {
		return ImportResult{ParseErrors: 1}, nil
	}
	updatedAt, err := parseISO(p.UpdatedAt)
	if err != nil {
		return ImportResult{ParseErrors: 1}, nil
	}

	existing, err := s.attempts.Get(ctx, tx, id)
	if err != nil {
		return ImportResult{}, err
	}

	a := &models.Attempt{ID: id, TaskID: p.TaskID, RunID: p.RunID, Outcome: p.Outcome, Notes: p.Notes, CreatedAt: createdAt, UpdatedAt: updatedAt}

	if existing == nil {
		if err := s.attempts.UpsertWithID(ctx, tx, a); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{Imported: 1}, nil
	}
	switch {
	case updatedAt.After(existing.UpdatedAt):
		if err := s.attempts.UpsertWithID(ctx, tx, a); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{Imported: 1}, nil
	case updatedAt.Equal(existing.UpdatedAt):
		return ImportResult{Skipped: 1}, nil
	default:
		return ImportResult{Conflicts: 1}, nil
	}
}

// CompactAttempts rewrites attempts.jsonl to its latest-op-per-id form.
func (s *Service) CompactAttempts(ctx context.Context, path string) (CompactResult, error) {
	if path == "" {
		path = DefaultAttemptsFile
	}
	resolved := s.resolve(path)
	lines, _, err := readLines(resolved)
	if err != nil {
		return CompactResult{}, err
	}
	before := len(lines)

	latest := reduceLatest(lines, func(l line) (string, bool) {
		if l.Op != opAttemptUpsert {
			return "", false
		}
		var id int64
		if json.Unmarshal(l.ID, &id) != nil {
			return "", false
		}
		return strconv.FormatInt(id, 10), true
	})

	kept := make([]line, 0, len(latest))
	for _, l := range latest {
		kept = append(kept, l)
	}
	sort.SliceStable(kept, func(i, j int) bool { return tsLess(kept[i].TS, kept[j].TS) })

	encoded := make([]string, 0, len(kept))
	for _, l := range kept {
		text, err := encodeLine(l)
		if err != nil {
			return CompactResult{}, err
		}
		encoded = append(encoded, text)
	}
	if err := writeLinesAtomic(resolved, encoded); err != nil {
		return CompactResult{}, err
	}
	return CompactResult{Before: before, After: len(encoded)}, nil
}
