package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/storage"
	"github.com/txcore/tx/internal/txerr"
)

// taskPayload is the upsert op's embedded "data" object for a task row
// (spec.md §6 "Upserts carry id and data").
type taskPayload struct {
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Status       string         `json:"status"`
	ParentID     *string        `json:"parentId,omitempty"`
	Score        int            `json:"score"`
	Metadata     map[string]any `json:"metadata"`
	AssigneeKind *string        `json:"assigneeKind,omitempty"`
	AssigneeID   *string        `json:"assigneeId,omitempty"`
	AssignedAt   *string        `json:"assignedAt,omitempty"`
	AssignedBy   *string        `json:"assignedBy,omitempty"`
	CreatedAt    string         `json:"createdAt"`
	UpdatedAt    string         `json:"updatedAt"`
	CompletedAt  *string        `json:"completedAt,omitempty"`
}

func isoPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(time.RFC3339Nano)
	return &v
}

func parseISOPtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseISO(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func taskToLine(t *models.Task) (line, error) {
	var assigneeKind *string
	if t.AssigneeKind != nil {
		v := string(*t.AssigneeKind)
		assigneeKind = &v
	}
	p := taskPayload{
		Title: t.Title, Description: t.Description, Status: string(t.Status),
		ParentID: t.ParentID, Score: t.Score, Metadata: t.Metadata,
		AssigneeKind: assigneeKind, AssigneeID: t.AssigneeID,
		AssignedAt: isoPtr(t.AssignedAt), AssignedBy: t.AssignedBy,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:   t.UpdatedAt.UTC().Format(time.RFC3339Nano),
		CompletedAt: isoPtr(t.CompletedAt),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return line{}, fmt.Errorf("sync: marshal task payload: %w", err)
	}
	id, err := json.Marshal(t.ID)
	if err != nil {
		return line{}, err
	}
	return line{V: jsonlVersion, Op: opUpsert, TS: p.UpdatedAt, ID: id, Data: data}, nil
}

func depToLine(d *models.Dependency) (line, error) {
	ts := d.CreatedAt.UTC().Format(time.RFC3339Nano)
	return line{V: jsonlVersion, Op: opDepAdd, TS: ts, BlockerID: d.BlockerID, BlockedID: d.BlockedID}, nil
}

// ExportTasks writes every task (as upsert ops) and every dependency (as
// dep_add ops) to path, sorted ascending by ts (spec.md §4.O).
func (s *Service) ExportTasks(ctx context.Context, path string) error {
	if path == "" {
		path = DefaultTasksFile
	}
	q := s.db.Conn()

	tasks, err := s.tasks.List(ctx, q, repo.Filter{})
	if err != nil {
		return err
	}
	deps, err := s.deps.ListAll(ctx, q)
	if err != nil {
		return err
	}

	lines := make([]line, 0, len(tasks)+len(deps))
	for _, t := range tasks {
		l, err := taskToLine(t)
		if err != nil {
			return err
		}
		lines = append(lines, l)
	}
	for _, d := range deps {
		l, err := depToLine(d)
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
		if err := s.dirty.ClearTasks(ctx, tx); err != nil {
			return err
		}
		return s.kv.Set(ctx, tx, kvLastExport, time.Now().UTC().Format(time.RFC3339Nano))
	})
}

// ImportTasks applies tasks.jsonl's upsert/delete/dep_add/dep_remove ops
// with last-writer-wins reconciliation (spec.md §4.O).
func (s *Service) ImportTasks(ctx context.Context, path string) (ImportResult, error) {
	if path == "" {
		path = DefaultTasksFile
	}
	lines, parseErrors, err := readLines(s.resolve(path))
	if err != nil {
		return ImportResult{}, err
	}

	var taskLines, depLines []line
	for _, l := range lines {
		switch l.Op {
		case opUpsert, opDelete:
			taskLines = append(taskLines, l)
		case opDepAdd, opDepRemove:
			depLines = append(depLines, l)
		default:
			parseErrors++
		}
	}

	latestTasks := reduceLatest(taskLines, func(l line) (string, bool) {
		var id string
		if err := json.Unmarshal(l.ID, &id); err != nil {
			return "", false
		}
		return id, true
	})
	latestDeps := reduceLatest(depLines, func(l line) (string, bool) {
		if l.BlockerID == "" || l.BlockedID == "" {
			return "", false
		}
		return l.BlockerID + "->" + l.BlockedID, true
	})

	result := ImportResult{ParseErrors: parseErrors}
	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, l := range latestTasks {
			r, err := s.applyTaskLine(ctx, tx, l)
			if err != nil {
				return err
			}
			result = result.merge(r)
		}
		for _, l := range latestDeps {
			r, err := s.applyDepLine(ctx, tx, l)
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

func (s *Service) applyTaskLine(ctx context.Context, tx *sql.Tx, l line) (ImportResult, error) {
	var id string
	if err := json.Unmarshal(l.ID, &id); err != nil {
		return ImportResult{ParseErrors: 1}, nil
	}

	existing, err := s.tasks.Get(ctx, tx, id)
	if err != nil {
		return ImportResult{}, err
	}

	if l.Op == opDelete {
		if existing == nil {
			return ImportResult{}, nil
		}
		if err := s.tasks.Delete(ctx, tx, id); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{Imported: 1}, nil
	}

	var p taskPayload
	if err := json.Unmarshal(l.Data, &p); err != nil {
		return ImportResult{ParseErrors: 1}, nil
	}
	assignedAt, err := parseISOPtr(p.AssignedAt)
	if err != nil {
		return ImportResult{ParseErrors: 1}, nil
	}
	completedAt, err := parseISOPtr(p.CompletedAt)
	if err != nil {
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
	var assigneeKind *models.AssigneeKind
	if p.AssigneeKind != nil {
		v := models.AssigneeKind(*p.AssigneeKind)
		assigneeKind = &v
	}

	t := &models.Task{
		ID: id, Title: p.Title, Description: p.Description, Status: models.TaskStatus(p.Status),
		ParentID: p.ParentID, Score: p.Score, Metadata: p.Metadata,
		AssigneeKind: assigneeKind, AssigneeID: p.AssigneeID, AssignedAt: assignedAt, AssignedBy: p.AssignedBy,
		CreatedAt: createdAt, UpdatedAt: updatedAt, CompletedAt: completedAt,
	}

	if existing == nil {
		if err := s.tasks.Insert(ctx, tx, t); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{Imported: 1}, nil
	}

	switch {
	case updatedAt.After(existing.UpdatedAt):
		if err := s.tasks.Update(ctx, tx, t); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{Imported: 1}, nil
	case updatedAt.Equal(existing.UpdatedAt):
		return ImportResult{Skipped: 1}, nil
	default:
		return ImportResult{Conflicts: 1}, nil
	}
}

func (s *Service) applyDepLine(ctx context.Context, tx *sql.Tx, l line) (ImportResult, error) {
	exists, err := s.deps.Exists(ctx, tx, l.BlockerID, l.BlockedID)
	if err != nil {
		return ImportResult{}, err
	}
	switch l.Op {
	case opDepAdd:
		if exists {
			return ImportResult{Skipped: 1}, nil
		}
		if err := s.deps.Insert(ctx, tx, &models.Dependency{BlockerID: l.BlockerID, BlockedID: l.BlockedID, CreatedAt: time.Now().UTC()}); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{Imported: 1}, nil
	case opDepRemove:
		if !exists {
			return ImportResult{Skipped: 1}, nil
		}
		if err := s.deps.Remove(ctx, tx, l.BlockerID, l.BlockedID); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{Imported: 1}, nil
	default:
		return ImportResult{}, txerr.Validation("unexpected dep op", map[string]any{"op": string(l.Op)})
	}
}

// CompactTasks rewrites tasks.jsonl to its latest-op-per-key form, dropping
// delete/dep_remove tombstones (spec.md §4.O).
func (s *Service) CompactTasks(ctx context.Context, path string) (CompactResult, error) {
	if path == "" {
		path = DefaultTasksFile
	}
	resolved := s.resolve(path)
	lines, _, err := readLines(resolved)
	if err != nil {
		return CompactResult{}, err
	}
	before := len(lines)

	var taskLines, depLines []line
	for _, l := range lines {
		switch l.Op {
		case opUpsert, opDelete:
			taskLines = append(taskLines, l)
		case opDepAdd, opDepRemove:
			depLines = append(depLines, l)
		}
	}
	latestTasks := reduceLatest(taskLines, func(l line) (string, bool) {
		var id string
		if json.Unmarshal(l.ID, &id) != nil {
			return "", false
		}
		return id, true
	})
	latestDeps := reduceLatest(depLines, func(l line) (string, bool) {
		if l.BlockerID == "" || l.BlockedID == "" {
			return "", false
		}
		return l.BlockerID + "->" + l.BlockedID, true
	})

	var kept []line
	for _, l := range latestTasks {
		if l.Op != opDelete {
			kept = append(kept, l)
		}
	}
	for _, l := range latestDeps {
		if l.Op != opDepRemove {
			kept = append(kept, l)
		}
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
