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

type learningPayload struct {
	Content      string    `json:"content"`
	SourceType   string    `json:"sourceType"`
	SourceRef    *string   `json:"sourceRef,omitempty"`
	Keywords     string    `json:"keywords"`
	Category     string    `json:"category"`
	UsageCount   int       `json:"usageCount"`
	LastUsedAt   *string   `json:"lastUsedAt,omitempty"`
	OutcomeScore float64   `json:"outcomeScore"`
	Embedding    []float32 `json:"embedding,omitempty"`
	RunID        *string   `json:"runId,omitempty"`
	CreatedAt    string    `json:"createdAt"`
}

func learningToLine(l *models.Learning) (line, error) {
	p := learningPayload{
		Content: l.Content, SourceType: string(l.SourceType), SourceRef: l.SourceRef,
		Keywords: l.Keywords, Category: l.Category, UsageCount: l.UsageCount,
		LastUsedAt: isoPtr(l.LastUsedAt), OutcomeScore: l.OutcomeScore, Embedding: l.Embedding,
		RunID: l.RunID, CreatedAt: l.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return line{}, fmt.Errorf("sync: marshal learning payload: %w", err)
	}
	id, err := json.Marshal(l.ID)
	if err != nil {
		return line{}, err
	}
	return line{V: jsonlVersion, Op: opLearningUpsert, TS: p.CreatedAt, ID: id, Data: data}, nil
}

// ExportLearnings writes every learning as a learning_upsert op, oldest ts
// first. Learnings are append-only (spec.md §4.K), so export never emits a
// delete op for this kind.
func (s *Service) ExportLearnings(ctx context.Context, path string) error {
	if path == "" {
		path = DefaultLearningsFile
	}
	q := s.db.Conn()
	learnings, err := s.learnings.ListAll(ctx, q)
	if err != nil {
		return err
	}

	lines := make([]line, 0, len(learnings))
	for _, l := range learnings {
		ln, err := learningToLine(l)
		if err != nil {
			return err
		}
		lines = append(lines, ln)
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
		if err := s.dirty.ClearLearnings(ctx, tx); err != nil {
			return err
		}
		return s.kv.Set(ctx, tx, kvLastExport, time.Now().UTC().Format(time.RFC3339Nano))
	})
}

// ImportLearnings applies learnings.jsonl's learning_upsert ops.
func (s *Service) ImportLearnings(ctx context.Context, path string) (ImportResult, error) {
	if path == "" {
		path = DefaultLearningsFile
	}
	lines, parseErrors, err := readLines(s.resolve(path))
	if err != nil {
		return ImportResult{}, err
	}

	var kindLines []line
	for _, l := range lines {
		if l.Op == opLearningUpsert {
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
			r, err := s.applyLearningLine(ctx, tx, l)
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

func (s *Service) applyLearningLine(ctx context.Context, tx *sql.Tx, l line) (ImportResult, error) {
	var id int64
	if err := json.Unmarshal(l.ID, &id); err != nil {
		return ImportResult{ParseErrors: 1}, nil
	}
	var p learningPayload
	if err := json.Unmarshal(l.Data, &p); err != nil {
		return ImportResult{ParseErrors: 1}, nil
	}
	lastUsedAt, err := parseISOPtr(p.LastUsedAt)
	if err != nil {
		return ImportResult{ParseErrors: 1}, nil
	}
	createdAt, err := parseISO(p.CreatedAt)
	if err != nil {
		return ImportResult{ParseErrors: 1}, nil
	}

	existing, err := s.learnings.Get(ctx, tx, id)
	if err != nil {
		return ImportResult{}, err
	}

	lg := &models.Learning{
		ID: id, Content: p.Content, SourceType: models.LearningSourceType(p.SourceType), SourceRef: p.SourceRef,
		Keywords: p.Keywords, Category: p.Category, UsageCount: p.UsageCount, LastUsedAt: lastUsedAt,
		OutcomeScore: p.OutcomeScore, Embedding: p.Embedding, RunID: p.RunID, CreatedAt: createdAt,
	}

	if existing == nil {
		if err := s.learnings.UpsertWithID(ctx, tx, lg); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{Imported: 1}, nil
	}
	switch {
	case createdAt.After(existing.CreatedAt):
		if err := s.learnings.UpsertWithID(ctx, tx, lg); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{Imported: 1}, nil
	case createdAt.Equal(existing.CreatedAt):
		return ImportResult{Skipped: 1}, nil
	default:
		return ImportResult{Conflicts: 1}, nil
	}
}

// CompactLearnings rewrites learnings.jsonl to its latest-op-per-id form
// (learnings have no tombstone op, so nothing is dropped besides
// duplicates).
func (s *Service) CompactLearnings(ctx context.Context, path string) (CompactResult, error) {
	if path == "" {
		path = DefaultLearningsFile
	}
	resolved := s.resolve(path)
	lines, _, err := readLines(resolved)
	if err != nil {
		return CompactResult{}, err
	}
	before := len(lines)

	latest := reduceLatest(lines, func(l line) (string, bool) {
		if l.Op != opLearningUpsert {
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
