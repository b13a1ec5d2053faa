// Package anchor implements spec.md component L: binding a learning to a
// file location via one of {glob, hash, symbol, line_range}, with
// kind-specific validation and drift verification.
package anchor

import (
	"context"
	"database/sql"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/storage"
	"github.com/txcore/tx/internal/txerr"
	structvalidate "github.com/txcore/tx/internal/validate"
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// CreateInput is the payload for CreateAnchor.
type CreateInput struct {
	LearningID   int64 `validate:"required"`
	Kind         models.AnchorKind
	FilePath     string `validate:"required"`
	Value        string
	ContentHash  *string
	SymbolFQName *string
	LineStart    *int
	LineEnd      *int
}

type Service struct {
	db        *storage.DB
	anchors   *repo.AnchorRepo
	learnings *repo.LearningRepo
	log       *zap.Logger
}

func New(db *storage.DB, anchors *repo.AnchorRepo, learnings *repo.LearningRepo, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, anchors: anchors, learnings: learnings, log: log}
}

// CreateAnchor validates kind-specific fields before writing (spec.md
// §4.L).
func (s *Service) CreateAnchor(ctx context.Context, in CreateInput) (*models.Anchor, error) {
	if err := structvalidate.Struct(in); err != nil {
		return nil, err
	}
	if err := validate(in); err != nil {
		return nil, err
	}

	l, err := s.learnings.Get(ctx, s.db.Conn(), in.LearningID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, txerr.LearningNotFound(in.LearningID)
	}

	contentHash := in.ContentHash
	if in.Kind == models.AnchorHash {
		contentHash = &in.Value
	}

	a := &models.Anchor{
		LearningID:   in.LearningID,
		Kind:         in.Kind,
		FilePath:     in.FilePath,
		Value:        in.Value,
		ContentHash:  contentHash,
		SymbolFQName: in.SymbolFQName,
		LineStart:    in.LineStart,
		LineEnd:      in.LineEnd,
		Status:       models.AnchorValid,
		CreatedAt:    time.Now().UTC(),
	}

	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		id, err := s.anchors.Insert(ctx, tx, a)
		if err != nil {
			return err
		}
		a.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func validate(in CreateInput) error {
	switch in.Kind {
	case models.AnchorGlob:
		if strings.TrimSpace(in.Value) == "" {
			return txerr.Validation("glob anchor requires a non-empty pattern", map[string]any{"field": "value"})
		}
	case models.AnchorHash:
		if !hashPattern.MatchString(in.Value) {
			return txerr.Validation("hash anchor value must be 64 hex chars", map[string]any{"field": "value"})
		}
		if err := validateLineRange(in.LineStart, in.LineEnd, false); err != nil {
			return err
		}
	case models.AnchorSymbol:
		if in.SymbolFQName == nil || strings.TrimSpace(*in.SymbolFQName) == "" {
			return txerr.Validation("symbol anchor requires symbolFqname", map[string]any{"field": "symbolFqname"})
		}
	case models.AnchorLineRange:
		if err := validateLineRange(in.LineStart, in.LineEnd, true); err != nil {
			return err
		}
	default:
		return txerr.Validation("unknown anchor kind", map[string]any{"kind": string(in.Kind)})
	}
	return nil
}

func validateLineRange(start, end *int, required bool) error {
	if start == nil && end == nil {
		if required {
			return txerr.Validation("line_range anchor requires lineStart and lineEnd", map[string]any{"field": "lineStart"})
		}
		return nil
	}
	if start == nil || end == nil {
		return txerr.Validation("lineStart and lineEnd must both be present", map[string]any{"field": "lineEnd"})
	}
	if *start < 1 {
		return txerr.Validation("lineStart must be >= 1", map[string]any{"field": "lineStart"})
	}
	if *end < *start {
		return txerr.Validation("lineEnd must be >= lineStart", map[string]any{"field": "lineEnd"})
	}
	return nil
}

// Remove soft-deletes: status -> invalid, row kept for provenance.
func (s *Service) Remove(ctx context.Context, id int64) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.anchors.Remove(ctx, tx, id)
	})
}

func (s *Service) UpdateStatus(ctx context.Context, id int64, status models.AnchorStatus) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.anchors.UpdateStatus(ctx, tx, id, status)
	})
}

// VerifyAnchor recomputes the anchor's truth against the filesystem.
// Contract: non-destructive on I/O failure -- if the file can't be read,
// status is left exactly as it was rather than downgraded to invalid.
func (s *Service) VerifyAnchor(ctx context.Context, id int64) (*models.Anchor, error) {
	a, err := s.anchors.Get(ctx, s.db.Conn(), id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, txerr.AnchorNotFound(id)
	}

	newStatus, ok := s.verify(a)
	if !ok {
		return a, nil
	}
	if newStatus != a.Status {
		if err := s.UpdateStatus(ctx, id, newStatus); err != nil {
			return nil, err
		}
		a.Status = newStatus
	}
	return a, nil
}

// verify reports the recomputed status and whether verification could be
// performed at all (false = I/O failure, caller keeps prior status).
func (s *Service) verify(a *models.Anchor) (models.AnchorStatus, bool) {
	switch a.Kind {
	case models.AnchorHash:
		data, err := os.ReadFile(a.FilePath)
		if err != nil {
			return "", false
		}
		sum := sha256Hex(data)
		if a.ContentHash != nil && sum == *a.ContentHash {
			return models.AnchorValid, true
		}
		return models.AnchorDrifted, true
	case models.AnchorGlob:
		matches, err := filepathGlobMatches(a.Value, a.FilePath)
		if err != nil {
			return "", false
		}
		if matches {
			return models.AnchorValid, true
		}
		return models.AnchorInvalid, true
	default:
		// symbol/line_range verification requires a source parser that is
		// out of this core's scope; leave status untouched.
		return "", false
	}
}

// VerifyAnchorsForFile re-verifies every anchor bound to path and returns
// counts by resulting status.
func (s *Service) VerifyAnchorsForFile(ctx context.Context, path string) (map[models.AnchorStatus]int, error) {
	anchors, err := s.anchors.ListByFile(ctx, s.db.Conn(), path)
	if err != nil {
		return nil, err
	}
	counts := map[models.AnchorStatus]int{}
	for _, a := range anchors {
		updated, err := s.VerifyAnchor(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		counts[updated.Status]++
	}
	return counts, nil
}

func (s *Service) FindAnchorsForFile(ctx context.Context, path string) ([]*models.Anchor, error) {
	return s.anchors.ListByFile(ctx, s.db.Conn(), path)
}

func (s *Service) FindAnchorsForLearning(ctx context.Context, learningID int64) ([]*models.Anchor, error) {
	return s.anchors.ListByLearning(ctx, s.db.Conn(), learningID)
}

func (s *Service) FindDrifted(ctx context.Context) ([]*models.Anchor, error) {
	return s.anchors.ListByStatus(ctx, s.db.Conn(), models.AnchorDrifted)
}

func (s *Service) FindInvalid(ctx context.Context) ([]*models.Anchor, error) {
	return s.anchors.ListByStatus(ctx, s.db.Conn(), models.AnchorInvalid)
}
