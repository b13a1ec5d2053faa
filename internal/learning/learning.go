// Package learning implements spec.md component K: append-only learnings
// with FTS indexing and hybrid BM25+vector+recency retrieval.
package learning

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/storage"
	"github.com/txcore/tx/internal/validate"
)

// Embedder is the pluggable vector-embedding backend. When nil, the vector
// term of Recall collapses to 0 and BM25/recency renormalize (spec.md
// §4.K, §9 hybrid retrieval).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Available() bool
}

// CreateInput is the payload for Create.
type CreateInput struct {
	Content    string `validate:"required"`
	SourceType models.LearningSourceType
	SourceRef  *string
	Keywords   string
	Category   string
	RunID      *string
}

// Weights is the hybrid recall combination (spec.md §4.K default
// 0.4/0.4/0.2, configurable via kv_config).
type Weights struct {
	BM25    float64
	Vector  float64
	Recency float64
}

// Result is one ranked recall hit.
type Result struct {
	Learning *models.Learning
	Score    float64
}

type Service struct {
	db        *storage.DB
	learnings *repo.LearningRepo
	kv        *repo.KVConfigRepo
	embedder  Embedder
	log       *zap.Logger
}

func New(db *storage.DB, learnings *repo.LearningRepo, kv *repo.KVConfigRepo, embedder Embedder, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, learnings: learnings, kv: kv, embedder: embedder, log: log}
}

// Create inserts a learning; the storage primitive's AFTER-INSERT trigger
// keeps the FTS mirror in sync. Learnings are append-only -- no content
// mutation after creation.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Learning, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	var embedding []float32
	if s.embedder != nil && s.embedder.Available() {
		if v, err := s.embedder.Embed(ctx, in.Content); err == nil {
			embedding = v
		} else {
			s.log.Warn("embedding backend failed, continuing without vector", zap.Error(err))
		}
	}

	l := &models.Learning{
		Content:    in.Content,
		SourceType: in.SourceType,
		SourceRef:  in.SourceRef,
		Keywords:   in.Keywords,
		Category:   in.Category,
		RunID:      in.RunID,
		Embedding:  embedding,
		CreatedAt:  time.Now().UTC(),
	}

	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		id, err := s.learnings.Insert(ctx, tx, l)
		if err != nil {
			return err
		}
		l.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Learning, error) {
	return s.learnings.Get(ctx, s.db.Conn(), id)
}

// weights reads the configured hybrid-retrieval weights from kv_config,
// falling back to the 0.4/0.4/0.2 default.
func (s *Service) weights(ctx context.Context) Weights {
	w := Weights{BM25: 0.4, Vector: 0.4, Recency: 0.2}
	q := s.db.Conn()
	if v, ok, _ := s.kv.Get(ctx, q, "learnings_bm25_weight"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			w.BM25 = f
		}
	}
	if v, ok, _ := s.kv.Get(ctx, q, "learnings_vector_weight"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			w.Vector = f
		}
	}
	if v, ok, _ := s.kv.Get(ctx, q, "learnings_recency_weight"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			w.Recency = f
		}
	}
	return w
}

// Recall ranks learnings by a weighted blend of BM25 (FTS), cosine
// similarity over embeddings (when the embedder is available), and a
// recency decay. When the embedder is unavailable, the vector weight
// collapses to 0 and the remaining weights renormalize.
func (s *Service) Recall(ctx context.Context, query string, limit int) ([]Result, error) {
	w := s.weights(ctx)
	vectorAvailable := s.embedder != nil && s.embedder.Available()
	if !vectorAvailable {
		total := w.BM25 + w.Recency
		if total > 0 {
			w.BM25 /= total
			w.Recency /= total
		}
		w.Vector = 0
	}

	q := s.db.Conn()
	bm25Scores := map[int64]float64{}
	if strings.TrimSpace(query) != "" {
		hits, err := s.learnings.SearchFTS(ctx, q, query, 200)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			// bm25() returns more-negative-is-better; remap to [0,1) so a
			// stronger match gets a higher score.
			x := math.Max(0, -h.Rank)
			bm25Scores[h.LearningID] = x / (1 + x)
		}
	}

	var queryVec []float32
	if vectorAvailable {
		if v, err := s.embedder.Embed(ctx, query); err == nil {
			queryVec = v
		}
	}

	candidateIDs := make(map[int64]bool, len(bm25Scores))
	for id := range bm25Scores {
		candidateIDs[id] = true
	}

	var vectorPool []*models.Learning
	if vectorAvailable && len(queryVec) > 0 {
		pool, err := s.learnings.ListAllWithEmbedding(ctx, q)
		if err != nil {
			return nil, err
		}
		vectorPool = pool
		for _, l := range pool {
			candidateIDs[l.ID] = true
		}
	}

	ids := make([]int64, 0, len(candidateIDs))
	for id := range candidateIDs {
		ids = append(ids, id)
	}
	learnings, err := s.learnings.ListByIDs(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.Learning, len(learnings))
	for _, l := range learnings {
		byID[l.ID] = l
	}

	vectorScores := map[int64]float64{}
	for _, l := range vectorPool {
		vectorScores[l.ID] = cosineSimilarity(queryVec, l.Embedding)
	}

	now := time.Now().UTC()
	var results []Result
	for id := range candidateIDs {
		l, ok := byID[id]
		if !ok {
			continue
		}
		ageDays := now.Sub(l.CreatedAt).Hours() / 24
		recencyScore := math.Exp(-ageDays / 30)

		score := w.BM25*bm25Scores[id] + w.Vector*vectorScores[id] + w.Recency*recencyScore
		results = append(results, Result{Learning: l, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
