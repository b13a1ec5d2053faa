package learning

import (
	"context"
	"testing"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/testutil"
)

func newTestService(t *testing.T, embedder Embedder) *Service {
	t.Helper()
	db := testutil.OpenDB(t)
	return New(db, repo.NewLearningRepo(), repo.NewKVConfigRepo(), embedder, nil)
}

func TestCreate_StoresContentAndSourceType(t *testing.T) {
	s := newTestService(t, nil)
	l, err := s.Create(context.Background(), CreateInput{
		Content: "always check the FK pragma before writing migration tests", SourceType: models.SourceManual,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if l.ID == 0 {
		t.Error("expected a generated id")
	}
	if l.Content == "" {
		t.Error("expected content to be stored")
	}
}

func TestRecall_FindsContentByKeyword(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	if _, err := s.Create(ctx, CreateInput{Content: "sqlite busy timeout prevents SQLITE_BUSY under contention", SourceType: models.SourceManual}); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := s.Create(ctx, CreateInput{Content: "gofmt aligns struct fields automatically", SourceType: models.SourceManual}); err != nil {
		t.Fatalf("create b: %v", err)
	}

	results, err := s.Recall(ctx, "sqlite busy timeout", 10)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one recall result")
	}
	if results[0].Learning.Content == "" {
		t.Error("expected the top result to have content")
	}
}

func TestRecall_WithoutEmbedderCollapsesVectorWeight(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	if _, err := s.Create(ctx, CreateInput{Content: "a learning about retries", SourceType: models.SourceManual}); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Should not error even though no embedder is configured.
	if _, err := s.Recall(ctx, "retries", 5); err != nil {
		t.Fatalf("recall without embedder: %v", err)
	}
}

func TestRecall_RespectsLimit(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Create(ctx, CreateInput{Content: "retry backoff strategy note", SourceType: models.SourceManual}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	results, err := s.Recall(ctx, "retry backoff", 2)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected limit=2, got %d", len(results))
	}
}

func TestRecall_SortsByScoreDescending(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	if _, err := s.Create(ctx, CreateInput{Content: "exact phrase database migration runner idempotent", SourceType: models.SourceManual}); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := s.Create(ctx, CreateInput{Content: "unrelated note about terminal colors", SourceType: models.SourceManual}); err != nil {
		t.Fatalf("create b: %v", err)
	}

	results, err := s.Recall(ctx, "database migration runner idempotent", 10)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatalf("results not sorted descending by score at index %d: %+v", i, results)
		}
	}
}

func TestCosineSimilarity_IdenticalVectorsScoreOne(t *testing.T) {
	v := []float32{1, 2, 3}
	if got := cosineSimilarity(v, v); got < 0.999 {
		t.Errorf("cosine similarity of identical vectors = %v, want ~1", got)
	}
}

func TestCosineSimilarity_MismatchedLengthScoresZero(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); got != 0 {
		t.Errorf("mismatched-length cosine similarity = %v, want 0", got)
	}
}

type stubEmbedder struct {
	vec       []float32
	available bool
}

func (e *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) { return e.vec, nil }
func (e *stubEmbedder) Available() bool                                      { return e.available }

func TestRecall_UsesVectorScoreWhenEmbedderAvailable(t *testing.T) {
	s := newTestService(t, &stubEmbedder{vec: []float32{1, 0, 0}, available: true})
	ctx := context.Background()
	if _, err := s.Create(ctx, CreateInput{Content: "vector-scored note", SourceType: models.SourceManual}); err != nil {
		t.Fatalf("create: %v", err)
	}
	results, err := s.Recall(ctx, "vector-scored note", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result with the embedder available")
	}
}

func TestWeights_FallsBackToDefaultWhenUnset(t *testing.T) {
	s := newTestService(t, nil)
	w := s.weights(context.Background())
	if w.BM25 != 0.4 || w.Vector != 0.4 || w.Recency != 0.2 {
		t.Errorf("expected default weights 0.4/0.4/0.2, got %+v", w)
	}
}

func TestWeights_ReadsConfiguredOverride(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	kv := repo.NewKVConfigRepo()
	if err := kv.Set(ctx, s.db.Conn(), "learnings_bm25_weight", "0.7"); err != nil {
		t.Fatalf("set kv: %v", err)
	}
	w := s.weights(ctx)
	if w.BM25 != 0.7 {
		t.Errorf("bm25 weight = %v, want 0.7", w.BM25)
	}
}
