package learning

import (
	"context"
	"testing"

	"github.com/philippgille/chromem-go"
)

func TestNewChromemEmbedder_NilFuncIsUnavailable(t *testing.T) {
	e, err := NewChromemEmbedder(nil)
	if err != nil {
		t.Fatalf("construct embedder: %v", err)
	}
	if e.Available() {
		t.Error("expected a nil embedding func to leave the embedder unavailable")
	}
	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Error("expected Embed to error when unavailable")
	}
}

func TestNewChromemEmbedder_AvailableWithFunc(t *testing.T) {
	fn := chromem.EmbeddingFunc(func(_ context.Context, text string) ([]float32, error) {
		return []float32{float32(len(text)), 0, 1}, nil
	})
	e, err := NewChromemEmbedder(fn)
	if err != nil {
		t.Fatalf("construct embedder: %v", err)
	}
	if !e.Available() {
		t.Fatal("expected the embedder to be available once a func is supplied")
	}
	vec, err := e.Embed(context.Background(), "hi")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected a 3-dim vector, got %v", vec)
	}
}

func TestChromemEmbedder_IndexIsNoOpWhenUnavailable(t *testing.T) {
	e, err := NewChromemEmbedder(nil)
	if err != nil {
		t.Fatalf("construct embedder: %v", err)
	}
	if err := e.Index(context.Background(), 1, "content"); err != nil {
		t.Fatalf("expected Index to be a silent no-op when unavailable, got %v", err)
	}
}

func TestChromemEmbedder_IndexStoresDocumentWhenAvailable(t *testing.T) {
	fn := chromem.EmbeddingFunc(func(_ context.Context, _ string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	})
	e, err := NewChromemEmbedder(fn)
	if err != nil {
		t.Fatalf("construct embedder: %v", err)
	}
	if err := e.Index(context.Background(), 42, "some learning content"); err != nil {
		t.Fatalf("index: %v", err)
	}
}
