package learning

import (
	"context"
	"fmt"
	"strconv"

	"github.com/philippgille/chromem-go"
)

// ChromemEmbedder adapts an embedded chromem-go collection into the
// Embedder interface: embeddings are computed by the caller-supplied
// embedding function, and Index can store content in an in-process vector
// collection. Recall does not query that collection; it scores cosine
// similarity over the embeddings stored on learning rows (grounded on
// cklxx-elephant.ai's EmbeddingProvider plus chromem-go dependency).
type ChromemEmbedder struct {
	fn         chromem.EmbeddingFunc
	collection *chromem.Collection
	docID      int
}

// NewChromemEmbedder builds an in-memory chromem-go collection backed by
// fn. A nil fn yields an embedder that reports itself unavailable, so
// callers degrade to BM25+recency only.
func NewChromemEmbedder(fn chromem.EmbeddingFunc) (*ChromemEmbedder, error) {
	if fn == nil {
		return &ChromemEmbedder{}, nil
	}
	db := chromem.NewDB()
	coll, err := db.CreateCollection("learnings", nil, fn)
	if err != nil {
		return nil, fmt.Errorf("learning: create vector collection: %w", err)
	}
	return &ChromemEmbedder{fn: fn, collection: coll}, nil
}

func (c *ChromemEmbedder) Available() bool { return c.fn != nil && c.collection != nil }

func (c *ChromemEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.Available() {
		return nil, fmt.Errorf("learning: vector embedder unavailable")
	}
	return c.fn(ctx, text)
}

// Index mirrors a learning's content into the chromem-go collection so
// future Query calls can surface it as a nearest neighbor. Service.Create
// does not call it.
func (c *ChromemEmbedder) Index(ctx context.Context, learningID int64, content string) error {
	if !c.Available() {
		return nil
	}
	c.docID++
	return c.collection.AddDocument(ctx, chromem.Document{
		ID:      strconv.FormatInt(learningID, 10),
		Content: content,
	})
}
