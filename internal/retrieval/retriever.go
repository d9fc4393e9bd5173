package retrieval

import (
	"context"
	"fmt"
)

// SearchOptions controls one retrieval call.
type SearchOptions struct {
	TopK        int
	Threshold   float32
	SourceTypes []string
	Frameworks  []string
}

// Retriever combines embedding and vector search to find relevant knowledge
// fragments for a query.
type Retriever struct {
	embedder Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the query and returns candidates above the similarity
// threshold, ordered by similarity descending.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts SearchOptions) ([]ScoredRecord, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scored, err := r.store.Search(ctx, vec, opts.TopK, opts.Threshold, Filter{
		SourceTypes: opts.SourceTypes,
		Frameworks:  opts.Frameworks,
	})
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}
	return scored, nil
}
