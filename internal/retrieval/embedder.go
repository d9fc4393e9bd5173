package retrieval

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder maps text to fixed-length vectors via an external service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

const defaultEmbedBatchSize = 10

// ServiceEmbedder calls an OpenAI-compatible embedding endpoint (OpenAI,
// Ollama's /v1 API, or any other compatible service).
type ServiceEmbedder struct {
	embedder  embeddings.Embedder
	batchSize int
}

// EmbedderConfig configures the embedding client.
type EmbedderConfig struct {
	BaseURL   string
	Model     string
	APIKey    string // "none" is substituted for keyless local services
	BatchSize int
}

// NewServiceEmbedder builds the embedding client.
func NewServiceEmbedder(cfg EmbedderConfig) (*ServiceEmbedder, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultEmbedBatchSize
	}
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("wrapping embedder: %w", err)
	}

	return &ServiceEmbedder{embedder: emb, batchSize: cfg.BatchSize}, nil
}

// Embed generates an embedding for one text.
func (e *ServiceEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding service returned %d vectors, want 1", len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for texts, calling the service in bounded
// batches so a large document cannot fan out into one oversized request.
func (e *ServiceEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedder.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch [%d:%d]: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedding service returned %d vectors for batch of %d", len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}
