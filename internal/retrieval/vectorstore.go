package retrieval

import (
	"context"
	"encoding/json"
	"time"
)

// VectorStore is the interface for vector storage and similarity search
// backends. The default implementation uses SQLite with brute-force cosine
// similarity; a pgvector-backed implementation is available for hosted
// Postgres deployments.
type VectorStore interface {
	// Insert adds records to the store.
	Insert(ctx context.Context, records []Record) error

	// Search returns the top-K records most similar to vector, filtered by
	// source type / framework and by the minimum similarity score.
	Search(ctx context.Context, vector []float32, topK int, minScore float32, filter Filter) ([]ScoredRecord, error)

	// DeleteBySource removes every record belonging to a content item.
	// Used when an item is archived.
	DeleteBySource(ctx context.Context, sourceID string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// Record is one embedded chunk in the vector store.
type Record struct {
	ID         string
	SourceID   string // content item id
	SourceType string // "file", "url", "video", "text"
	TextChunk  string
	Embedding  []float32
	Frameworks string // JSON array stored as text
	Metadata   string // JSON-encoded Meta
	CreatedAt  time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}

// Filter restricts a similarity search by record metadata. Empty slices
// match everything.
type Filter struct {
	SourceTypes []string
	Frameworks  []string
}

// Meta carries the ranking metadata stored alongside each record.
type Meta struct {
	Title      string   `json:"title,omitempty"`
	Industries []string `json:"industries,omitempty"`
	Stages     []string `json:"stages,omitempty"`
	Functions  []string `json:"functions,omitempty"`
	Complexity string   `json:"complexity,omitempty"`
	Authority  float64  `json:"authority,omitempty"`
	Freshness  float64  `json:"freshness,omitempty"`
	Importance float64  `json:"importance,omitempty"`
}

// DecodeMeta parses a record's metadata JSON. A missing or malformed blob
// decodes to the zero Meta rather than failing retrieval.
func DecodeMeta(raw string) Meta {
	var m Meta
	if raw == "" {
		return m
	}
	_ = json.Unmarshal([]byte(raw), &m)
	return m
}

// EncodeMeta serializes ranking metadata for storage.
func EncodeMeta(m Meta) string {
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}
