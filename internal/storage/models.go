package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Content item lifecycle statuses. Items are archived, never hard-deleted,
// in normal operation.
const (
	ItemQueued     = "queued"
	ItemProcessing = "processing"
	ItemCompleted  = "completed"
	ItemFailed     = "failed"
	ItemArchived   = "archived"
)

// ContentItem is one ingested source document.
type ContentItem struct {
	ID             string
	SourceType     string // "file", "url", "video", "text"
	Source         string // locator: path, URL, video id, or "inline"
	Title          string
	Author         string
	PublishedAt    time.Time // zero when unknown
	Status         string
	Error          string
	QualityScore   float64
	RelevanceScore float64
	Frameworks     string // JSON array stored as text
	WordCount      int
	CharCount      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ContentChunk is one fragment of a ContentItem. Ordinals are contiguous per
// item; word spans overlap only by the fixed chunker overlap.
type ContentChunk struct {
	ID         string
	ItemID     string
	Ordinal    int
	Text       string
	WordStart  int
	WordEnd    int
	CharCount  int
	ChunkType  string
	Importance float64
	Concepts   string // JSON array stored as text
	Entities   string // JSON array stored as text
	VectorID   string
}

// FrameworkDetection records one business framework detected in an item.
type FrameworkDetection struct {
	ID         string
	ItemID     string
	Framework  string
	Confidence float64
	CreatedAt  time.Time
}
