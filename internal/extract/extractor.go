// Package extract normalizes raw sources (files, web pages, video
// transcripts, literal text) into plain text plus descriptive metadata for
// the ingestion pipeline. Each source type has its own Extractor
// implementation; adding a source type is an additive change.
package extract

import (
	"context"
	"fmt"
	"time"
)

// Input identifies what to extract: a locator (path, URL, video id) and,
// for literal sources, the content itself.
type Input struct {
	Source  string
	Content string
}

// Options carries per-ingestion extraction flags.
type Options struct {
	RespectRobots bool
	ExtractImages bool
	Timeout       time.Duration
}

// Result is normalized extraction output.
type Result struct {
	Text        string
	Title       string
	Author      string
	PublishedAt time.Time
	Metadata    map[string]string // type-specific: channel, duration, chapters, ...
}

// Extractor normalizes one source type.
type Extractor interface {
	// SourceType returns the content type tag this extractor handles.
	SourceType() string

	// Extract fetches and normalizes the source. Implementations doing
	// network I/O must bound it with Options.Timeout.
	Extract(ctx context.Context, in Input, opts Options) (Result, error)
}

// Registry holds one extractor per source type.
type Registry struct {
	byType map[string]Extractor
}

// NewRegistry builds a registry from the given extractors. Duplicate source
// types are a programming error.
func NewRegistry(extractors ...Extractor) (*Registry, error) {
	r := &Registry{byType: make(map[string]Extractor, len(extractors))}
	for _, e := range extractors {
		if _, dup := r.byType[e.SourceType()]; dup {
			return nil, fmt.Errorf("duplicate extractor for source type %q", e.SourceType())
		}
		r.byType[e.SourceType()] = e
	}
	return r, nil
}

// For returns the extractor for a source type.
func (r *Registry) For(sourceType string) (Extractor, error) {
	e, ok := r.byType[sourceType]
	if !ok {
		return nil, fmt.Errorf("no extractor for source type %q", sourceType)
	}
	return e, nil
}

// Types lists the registered source types.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	return out
}
