// Package ingest drives content through the five-stage ingestion pipeline:
// validation, extraction, analysis, processing (chunk and embed), and
// storage. Jobs are tracked in an in-memory registry owned by the
// orchestrator; batches run in concurrency-capped windows.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quantive/sage/internal/chunker"
	"github.com/quantive/sage/internal/config"
	"github.com/quantive/sage/internal/extract"
	"github.com/quantive/sage/internal/retrieval"
	"github.com/quantive/sage/internal/storage"
)

// ContentStore persists content items, chunks, and framework detections.
type ContentStore interface {
	SaveContentItem(item storage.ContentItem) error
	UpdateContentItemStatus(id, status, errMsg string) error
	UpdateContentItemMetadata(id, title, author string, publishedAt time.Time) error
	UpdateContentItemAnalysis(id string, quality, relevance float64, frameworksJSON string, wordCount, charCount int) error
	ArchiveContentItem(id string) error
	ReplaceChunks(itemID string, chunks []storage.ContentChunk) error
	DeleteChunks(itemID string) error
	SaveFrameworkDetections(detections []storage.FrameworkDetection) error
}

// Embedder turns chunk texts into vectors in bounded batches.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter is the write side of the vector store.
type VectorWriter interface {
	Insert(ctx context.Context, records []retrieval.Record) error
	DeleteBySource(ctx context.Context, sourceID string) error
}

// Options controls optional pipeline work per request.
type Options struct {
	GenerateEmbeddings bool
	DetectFrameworks   bool
	ExtractImages      bool
	RespectRobots      bool
}

// DefaultOptions enables embeddings and framework detection.
func DefaultOptions() Options {
	return Options{GenerateEmbeddings: true, DetectFrameworks: true}
}

// Request identifies one piece of content to ingest. Content carries the
// inline text for "text" sources and is ignored otherwise.
type Request struct {
	SourceType string `json:"source_type"`
	Source     string `json:"source"`
	Content    string `json:"content,omitempty"`
}

// Orchestrator runs ingestion jobs.
type Orchestrator struct {
	store         ContentStore
	vectors       VectorWriter
	embedder      Embedder
	extractors    *extract.Registry
	chunker       *chunker.Chunker
	vocab         *config.Vocabulary
	registry      *Registry
	maxConcurrent int
	logger        *slog.Logger
}

// OrchestratorConfig wires the orchestrator's dependencies.
type OrchestratorConfig struct {
	Store         ContentStore
	Vectors       VectorWriter
	Embedder      Embedder
	Extractors    *extract.Registry
	Chunker       *chunker.Chunker
	Vocab         *config.Vocabulary
	Registry      *Registry
	MaxConcurrent int
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry(0)
	}
	return &Orchestrator{
		store:         cfg.Store,
		vectors:       cfg.Vectors,
		embedder:      cfg.Embedder,
		extractors:    cfg.Extractors,
		chunker:       cfg.Chunker,
		vocab:         cfg.Vocab,
		registry:      cfg.Registry,
		maxConcurrent: cfg.MaxConcurrent,
		logger:        slog.Default(),
	}
}

// Registry exposes the job table for status queries.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Job returns a snapshot of one job.
func (o *Orchestrator) Job(id string) (Job, bool) { return o.registry.Get(id) }

// Jobs returns snapshots of all tracked jobs, newest first.
func (o *Orchestrator) Jobs() []Job { return o.registry.List() }

// ProcessContent runs one ingestion job to completion and returns its
// final snapshot. The returned error mirrors the job's failure, if any.
func (o *Orchestrator) ProcessContent(ctx context.Context, req Request, opts Options) (Job, error) {
	job := o.registry.create(req.SourceType, req.Source)
	err := o.run(ctx, job.ID, req, opts)
	snapshot, _ := o.registry.Get(job.ID)
	return snapshot, err
}

// Submit starts an ingestion job in the background and returns its initial
// snapshot immediately. The job outlives the caller's request context.
func (o *Orchestrator) Submit(ctx context.Context, req Request, opts Options) Job {
	job := o.registry.create(req.SourceType, req.Source)
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := o.run(bg, job.ID, req, opts); err != nil {
			o.logger.Warn("ingestion job failed", "job_id", job.ID, "source", req.Source, "error", err)
		}
	}()
	return job.clone()
}

// ProcessBatch ingests requests in windows of at most maxConcurrent jobs.
// A window fully settles before the next one starts. Failures are isolated
// per item; the returned snapshots preserve input order.
func (o *Orchestrator) ProcessBatch(ctx context.Context, reqs []Request, opts Options) []Job {
	out := make([]Job, len(reqs))
	for start := 0; start < len(reqs); start += o.maxConcurrent {
		end := start + o.maxConcurrent
		if end > len(reqs) {
			end = len(reqs)
		}
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				job, err := o.ProcessContent(ctx, reqs[i], opts)
				if err != nil {
					o.logger.Warn("batch item failed", "source", reqs[i].Source, "error", err)
				}
				out[i] = job
				return nil
			})
		}
		g.Wait()
	}
	return out
}

// Archive marks an item archived and removes its vectors. The item row and
// chunks stay queryable for audit; only retrieval forgets it.
func (o *Orchestrator) Archive(ctx context.Context, itemID string) error {
	if err := o.store.ArchiveContentItem(itemID); err != nil {
		return fmt.Errorf("archiving item %s: %w", itemID, err)
	}
	if err := o.vectors.DeleteBySource(ctx, itemID); err != nil {
		return fmt.Errorf("removing vectors for %s: %w", itemID, err)
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, jobID string, req Request, opts Options) error {
	o.registry.startJob(jobID)

	var itemID string
	fail := func(stage string, err error) error {
		o.registry.failStage(jobID, stage, err)
		if itemID != "" {
			if uerr := o.store.UpdateContentItemStatus(itemID, storage.ItemFailed, err.Error()); uerr != nil {
				o.logger.Error("marking item failed", "item_id", itemID, "error", uerr)
			}
		}
		return err
	}

	// Validation.
	o.registry.startStage(jobID, StageValidation)
	extractor, err := o.validate(req)
	if err != nil {
		return fail(StageValidation, err)
	}
	itemID = uuid.New().String()
	item := storage.ContentItem{
		ID:         itemID,
		SourceType: req.SourceType,
		Source:     sourceLocator(req),
		Status:     storage.ItemProcessing,
	}
	if err := o.store.SaveContentItem(item); err != nil {
		itemID = ""
		return fail(StageValidation, fmt.Errorf("creating content item: %w", err))
	}
	o.registry.setItemID(jobID, itemID)
	o.registry.completeStage(jobID, StageValidation)

	// Extraction.
	o.registry.startStage(jobID, StageExtraction)
	extracted, err := extractor.Extract(ctx, extract.Input{Source: req.Source, Content: req.Content}, extract.Options{
		RespectRobots: opts.RespectRobots,
		ExtractImages: opts.ExtractImages,
	})
	if err != nil {
		return fail(StageExtraction, fmt.Errorf("extraction: %w", err))
	}
	if err := o.store.UpdateContentItemMetadata(itemID, extracted.Title, extracted.Author, extracted.PublishedAt); err != nil {
		o.logger.Warn("saving item metadata", "item_id", itemID, "error", err)
	}
	o.registry.completeStage(jobID, StageExtraction)

	// Analysis. Errors here degrade to empty detections instead of failing
	// the job; a document without framework tags is still worth keeping.
	o.registry.startStage(jobID, StageAnalysis)
	frameworks := o.analyze(itemID, extracted.Text, opts)
	o.registry.completeStage(jobID, StageAnalysis)

	// Processing: chunk and embed.
	o.registry.startStage(jobID, StageChunking)
	chunks := o.chunker.Split(extracted.Text)
	if len(chunks) == 0 {
		return fail(StageChunking, fmt.Errorf("no chunks produced from %d characters", len(extracted.Text)))
	}
	var vectors [][]float32
	if opts.GenerateEmbeddings {
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Text
		}
		vectors, err = o.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fail(StageChunking, fmt.Errorf("embedding %d chunks: %w", len(chunks), err))
		}
		if len(vectors) != len(chunks) {
			return fail(StageChunking, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)))
		}
	}
	o.registry.completeStage(jobID, StageChunking)

	// Storage: chunks and vectors land together or not at all.
	o.registry.startStage(jobID, StageStorage)
	if err := o.persist(ctx, itemID, req, extracted, chunks, vectors, frameworks); err != nil {
		return fail(StageStorage, err)
	}
	o.registry.completeStage(jobID, StageStorage)

	if err := o.store.UpdateContentItemStatus(itemID, storage.ItemCompleted, ""); err != nil {
		o.logger.Error("marking item completed", "item_id", itemID, "error", err)
	}
	o.registry.completeJob(jobID, itemID)
	o.logger.Info("ingestion complete", "job_id", jobID, "item_id", itemID, "chunks", len(chunks))
	return nil
}

func (o *Orchestrator) validate(req Request) (extract.Extractor, error) {
	extractor, err := o.extractors.For(req.SourceType)
	if err != nil {
		return nil, err
	}
	if req.SourceType == "text" {
		if strings.TrimSpace(req.Content) == "" {
			return nil, fmt.Errorf("text source requires inline content")
		}
	} else if strings.TrimSpace(req.Source) == "" {
		return nil, fmt.Errorf("%s source requires a locator", req.SourceType)
	}
	return extractor, nil
}

// analyze detects frameworks and scores the whole document. Persistence
// problems are logged and shrink the result to nothing rather than failing
// the stage.
func (o *Orchestrator) analyze(itemID, text string, opts Options) []string {
	quality, relevance := o.chunker.ScoreDocument(text)
	wordCount := len(strings.Fields(text))

	var frameworks []string
	if opts.DetectFrameworks {
		frameworks = o.chunker.DetectFrameworks(text)
	}

	if err := o.store.UpdateContentItemAnalysis(itemID, quality, relevance, jsonArray(frameworks), wordCount, len(text)); err != nil {
		o.logger.Warn("saving analysis", "item_id", itemID, "error", err)
		return nil
	}

	if len(frameworks) > 0 {
		detections := make([]storage.FrameworkDetection, len(frameworks))
		now := time.Now().UTC()
		for i, fw := range frameworks {
			detections[i] = storage.FrameworkDetection{
				ID:         uuid.New().String(),
				ItemID:     itemID,
				Framework:  fw,
				Confidence: 0.7,
				CreatedAt:  now,
			}
		}
		if err := o.store.SaveFrameworkDetections(detections); err != nil {
			o.logger.Warn("saving framework detections", "item_id", itemID, "error", err)
			return nil
		}
	}
	return frameworks
}

func (o *Orchestrator) persist(ctx context.Context, itemID string, req Request, extracted extract.Result, chunks []chunker.Chunk, vectors [][]float32, frameworks []string) error {
	records := make([]retrieval.Record, 0, len(chunks))
	stored := make([]storage.ContentChunk, len(chunks))
	now := time.Now().UTC()
	meta := o.recordMeta(extracted, chunks, frameworks)

	for i, ch := range chunks {
		stored[i] = storage.ContentChunk{
			ID:         uuid.New().String(),
			ItemID:     itemID,
			Ordinal:    ch.Index,
			Text:       ch.Text,
			WordStart:  ch.WordStart,
			WordEnd:    ch.WordEnd,
			CharCount:  ch.CharCount,
			ChunkType:  string(ch.Type),
			Importance: ch.Importance,
			Concepts:   jsonArray(ch.Concepts),
			Entities:   jsonArray(ch.Entities),
		}
		if vectors != nil {
			vectorID := uuid.New().String()
			stored[i].VectorID = vectorID
			m := meta
			m.Importance = ch.Importance
			records = append(records, retrieval.Record{
				ID:         vectorID,
				SourceID:   itemID,
				SourceType: req.SourceType,
				TextChunk:  ch.Text,
				Embedding:  vectors[i],
				Frameworks: jsonArray(frameworks),
				Metadata:   retrieval.EncodeMeta(m),
				CreatedAt:  now,
			})
		}
	}

	if err := o.store.ReplaceChunks(itemID, stored); err != nil {
		return fmt.Errorf("storing chunks: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	if err := o.vectors.DeleteBySource(ctx, itemID); err != nil {
		return fmt.Errorf("clearing stale vectors: %w", err)
	}
	if err := o.vectors.Insert(ctx, records); err != nil {
		// Chunks without vectors would be unreachable at query time; roll
		// them back so the item fails cleanly.
		if derr := o.store.DeleteChunks(itemID); derr != nil {
			o.logger.Error("rolling back chunks", "item_id", itemID, "error", derr)
		}
		return fmt.Errorf("storing vectors: %w", err)
	}
	return nil
}

// recordMeta builds the ranking metadata shared by all of an item's
// records: business context tags from the vocabulary plus complexity,
// authority, and freshness signals.
func (o *Orchestrator) recordMeta(extracted extract.Result, chunks []chunker.Chunk, frameworks []string) retrieval.Meta {
	lower := strings.ToLower(extracted.Text)
	wordCount := len(strings.Fields(extracted.Text))
	return retrieval.Meta{
		Title:      extracted.Title,
		Industries: matchCategories(lower, o.vocab.Industries),
		Stages:     matchCategories(lower, o.vocab.Stages),
		Functions:  matchCategories(lower, o.vocab.Functions),
		Complexity: complexityFor(wordCount, len(frameworks)),
		Authority:  authorityFor(extracted),
		Freshness:  freshnessFor(extracted.PublishedAt, time.Now().UTC()),
	}
}

func matchCategories(lower string, categories map[string][]string) []string {
	var out []string
	for name, keywords := range categories {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

func complexityFor(wordCount, frameworkCount int) string {
	switch {
	case wordCount > 4000 && frameworkCount >= 2:
		return "expert"
	case wordCount > 2000:
		return "high"
	case wordCount > 600:
		return "medium"
	default:
		return "low"
	}
}

// authorityFor is a coarse prior by source signals: attributed, dated
// material scores higher than anonymous inline text.
func authorityFor(extracted extract.Result) float64 {
	authority := 0.5
	if extracted.Author != "" {
		authority += 0.15
	}
	if !extracted.PublishedAt.IsZero() {
		authority += 0.1
	}
	return authority
}

// freshnessFor decays with the age of the published date. Undated content
// reports zero and lets the ranker apply its default.
func freshnessFor(publishedAt, now time.Time) float64 {
	if publishedAt.IsZero() {
		return 0
	}
	age := now.Sub(publishedAt)
	switch {
	case age < 30*24*time.Hour:
		return 1.0
	case age < 180*24*time.Hour:
		return 0.8
	case age < 365*24*time.Hour:
		return 0.6
	case age < 2*365*24*time.Hour:
		return 0.4
	default:
		return 0.2
	}
}

func sourceLocator(req Request) string {
	if req.SourceType == "text" {
		return "inline"
	}
	return req.Source
}

func jsonArray(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}
