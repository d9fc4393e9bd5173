// Package answer runs the query-side pipeline: analyze the question,
// retrieve candidate chunks, rank them for the asker's context, and
// assemble the structured response. Prose rendering through a language
// model is optional and degrades gracefully.
package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantive/sage/internal/assemble"
	"github.com/quantive/sage/internal/query"
	"github.com/quantive/sage/internal/rank"
	"github.com/quantive/sage/internal/retrieval"
)

// Retriever finds candidate chunks for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts retrieval.SearchOptions) ([]retrieval.ScoredRecord, error)
}

// Renderer turns a structured response into prose.
type Renderer interface {
	Render(ctx context.Context, qctx query.Context, resp assemble.Response) (string, error)
}

// AskOptions tunes one question.
type AskOptions struct {
	MaxResults int
	// Threshold overrides the service's similarity floor when set. An
	// explicit zero disables the floor entirely.
	Threshold   *float32
	SourceTypes []string
	Frameworks  []string
	RenderProse bool
	Known       query.Known
	Profile     *rank.UserProfile
}

// Timings records per-phase latency for one question.
type Timings struct {
	AnalyzeMs  int64 `json:"analyze_ms"`
	RetrieveMs int64 `json:"retrieve_ms"`
	RankMs     int64 `json:"rank_ms"`
	AssembleMs int64 `json:"assemble_ms"`
	RenderMs   int64 `json:"render_ms,omitempty"`
	TotalMs    int64 `json:"total_ms"`
}

// Answer is the full result of one question.
type Answer struct {
	Query    string            `json:"query"`
	Context  query.Context     `json:"context"`
	Results  []rank.Ranked     `json:"results,omitempty"`
	Response assemble.Response `json:"response"`
	Prose    string            `json:"prose,omitempty"`
	Timings  Timings           `json:"timings"`
}

// Service wires the query-side components together.
type Service struct {
	analyzer  *query.Analyzer
	retriever Retriever
	ranker    *rank.Ranker
	engine    *assemble.Engine
	renderer  Renderer
	topK      int
	threshold float32
	logger    *slog.Logger
}

// ServiceConfig wires a Service. Renderer may be nil; prose requests are
// then ignored.
type ServiceConfig struct {
	Analyzer  *query.Analyzer
	Retriever Retriever
	Ranker    *rank.Ranker
	Engine    *assemble.Engine
	Renderer  Renderer
	TopK      int
	Threshold float32
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	return &Service{
		analyzer:  cfg.Analyzer,
		retriever: cfg.Retriever,
		ranker:    cfg.Ranker,
		engine:    cfg.Engine,
		renderer:  cfg.Renderer,
		topK:      cfg.TopK,
		threshold: cfg.Threshold,
		logger:    slog.Default(),
	}
}

// Ask answers one question. Retrieval errors abort the call; an empty
// candidate set does not, the assembled response names the gap instead.
func (s *Service) Ask(ctx context.Context, question string, opts AskOptions) (Answer, error) {
	total := time.Now()
	ans := Answer{Query: question}

	phase := time.Now()
	ans.Context = s.analyzer.Analyze(question, opts.Known)
	ans.Timings.AnalyzeMs = time.Since(phase).Milliseconds()

	topK := opts.MaxResults
	if topK <= 0 {
		topK = s.topK
	}
	threshold := s.threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	phase = time.Now()
	records, err := s.retriever.Retrieve(ctx, question, retrieval.SearchOptions{
		TopK:        topK,
		Threshold:   threshold,
		SourceTypes: opts.SourceTypes,
		Frameworks:  opts.Frameworks,
	})
	ans.Timings.RetrieveMs = time.Since(phase).Milliseconds()
	if err != nil {
		return ans, fmt.Errorf("retrieving candidates: %w", err)
	}

	phase = time.Now()
	ans.Results = s.ranker.Rank(toRankResults(records), ans.Context, opts.Profile)
	ans.Timings.RankMs = time.Since(phase).Milliseconds()

	phase = time.Now()
	ans.Response = s.engine.Assemble(ans.Context, ans.Results)
	ans.Timings.AssembleMs = time.Since(phase).Milliseconds()

	if opts.RenderProse && s.renderer != nil {
		phase = time.Now()
		prose, err := s.renderer.Render(ctx, ans.Context, ans.Response)
		ans.Timings.RenderMs = time.Since(phase).Milliseconds()
		if err != nil {
			// The structured response stands on its own; prose is a bonus.
			s.logger.Warn("prose rendering failed", "error", err)
		} else {
			ans.Prose = prose
		}
	}

	ans.Timings.TotalMs = time.Since(total).Milliseconds()
	s.logger.Debug("question answered",
		"intent", ans.Context.Intent,
		"candidates", len(ans.Results),
		"total_ms", ans.Timings.TotalMs,
	)
	return ans, nil
}

// toRankResults converts raw retrieval hits into ranking candidates,
// decoding the per-record metadata blob.
func toRankResults(records []retrieval.ScoredRecord) []rank.Result {
	out := make([]rank.Result, len(records))
	for i, rec := range records {
		meta := retrieval.DecodeMeta(rec.Metadata)
		out[i] = rank.Result{
			ID:         rec.ID,
			SourceID:   rec.SourceID,
			SourceType: rec.SourceType,
			Title:      meta.Title,
			Text:       rec.TextChunk,
			Similarity: float64(rec.Score),
			Industries: meta.Industries,
			Stages:     meta.Stages,
			Functions:  meta.Functions,
			Frameworks: decodeStrings(rec.Frameworks),
			Complexity: meta.Complexity,
			Authority:  meta.Authority,
			Freshness:  meta.Freshness,
		}
	}
	return out
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
