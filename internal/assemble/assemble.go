// Package assemble turns ranked retrieval results into a structured
// business answer: summary, explanation, actionable insights, evidence,
// an implementation roadmap, and independent quality and confidence
// assessments. Assembly never fails; an empty result set produces a
// minimal response that names the gap.
package assemble

import (
	"fmt"
	"strings"

	"github.com/quantive/sage/internal/query"
	"github.com/quantive/sage/internal/rank"
)

// defaultStrategyByIntent maps each query intent to the content structure
// that serves it best.
var defaultStrategyByIntent = map[string]string{
	"learning":        StructureEducational,
	"research":        StructureEducational,
	"implementation":  StructureActionOriented,
	"optimization":    StructureActionOriented,
	"troubleshooting": StructureProblemSolution,
	"validation":      StructureProblemSolution,
	"benchmarking":    StructureFramework,
	"planning":        StructureFramework,
}

// Config tunes the assembly engine. Zero values select the defaults.
type Config struct {
	GapPolicy        GapPolicy
	StrategyByIntent map[string]string
	MaxSources       int
}

// Engine assembles responses. It is stateless and safe for concurrent use.
type Engine struct {
	gapPolicy  GapPolicy
	strategies map[string]string
	maxSources int
}

func NewEngine(cfg Config) *Engine {
	if cfg.GapPolicy == "" {
		cfg.GapPolicy = GapAcknowledge
	}
	if cfg.StrategyByIntent == nil {
		cfg.StrategyByIntent = defaultStrategyByIntent
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = 8
	}
	return &Engine{
		gapPolicy:  cfg.GapPolicy,
		strategies: cfg.StrategyByIntent,
		maxSources: cfg.MaxSources,
	}
}

// source is a ranked result with its assembly-time value scores.
type source struct {
	rank.Ranked
	Immediacy float64
	Strategic float64
	LongTerm  float64
	Excluded  bool
}

// Assemble runs the full pipeline: prepare sources, resolve conflicts,
// choose a structure, synthesize the response fields, build the roadmap,
// then score quality and confidence.
func (e *Engine) Assemble(qctx query.Context, results []rank.Ranked) Response {
	if len(results) == 0 {
		return e.emptyResponse(qctx)
	}
	if len(results) > e.maxSources {
		results = results[:e.maxSources]
	}

	sources := prepareSources(qctx, results)
	conflicts := resolveConflicts(sources)
	structure := e.structureFor(qctx.Intent)

	resp := e.synthesize(qctx, sources, conflicts, structure)
	resp.Roadmap = buildRoadmap(resp.Insights, conflicts, qctx)
	resp.Quality = scoreQuality(qctx, sources, conflicts, resp)
	resp.Confidence = assessConfidence(qctx, sources, conflicts)
	return resp
}

func (e *Engine) structureFor(intent string) string {
	if s, ok := e.strategies[intent]; ok {
		return s
	}
	return StructureEducational
}

// prepareSources scores each candidate's immediacy, strategic, and
// long-term value against the query context.
func prepareSources(qctx query.Context, results []rank.Ranked) []source {
	sources := make([]source, len(results))
	for i, r := range results {
		sources[i] = source{
			Ranked:    r,
			Immediacy: immediacyValue(qctx, r),
			Strategic: strategicValue(qctx, r),
			LongTerm:  longTermValue(r),
		}
	}
	return sources
}

// immediacyValue is high for material the asker can apply right away.
func immediacyValue(qctx query.Context, r rank.Ranked) float64 {
	v := 0.4
	switch r.Complexity {
	case "low":
		v += 0.3
	case "medium":
		v += 0.15
	}
	if qctx.Urgent() {
		v += 0.15
	}
	v += 0.15 * r.Scores.ImplementationFit
	return clamp01(v)
}

// strategicValue is high for material aligned with the asker's business
// context and frameworks.
func strategicValue(qctx query.Context, r rank.Ranked) float64 {
	v := 0.3
	v += 0.4 * r.Scores.BusinessRelevance
	if overlapFold(r.Frameworks, qctx.Frameworks) {
		v += 0.15
	}
	if qctx.Stage != "" && containsFold(r.Stages, qctx.Stage) {
		v += 0.15
	}
	return clamp01(v)
}

// longTermValue tracks durability: authoritative material holds its value,
// fresh-but-shallow material does not.
func longTermValue(r rank.Ranked) float64 {
	v := 0.2 + 0.6*r.Scores.Authority
	if r.Complexity == "high" || r.Complexity == "expert" {
		v += 0.2
	}
	return clamp01(v)
}

// emptyResponse is the no-sources path. The gap policy shapes the summary
// and limitations; the response is always well formed.
func (e *Engine) emptyResponse(qctx query.Context) Response {
	var summary string
	limitations := []string{"no knowledge sources matched this query"}

	switch e.gapPolicy {
	case GapSeekSources:
		summary = "No matching knowledge found. Ingest sources covering this topic and ask again."
		limitations = append(limitations, "consider ingesting material about: "+describeTopic(qctx))
	case GapInfer:
		summary = fmt.Sprintf("No matching knowledge found; the following is general %s guidance without source backing.", describeTopic(qctx))
		limitations = append(limitations, "response is inferred, not grounded in ingested sources")
	default:
		summary = "No matching knowledge found for this query."
	}

	return Response{
		Summary:     summary,
		Structure:   e.structureFor(qctx.Intent),
		Explanation: "The knowledge base holds no content relevant to this question.",
		Limitations: limitations,
		Quality:     QualityMetrics{},
		Confidence: ConfidenceAssessment{
			UncertaintyAreas: []string{"entire response: no supporting sources"},
		},
	}
}

func describeTopic(qctx query.Context) string {
	parts := []string{qctx.Intent}
	if qctx.Industry != "" {
		parts = append(parts, qctx.Industry)
	}
	if qctx.Function != "" {
		parts = append(parts, qctx.Function)
	}
	return strings.Join(parts, " / ")
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

func overlapFold(a, b []string) bool {
	for _, v := range b {
		if containsFold(a, v) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
