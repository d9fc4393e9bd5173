// Package rank orders retrieval candidates for a query context. Each
// candidate gets five sub-scores (business relevance, context fit,
// implementation fit, authority, freshness); the combined score is a
// weighted sum with per-intent weight vectors from the vocabulary.
package rank

import (
	"sort"
	"strings"

	"github.com/quantive/sage/internal/config"
	"github.com/quantive/sage/internal/query"
)

// Result is one retrieval candidate with the metadata ranking reads.
// Authority and Freshness are in [0,1]; zero means the source declared
// nothing and the default applies.
type Result struct {
	ID         string
	SourceID   string
	SourceType string
	Title      string
	Text       string
	Similarity float64
	Industries []string
	Stages     []string
	Functions  []string
	Frameworks []string
	Complexity string
	Authority  float64
	Freshness  float64
}

// Scores holds the five sub-scores and their weighted combination. The
// sub-scores are independent; Combined is the only ordering key.
type Scores struct {
	BusinessRelevance float64 `json:"business_relevance"`
	ContextFit        float64 `json:"context_fit"`
	ImplementationFit float64 `json:"implementation_fit"`
	Authority         float64 `json:"authority"`
	Freshness         float64 `json:"freshness"`
	Combined          float64 `json:"combined"`
	Tier              string  `json:"tier"`
}

// Ranked is a scored candidate.
type Ranked struct {
	Result
	Scores Scores
}

// UserProfile carries per-user ranking signals. Readiness overrides the
// query-derived readiness when set; PreferredTopics boost context fit.
type UserProfile struct {
	Readiness       float64
	PreferredTopics []string
}

const defaultSignal = 0.5

// complexityValues maps declared content complexity onto the readiness
// scale used by implementation fit.
var complexityValues = map[string]float64{
	"low":    0.25,
	"medium": 0.5,
	"high":   0.75,
	"expert": 1.0,
}

// intentComplexity is the complexity band each intent is best served by.
var intentComplexity = map[string][]string{
	"learning":        {"low", "medium"},
	"implementation":  {"medium", "high"},
	"troubleshooting": {"low", "medium"},
	"benchmarking":    {"low", "medium", "high"},
	"validation":      {"low", "medium"},
	"optimization":    {"medium", "high"},
	"research":        {"high", "expert"},
	"planning":        {"medium", "high"},
}

// Ranker scores and orders candidates.
type Ranker struct {
	vocab *config.Vocabulary
}

func NewRanker(vocab *config.Vocabulary) *Ranker {
	return &Ranker{vocab: vocab}
}

// Rank returns the candidates ordered by descending combined score. The
// sort is stable, so candidates with equal scores keep their input order.
func (r *Ranker) Rank(results []Result, qctx query.Context, profile *UserProfile) []Ranked {
	weights := r.vocab.WeightsFor(qctx.Intent)

	ranked := make([]Ranked, len(results))
	for i, res := range results {
		ranked[i] = Ranked{Result: res, Scores: r.score(res, qctx, profile, weights)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Scores.Combined > ranked[j].Scores.Combined
	})
	return ranked
}

func (r *Ranker) score(res Result, qctx query.Context, profile *UserProfile, w config.Weights) Scores {
	s := Scores{
		BusinessRelevance: scoreBusinessRelevance(res, qctx),
		ContextFit:        scoreContextFit(res, qctx, profile),
		ImplementationFit: scoreImplementationFit(res, qctx, profile),
		Authority:         orDefault(res.Authority),
		Freshness:         orDefault(res.Freshness),
	}
	s.Combined = w.BusinessRelevance*s.BusinessRelevance +
		w.ContextFit*s.ContextFit +
		w.ImplementationFit*s.ImplementationFit +
		w.Authority*s.Authority +
		w.Freshness*s.Freshness
	s.Tier = tierFor(s.Combined)
	return s
}

// scoreBusinessRelevance starts at 0.5 and accrues fixed increments for
// each dimension where the candidate's metadata overlaps the query context.
func scoreBusinessRelevance(res Result, qctx query.Context) float64 {
	score := defaultSignal
	if qctx.Industry != "" && containsFold(res.Industries, qctx.Industry) {
		score += 0.2
	}
	if qctx.Stage != "" && containsFold(res.Stages, qctx.Stage) {
		score += 0.15
	}
	if qctx.Function != "" && containsFold(res.Functions, qctx.Function) {
		score += 0.1
	}
	if overlaps(res.Frameworks, qctx.Frameworks) {
		score += 0.15
	}
	return clamp01(score)
}

// scoreContextFit starts at 0.5 and accrues increments for the intent's
// preferred complexity band, urgency alignment, and user topic preferences.
func scoreContextFit(res Result, qctx query.Context, profile *UserProfile) float64 {
	score := defaultSignal
	if band, ok := intentComplexity[qctx.Intent]; ok && containsFold(band, res.Complexity) {
		score += 0.2
	}
	// Urgent queries favor material that can be applied immediately.
	if qctx.Urgent() && (res.Complexity == "low" || res.Complexity == "medium") {
		score += 0.15
	}
	if profile != nil && profileOverlap(res, profile.PreferredTopics) {
		score += 0.15
	}
	return clamp01(score)
}

// scoreImplementationFit is highest when the content's complexity matches
// the asker's readiness.
func scoreImplementationFit(res Result, qctx query.Context, profile *UserProfile) float64 {
	readiness := qctx.Readiness
	if profile != nil && profile.Readiness > 0 {
		readiness = profile.Readiness
	}
	complexity, ok := complexityValues[res.Complexity]
	if !ok {
		complexity = defaultSignal
	}
	diff := readiness - complexity
	if diff < 0 {
		diff = -diff
	}
	return 1 - diff
}

func profileOverlap(res Result, topics []string) bool {
	for _, topic := range topics {
		if containsFold(res.Frameworks, topic) ||
			containsFold(res.Industries, topic) ||
			containsFold(res.Functions, topic) {
			return true
		}
	}
	return false
}

// tierFor labels the combined score for display. The label explains the
// ranking; it never feeds back into it.
func tierFor(score float64) string {
	switch {
	case score >= 0.85:
		return "excellent match"
	case score >= 0.70:
		return "very good match"
	case score >= 0.55:
		return "good match"
	case score >= 0.40:
		return "moderate match"
	default:
		return "basic match"
	}
}

func orDefault(v float64) float64 {
	if v <= 0 {
		return defaultSignal
	}
	return v
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

func overlaps(a, b []string) bool {
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
