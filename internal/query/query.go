// Package query turns a free-text question into a structured business
// context: intent, inferred industry, business stage, functional area,
// referenced metrics, detected frameworks, urgency signals, and an
// implementation readiness score. Analysis is a pure function of the query
// text, the caller-supplied known context, and the vocabulary tables.
package query

import (
	"sort"
	"strings"

	"github.com/quantive/sage/internal/config"
)

// Context is the structured interpretation of one query. It lives for a
// single request and is never persisted.
type Context struct {
	Intent         string   `json:"intent"`
	Industry       string   `json:"industry,omitempty"`
	Stage          string   `json:"stage,omitempty"`
	Function       string   `json:"function,omitempty"`
	Metrics        []string `json:"metrics,omitempty"`
	Frameworks     []string `json:"frameworks,omitempty"`
	UrgencySignals []string `json:"urgency_signals,omitempty"`
	Readiness      float64  `json:"readiness"`
}

// Urgent reports whether any urgency phrase matched.
func (c Context) Urgent() bool { return len(c.UrgencySignals) > 0 }

// Known carries caller-supplied context that overrides inference entirely.
type Known struct {
	Industry string
	Stage    string
	Function string
}

const (
	readinessHigh    = 0.9
	readinessMedium  = 0.6
	readinessLow     = 0.3
	readinessDefault = 0.5
)

// Analyzer classifies queries against a vocabulary.
type Analyzer struct {
	vocab *config.Vocabulary
}

func NewAnalyzer(vocab *config.Vocabulary) *Analyzer {
	return &Analyzer{vocab: vocab}
}

// Analyze builds the query context. Classification counts trigger phrase
// matches in the lower-cased query; the candidate with the most matches
// wins, and with zero matches everything stays at its default.
func (a *Analyzer) Analyze(text string, known Known) Context {
	lower := strings.ToLower(text)

	ctx := Context{
		Intent:         a.classifyIntent(lower),
		Industry:       known.Industry,
		Stage:          known.Stage,
		Function:       known.Function,
		Metrics:        matchPhrases(lower, a.vocab.Metrics),
		Frameworks:     matchPhrases(lower, a.vocab.Frameworks),
		UrgencySignals: matchPhrases(lower, a.vocab.Urgency),
		Readiness:      a.scoreReadiness(lower),
	}
	if ctx.Industry == "" {
		ctx.Industry = bestCategory(lower, a.vocab.Industries)
	}
	if ctx.Stage == "" {
		ctx.Stage = bestCategory(lower, a.vocab.Stages)
	}
	if ctx.Function == "" {
		ctx.Function = bestCategory(lower, a.vocab.Functions)
	}
	return ctx
}

// classifyIntent picks the intent with the most trigger matches. Ties go to
// the earlier entry in the vocabulary's intent list; no match at all falls
// back to the first intent.
func (a *Analyzer) classifyIntent(lower string) string {
	best := a.vocab.Intents[0].Name
	bestCount := 0
	for _, intent := range a.vocab.Intents {
		count := 0
		for _, trigger := range intent.Triggers {
			if strings.Contains(lower, trigger) {
				count++
			}
		}
		if count > bestCount {
			best = intent.Name
			bestCount = count
		}
	}
	return best
}

func (a *Analyzer) scoreReadiness(lower string) float64 {
	switch {
	case containsAny(lower, a.vocab.Readiness.High):
		return readinessHigh
	case containsAny(lower, a.vocab.Readiness.Medium):
		return readinessMedium
	case containsAny(lower, a.vocab.Readiness.Low):
		return readinessLow
	default:
		return readinessDefault
	}
}

// bestCategory returns the category whose keyword list matched the most
// times, empty when nothing matched. Ties are broken by category name so
// classification stays deterministic across map iteration order.
func bestCategory(lower string, categories map[string][]string) string {
	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Strings(names)

	best := ""
	bestCount := 0
	for _, name := range names {
		count := 0
		for _, kw := range categories[name] {
			if strings.Contains(lower, kw) {
				count++
			}
		}
		if count > bestCount {
			best = name
			bestCount = count
		}
	}
	return best
}

func matchPhrases(lower string, phrases []string) []string {
	var matched []string
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			matched = append(matched, p)
		}
	}
	return matched
}

func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
