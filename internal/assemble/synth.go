package assemble

import (
	"fmt"
	"strings"

	"github.com/quantive/sage/internal/query"
)

const (
	maxInsights    = 5
	maxEvidence    = 6
	excerptWords   = 60
	claimSentences = 1
)

// synthesize builds the textual response fields from the surviving sources.
func (e *Engine) synthesize(qctx query.Context, sources []source, conflicts []Conflict, structure string) Response {
	kept := keptSources(sources)

	resp := Response{
		Structure: structure,
		Conflicts: conflicts,
		Summary:   buildSummary(qctx, kept),
	}

	resp.Explanation = buildExplanation(structure, kept)
	resp.FrameworkIntegrations = buildFrameworkIntegrations(qctx, kept)
	resp.Insights = buildInsights(qctx, kept)
	resp.Evidence = buildEvidence(kept)
	resp.Limitations = buildLimitations(qctx, kept)
	return resp
}

func keptSources(sources []source) []source {
	kept := make([]source, 0, len(sources))
	for _, s := range sources {
		if !s.Excluded {
			kept = append(kept, s)
		}
	}
	return kept
}

func buildSummary(qctx query.Context, kept []source) string {
	if len(kept) == 0 {
		return "All retrieved sources were excluded during conflict resolution."
	}
	top := kept[0]
	summary := fmt.Sprintf("Based on %d source(s), primarily %q (%s)",
		len(kept), top.Title, top.Scores.Tier)
	if qctx.Industry != "" {
		summary += ", in a " + qctx.Industry + " context"
	}
	return summary + "."
}

// buildExplanation concatenates source excerpts, ordered and framed by the
// chosen structure.
func buildExplanation(structure string, kept []source) string {
	if len(kept) == 0 {
		return "No usable source content survived conflict resolution."
	}

	var sb strings.Builder
	switch structure {
	case StructureProblemSolution:
		sb.WriteString("Likely cause and remedy, from the strongest sources:\n")
	case StructureActionOriented:
		sb.WriteString("What to do, in order of expected impact:\n")
	case StructureFramework:
		sb.WriteString("How the relevant frameworks frame this question:\n")
	default:
		sb.WriteString("Background from the knowledge base:\n")
	}
	for i, s := range kept {
		sb.WriteString(fmt.Sprintf("\n%d. %s: %s", i+1, s.Title, excerpt(s.Text, excerptWords)))
	}
	return sb.String()
}

func buildFrameworkIntegrations(qctx query.Context, kept []source) []FrameworkIntegration {
	seen := map[string]bool{}
	var out []FrameworkIntegration
	for _, s := range kept {
		for _, fw := range s.Frameworks {
			key := strings.ToLower(fw)
			if seen[key] {
				continue
			}
			// Frameworks named in the query come first in relevance; others
			// are included only when the source strongly matched.
			if !containsFold(qctx.Frameworks, fw) && s.Scores.Combined < 0.55 {
				continue
			}
			seen[key] = true
			out = append(out, FrameworkIntegration{
				Framework: fw,
				Guidance:  firstSentences(s.Text, 2),
				SourceID:  s.SourceID,
			})
		}
	}
	return out
}

// buildInsights derives one actionable insight per strong source. Priority
// and timeframe come from the source's immediacy value, impact from its
// strategic value.
func buildInsights(qctx query.Context, kept []source) []Insight {
	var out []Insight
	for _, s := range kept {
		if len(out) >= maxInsights {
			break
		}
		insight := Insight{
			Action:     firstSentences(s.Text, claimSentences),
			Complexity: complexityOrDefault(s.Complexity),
			Priority:   priorityFor(s.Immediacy, qctx.Urgent()),
			Impact:     impactFor(s.Strategic),
			Timeframe:  timeframeFor(s.Immediacy),
		}
		if s.Complexity == "high" || s.Complexity == "expert" {
			insight.Prerequisites = append(insight.Prerequisites,
				"requires prior experience with "+strings.ToLower(s.Title))
		}
		if len(qctx.Metrics) > 0 {
			insight.SuccessMetrics = qctx.Metrics
		}
		out = append(out, insight)
	}
	return out
}

func buildEvidence(kept []source) []Evidence {
	var out []Evidence
	for _, s := range kept {
		if len(out) >= maxEvidence {
			break
		}
		out = append(out, Evidence{
			Claim:     firstSentences(s.Text, claimSentences),
			SourceID:  s.SourceID,
			Citation:  citation(s),
			Authority: s.Scores.Authority,
		})
	}
	return out
}

func buildLimitations(qctx query.Context, kept []source) []string {
	var out []string
	if len(kept) == 1 {
		out = append(out, "response rests on a single source")
	}
	if qctx.Industry != "" && !anySourceMatches(kept, qctx.Industry) {
		out = append(out, fmt.Sprintf("no source is specific to the %s industry", qctx.Industry))
	}
	for _, fw := range qctx.Frameworks {
		if !anySourceFramework(kept, fw) {
			out = append(out, fmt.Sprintf("no source covers the %s framework you mentioned", fw))
		}
	}
	return out
}

// buildRoadmap partitions insights by timeframe and derives milestones and
// risks from the insights and any unresolved disagreement.
func buildRoadmap(insights []Insight, conflicts []Conflict, qctx query.Context) Roadmap {
	var rm Roadmap
	for _, in := range insights {
		switch in.Timeframe {
		case "immediate":
			rm.Immediate = append(rm.Immediate, in.Action)
		case "short-term":
			rm.ShortTerm = append(rm.ShortTerm, in.Action)
		default:
			rm.LongTerm = append(rm.LongTerm, in.Action)
		}
	}

	for _, m := range qctx.Metrics {
		rm.Milestones = append(rm.Milestones, "measurable movement in "+m)
	}
	if len(rm.Milestones) == 0 && len(insights) > 0 {
		rm.Milestones = append(rm.Milestones, "first recommended action completed and reviewed")
	}

	for _, c := range conflicts {
		if c.Resolution == ResolveContextual || c.Resolution == ResolveConditional {
			rm.Risks = append(rm.Risks, fmt.Sprintf("sources disagree on %s; validate before committing", c.Topic))
		}
	}
	if qctx.Urgent() {
		for _, in := range insights {
			if in.Complexity == "high" || in.Complexity == "expert" {
				rm.Risks = append(rm.Risks, "urgent timeline conflicts with the complexity of the recommended work")
				break
			}
		}
	}
	return rm
}

func priorityFor(immediacy float64, urgent bool) string {
	switch {
	case urgent && immediacy >= 0.5:
		return "critical"
	case immediacy >= 0.7:
		return "high"
	case immediacy >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

func impactFor(strategic float64) string {
	switch {
	case strategic >= 0.7:
		return "high"
	case strategic >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

func timeframeFor(immediacy float64) string {
	switch {
	case immediacy >= 0.7:
		return "immediate"
	case immediacy >= 0.5:
		return "short-term"
	default:
		return "long-term"
	}
}

func complexityOrDefault(c string) string {
	if c == "" {
		return "medium"
	}
	return c
}

func citation(s source) string {
	if s.Title != "" {
		return fmt.Sprintf("%s (%s)", s.Title, s.SourceType)
	}
	return s.SourceID
}

func anySourceMatches(kept []source, industry string) bool {
	for _, s := range kept {
		if containsFold(s.Industries, industry) {
			return true
		}
	}
	return false
}

func anySourceFramework(kept []source, fw string) bool {
	for _, s := range kept {
		if containsFold(s.Frameworks, fw) {
			return true
		}
	}
	return false
}

// excerpt returns at most n words of text.
func excerpt(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "…"
}

// firstSentences returns the first n sentences, falling back to a word
// excerpt for text without sentence punctuation.
func firstSentences(text string, n int) string {
	text = strings.TrimSpace(text)
	count := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			count++
			if count == n {
				return strings.TrimSpace(text[:i+1])
			}
		}
	}
	return excerpt(text, excerptWords)
}
