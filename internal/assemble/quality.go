package assemble

import (
	"fmt"

	"github.com/quantive/sage/internal/query"
)

// scoreQuality computes the quality metrics. Each metric is computed from
// the sources and query directly, not from the other metrics, so they can
// legitimately disagree.
func scoreQuality(qctx query.Context, sources []source, conflicts []Conflict, resp Response) QualityMetrics {
	kept := keptSources(sources)
	if len(kept) == 0 {
		return QualityMetrics{}
	}

	return QualityMetrics{
		Overall:           avgCombined(kept),
		SourceDiversity:   sourceDiversity(kept),
		Completeness:      completeness(qctx, kept),
		Consistency:       clamp01(1 - 0.2*float64(len(conflicts))),
		Actionability:     actionability(resp.Insights, kept),
		EvidenceStrength:  evidenceStrength(resp.Evidence),
		BusinessRelevance: avgBusinessRelevance(kept),
	}
}

// assessConfidence is computed separately from quality and never reads it.
func assessConfidence(qctx query.Context, sources []source, conflicts []Conflict) ConfidenceAssessment {
	kept := keptSources(sources)
	if len(kept) == 0 {
		return ConfidenceAssessment{
			UncertaintyAreas: []string{"entire response: all sources excluded"},
		}
	}

	c := ConfidenceAssessment{
		SourceReliability:         avgAuthority(kept),
		ConsensusLevel:            consensusLevel(kept, conflicts),
		ImplementationFeasibility: avgImplementationFit(kept),
	}

	for _, conflict := range conflicts {
		if conflict.Resolution != ResolvePrioritization {
			c.UncertaintyAreas = append(c.UncertaintyAreas,
				fmt.Sprintf("%s: sources disagree (%s)", conflict.Topic, conflict.Resolution))
		}
	}
	if qctx.Industry != "" && !anySourceMatches(kept, qctx.Industry) {
		c.UncertaintyAreas = append(c.UncertaintyAreas,
			"industry fit: no source is specific to "+qctx.Industry)
	}
	if len(kept) == 1 {
		c.UncertaintyAreas = append(c.UncertaintyAreas, "consensus: only one source available")
	}
	return c
}

func sourceDiversity(kept []source) float64 {
	types := map[string]bool{}
	ids := map[string]bool{}
	for _, s := range kept {
		types[s.SourceType] = true
		ids[s.SourceID] = true
	}
	n := len(ids)
	if n > 4 {
		n = 4
	}
	return clamp01(float64(len(types))/4 + float64(n)/8)
}

// completeness is the fraction of the query's stated dimensions that at
// least one source covers. A query with no stated dimensions is trivially
// covered by any non-empty source set.
func completeness(qctx query.Context, kept []source) float64 {
	total, covered := 0, 0

	check := func(match bool) {
		total++
		if match {
			covered++
		}
	}
	if qctx.Industry != "" {
		check(anySourceMatches(kept, qctx.Industry))
	}
	if qctx.Stage != "" {
		check(anySourceStage(kept, qctx.Stage))
	}
	if qctx.Function != "" {
		check(anySourceFunction(kept, qctx.Function))
	}
	for _, fw := range qctx.Frameworks {
		check(anySourceFramework(kept, fw))
	}

	if total == 0 {
		return 0.7
	}
	return float64(covered) / float64(total)
}

func actionability(insights []Insight, kept []source) float64 {
	if len(insights) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range kept {
		sum += s.Immediacy
	}
	return clamp01(sum / float64(len(kept)))
}

func evidenceStrength(evidence []Evidence) float64 {
	if len(evidence) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range evidence {
		sum += e.Authority
	}
	return sum / float64(len(evidence))
}

// consensusLevel is high when multiple sources agree. A single source
// cannot demonstrate consensus either way.
func consensusLevel(kept []source, conflicts []Conflict) float64 {
	if len(kept) < 2 {
		return 0.5
	}
	return clamp01(1 - 0.25*float64(len(conflicts)))
}

func avgCombined(kept []source) float64 {
	sum := 0.0
	for _, s := range kept {
		sum += s.Scores.Combined
	}
	return sum / float64(len(kept))
}

func avgAuthority(kept []source) float64 {
	sum := 0.0
	for _, s := range kept {
		sum += s.Scores.Authority
	}
	return sum / float64(len(kept))
}

func avgBusinessRelevance(kept []source) float64 {
	sum := 0.0
	for _, s := range kept {
		sum += s.Scores.BusinessRelevance
	}
	return sum / float64(len(kept))
}

func avgImplementationFit(kept []source) float64 {
	sum := 0.0
	for _, s := range kept {
		sum += s.Scores.ImplementationFit
	}
	return sum / float64(len(kept))
}

func anySourceStage(kept []source, stage string) bool {
	for _, s := range kept {
		if containsFold(s.Stages, stage) {
			return true
		}
	}
	return false
}

func anySourceFunction(kept []source, fn string) bool {
	for _, s := range kept {
		if containsFold(s.Functions, fn) {
			return true
		}
	}
	return false
}
