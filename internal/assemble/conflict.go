package assemble

import (
	"fmt"
	"strings"
)

// opposingCues are directive pairs that signal disagreement when two
// sources discuss the same topic.
var opposingCues = [][2]string{
	{"increase", "decrease"},
	{"raise", "lower"},
	{"adopt", "avoid"},
	{"expand", "cut"},
	{"should", "should not"},
	{"invest in", "hold off"},
}

// conditionalCues mark guidance that states its own applicability.
var conditionalCues = []string{"if ", "when ", "depends", "unless", "in case"}

// sequentialCues mark guidance that orders itself relative to other steps.
var sequentialCues = []string{"first", "then", "before", "after", "once you", "step "}

const authorityGap = 0.2

// resolveConflicts scans source pairs that share a topic for opposing
// guidance and picks a resolution per pair. Prioritization excludes the
// weaker source; the other strategies keep both.
func resolveConflicts(sources []source) []Conflict {
	var conflicts []Conflict
	for i := range sources {
		for j := i + 1; j < len(sources); j++ {
			a, b := &sources[i], &sources[j]
			if a.Excluded || b.Excluded {
				continue
			}
			topic := sharedTopic(a, b)
			if topic == "" {
				continue
			}
			if !opposingGuidance(a.Text, b.Text) {
				continue
			}
			conflicts = append(conflicts, resolve(topic, a, b))
		}
	}
	return conflicts
}

// sharedTopic returns the first framework or functional area both sources
// declare, empty when they do not overlap.
func sharedTopic(a, b *source) string {
	for _, f := range a.Frameworks {
		if containsFold(b.Frameworks, f) {
			return f
		}
	}
	for _, f := range a.Functions {
		if containsFold(b.Functions, f) {
			return f
		}
	}
	return ""
}

func opposingGuidance(textA, textB string) bool {
	la, lb := strings.ToLower(textA), strings.ToLower(textB)
	for _, pair := range opposingCues {
		if (strings.Contains(la, pair[0]) && strings.Contains(lb, pair[1])) ||
			(strings.Contains(la, pair[1]) && strings.Contains(lb, pair[0])) {
			return true
		}
	}
	return false
}

// resolve picks a strategy for one conflicting pair:
//   - a clear authority gap keeps only the stronger source
//   - self-conditioned guidance on both sides becomes conditional advice
//   - self-ordered guidance on both sides becomes sequential steps
//   - otherwise both are kept with a contextual note
func resolve(topic string, a, b *source) Conflict {
	authA, authB := a.Scores.Authority, b.Scores.Authority

	switch {
	case authA-authB >= authorityGap:
		b.Excluded = true
		return Conflict{
			Topic: topic, SourceA: a.SourceID, SourceB: b.SourceID,
			Resolution: ResolvePrioritization,
			Note:       fmt.Sprintf("kept %q (authority %.2f over %.2f)", a.Title, authA, authB),
		}
	case authB-authA >= authorityGap:
		a.Excluded = true
		return Conflict{
			Topic: topic, SourceA: a.SourceID, SourceB: b.SourceID,
			Resolution: ResolvePrioritization,
			Note:       fmt.Sprintf("kept %q (authority %.2f over %.2f)", b.Title, authB, authA),
		}
	case containsAnyCue(a.Text, conditionalCues) && containsAnyCue(b.Text, conditionalCues):
		return Conflict{
			Topic: topic, SourceA: a.SourceID, SourceB: b.SourceID,
			Resolution: ResolveConditional,
			Note:       "each source states the conditions under which it applies",
		}
	case containsAnyCue(a.Text, sequentialCues) && containsAnyCue(b.Text, sequentialCues):
		return Conflict{
			Topic: topic, SourceA: a.SourceID, SourceB: b.SourceID,
			Resolution: ResolveSequential,
			Note:       "the sources describe ordered steps, not competing advice",
		}
	default:
		// Comparable authority and no self-scoping: present both views.
		return Conflict{
			Topic: topic, SourceA: a.SourceID, SourceB: b.SourceID,
			Resolution: ResolveContextual,
			Note:       fmt.Sprintf("sources disagree on %s; both views included with context", topic),
		}
	}
}

func containsAnyCue(text string, cues []string) bool {
	lower := strings.ToLower(text)
	for _, c := range cues {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}
