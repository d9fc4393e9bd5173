package chunker

import (
	"regexp"
	"strings"
)

const (
	maxConceptsPerChunk = 5
	maxEntitiesPerChunk = 8
)

var (
	properNounPair = regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+)+\b`)
	currencyAmount = regexp.MustCompile(`[$€£]\s?\d[\d,.]*(?:\s?[kKmMbB](?:illion)?)?`)
	percentage     = regexp.MustCompile(`\b\d+(?:\.\d+)?%`)
)

// extractConcepts returns business concepts mentioned in the text, matched
// against the vocabulary phrase table, deduplicated and capped.
func (c *Chunker) extractConcepts(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, phrase := range c.vocab.ConceptPhrases {
		if strings.Contains(lower, phrase) {
			out = append(out, phrase)
			if len(out) == maxConceptsPerChunk {
				break
			}
		}
	}
	return out
}

// extractEntities pulls named entities via fixed patterns: proper-noun
// sequences, currency amounts, and percentages.
func extractEntities(text string) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(matches []string) {
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
			if len(out) == maxEntitiesPerChunk {
				return
			}
		}
	}

	add(properNounPair.FindAllString(text, -1))
	if len(out) < maxEntitiesPerChunk {
		add(currencyAmount.FindAllString(text, -1))
	}
	if len(out) < maxEntitiesPerChunk {
		add(percentage.FindAllString(text, -1))
	}
	return out
}

// DetectFrameworks returns the named business frameworks mentioned in text,
// in vocabulary order.
func (c *Chunker) DetectFrameworks(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, fw := range c.vocab.Frameworks {
		if strings.Contains(lower, fw) {
			out = append(out, fw)
		}
	}
	return out
}

// ScoreDocument applies the chunk heuristics to a whole document and returns
// its quality and business-relevance scores, both in [0,1].
func (c *Chunker) ScoreDocument(text string) (quality, relevance float64) {
	words := strings.Fields(text)
	quality = c.scoreImportance(text, len(words))

	lower := strings.ToLower(text)
	relevance = 0.3
	kwBonus := 0.0
	for _, kw := range c.vocab.BusinessKeywords {
		if strings.Contains(lower, kw) {
			kwBonus += 0.1
		}
	}
	if kwBonus > 0.4 {
		kwBonus = 0.4
	}
	relevance += kwBonus

	phraseBonus := 0.0
	for _, phrase := range c.vocab.ConceptPhrases {
		if strings.Contains(lower, phrase) {
			phraseBonus += 0.1
		}
	}
	if phraseBonus > 0.3 {
		phraseBonus = 0.3
	}
	relevance += phraseBonus

	return clamp01(quality), clamp01(relevance)
}
