package config

import (
	_ "embed"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed vocab.yaml
var defaultVocabYAML []byte

// Vocabulary holds the keyword, phrase, and weight tables that drive
// heuristic scoring across ingestion, query analysis, and ranking.
// The tables are data, not logic: they can be tuned and swapped without
// touching any scoring code.
type Vocabulary struct {
	BusinessKeywords []string            `yaml:"business_keywords"`
	ConceptPhrases   []string            `yaml:"concept_phrases"`
	Intents          []IntentVocab       `yaml:"intents"`
	Industries       map[string][]string `yaml:"industries"`
	Stages           map[string][]string `yaml:"stages"`
	Functions        map[string][]string `yaml:"functions"`
	Metrics          []string            `yaml:"metrics"`
	Frameworks       []string            `yaml:"frameworks"`
	Urgency          []string            `yaml:"urgency"`
	Readiness        ReadinessVocab      `yaml:"readiness"`
	Weights          map[string]Weights  `yaml:"weights"`
}

// IntentVocab is one intent with its trigger phrases. Order in the slice is
// the tie-break order for classification.
type IntentVocab struct {
	Name     string   `yaml:"name"`
	Triggers []string `yaml:"triggers"`
}

type ReadinessVocab struct {
	High   []string `yaml:"high"`
	Medium []string `yaml:"medium"`
	Low    []string `yaml:"low"`
}

// Weights is a per-intent weight vector over the five ranking sub-scores.
type Weights struct {
	BusinessRelevance float64 `yaml:"business_relevance"`
	ContextFit        float64 `yaml:"context_fit"`
	ImplementationFit float64 `yaml:"implementation_fit"`
	Authority         float64 `yaml:"authority"`
	Freshness         float64 `yaml:"freshness"`
}

// LoadVocabulary returns the scoring tables. If path is empty the embedded
// defaults are used; otherwise the YAML file at path replaces them entirely.
func LoadVocabulary(path string) (*Vocabulary, error) {
	raw := defaultVocabYAML
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading vocabulary file: %w", err)
		}
		raw = data
	}

	var v Vocabulary
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parsing vocabulary: %w", err)
	}
	if err := v.validate(); err != nil {
		return nil, err
	}
	return &v, nil
}

func (v *Vocabulary) validate() error {
	if len(v.Intents) == 0 {
		return fmt.Errorf("vocabulary defines no intents")
	}
	if _, ok := v.Weights["default"]; !ok {
		return fmt.Errorf("vocabulary defines no default weight profile")
	}
	for name, w := range v.Weights {
		sum := w.BusinessRelevance + w.ContextFit + w.ImplementationFit + w.Authority + w.Freshness
		if math.Abs(sum-1.0) > 1e-6 {
			return fmt.Errorf("weight profile %q sums to %.4f, want 1", name, sum)
		}
	}
	return nil
}

// WeightsFor returns the weight profile for an intent, falling back to the
// default profile for intents without an explicit entry.
func (v *Vocabulary) WeightsFor(intent string) Weights {
	if w, ok := v.Weights[intent]; ok {
		return w
	}
	return v.Weights["default"]
}
