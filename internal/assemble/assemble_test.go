package assemble

import (
	"strings"
	"testing"

	"github.com/quantive/sage/internal/query"
	"github.com/quantive/sage/internal/rank"
)

func ranked(id, title, text string, opts func(*rank.Ranked)) rank.Ranked {
	r := rank.Ranked{
		Result: rank.Result{
			ID:         id,
			SourceID:   id,
			SourceType: "text",
			Title:      title,
			Text:       text,
			Complexity: "medium",
		},
		Scores: rank.Scores{
			BusinessRelevance: 0.7,
			ContextFit:        0.7,
			ImplementationFit: 0.8,
			Authority:         0.7,
			Freshness:         0.5,
			Combined:          0.7,
			Tier:              "very good match",
		},
	}
	if opts != nil {
		opts(&r)
	}
	return r
}

func TestAssembleEmptyResults(t *testing.T) {
	e := NewEngine(Config{})
	resp := e.Assemble(query.Context{Intent: "learning"}, nil)

	if resp.Summary == "" || resp.Explanation == "" {
		t.Error("empty-result response must still carry summary and explanation")
	}
	if len(resp.Limitations) == 0 {
		t.Error("empty-result response must name the gap in limitations")
	}
	if len(resp.Confidence.UncertaintyAreas) == 0 {
		t.Error("empty-result response must flag uncertainty")
	}
	if resp.Quality.Overall != 0 {
		t.Errorf("Quality.Overall = %v, want 0 with no sources", resp.Quality.Overall)
	}
}

func TestAssembleGapPolicies(t *testing.T) {
	qctx := query.Context{Intent: "learning", Industry: "saas"}

	seek := NewEngine(Config{GapPolicy: GapSeekSources}).Assemble(qctx, nil)
	if !strings.Contains(strings.Join(seek.Limitations, " "), "ingesting") {
		t.Errorf("seek policy should suggest ingestion, got %v", seek.Limitations)
	}

	infer := NewEngine(Config{GapPolicy: GapInfer}).Assemble(qctx, nil)
	if !strings.Contains(strings.Join(infer.Limitations, " "), "inferred") {
		t.Errorf("infer policy should mark the response as inferred, got %v", infer.Limitations)
	}
}

func TestAssembleHappyPath(t *testing.T) {
	e := NewEngine(Config{})
	qctx := query.Context{
		Intent:   "implementation",
		Industry: "saas",
		Metrics:  []string{"churn rate"},
	}

	results := []rank.Ranked{
		ranked("s1", "Retention Playbook", "Start with exit surveys. Then segment churned accounts by plan.", func(r *rank.Ranked) {
			r.Industries = []string{"saas"}
		}),
		ranked("s2", "Churn Benchmarks", "Median monthly churn for SMB SaaS sits near three percent.", nil),
	}

	resp := e.Assemble(qctx, results)

	if resp.Structure != StructureActionOriented {
		t.Errorf("Structure = %q, want action-oriented for implementation", resp.Structure)
	}
	if !strings.Contains(resp.Summary, "2 source(s)") {
		t.Errorf("Summary = %q, want source count", resp.Summary)
	}
	if len(resp.Insights) != 2 {
		t.Fatalf("Insights = %d, want 2", len(resp.Insights))
	}
	if got := resp.Insights[0].SuccessMetrics; len(got) != 1 || got[0] != "churn rate" {
		t.Errorf("SuccessMetrics = %v, want query metrics", got)
	}
	if len(resp.Evidence) != 2 {
		t.Errorf("Evidence = %d, want 2", len(resp.Evidence))
	}
	if resp.Quality.Overall <= 0 || resp.Confidence.SourceReliability <= 0 {
		t.Errorf("quality and confidence should be scored: %+v %+v", resp.Quality, resp.Confidence)
	}
	total := len(resp.Roadmap.Immediate) + len(resp.Roadmap.ShortTerm) + len(resp.Roadmap.LongTerm)
	if total != 2 {
		t.Errorf("roadmap actions = %d, want one per insight", total)
	}
}

func TestConflictPrioritizationExcludesWeakerSource(t *testing.T) {
	e := NewEngine(Config{})
	qctx := query.Context{Intent: "optimization"}

	strong := ranked("strong", "Pricing Study", "You should increase prices for the enterprise tier.", func(r *rank.Ranked) {
		r.Frameworks = []string{"pricing strategy"}
		r.Scores.Authority = 0.9
	})
	weak := ranked("weak", "Forum Thread", "You should decrease prices to win volume.", func(r *rank.Ranked) {
		r.Frameworks = []string{"pricing strategy"}
		r.Scores.Authority = 0.4
	})

	resp := e.Assemble(qctx, []rank.Ranked{strong, weak})

	if len(resp.Conflicts) != 1 {
		t.Fatalf("Conflicts = %d, want 1", len(resp.Conflicts))
	}
	if resp.Conflicts[0].Resolution != ResolvePrioritization {
		t.Errorf("Resolution = %q, want prioritization", resp.Conflicts[0].Resolution)
	}
	for _, ev := range resp.Evidence {
		if ev.SourceID == "weak" {
			t.Error("excluded source must not appear as evidence")
		}
	}
}

func TestConflictEqualAuthorityKeepsBothWithContext(t *testing.T) {
	e := NewEngine(Config{})
	qctx := query.Context{Intent: "optimization"}

	a := ranked("a", "Study A", "Raise your ad budget for paid search.", func(r *rank.Ranked) {
		r.Frameworks = []string{"aarrr"}
		r.Scores.Authority = 0.7
	})
	b := ranked("b", "Study B", "Lower your ad budget and lean on organic.", func(r *rank.Ranked) {
		r.Frameworks = []string{"aarrr"}
		r.Scores.Authority = 0.7
	})

	resp := e.Assemble(qctx, []rank.Ranked{a, b})

	if len(resp.Conflicts) != 1 {
		t.Fatalf("Conflicts = %d, want 1", len(resp.Conflicts))
	}
	if resp.Conflicts[0].Resolution != ResolveContextual {
		t.Errorf("Resolution = %q, want contextualization on equal authority", resp.Conflicts[0].Resolution)
	}
	if len(resp.Evidence) != 2 {
		t.Errorf("Evidence = %d, want both sources kept", len(resp.Evidence))
	}
	if len(resp.Confidence.UncertaintyAreas) == 0 {
		t.Error("unresolved disagreement should surface as uncertainty")
	}
}

func TestConflictConditionalResolution(t *testing.T) {
	e := NewEngine(Config{})

	a := ranked("a", "Guide A", "If you sell annual plans, increase the discount.", func(r *rank.Ranked) {
		r.Frameworks = []string{"pricing strategy"}
		r.Scores.Authority = 0.6
	})
	b := ranked("b", "Guide B", "When churn is high, decrease the discount and fix onboarding.", func(r *rank.Ranked) {
		r.Frameworks = []string{"pricing strategy"}
		r.Scores.Authority = 0.6
	})

	resp := e.Assemble(query.Context{Intent: "optimization"}, []rank.Ranked{a, b})
	if len(resp.Conflicts) != 1 || resp.Conflicts[0].Resolution != ResolveConditional {
		t.Fatalf("Conflicts = %+v, want one conditional resolution", resp.Conflicts)
	}
}

func TestStructureSelection(t *testing.T) {
	e := NewEngine(Config{})
	tests := []struct {
		intent string
		want   string
	}{
		{"learning", StructureEducational},
		{"implementation", StructureActionOriented},
		{"troubleshooting", StructureProblemSolution},
		{"benchmarking", StructureFramework},
		{"never-heard-of-it", StructureEducational},
	}
	for _, tt := range tests {
		resp := e.Assemble(query.Context{Intent: tt.intent}, []rank.Ranked{ranked("s", "Doc", "Some text.", nil)})
		if resp.Structure != tt.want {
			t.Errorf("intent %q: Structure = %q, want %q", tt.intent, resp.Structure, tt.want)
		}
	}
}

func TestStructureOverride(t *testing.T) {
	e := NewEngine(Config{StrategyByIntent: map[string]string{"learning": StructureFramework}})
	resp := e.Assemble(query.Context{Intent: "learning"}, []rank.Ranked{ranked("s", "Doc", "Text.", nil)})
	if resp.Structure != StructureFramework {
		t.Errorf("Structure = %q, want configured override", resp.Structure)
	}
}

func TestQualityAndConfidenceDisagree(t *testing.T) {
	e := NewEngine(Config{})

	// Two highly relevant sources that contradict each other: business
	// relevance stays high while consensus drops. The disagreement is
	// expected output, not something to reconcile.
	a := ranked("a", "Study A", "Increase outbound volume.", func(r *rank.Ranked) {
		r.Frameworks = []string{"sales funnel"}
		r.Scores.BusinessRelevance = 0.95
		r.Scores.Authority = 0.7
	})
	b := ranked("b", "Study B", "Decrease outbound volume, invest in inbound.", func(r *rank.Ranked) {
		r.Frameworks = []string{"sales funnel"}
		r.Scores.BusinessRelevance = 0.95
		r.Scores.Authority = 0.7
	})

	resp := e.Assemble(query.Context{Intent: "optimization"}, []rank.Ranked{a, b})

	if resp.Quality.BusinessRelevance < 0.9 {
		t.Errorf("BusinessRelevance = %v, want high", resp.Quality.BusinessRelevance)
	}
	if resp.Confidence.ConsensusLevel >= 0.9 {
		t.Errorf("ConsensusLevel = %v, want lowered by conflict", resp.Confidence.ConsensusLevel)
	}
}

func TestSingleSourceLimitations(t *testing.T) {
	e := NewEngine(Config{})
	resp := e.Assemble(
		query.Context{Intent: "learning", Industry: "retail"},
		[]rank.Ranked{ranked("only", "Doc", "Retailers track foot traffic.", nil)},
	)

	joined := strings.Join(resp.Limitations, " ")
	if !strings.Contains(joined, "single source") {
		t.Errorf("Limitations = %v, want single-source caveat", resp.Limitations)
	}
	if !strings.Contains(joined, "retail") {
		t.Errorf("Limitations = %v, want industry gap caveat", resp.Limitations)
	}
	if resp.Confidence.ConsensusLevel != 0.5 {
		t.Errorf("ConsensusLevel = %v, want 0.5 for a single source", resp.Confidence.ConsensusLevel)
	}
}
