package assemble

// Response is the structured answer built from ranked sources. Every field
// is populated even when no sources were retrieved; in that case the
// limitations and confidence fields carry the gap.
type Response struct {
	Summary               string                 `json:"summary"`
	Structure             string                 `json:"structure"`
	Explanation           string                 `json:"explanation"`
	FrameworkIntegrations []FrameworkIntegration `json:"framework_integrations,omitempty"`
	Insights              []Insight              `json:"insights,omitempty"`
	Evidence              []Evidence             `json:"evidence,omitempty"`
	Conflicts             []Conflict             `json:"conflicts,omitempty"`
	Roadmap               Roadmap                `json:"roadmap"`
	Limitations           []string               `json:"limitations,omitempty"`
	Quality               QualityMetrics         `json:"quality"`
	Confidence            ConfidenceAssessment   `json:"confidence"`
}

// FrameworkIntegration ties a detected framework to the source material
// that applies it.
type FrameworkIntegration struct {
	Framework string `json:"framework"`
	Guidance  string `json:"guidance"`
	SourceID  string `json:"source_id,omitempty"`
}

// Insight is one actionable recommendation extracted from a source.
type Insight struct {
	Action         string   `json:"action"`
	Priority       string   `json:"priority"`
	Complexity     string   `json:"complexity"`
	Impact         string   `json:"impact"`
	Prerequisites  []string `json:"prerequisites,omitempty"`
	SuccessMetrics []string `json:"success_metrics,omitempty"`
	Timeframe      string   `json:"timeframe"`
}

// Evidence cites the source behind a claim in the response.
type Evidence struct {
	Claim     string  `json:"claim"`
	SourceID  string  `json:"source_id"`
	Citation  string  `json:"citation"`
	Authority float64 `json:"authority"`
}

// Conflict records two sources whose guidance disagreed and how the
// disagreement was resolved.
type Conflict struct {
	Topic      string `json:"topic"`
	SourceA    string `json:"source_a"`
	SourceB    string `json:"source_b"`
	Resolution string `json:"resolution"`
	Note       string `json:"note"`
}

// Resolution strategies for conflicting sources.
const (
	ResolvePrioritization = "prioritization"
	ResolveContextual     = "contextualization"
	ResolveConditional    = "conditional"
	ResolveSequential     = "sequential"
)

// Roadmap partitions the recommended actions by horizon.
type Roadmap struct {
	Immediate  []string `json:"immediate,omitempty"`
	ShortTerm  []string `json:"short_term,omitempty"`
	LongTerm   []string `json:"long_term,omitempty"`
	Milestones []string `json:"milestones,omitempty"`
	Risks      []string `json:"risks,omitempty"`
}

// QualityMetrics scores the assembled response. The sub-scores are computed
// independently and may disagree; disagreement is signal, not error.
type QualityMetrics struct {
	Overall           float64 `json:"overall"`
	SourceDiversity   float64 `json:"source_diversity"`
	Completeness      float64 `json:"completeness"`
	Consistency       float64 `json:"consistency"`
	Actionability     float64 `json:"actionability"`
	EvidenceStrength  float64 `json:"evidence_strength"`
	BusinessRelevance float64 `json:"business_relevance"`
}

// ConfidenceAssessment is computed separately from QualityMetrics and is
// never derived from it.
type ConfidenceAssessment struct {
	SourceReliability         float64  `json:"source_reliability"`
	ConsensusLevel            float64  `json:"consensus_level"`
	ImplementationFeasibility float64  `json:"implementation_feasibility"`
	UncertaintyAreas          []string `json:"uncertainty_areas,omitempty"`
}

// Content structure strategies.
const (
	StructureFramework       = "framework-based"
	StructureActionOriented  = "action-oriented"
	StructureProblemSolution = "problem-solution"
	StructureEducational     = "educational"
)

// GapPolicy controls the response when retrieval comes back empty.
type GapPolicy string

const (
	GapAcknowledge GapPolicy = "acknowledge"
	GapSeekSources GapPolicy = "seek"
	GapInfer       GapPolicy = "infer"
)
