package ingest

import "time"

// Job statuses.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Stage statuses.
const (
	StagePending    = "pending"
	StageProcessing = "processing"
	StageCompleted  = "completed"
	StageFailed     = "failed"
)

// The five ingestion stages, in execution order. A stage failure fails the
// job; later stages are never attempted.
const (
	StageValidation = "validation"
	StageExtraction = "extraction"
	StageAnalysis   = "analysis"
	StageChunking   = "processing"
	StageStorage    = "storage"
)

var stageOrder = []string{
	StageValidation,
	StageExtraction,
	StageAnalysis,
	StageChunking,
	StageStorage,
}

// Stage is one step of an ingestion job.
type Stage struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Job tracks one content item through the ingestion pipeline. Progress is
// recomputed as (completed stages / total stages) * 100 on every stage
// transition.
type Job struct {
	ID         string    `json:"id"`
	ItemID     string    `json:"item_id,omitempty"`
	SourceType string    `json:"source_type"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	Stages     []Stage   `json:"stages"`
	Progress   float64   `json:"progress"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Terminal reports whether the job has finished, successfully or not.
func (j *Job) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

func newJob(id, sourceType, source string) *Job {
	now := time.Now().UTC()
	stages := make([]Stage, len(stageOrder))
	for i, name := range stageOrder {
		stages[i] = Stage{Name: name, Status: StagePending}
	}
	return &Job{
		ID:         id,
		SourceType: sourceType,
		Source:     source,
		Status:     JobQueued,
		Stages:     stages,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (j *Job) stage(name string) *Stage {
	for i := range j.Stages {
		if j.Stages[i].Name == name {
			return &j.Stages[i]
		}
	}
	return nil
}

func (j *Job) recomputeProgress() {
	completed := 0
	for _, s := range j.Stages {
		if s.Status == StageCompleted {
			completed++
		}
	}
	j.Progress = float64(completed) / float64(len(j.Stages)) * 100
}

// clone returns a deep copy safe to hand to callers.
func (j *Job) clone() Job {
	out := *j
	out.Stages = make([]Stage, len(j.Stages))
	copy(out.Stages, j.Stages)
	return out
}
