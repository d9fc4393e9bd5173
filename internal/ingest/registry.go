package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultRetention = time.Hour

// Registry is the in-memory job table. The orchestrator is its only
// writer; status callers read snapshots. Snapshots are point-in-time
// copies and may be stale by the time the caller acts on them.
type Registry struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	retention time.Duration
}

func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Registry{
		jobs:      make(map[string]*Job),
		retention: retention,
	}
}

func (r *Registry) create(sourceType, source string) *Job {
	job := newJob(uuid.New().String(), sourceType, source)
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()
	return job
}

// Get returns a snapshot of one job.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.clone(), true
}

// List returns snapshots of all tracked jobs, newest first.
func (r *Registry) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Sweep drops terminal jobs older than the retention window and returns
// how many were removed. In-flight jobs are never swept.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, job := range r.jobs {
		if job.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps periodically until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(time.Now().UTC())
		}
	}
}

func (r *Registry) startJob(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.Status = JobProcessing
		job.UpdatedAt = time.Now().UTC()
	}
}

func (r *Registry) startStage(id, stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	if s := job.stage(stage); s != nil {
		s.Status = StageProcessing
		s.StartedAt = now
	}
	job.UpdatedAt = now
}

func (r *Registry) completeStage(id, stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	if s := job.stage(stage); s != nil {
		s.Status = StageCompleted
		s.CompletedAt = now
	}
	job.recomputeProgress()
	job.UpdatedAt = now
}

func (r *Registry) failStage(id, stage string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	if s := job.stage(stage); s != nil {
		s.Status = StageFailed
		s.Error = err.Error()
		s.CompletedAt = now
	}
	job.Status = JobFailed
	job.Error = err.Error()
	job.recomputeProgress()
	job.UpdatedAt = now
}

func (r *Registry) completeJob(id, itemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.Status = JobCompleted
		job.ItemID = itemID
		job.recomputeProgress()
		job.UpdatedAt = time.Now().UTC()
	}
}

func (r *Registry) setItemID(id, itemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.ItemID = itemID
		job.UpdatedAt = time.Now().UTC()
	}
}
