package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quantive/sage/internal/chunker"
	"github.com/quantive/sage/internal/config"
	"github.com/quantive/sage/internal/extract"
	"github.com/quantive/sage/internal/retrieval"
	"github.com/quantive/sage/internal/storage"
)

type fakeStore struct {
	mu         sync.Mutex
	items      map[string]storage.ContentItem
	chunks     map[string][]storage.ContentChunk
	detections []storage.FrameworkDetection

	saveItemErr   error
	analysisErr   error
	detectionsErr error
	chunksErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:  map[string]storage.ContentItem{},
		chunks: map[string][]storage.ContentChunk{},
	}
}

func (f *fakeStore) SaveContentItem(item storage.ContentItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveItemErr != nil {
		return f.saveItemErr
	}
	f.items[item.ID] = item
	return nil
}

func (f *fakeStore) UpdateContentItemStatus(id, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.items[id]
	item.Status = status
	item.Error = errMsg
	f.items[id] = item
	return nil
}

func (f *fakeStore) UpdateContentItemMetadata(id, title, author string, publishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.items[id]
	item.Title = title
	item.Author = author
	item.PublishedAt = publishedAt
	f.items[id] = item
	return nil
}

func (f *fakeStore) UpdateContentItemAnalysis(id string, quality, relevance float64, frameworksJSON string, wordCount, charCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.analysisErr != nil {
		return f.analysisErr
	}
	item := f.items[id]
	item.QualityScore = quality
	item.RelevanceScore = relevance
	item.Frameworks = frameworksJSON
	item.WordCount = wordCount
	item.CharCount = charCount
	f.items[id] = item
	return nil
}

func (f *fakeStore) ArchiveContentItem(id string) error {
	return f.UpdateContentItemStatus(id, storage.ItemArchived, "")
}

func (f *fakeStore) ReplaceChunks(itemID string, chunks []storage.ContentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chunksErr != nil {
		return f.chunksErr
	}
	f.chunks[itemID] = chunks
	return nil
}

func (f *fakeStore) DeleteChunks(itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chunks, itemID)
	return nil
}

func (f *fakeStore) SaveFrameworkDetections(detections []storage.FrameworkDetection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detectionsErr != nil {
		return f.detectionsErr
	}
	f.detections = append(f.detections, detections...)
	return nil
}

func (f *fakeStore) item(t *testing.T, id string) storage.ContentItem {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		t.Fatalf("item %s not stored", id)
	}
	return item
}

type fakeEmbedder struct {
	mu         sync.Mutex
	err        error
	inFlight   int
	maxFlight  int
	batchSizes []int
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	f.batchSizes = append(f.batchSizes, len(texts))
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	err := f.err
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeVectors struct {
	mu        sync.Mutex
	records   []retrieval.Record
	insertErr error
	deleted   []string
}

func (f *fakeVectors) Insert(ctx context.Context, records []retrieval.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeVectors) DeleteBySource(ctx context.Context, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sourceID)
	return nil
}

type failingExtractor struct{}

func (failingExtractor) SourceType() string { return "file" }
func (failingExtractor) Extract(context.Context, extract.Input, extract.Options) (extract.Result, error) {
	return extract.Result{}, fmt.Errorf("boom")
}

type harness struct {
	orch     *Orchestrator
	store    *fakeStore
	embedder *fakeEmbedder
	vectors  *fakeVectors
}

func newHarness(t *testing.T, maxConcurrent int) *harness {
	t.Helper()
	vocab, err := config.LoadVocabulary("")
	if err != nil {
		t.Fatalf("LoadVocabulary: %v", err)
	}
	extractors, err := extract.NewRegistry(extract.NewTextExtractor(), failingExtractor{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	h := &harness{
		store:    newFakeStore(),
		embedder: &fakeEmbedder{},
		vectors:  &fakeVectors{},
	}
	h.orch = NewOrchestrator(OrchestratorConfig{
		Store:         h.store,
		Vectors:       h.vectors,
		Embedder:      h.embedder,
		Extractors:    extractors,
		Chunker:       chunker.New(chunker.Config{MaxWords: 50, Overlap: 5}, vocab),
		Vocab:         vocab,
		MaxConcurrent: maxConcurrent,
	})
	return h
}

const sampleText = "Customer retention drives revenue growth. The AARRR framework " +
	"maps acquisition through referral. Track churn rate and conversion rate monthly. " +
	"Pricing strategy reviews belong in every quarterly plan."

func TestProcessContentHappyPath(t *testing.T) {
	h := newHarness(t, 2)

	job, err := h.orch.ProcessContent(context.Background(), Request{
		SourceType: "text",
		Content:    sampleText,
	}, DefaultOptions())
	if err != nil {
		t.Fatalf("ProcessContent: %v", err)
	}

	if job.Status != JobCompleted {
		t.Fatalf("Status = %q, want completed (error %q)", job.Status, job.Error)
	}
	if job.Progress != 100 {
		t.Errorf("Progress = %v, want 100", job.Progress)
	}
	for _, s := range job.Stages {
		if s.Status != StageCompleted {
			t.Errorf("stage %s = %s, want completed", s.Name, s.Status)
		}
	}

	item := h.store.item(t, job.ItemID)
	if item.Status != storage.ItemCompleted {
		t.Errorf("item status = %q, want completed", item.Status)
	}
	if item.WordCount == 0 || item.QualityScore == 0 {
		t.Errorf("analysis not persisted: %+v", item)
	}
	if len(h.store.chunks[job.ItemID]) == 0 {
		t.Error("no chunks persisted")
	}
	if len(h.vectors.records) != len(h.store.chunks[job.ItemID]) {
		t.Errorf("vectors = %d, chunks = %d, want equal", len(h.vectors.records), len(h.store.chunks[job.ItemID]))
	}
	if len(h.store.detections) == 0 {
		t.Error("expected framework detections for aarrr mention")
	}
}

func TestProcessContentValidationFailure(t *testing.T) {
	h := newHarness(t, 2)

	job, err := h.orch.ProcessContent(context.Background(), Request{SourceType: "bogus"}, DefaultOptions())
	if err == nil {
		t.Fatal("expected error for unknown source type")
	}
	if job.Status != JobFailed {
		t.Errorf("Status = %q, want failed", job.Status)
	}
	if job.Stages[0].Status != StageFailed {
		t.Errorf("validation stage = %q, want failed", job.Stages[0].Status)
	}
	// Later stages were never attempted.
	for _, s := range job.Stages[1:] {
		if s.Status != StagePending {
			t.Errorf("stage %s = %q, want pending", s.Name, s.Status)
		}
	}
	if job.Progress != 0 {
		t.Errorf("Progress = %v, want 0", job.Progress)
	}
}

func TestProcessContentExtractionFailure(t *testing.T) {
	h := newHarness(t, 2)

	job, err := h.orch.ProcessContent(context.Background(), Request{
		SourceType: "file",
		Source:     "/tmp/whatever.txt",
	}, DefaultOptions())
	if err == nil {
		t.Fatal("expected extraction error")
	}
	if job.Status != JobFailed {
		t.Errorf("Status = %q, want failed", job.Status)
	}
	if got := stageStatus(job, StageExtraction); got != StageFailed {
		t.Errorf("extraction stage = %q, want failed", got)
	}
	if got := stageStatus(job, StageAnalysis); got != StagePending {
		t.Errorf("analysis stage = %q, want pending after extraction failure", got)
	}
	item := h.store.item(t, job.ItemID)
	if item.Status != storage.ItemFailed {
		t.Errorf("item status = %q, want failed", item.Status)
	}
}

func TestAnalysisErrorsDegradeToEmptyDetections(t *testing.T) {
	h := newHarness(t, 2)
	h.store.detectionsErr = fmt.Errorf("detections table locked")

	job, err := h.orch.ProcessContent(context.Background(), Request{
		SourceType: "text",
		Content:    sampleText,
	}, DefaultOptions())
	if err != nil {
		t.Fatalf("ProcessContent: %v", err)
	}
	if job.Status != JobCompleted {
		t.Fatalf("Status = %q, want completed despite analysis error", job.Status)
	}
	if got := stageStatus(job, StageAnalysis); got != StageCompleted {
		t.Errorf("analysis stage = %q, want completed", got)
	}
	// Degraded analysis means records carry no framework tags.
	for _, rec := range h.vectors.records {
		if rec.Frameworks != "[]" {
			t.Errorf("record frameworks = %q, want empty after degradation", rec.Frameworks)
		}
	}
}

func TestEmbeddingFailureFailsProcessingStage(t *testing.T) {
	h := newHarness(t, 2)
	h.embedder.err = fmt.Errorf("embedding service down")

	job, err := h.orch.ProcessContent(context.Background(), Request{
		SourceType: "text",
		Content:    sampleText,
	}, DefaultOptions())
	if err == nil {
		t.Fatal("expected embedding failure")
	}
	if got := stageStatus(job, StageChunking); got != StageFailed {
		t.Errorf("processing stage = %q, want failed", got)
	}
	if got := stageStatus(job, StageStorage); got != StagePending {
		t.Errorf("storage stage = %q, want pending", got)
	}
}

func TestVectorInsertFailureRollsBackChunks(t *testing.T) {
	h := newHarness(t, 2)
	h.vectors.insertErr = fmt.Errorf("vector store down")

	job, err := h.orch.ProcessContent(context.Background(), Request{
		SourceType: "text",
		Content:    sampleText,
	}, DefaultOptions())
	if err == nil {
		t.Fatal("expected storage failure")
	}
	if got := stageStatus(job, StageStorage); got != StageFailed {
		t.Errorf("storage stage = %q, want failed", got)
	}
	if len(h.store.chunks[job.ItemID]) != 0 {
		t.Error("chunks must be rolled back when vector insert fails")
	}
	item := h.store.item(t, job.ItemID)
	if item.Status != storage.ItemFailed {
		t.Errorf("item status = %q, want failed", item.Status)
	}
}

func TestSkippingEmbeddingsStoresNoVectors(t *testing.T) {
	h := newHarness(t, 2)

	opts := DefaultOptions()
	opts.GenerateEmbeddings = false
	job, err := h.orch.ProcessContent(context.Background(), Request{
		SourceType: "text",
		Content:    sampleText,
	}, opts)
	if err != nil {
		t.Fatalf("ProcessContent: %v", err)
	}
	if job.Status != JobCompleted {
		t.Fatalf("Status = %q, want completed", job.Status)
	}
	if len(h.vectors.records) != 0 {
		t.Errorf("vectors = %d, want 0 when embeddings are skipped", len(h.vectors.records))
	}
	if len(h.store.chunks[job.ItemID]) == 0 {
		t.Error("chunks should still be stored")
	}
}

func TestProcessBatchWindows(t *testing.T) {
	h := newHarness(t, 2)

	reqs := make([]Request, 5)
	for i := range reqs {
		reqs[i] = Request{SourceType: "text", Content: sampleText}
	}
	// One failing request in the middle; its siblings must not be affected.
	reqs[2] = Request{SourceType: "bogus"}

	jobs := h.orch.ProcessBatch(context.Background(), reqs, DefaultOptions())

	if len(jobs) != 5 {
		t.Fatalf("jobs = %d, want 5", len(jobs))
	}
	for i, job := range jobs {
		want := JobCompleted
		if i == 2 {
			want = JobFailed
		}
		if job.Status != want {
			t.Errorf("jobs[%d].Status = %q, want %q", i, job.Status, want)
		}
	}
	if h.embedder.maxFlight > 2 {
		t.Errorf("max concurrent embeddings = %d, want <= 2", h.embedder.maxFlight)
	}
}

func TestArchiveRemovesVectors(t *testing.T) {
	h := newHarness(t, 2)

	job, err := h.orch.ProcessContent(context.Background(), Request{
		SourceType: "text",
		Content:    sampleText,
	}, DefaultOptions())
	if err != nil {
		t.Fatalf("ProcessContent: %v", err)
	}

	if err := h.orch.Archive(context.Background(), job.ItemID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	item := h.store.item(t, job.ItemID)
	if item.Status != storage.ItemArchived {
		t.Errorf("item status = %q, want archived", item.Status)
	}
	found := false
	for _, id := range h.vectors.deleted {
		if id == job.ItemID {
			found = true
		}
	}
	if !found {
		t.Error("Archive must delete the item's vectors")
	}
}

func TestSubmitReturnsImmediatelyAndCompletes(t *testing.T) {
	h := newHarness(t, 2)

	snap := h.orch.Submit(context.Background(), Request{
		SourceType: "text",
		Content:    sampleText,
	}, DefaultOptions())
	if snap.ID == "" {
		t.Fatal("Submit must return a job id")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		job, ok := h.orch.Registry().Get(snap.ID)
		if !ok {
			t.Fatal("job vanished from registry")
		}
		if job.Terminal() {
			if job.Status != JobCompleted {
				t.Fatalf("Status = %q, want completed (%s)", job.Status, job.Error)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not settle: %+v", job)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistrySweepDropsOldTerminalJobs(t *testing.T) {
	r := NewRegistry(time.Minute)

	done := r.create("text", "inline")
	r.failStage(done.ID, StageValidation, fmt.Errorf("bad input"))
	running := r.create("text", "inline")
	r.startJob(running.ID)

	// Nothing is old enough yet.
	if removed := r.Sweep(time.Now().UTC()); removed != 0 {
		t.Errorf("Sweep removed %d jobs, want 0", removed)
	}
	// An hour later the failed job ages out; the running one stays.
	if removed := r.Sweep(time.Now().UTC().Add(time.Hour)); removed != 1 {
		t.Errorf("Sweep removed %d jobs, want 1", removed)
	}
	if _, ok := r.Get(done.ID); ok {
		t.Error("terminal job should have been swept")
	}
	if _, ok := r.Get(running.ID); !ok {
		t.Error("in-flight job must never be swept")
	}
}

func TestProgressInvariant(t *testing.T) {
	r := NewRegistry(0)
	job := r.create("text", "inline")

	for i, stage := range stageOrder {
		r.startStage(job.ID, stage)
		r.completeStage(job.ID, stage)
		snap, _ := r.Get(job.ID)
		want := float64(i+1) / float64(len(stageOrder)) * 100
		if snap.Progress != want {
			t.Errorf("after %s: Progress = %v, want %v", stage, snap.Progress, want)
		}
	}
}

func stageStatus(job Job, name string) string {
	for _, s := range job.Stages {
		if s.Name == name {
			return s.Status
		}
	}
	return ""
}
