package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quantive/sage/internal/answer"
	"github.com/quantive/sage/internal/ingest"
	"github.com/quantive/sage/internal/storage"
)

const testToken = "secret-token"

type fakeIngestor struct {
	jobs      map[string]ingest.Job
	submitted []ingest.Request
	lastOpts  ingest.Options
	archived  []string
}

func newFakeIngestor() *fakeIngestor {
	return &fakeIngestor{jobs: map[string]ingest.Job{}}
}

func (f *fakeIngestor) Submit(ctx context.Context, req ingest.Request, opts ingest.Options) ingest.Job {
	f.submitted = append(f.submitted, req)
	f.lastOpts = opts
	job := ingest.Job{ID: fmt.Sprintf("job-%d", len(f.submitted)), Status: ingest.JobQueued}
	f.jobs[job.ID] = job
	return job
}

func (f *fakeIngestor) ProcessBatch(ctx context.Context, reqs []ingest.Request, opts ingest.Options) []ingest.Job {
	f.lastOpts = opts
	out := make([]ingest.Job, len(reqs))
	for i := range reqs {
		out[i] = ingest.Job{ID: fmt.Sprintf("batch-%d", i), Status: ingest.JobCompleted}
	}
	return out
}

func (f *fakeIngestor) Archive(ctx context.Context, itemID string) error {
	f.archived = append(f.archived, itemID)
	return nil
}

func (f *fakeIngestor) Job(id string) (ingest.Job, bool) {
	job, ok := f.jobs[id]
	return job, ok
}

func (f *fakeIngestor) Jobs() []ingest.Job {
	out := make([]ingest.Job, 0, len(f.jobs))
	for _, job := range f.jobs {
		out = append(out, job)
	}
	return out
}

type fakeAsker struct {
	lastQuery string
	lastOpts  answer.AskOptions
	err       error
}

func (f *fakeAsker) Ask(ctx context.Context, q string, opts answer.AskOptions) (answer.Answer, error) {
	f.lastQuery = q
	f.lastOpts = opts
	if f.err != nil {
		return answer.Answer{}, f.err
	}
	return answer.Answer{Query: q}, nil
}

type fakeItems struct {
	items map[string]storage.ContentItem
}

func (f *fakeItems) ListContentItems(limit int, includeArchived bool) ([]storage.ContentItem, error) {
	var out []storage.ContentItem
	for _, item := range f.items {
		if item.Status == storage.ItemArchived && !includeArchived {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (f *fakeItems) GetContentItem(id string) (storage.ContentItem, error) {
	item, ok := f.items[id]
	if !ok {
		return storage.ContentItem{}, storage.ErrNotFound
	}
	return item, nil
}

type testEnv struct {
	handler  http.Handler
	ingestor *fakeIngestor
	asker    *fakeAsker
	items    *fakeItems
}

func newTestEnv() *testEnv {
	env := &testEnv{
		ingestor: newFakeIngestor(),
		asker:    &fakeAsker{},
		items:    &fakeItems{items: map[string]storage.ContentItem{}},
	}
	env.handler = NewAppHandler(AppDeps{
		Ingestor: env.ingestor,
		Asker:    env.asker,
		Items:    env.items,
		Token:    testToken,
	})
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/jobs", nil, false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated /jobs = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token /jobs = %d, want 401", rec.Code)
	}
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodGet, "/health", nil, false)
	if rec.Code != http.StatusOK {
		t.Errorf("/health = %d, want 200 without auth", rec.Code)
	}
}

func TestIngestAccepted(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/ingest", map[string]any{
		"source_type": "text",
		"content":     "Retention beats acquisition.",
	}, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("/ingest = %d, want 202: %s", rec.Code, rec.Body)
	}

	var job ingest.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decoding job: %v", err)
	}
	if job.ID == "" {
		t.Error("response must carry the job id")
	}
	if !env.ingestor.lastOpts.GenerateEmbeddings {
		t.Error("default options must enable embeddings")
	}
}

func TestIngestOptionOverrides(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/ingest", map[string]any{
		"source_type": "url",
		"source":      "https://example.com/post",
		"options":     map[string]any{"generate_embeddings": false, "respect_robots": true},
	}, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("/ingest = %d: %s", rec.Code, rec.Body)
	}
	if env.ingestor.lastOpts.GenerateEmbeddings {
		t.Error("generate_embeddings=false not honored")
	}
	if !env.ingestor.lastOpts.RespectRobots {
		t.Error("respect_robots=true not honored")
	}
}

func TestIngestRequiresSourceType(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodPost, "/ingest", map[string]any{"content": "text"}, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("/ingest without source_type = %d, want 400", rec.Code)
	}
}

func TestIngestBatch(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/ingest/batch", map[string]any{
		"items": []map[string]any{
			{"source_type": "text", "content": "a"},
			{"source_type": "text", "content": "b"},
		},
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("/ingest/batch = %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Jobs []ingest.Job `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Jobs) != 2 {
		t.Errorf("jobs = %d, want 2", len(resp.Jobs))
	}

	rec = env.do(t, http.MethodPost, "/ingest/batch", map[string]any{"items": []any{}}, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch = %d, want 400", rec.Code)
	}
}

func TestIngestBatchRejectsOversized(t *testing.T) {
	env := newTestEnv()

	items := make([]map[string]any, maxBatchItems+1)
	for i := range items {
		items[i] = map[string]any{"source_type": "text", "content": "x"}
	}
	rec := env.do(t, http.MethodPost, "/ingest/batch", map[string]any{"items": items}, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("oversized batch = %d, want 400", rec.Code)
	}
}

func TestAsk(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/ask", map[string]any{
		"query":        "how do i reduce churn",
		"max_results":  5,
		"threshold":    0,
		"industry":     "saas",
		"render_prose": true,
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("/ask = %d: %s", rec.Code, rec.Body)
	}
	if env.asker.lastQuery != "how do i reduce churn" {
		t.Errorf("query = %q", env.asker.lastQuery)
	}
	if env.asker.lastOpts.MaxResults != 5 || !env.asker.lastOpts.RenderProse {
		t.Errorf("opts = %+v", env.asker.lastOpts)
	}
	if env.asker.lastOpts.Known.Industry != "saas" {
		t.Errorf("Known.Industry = %q", env.asker.lastOpts.Known.Industry)
	}
	if env.asker.lastOpts.Threshold == nil || *env.asker.lastOpts.Threshold != 0 {
		t.Errorf("Threshold = %v, explicit zero must survive decoding", env.asker.lastOpts.Threshold)
	}
}

func TestAskRequiresQuery(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodPost, "/ask", map[string]any{}, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("/ask without query = %d, want 400", rec.Code)
	}
}

func TestGetJob(t *testing.T) {
	env := newTestEnv()
	job := env.ingestor.Submit(context.Background(), ingest.Request{SourceType: "text", Content: "x"}, ingest.DefaultOptions())

	rec := env.do(t, http.MethodGet, "/jobs/"+job.ID, nil, true)
	if rec.Code != http.StatusOK {
		t.Errorf("/jobs/{id} = %d, want 200", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/jobs/missing", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("/jobs/missing = %d, want 404", rec.Code)
	}
}

func TestArchiveItem(t *testing.T) {
	env := newTestEnv()
	env.items.items["item-1"] = storage.ContentItem{ID: "item-1", Status: storage.ItemCompleted}

	rec := env.do(t, http.MethodDelete, "/items/item-1", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE /items/item-1 = %d: %s", rec.Code, rec.Body)
	}
	if len(env.ingestor.archived) != 1 || env.ingestor.archived[0] != "item-1" {
		t.Errorf("archived = %v, want [item-1]", env.ingestor.archived)
	}

	rec = env.do(t, http.MethodDelete, "/items/missing", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("DELETE /items/missing = %d, want 404", rec.Code)
	}
}

func TestListItemsExcludesArchived(t *testing.T) {
	env := newTestEnv()
	env.items.items["a"] = storage.ContentItem{ID: "a", Status: storage.ItemCompleted}
	env.items.items["b"] = storage.ContentItem{ID: "b", Status: storage.ItemArchived}

	rec := env.do(t, http.MethodGet, "/items", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("/items = %d", rec.Code)
	}
	var items []storage.ContentItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decoding items: %v", err)
	}
	if len(items) != 1 || items[0].ID != "a" {
		t.Errorf("items = %v, want only the active item", items)
	}
}
