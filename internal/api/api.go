// Package api exposes the knowledge base over HTTP and MCP. The HTTP
// surface covers ingestion, question answering, job status, and item
// management; all routes sit behind bearer auth.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quantive/sage/internal/answer"
	"github.com/quantive/sage/internal/ingest"
	"github.com/quantive/sage/internal/query"
	"github.com/quantive/sage/internal/storage"
)

const (
	maxRequestBodySize = 10 << 20 // 10MB
	maxBatchItems      = 100
)

// Ingestor is the orchestrator surface the API needs.
type Ingestor interface {
	Submit(ctx context.Context, req ingest.Request, opts ingest.Options) ingest.Job
	ProcessBatch(ctx context.Context, reqs []ingest.Request, opts ingest.Options) []ingest.Job
	Archive(ctx context.Context, itemID string) error
	Job(id string) (ingest.Job, bool)
	Jobs() []ingest.Job
}

// Asker answers questions against the knowledge base.
type Asker interface {
	Ask(ctx context.Context, question string, opts answer.AskOptions) (answer.Answer, error)
}

// ItemStore reads content items for the management endpoints.
type ItemStore interface {
	ListContentItems(limit int, includeArchived bool) ([]storage.ContentItem, error)
	GetContentItem(id string) (storage.ContentItem, error)
}

// AppDeps holds the API's dependencies.
type AppDeps struct {
	Ingestor Ingestor
	Asker    Asker
	Items    ItemStore
	Token    string
}

// NewAppHandler builds the HTTP router.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/ingest", handleIngest(deps))
		r.Post("/ingest/batch", handleIngestBatch(deps))
		r.Post("/ask", handleAsk(deps))
		r.Get("/jobs", handleListJobs(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Get("/items", handleListItems(deps))
		r.Get("/items/{id}", handleGetItem(deps))
		r.Delete("/items/{id}", handleArchiveItem(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// optionsPayload is the wire form of ingest.Options. Absent booleans keep
// their defaults (embeddings and framework detection on).
type optionsPayload struct {
	GenerateEmbeddings *bool `json:"generate_embeddings"`
	DetectFrameworks   *bool `json:"detect_frameworks"`
	ExtractImages      bool  `json:"extract_images"`
	RespectRobots      bool  `json:"respect_robots"`
}

func (p *optionsPayload) toOptions() ingest.Options {
	opts := ingest.DefaultOptions()
	if p == nil {
		return opts
	}
	if p.GenerateEmbeddings != nil {
		opts.GenerateEmbeddings = *p.GenerateEmbeddings
	}
	if p.DetectFrameworks != nil {
		opts.DetectFrameworks = *p.DetectFrameworks
	}
	opts.ExtractImages = p.ExtractImages
	opts.RespectRobots = p.RespectRobots
	return opts
}

type ingestPayload struct {
	SourceType string          `json:"source_type"`
	Source     string          `json:"source"`
	Content    string          `json:"content"`
	Options    *optionsPayload `json:"options"`
}

func (p ingestPayload) request() ingest.Request {
	return ingest.Request{SourceType: p.SourceType, Source: p.Source, Content: p.Content}
}

// handleIngest accepts one item and returns immediately; the job runs in
// the background and is tracked via /jobs/{id}.
func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ingestPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.SourceType == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "source_type is required")
			return
		}

		job := deps.Ingestor.Submit(r.Context(), req.request(), req.Options.toOptions())
		writeJSON(w, http.StatusAccepted, job)
	}
}

type batchPayload struct {
	Items   []ingestPayload `json:"items"`
	Options *optionsPayload `json:"options"`
}

// handleIngestBatch processes all items before responding, in windows
// capped by the orchestrator's concurrency limit.
func handleIngestBatch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req batchPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Items) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "items must not be empty")
			return
		}
		if len(req.Items) > maxBatchItems {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "batch exceeds %d items", maxBatchItems)
			return
		}

		reqs := make([]ingest.Request, len(req.Items))
		for i, item := range req.Items {
			reqs[i] = item.request()
		}
		jobs := deps.Ingestor.ProcessBatch(r.Context(), reqs, req.Options.toOptions())
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	}
}

// askPayload is the wire form of answer.AskOptions. Threshold is a pointer
// so an explicit zero (no similarity floor) stays distinct from absent.
type askPayload struct {
	Query       string   `json:"query"`
	MaxResults  int      `json:"max_results"`
	Threshold   *float32 `json:"threshold"`
	SourceTypes []string `json:"source_types"`
	Frameworks  []string `json:"frameworks"`
	RenderProse bool     `json:"render_prose"`
	Industry    string   `json:"industry"`
	Stage       string   `json:"stage"`
	Function    string   `json:"function"`
}

func handleAsk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req askPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		ans, err := deps.Asker.Ask(r.Context(), req.Query, answer.AskOptions{
			MaxResults:  req.MaxResults,
			Threshold:   req.Threshold,
			SourceTypes: req.SourceTypes,
			Frameworks:  req.Frameworks,
			RenderProse: req.RenderProse,
			Known: query.Known{
				Industry: req.Industry,
				Stage:    req.Stage,
				Function: req.Function,
			},
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "answering failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ans)
	}
}

func handleListJobs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Ingestor.Jobs())
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, ok := deps.Ingestor.Job(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleListItems(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		includeArchived := r.URL.Query().Get("include_archived") == "true"

		items, err := deps.Items.ListContentItems(limit, includeArchived)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list items: %v", err)
			return
		}
		if items == nil {
			items = []storage.ContentItem{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func handleGetItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		item, err := deps.Items.GetContentItem(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "item not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get item: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// handleArchiveItem archives the item and drops its vectors. The row is
// kept; nothing is hard-deleted.
func handleArchiveItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Items.GetContentItem(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "item not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get item: %v", err)
			return
		}

		if err := deps.Ingestor.Archive(r.Context(), id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to archive item: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
