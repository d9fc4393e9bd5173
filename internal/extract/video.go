package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// VideoExtractor fetches video transcripts from an external transcript
// service. The service owns platform specifics (captions APIs, speech to
// text); this client only normalizes its response.
type VideoExtractor struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// VideoConfig configures the transcript service client.
type VideoConfig struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
}

func NewVideoExtractor(cfg VideoConfig) *VideoExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &VideoExtractor{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		timeout: cfg.Timeout,
	}
}

func (e *VideoExtractor) SourceType() string { return "video" }

// transcriptResponse is the transcript service's wire format.
type transcriptResponse struct {
	Text        string `json:"text"`
	Title       string `json:"title"`
	Channel     string `json:"channel"`
	Author      string `json:"author"`
	PublishedAt string `json:"published_at"`
	DurationSec int    `json:"duration_sec"`
	Chapters    []struct {
		Title    string `json:"title"`
		StartSec int    `json:"start_sec"`
	} `json:"chapters"`
}

func (e *VideoExtractor) Extract(ctx context.Context, in Input, opts Options) (Result, error) {
	if e.baseURL == "" {
		return Result{}, fmt.Errorf("transcript service not configured")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := e.baseURL + "/transcripts?video=" + url.QueryEscape(in.Source)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("building transcript request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetching transcript for %s: %w", in.Source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Result{}, fmt.Errorf("no transcript available for %s", in.Source)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("transcript service returned status %d", resp.StatusCode)
	}

	var tr transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Result{}, fmt.Errorf("decoding transcript response: %w", err)
	}
	if strings.TrimSpace(tr.Text) == "" {
		return Result{}, fmt.Errorf("empty transcript for %s", in.Source)
	}

	var publishedAt time.Time
	if tr.PublishedAt != "" {
		if t, err := time.Parse(time.RFC3339, tr.PublishedAt); err == nil {
			publishedAt = t
		}
	}

	meta := map[string]string{
		"channel":      tr.Channel,
		"duration_sec": fmt.Sprintf("%d", tr.DurationSec),
	}
	if len(tr.Chapters) > 0 {
		titles := make([]string, len(tr.Chapters))
		for i, ch := range tr.Chapters {
			titles[i] = ch.Title
		}
		meta["chapters"] = strings.Join(titles, "; ")
	}

	return Result{
		Text:        strings.TrimSpace(tr.Text),
		Title:       tr.Title,
		Author:      tr.Author,
		PublishedAt: publishedAt,
		Metadata:    meta,
	}, nil
}
