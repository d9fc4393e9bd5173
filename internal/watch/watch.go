// Package watch monitors a drop directory and submits new or changed
// files for ingestion. Writes are debounced so a file copied in several
// chunks is submitted once, after it settles.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quantive/sage/internal/ingest"
)

// Submitter queues ingestion work. *ingest.Orchestrator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req ingest.Request, opts ingest.Options) ingest.Job
}

// Config controls what the watcher picks up.
type Config struct {
	Dir        string
	Extensions []string      // defaults to .pdf, .txt, .md, .markdown
	Debounce   time.Duration // defaults to 2s
	Options    ingest.Options
}

// Watcher submits files dropped into Config.Dir.
type Watcher struct {
	cfg       Config
	submitter Submitter
	fs        *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New opens the watcher on cfg.Dir. Call Run to start processing events.
func New(cfg Config, submitter Submitter) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("watch directory is required")
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".pdf", ".txt", ".md", ".markdown"}
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fs.Add(cfg.Dir); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watching %s: %w", cfg.Dir, err)
	}

	return &Watcher{
		cfg:       cfg,
		submitter: submitter,
		fs:        fs,
		pending:   map[string]*time.Timer{},
	}, nil
}

// Run blocks until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	slog.Info("watching drop directory", "dir", w.cfg.Dir, "extensions", w.cfg.Extensions)
	defer w.cancelPending()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if !w.watched(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}

// Close stops the underlying watcher, unblocking Run.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// schedule resets the debounce timer for path. The submission fires once
// no further events arrive within the debounce window.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.cfg.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		job := w.submitter.Submit(ctx, ingest.Request{
			SourceType: "file",
			Source:     path,
		}, w.cfg.Options)
		slog.Info("submitted watched file", "path", path, "job", job.ID)
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) watched(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range w.cfg.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
