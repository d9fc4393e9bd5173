package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/quantive/sage/internal/ingest"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	sources []string
}

func (f *fakeSubmitter) Submit(ctx context.Context, req ingest.Request, opts ingest.Options) ingest.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, req.Source)
	return ingest.Job{ID: "job-1", SourceType: req.SourceType, Source: req.Source}
}

func (f *fakeSubmitter) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sources...)
}

func startWatcher(t *testing.T, dir string, sub Submitter) {
	t.Helper()
	w, err := New(Config{Dir: dir, Debounce: 50 * time.Millisecond}, sub)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		w.Close()
	})
	go w.Run(ctx)
}

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestSubmitsDroppedFile(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	startWatcher(t, dir, sub)

	path := filepath.Join(dir, "playbook.md")
	if err := os.WriteFile(path, []byte("# Retention playbook"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	ok := waitFor(t, func() bool { return len(sub.submitted()) >= 1 })
	if !ok {
		t.Fatal("watched file was never submitted")
	}
	if got := sub.submitted()[0]; got != path {
		t.Errorf("submitted source = %q, want %q", got, path)
	}
}

func TestIgnoresUnwatchedExtension(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	startWatcher(t, dir, sub)

	if err := os.WriteFile(filepath.Join(dir, "dump.tmp"), []byte("x"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if got := sub.submitted(); len(got) != 0 {
		t.Errorf("unwatched file submitted: %v", got)
	}
}

func TestRequiresDirectory(t *testing.T) {
	if _, err := New(Config{}, &fakeSubmitter{}); err == nil {
		t.Error("New without a directory must fail")
	}
	if _, err := New(Config{Dir: filepath.Join(t.TempDir(), "missing")}, &fakeSubmitter{}); err == nil {
		t.Error("New on a missing directory must fail")
	}
}

func TestWatchedExtensions(t *testing.T) {
	w := &Watcher{cfg: Config{Extensions: []string{".pdf", ".md"}}}
	cases := map[string]bool{
		"notes.md":    true,
		"report.pdf":  true,
		"image.png":   false,
		"noextension": false,
	}
	for path, want := range cases {
		if got := w.watched(path); got != want {
			t.Errorf("watched(%q) = %v, want %v", path, got, want)
		}
	}
}
