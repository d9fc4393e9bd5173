package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveTestItem(t *testing.T, s *Store, id string) {
	t.Helper()
	item := ContentItem{
		ID:         id,
		SourceType: "text",
		Source:     "inline",
		Title:      "Test Item",
	}
	if err := s.SaveContentItem(item); err != nil {
		t.Fatalf("SaveContentItem: %v", err)
	}
}

func TestContentItemLifecycle(t *testing.T) {
	s := openTestStore(t)
	saveTestItem(t, s, "item-1")

	item, err := s.GetContentItem("item-1")
	if err != nil {
		t.Fatalf("GetContentItem: %v", err)
	}
	if item.Status != ItemQueued {
		t.Errorf("initial status = %q, want queued", item.Status)
	}

	if err := s.UpdateContentItemStatus("item-1", ItemProcessing, ""); err != nil {
		t.Fatalf("UpdateContentItemStatus: %v", err)
	}
	if err := s.UpdateContentItemAnalysis("item-1", 0.8, 0.7, `["okr"]`, 1200, 7000); err != nil {
		t.Fatalf("UpdateContentItemAnalysis: %v", err)
	}
	if err := s.UpdateContentItemStatus("item-1", ItemCompleted, ""); err != nil {
		t.Fatalf("UpdateContentItemStatus: %v", err)
	}

	item, err = s.GetContentItem("item-1")
	if err != nil {
		t.Fatalf("GetContentItem: %v", err)
	}
	if item.Status != ItemCompleted {
		t.Errorf("status = %q, want completed", item.Status)
	}
	if item.QualityScore != 0.8 || item.RelevanceScore != 0.7 {
		t.Errorf("scores = %v/%v, want 0.8/0.7", item.QualityScore, item.RelevanceScore)
	}
	if item.WordCount != 1200 {
		t.Errorf("word count = %d, want 1200", item.WordCount)
	}
	if item.Frameworks != `["okr"]` {
		t.Errorf("frameworks = %q", item.Frameworks)
	}
}

func TestGetContentItemNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetContentItem("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.UpdateContentItemStatus("missing", ItemFailed, "boom"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestArchiveExcludedFromList(t *testing.T) {
	s := openTestStore(t)
	saveTestItem(t, s, "item-1")
	saveTestItem(t, s, "item-2")

	if err := s.ArchiveContentItem("item-1"); err != nil {
		t.Fatalf("ArchiveContentItem: %v", err)
	}

	items, err := s.ListContentItems(10, false)
	if err != nil {
		t.Fatalf("ListContentItems: %v", err)
	}
	if len(items) != 1 || items[0].ID != "item-2" {
		t.Errorf("got %d items, want only item-2", len(items))
	}

	all, err := s.ListContentItems(10, true)
	if err != nil {
		t.Fatalf("ListContentItems(includeArchived): %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d items with archived, want 2", len(all))
	}
}

func TestReplaceChunksAtomic(t *testing.T) {
	s := openTestStore(t)
	saveTestItem(t, s, "item-1")

	chunks := make([]ContentChunk, 3)
	for i := range chunks {
		chunks[i] = ContentChunk{
			ID:        fmt.Sprintf("chunk-%d", i),
			Ordinal:   i,
			Text:      fmt.Sprintf("chunk %d body", i),
			WordStart: i * 900,
			WordEnd:   i*900 + 1000,
			ChunkType: "text",
		}
	}
	if err := s.ReplaceChunks("item-1", chunks); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	got, err := s.GetChunks("item-1")
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	for i, c := range got {
		if c.Ordinal != i {
			t.Errorf("chunk %d ordinal = %d; ordinals must be contiguous", i, c.Ordinal)
		}
	}

	// A second replace with fewer chunks fully supersedes the first set.
	if err := s.ReplaceChunks("item-1", chunks[:1]); err != nil {
		t.Fatalf("ReplaceChunks (replace): %v", err)
	}
	got, err = s.GetChunks("item-1")
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d chunks after replace, want 1", len(got))
	}

	// Duplicate ordinals violate the unique constraint and leave nothing behind.
	bad := []ContentChunk{
		{ID: "dup-a", Ordinal: 0, Text: "a"},
		{ID: "dup-b", Ordinal: 0, Text: "b"},
	}
	if err := s.ReplaceChunks("item-1", bad); err == nil {
		t.Fatal("expected error for duplicate ordinals")
	}
	got, err = s.GetChunks("item-1")
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("failed replace must not leave a partial chunk set; got %d chunks", len(got))
	}
}

func TestFrameworkDetections(t *testing.T) {
	s := openTestStore(t)
	saveTestItem(t, s, "item-1")

	detections := []FrameworkDetection{
		{ID: "d-1", ItemID: "item-1", Framework: "okr", Confidence: 0.9},
		{ID: "d-2", ItemID: "item-1", Framework: "lean canvas", Confidence: 0.6, CreatedAt: time.Now().UTC()},
	}
	if err := s.SaveFrameworkDetections(detections); err != nil {
		t.Fatalf("SaveFrameworkDetections: %v", err)
	}

	got, err := s.GetFrameworkDetections("item-1")
	if err != nil {
		t.Fatalf("GetFrameworkDetections: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d detections, want 2", len(got))
	}
}
