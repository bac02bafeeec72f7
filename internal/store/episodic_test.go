package store

import (
	"context"
	"strings"
	"testing"
)

func TestEpisodicStoreStoreAndReload(t *testing.T) {
	ctx := context.Background()
	paths := newTestPaths(t)
	es, err := NewEpisodicStore(paths)
	if err != nil {
		t.Fatalf("NewEpisodicStore: %v", err)
	}
	stored, err := es.Store(ctx, MemoryEntry{Content: "agent completed task X"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if stored.Layer != LayerEpisodic {
		t.Fatalf("expected layer episodic, got %s", stored.Layer)
	}

	reloaded, err := NewEpisodicStore(paths)
	if err != nil {
		t.Fatalf("reload NewEpisodicStore: %v", err)
	}
	got, err := reloaded.Get(ctx, stored.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Content != stored.Content {
		t.Fatalf("expected entry to survive reload, got %+v", got)
	}
}

func TestEpisodicStoreGetTodayAndAvailableDates(t *testing.T) {
	ctx := context.Background()
	es, err := NewEpisodicStore(newTestPaths(t))
	if err != nil {
		t.Fatalf("NewEpisodicStore: %v", err)
	}
	_, _ = es.Store(ctx, MemoryEntry{Content: "todays entry"})

	today := es.GetToday()
	dates := es.GetAvailableDates()
	if len(dates) != 1 || dates[0] != today {
		t.Fatalf("expected [%s], got %v", today, dates)
	}
}

func TestEpisodicStoreGenerateDailySummary(t *testing.T) {
	ctx := context.Background()
	es, err := NewEpisodicStore(newTestPaths(t))
	if err != nil {
		t.Fatalf("NewEpisodicStore: %v", err)
	}
	_, _ = es.Store(ctx, MemoryEntry{Content: "first highlight"})
	_, _ = es.Store(ctx, MemoryEntry{Content: "second highlight"})

	summary := es.GenerateDailySummary(es.GetToday())
	if summary.EntryCount != 2 {
		t.Fatalf("expected entry count 2, got %d", summary.EntryCount)
	}
	if len(summary.Highlights) != 2 {
		t.Fatalf("expected 2 highlights, got %d", len(summary.Highlights))
	}
}

func TestEpisodicStoreAddToCurated(t *testing.T) {
	paths := newTestPaths(t)
	es, err := NewEpisodicStore(paths)
	if err != nil {
		t.Fatalf("NewEpisodicStore: %v", err)
	}
	if err := es.AddToCurated("always check context cancellation first", "Lessons"); err != nil {
		t.Fatalf("AddToCurated: %v", err)
	}
	data, err := readFileIfExists(paths.CuratedFile())
	if err != nil {
		t.Fatalf("readFileIfExists: %v", err)
	}
	if !strings.Contains(string(data), "## Lessons") {
		t.Fatalf("expected section heading in curated file, got %q", data)
	}
	if !strings.Contains(string(data), "always check context cancellation first") {
		t.Fatalf("expected content in curated file, got %q", data)
	}
}

func TestEpisodicStoreFlushPreCompactionGroupsByCategory(t *testing.T) {
	ctx := context.Background()
	es, err := NewEpisodicStore(newTestPaths(t))
	if err != nil {
		t.Fatalf("NewEpisodicStore: %v", err)
	}
	_, _ = es.Store(ctx, MemoryEntry{Content: "learned X", Metadata: Metadata{Category: "insight"}})
	_, _ = es.Store(ctx, MemoryEntry{Content: "chose Y", Metadata: Metadata{Category: "decision"}})

	flushed, err := es.FlushPreCompaction(ctx)
	if err != nil {
		t.Fatalf("FlushPreCompaction: %v", err)
	}
	if len(flushed) != 1 {
		t.Fatalf("expected 1 flush entry, got %d", len(flushed))
	}
	if !strings.Contains(flushed[0].Content, "learned X") || !strings.Contains(flushed[0].Content, "chose Y") {
		t.Fatalf("expected flush entry to contain grouped content, got %q", flushed[0].Content)
	}
}

func TestEpisodicStoreDeleteRewritesJournal(t *testing.T) {
	ctx := context.Background()
	paths := newTestPaths(t)
	es, err := NewEpisodicStore(paths)
	if err != nil {
		t.Fatalf("NewEpisodicStore: %v", err)
	}
	stored, _ := es.Store(ctx, MemoryEntry{Content: "to be removed"})
	keep, _ := es.Store(ctx, MemoryEntry{Content: "to be kept"})

	if ok, err := es.Delete(ctx, stored.ID); err != nil || !ok {
		t.Fatalf("Delete returned ok=%v err=%v", ok, err)
	}

	reloaded, err := NewEpisodicStore(paths)
	if err != nil {
		t.Fatalf("reload NewEpisodicStore: %v", err)
	}
	count, _ := reloaded.Count(ctx)
	if count != 1 {
		t.Fatalf("expected 1 entry after delete+reload, got %d", count)
	}
	got, _ := reloaded.Get(ctx, keep.ID)
	if got == nil {
		t.Fatal("expected kept entry to survive reload")
	}
}
