package store

import (
	"context"
	"testing"

	"titan/internal/config"
)

func newTestPaths(t *testing.T) config.Paths {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	return config.NewPaths(cfg, "")
}

func TestFactualStoreStoreAndGet(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFactualStore(newTestPaths(t))
	if err != nil {
		t.Fatalf("NewFactualStore: %v", err)
	}

	stored, err := fs.Store(ctx, MemoryEntry{Content: "the quick brown fox jumps"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if stored.ID == "" {
		t.Fatal("expected generated id")
	}
	if stored.Layer != LayerFactual {
		t.Fatalf("expected layer factual, got %s", stored.Layer)
	}

	got, err := fs.Get(ctx, stored.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Content != stored.Content {
		t.Fatalf("Get returned %+v", got)
	}
}

func TestFactualStoreRejectsOutOfBoundsContent(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFactualStore(newTestPaths(t))
	if err != nil {
		t.Fatalf("NewFactualStore: %v", err)
	}
	if _, err := fs.Store(ctx, MemoryEntry{Content: ""}); err == nil {
		t.Fatal("expected validation error for empty content")
	}
}

func TestFactualStoreQueryRanksByOverlap(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFactualStore(newTestPaths(t))
	if err != nil {
		t.Fatalf("NewFactualStore: %v", err)
	}
	_, _ = fs.Store(ctx, MemoryEntry{Content: "the capital of france is paris"})
	_, _ = fs.Store(ctx, MemoryEntry{Content: "the capital of spain is madrid"})
	_, _ = fs.Store(ctx, MemoryEntry{Content: "bananas are a good source of potassium"})

	res, err := fs.Query(ctx, "what is the capital of france", QueryOptions{Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Memories) == 0 {
		t.Fatal("expected at least one match")
	}
	if res.Memories[0].Content != "the capital of france is paris" {
		t.Fatalf("expected best match to rank first, got %q", res.Memories[0].Content)
	}
}

func TestFactualStoreQueryEmptyTextReturnsRecent(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFactualStore(newTestPaths(t))
	if err != nil {
		t.Fatalf("NewFactualStore: %v", err)
	}
	_, _ = fs.Store(ctx, MemoryEntry{Content: "first fact stored"})
	_, _ = fs.Store(ctx, MemoryEntry{Content: "second fact stored"})

	res, err := fs.Query(ctx, "", QueryOptions{Limit: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Memories) != 2 {
		t.Fatalf("expected 2 recent entries, got %d", len(res.Memories))
	}
}

func TestFactualStoreQueryZeroLimitReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFactualStore(newTestPaths(t))
	if err != nil {
		t.Fatalf("NewFactualStore: %v", err)
	}
	_, _ = fs.Store(ctx, MemoryEntry{Content: "something searchable"})

	res, err := fs.Query(ctx, "something", QueryOptions{Limit: 0})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Memories) != 0 {
		t.Fatalf("expected empty result for non-positive limit, got %d", len(res.Memories))
	}
}

func TestFactualStoreDeleteRemovesFromIndex(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFactualStore(newTestPaths(t))
	if err != nil {
		t.Fatalf("NewFactualStore: %v", err)
	}
	stored, _ := fs.Store(ctx, MemoryEntry{Content: "ephemeral fact to remove"})

	ok, err := fs.Delete(ctx, stored.ID)
	if err != nil || !ok {
		t.Fatalf("Delete returned ok=%v err=%v", ok, err)
	}
	got, err := fs.Get(ctx, stored.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatal("expected entry to be gone after delete")
	}
	count, _ := fs.Count(ctx)
	if count != 0 {
		t.Fatalf("expected count 0 after delete, got %d", count)
	}
}

func TestFactualStorePersistsAcrossReload(t *testing.T) {
	ctx := context.Background()
	paths := newTestPaths(t)
	fs, err := NewFactualStore(paths)
	if err != nil {
		t.Fatalf("NewFactualStore: %v", err)
	}
	_, _ = fs.Store(ctx, MemoryEntry{Content: "durable fact across reload"})

	reloaded, err := NewFactualStore(paths)
	if err != nil {
		t.Fatalf("reload NewFactualStore: %v", err)
	}
	count, _ := reloaded.Count(ctx)
	if count != 1 {
		t.Fatalf("expected 1 entry after reload, got %d", count)
	}
}

func TestFactualStoreHashStats(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFactualStore(newTestPaths(t))
	if err != nil {
		t.Fatalf("NewFactualStore: %v", err)
	}
	_, _ = fs.Store(ctx, MemoryEntry{Content: "alpha beta gamma delta"})
	stats := fs.GetHashStats()
	if stats.Entries != 1 {
		t.Fatalf("expected 1 entry in stats, got %d", stats.Entries)
	}
	if stats.Buckets == 0 {
		t.Fatal("expected at least one bucket")
	}
}
