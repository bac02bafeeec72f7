package store

import (
	"context"
	"testing"
)

func TestSemanticStoreTracksPatternRecurrence(t *testing.T) {
	ctx := context.Background()
	ss, err := NewSemanticStore(newTestPaths(t))
	if err != nil {
		t.Fatalf("NewSemanticStore: %v", err)
	}
	for i := 0; i < 3; i++ {
		_, err := ss.Store(ctx, MemoryEntry{
			Content:  "retry with exponential backoff on transient errors",
			Metadata: Metadata{Category: "error-handling-pattern"},
		})
		if err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	stats := ss.PatternStats()
	if len(stats) != 1 {
		t.Fatalf("expected 1 pattern type, got %d", len(stats))
	}
	if stats[0].UpdateCount != 3 {
		t.Fatalf("expected update count 3, got %d", stats[0].UpdateCount)
	}
}

func TestSemanticStoreQueryBoostsRecurringPattern(t *testing.T) {
	ctx := context.Background()
	ss, err := NewSemanticStore(newTestPaths(t))
	if err != nil {
		t.Fatalf("NewSemanticStore: %v", err)
	}
	for i := 0; i < 5; i++ {
		_, _ = ss.Store(ctx, MemoryEntry{
			Content:  "use context cancellation to bound request lifetime",
			Metadata: Metadata{Category: "concurrency-pattern"},
		})
	}
	_, _ = ss.Store(ctx, MemoryEntry{
		Content:  "use context cancellation sparingly in background jobs",
		Metadata: Metadata{Category: "rare-pattern"},
	})

	res, err := ss.Query(ctx, "use context cancellation", QueryOptions{Limit: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Memories) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res.Memories))
	}
	if res.Memories[0].Metadata.Category != "concurrency-pattern" {
		t.Fatalf("expected recurring pattern to rank first, got %q", res.Memories[0].Metadata.Category)
	}
}

func TestSemanticStoreDeletePreservesPatternHistory(t *testing.T) {
	ctx := context.Background()
	ss, err := NewSemanticStore(newTestPaths(t))
	if err != nil {
		t.Fatalf("NewSemanticStore: %v", err)
	}
	stored, _ := ss.Store(ctx, MemoryEntry{Content: "a pattern entry", Metadata: Metadata{Category: "x"}})
	if _, err := ss.Delete(ctx, stored.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	stats := ss.PatternStats()
	if len(stats) != 1 || stats[0].UpdateCount != 1 {
		t.Fatalf("expected pattern history to survive delete, got %+v", stats)
	}
}
