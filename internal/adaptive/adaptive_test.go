package adaptive

import (
	"context"
	"testing"

	"titan/internal/config"
	"titan/internal/store"
)

func TestRecordAccessInvalidatesImportanceCache(t *testing.T) {
	ctx := context.Background()
	m := NewManager(config.Default())
	entry := store.MemoryEntry{ID: "m1", Content: "the team decided to use postgres"}

	before := m.ComputeImportance(entry, "")
	m.RecordAccess(ctx, entry.ID, "")
	m.RecordAccess(ctx, entry.ID, "")
	after := m.ComputeImportance(entry, "")

	if after <= before {
		t.Fatalf("expected importance to increase after recorded accesses: before=%v after=%v", before, after)
	}
}

func TestComputeImportanceContextBypassesCache(t *testing.T) {
	m := NewManager(config.Default())
	entry := store.MemoryEntry{ID: "m1", Content: "the quick brown fox jumps over the lazy dog"}

	withoutContext := m.ComputeImportance(entry, "")
	withExactContext := m.ComputeImportance(entry, entry.Content)
	if withExactContext <= withoutContext {
		t.Fatalf("expected full-overlap context query to score higher than neutral: without=%v with=%v", withoutContext, withExactContext)
	}
}

func TestContextWindowEvictsLowestPriority(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.ContextWindow.MaxSize = 2
	m := NewManager(cfg)

	m.RecordAccess(ctx, "a", "")
	m.RecordAccess(ctx, "a", "")
	m.RecordAccess(ctx, "a", "")
	m.RecordAccess(ctx, "b", "")
	m.RecordAccess(ctx, "c", "")

	ids := m.ActiveIDs()
	if len(ids) != 2 {
		t.Fatalf("expected window capped at 2, got %v", ids)
	}
	found := map[string]bool{}
	for _, id := range ids {
		found[id] = true
	}
	if !found["a"] {
		t.Fatalf("expected highest-access id 'a' to survive eviction, got %v", ids)
	}
}

func TestFindConsolidationCandidatesThreshold(t *testing.T) {
	entries := []store.MemoryEntry{
		{ID: "1", Content: "use exponential backoff for retries on transient failures"},
		{ID: "2", Content: "use exponential backoff for retries on transient errors"},
		{ID: "3", Content: "bananas are high in potassium"},
	}
	candidates := FindConsolidationCandidates(entries, 0.5)
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate pair, got %d", len(candidates))
	}
	if candidates[0].First.ID != "1" || candidates[0].Second.ID != "2" {
		t.Fatalf("expected pair (1,2), got (%s,%s)", candidates[0].First.ID, candidates[0].Second.ID)
	}
}

func TestConsolidateProducesMergedContent(t *testing.T) {
	m := NewManager(config.Default())
	m1 := store.MemoryEntry{ID: "1", Content: "Always validate input at system boundaries."}
	m2 := store.MemoryEntry{ID: "2", Content: "Trust internal invariants and validate input at system boundaries."}

	consolidated := m.Consolidate(m1, m2, 0.8)
	if len(consolidated.SourceIDs) != 2 {
		t.Fatalf("expected 2 source ids, got %v", consolidated.SourceIDs)
	}
	if consolidated.Content == "" {
		t.Fatal("expected non-empty consolidated content")
	}
	if consolidated.Summary == "" {
		t.Fatal("expected non-empty summary")
	}
}

func TestFuseEmptyAndSingle(t *testing.T) {
	m := NewManager(config.Default())
	empty := m.Fuse(nil, StrategyMerge)
	if empty.FusedContent != "" || empty.Confidence != 0 {
		t.Fatalf("expected zero-value fusion for empty input, got %+v", empty)
	}
	single := m.Fuse([]store.MemoryEntry{{ID: "1", Content: "solo memory"}}, StrategyMerge)
	if single.FusedContent != "solo memory" || single.Confidence != 1 {
		t.Fatalf("expected identity fusion for single input, got %+v", single)
	}
}

func TestFuseExtractPicksHighestImportance(t *testing.T) {
	m := NewManager(config.Default())
	memories := []store.MemoryEntry{
		{ID: "1", Content: "a trivial short note"},
		{ID: "2", Content: "important: always remember to close database connections, this is critical and must not be skipped"},
	}
	// Importance is access-driven, so give memory 2 an access to rank it first.
	m.RecordAccess(context.Background(), "2", "")
	res := m.Fuse(memories, StrategyExtract)
	if res.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9 for extract, got %v", res.Confidence)
	}
	if res.FusedContent != memories[1].Content {
		t.Fatalf("expected extract to pick the higher-importance memory, got %q", res.FusedContent)
	}
}

func TestClusterMemoriesDiscardsSingletons(t *testing.T) {
	memories := []store.MemoryEntry{
		{ID: "1", Content: "retry with exponential backoff on transient failure"},
		{ID: "2", Content: "retry with exponential backoff on transient error"},
		{ID: "3", Content: "bananas are high in potassium and fiber"},
	}
	clusters := ClusterMemories(memories)
	if len(clusters) != 1 {
		t.Fatalf("expected exactly 1 cluster (singleton discarded), got %d", len(clusters))
	}
	if len(clusters[0].MemberIDs) != 2 {
		t.Fatalf("expected 2 members in the surviving cluster, got %d", len(clusters[0].MemberIDs))
	}
}
