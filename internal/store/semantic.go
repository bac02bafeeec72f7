package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"titan/internal/config"
	"titan/internal/errs"
)

// patternIndex tracks how often a pattern type has recurred, keyed by
// Metadata.Category (the spec's "patternType").
type patternIndex struct {
	updateCount     int
	updateFrequency float64 // updates per day since first observed
	firstSeen       time.Time
	lastSeen        time.Time
}

// SemanticStore is the pattern-indexed layer: entries are grouped by
// patternType (Metadata.Category) and the index tracks recurrence so
// frequently reinforced patterns can be weighted higher during recall.
type SemanticStore struct {
	mu      sync.RWMutex
	paths   config.Paths
	entries map[string]MemoryEntry
	order   []string
	byType  map[string]*patternIndex
}

// NewSemanticStore loads (or initializes) the semantic layer.
func NewSemanticStore(paths config.Paths) (*SemanticStore, error) {
	ss := &SemanticStore{
		paths:   paths,
		entries: make(map[string]MemoryEntry),
		byType:  make(map[string]*patternIndex),
	}
	data, err := readFileIfExists(paths.SemanticFile())
	if err != nil {
		return nil, errs.StorageFailure("read semantic store", err)
	}
	entries, err := unmarshalEntries(data)
	if err != nil {
		return nil, errs.StorageFailure("decode semantic store", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	for _, e := range entries {
		ss.entries[e.ID] = e
		ss.order = append(ss.order, e.ID)
		ss.trackPattern(e)
	}
	return ss, nil
}

func (ss *SemanticStore) trackPattern(e MemoryEntry) {
	patternType := e.Metadata.Category
	if patternType == "" {
		patternType = "uncategorized"
	}
	idx, ok := ss.byType[patternType]
	if !ok {
		idx = &patternIndex{firstSeen: e.Timestamp}
		ss.byType[patternType] = idx
	}
	idx.updateCount++
	idx.lastSeen = e.Timestamp
	days := idx.lastSeen.Sub(idx.firstSeen).Hours() / 24
	if days < 1 {
		days = 1
	}
	idx.updateFrequency = float64(idx.updateCount) / days
}

func (ss *SemanticStore) persistLocked() error {
	entries := make([]MemoryEntry, 0, len(ss.entries))
	for _, id := range ss.order {
		if e, ok := ss.entries[id]; ok {
			entries = append(entries, e)
		}
	}
	data, err := marshalEntries(entries)
	if err != nil {
		return err
	}
	return atomicWriteFile(ss.paths.SemanticFile(), data, 0o644)
}

// Store persists entry into the semantic layer and updates its pattern's
// recurrence index.
func (ss *SemanticStore) Store(ctx context.Context, entry MemoryEntry) (MemoryEntry, error) {
	if entry.Content == "" || len(entry.Content) > MaxContentLength {
		return MemoryEntry{}, errs.Validation("content length out of bounds")
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Layer = LayerSemantic
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if _, existed := ss.entries[entry.ID]; !existed {
		ss.order = append(ss.order, entry.ID)
	}
	ss.entries[entry.ID] = entry
	ss.trackPattern(entry)
	if err := ss.persistLocked(); err != nil {
		return MemoryEntry{}, errs.StorageFailure("persist semantic entry", err)
	}
	return entry, nil
}

// Get returns the entry with the given id, or nil if absent.
func (ss *SemanticStore) Get(ctx context.Context, id string) (*MemoryEntry, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	e, ok := ss.entries[id]
	if !ok {
		return nil, nil
	}
	clone := e.Clone()
	return &clone, nil
}

// Delete removes the entry with the given id. The pattern index is left
// intact: recurrence history should survive individual entry removal.
func (ss *SemanticStore) Delete(ctx context.Context, id string) (bool, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if _, ok := ss.entries[id]; !ok {
		return false, nil
	}
	delete(ss.entries, id)
	for i, existing := range ss.order {
		if existing == id {
			ss.order = append(ss.order[:i], ss.order[i+1:]...)
			break
		}
	}
	if err := ss.persistLocked(); err != nil {
		return false, errs.StorageFailure("persist after semantic delete", err)
	}
	return true, nil
}

// Query performs a token-overlap search, boosting candidates whose pattern
// type has a high update frequency.
func (ss *SemanticStore) Query(ctx context.Context, text string, opts QueryOptions) (QueryResult, error) {
	start := time.Now()
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	if opts.Limit <= 0 {
		return QueryResult{Layer: LayerSemantic, QueryTimeMs: time.Since(start).Milliseconds()}, nil
	}

	if text == "" {
		return QueryResult{
			Memories:    ss.recentLocked(opts.Limit),
			Layer:       LayerSemantic,
			QueryTimeMs: time.Since(start).Milliseconds(),
			TotalFound:  len(ss.entries),
		}, nil
	}

	queryTokens := tokenSet(text)
	type scored struct {
		entry MemoryEntry
		score float64
	}
	var results []scored
	for _, id := range ss.order {
		e := ss.entries[id]
		sim := jaccard(queryTokens, tokenSet(e.Content))
		if sim <= 0 {
			continue
		}
		results = append(results, scored{e, sim * ss.patternBoostLocked(e)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].entry.ID < results[j].entry.ID
	})
	limit := opts.Limit
	if limit > len(results) {
		limit = len(results)
	}
	out := make([]MemoryEntry, limit)
	for i := 0; i < limit; i++ {
		out[i] = results[i].entry.Clone()
	}
	return QueryResult{
		Memories:    out,
		Layer:       LayerSemantic,
		QueryTimeMs: time.Since(start).Milliseconds(),
		TotalFound:  len(results),
	}, nil
}

// patternBoostLocked scales a candidate's score by how often its pattern
// type recurs, capped so a single runaway pattern cannot dominate recall.
func (ss *SemanticStore) patternBoostLocked(e MemoryEntry) float64 {
	patternType := e.Metadata.Category
	if patternType == "" {
		patternType = "uncategorized"
	}
	idx, ok := ss.byType[patternType]
	if !ok {
		return 1.0
	}
	boost := 1.0 + 0.1*idx.updateFrequency
	if boost > 2.0 {
		boost = 2.0
	}
	return boost
}

func (ss *SemanticStore) recentLocked(limit int) []MemoryEntry {
	n := len(ss.order)
	if limit > n {
		limit = n
	}
	out := make([]MemoryEntry, limit)
	for i := 0; i < limit; i++ {
		out[i] = ss.entries[ss.order[n-1-i]].Clone()
	}
	return out
}

// Count returns the number of stored entries.
func (ss *SemanticStore) Count(ctx context.Context) (int, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.entries), nil
}

// Close is a no-op; the store writes synchronously on every mutation.
func (ss *SemanticStore) Close() error { return nil }

// PatternStats summarizes a single pattern type's recurrence for introspection.
type PatternStats struct {
	PatternType     string
	UpdateCount     int
	UpdateFrequency float64
}

// PatternStats returns recurrence stats for every observed pattern type.
func (ss *SemanticStore) PatternStats() []PatternStats {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	out := make([]PatternStats, 0, len(ss.byType))
	for pt, idx := range ss.byType {
		out = append(out, PatternStats{PatternType: pt, UpdateCount: idx.updateCount, UpdateFrequency: idx.updateFrequency})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatternType < out[j].PatternType })
	return out
}
