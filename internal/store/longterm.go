package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"titan/internal/config"
	"titan/internal/errs"
	"titan/internal/scoring"
)

const defaultDailyDecayRate = 0.95

const momentumWindow = 50

// LongTermStore is the default sink layer. Each memory carries a surprise
// score and decay factor; PruneDecayed removes entries whose effective score
// (surprise x decay-by-age) falls below a threshold.
type LongTermStore struct {
	mu      sync.RWMutex
	paths   config.Paths
	entries map[string]MemoryEntry
	order   []string // insertion order, used for recent-window queries

	momentum []float64 // ring of recent surprise scores
}

// NewLongTermStore loads (or initializes) the long-term layer.
func NewLongTermStore(paths config.Paths) (*LongTermStore, error) {
	lt := &LongTermStore{
		paths:   paths,
		entries: make(map[string]MemoryEntry),
	}
	data, err := readFileIfExists(paths.LongTermFile())
	if err != nil {
		return nil, errs.StorageFailure("read longterm store", err)
	}
	entries, err := unmarshalEntries(data)
	if err != nil {
		return nil, errs.StorageFailure("decode longterm store", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	for _, e := range entries {
		lt.entries[e.ID] = e
		lt.order = append(lt.order, e.ID)
		lt.recordMomentum(e.EffectiveSurprise())
	}
	return lt, nil
}

func (lt *LongTermStore) recordMomentum(surprise float64) {
	lt.momentum = append(lt.momentum, surprise)
	if len(lt.momentum) > momentumWindow {
		lt.momentum = lt.momentum[len(lt.momentum)-momentumWindow:]
	}
}

func (lt *LongTermStore) persistLocked() error {
	entries := make([]MemoryEntry, 0, len(lt.entries))
	for _, id := range lt.order {
		if e, ok := lt.entries[id]; ok {
			entries = append(entries, e)
		}
	}
	data, err := marshalEntries(entries)
	if err != nil {
		return err
	}
	return atomicWriteFile(lt.paths.LongTermFile(), data, 0o644)
}

// Store persists entry into the long-term layer.
func (lt *LongTermStore) Store(ctx context.Context, entry MemoryEntry) (MemoryEntry, error) {
	if entry.Content == "" || len(entry.Content) > MaxContentLength {
		return MemoryEntry{}, errs.Validation("content length out of bounds")
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()
	isNew := entry.ID == ""
	if isNew {
		entry.ID = uuid.NewString()
	}
	entry.Layer = LayerLongTerm
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Metadata.DecayFactor == nil {
		d := defaultDailyDecayRate
		entry.Metadata.DecayFactor = &d
	}
	if _, existed := lt.entries[entry.ID]; !existed {
		lt.order = append(lt.order, entry.ID)
	}
	lt.entries[entry.ID] = entry
	lt.recordMomentum(entry.EffectiveSurprise())
	if err := lt.persistLocked(); err != nil {
		return MemoryEntry{}, errs.StorageFailure("persist longterm entry", err)
	}
	return entry, nil
}

// Get returns the entry with the given id, or nil if absent.
func (lt *LongTermStore) Get(ctx context.Context, id string) (*MemoryEntry, error) {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	e, ok := lt.entries[id]
	if !ok {
		return nil, nil
	}
	clone := e.Clone()
	return &clone, nil
}

// Delete removes the entry with the given id.
func (lt *LongTermStore) Delete(ctx context.Context, id string) (bool, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if _, ok := lt.entries[id]; !ok {
		return false, nil
	}
	delete(lt.entries, id)
	for i, existing := range lt.order {
		if existing == id {
			lt.order = append(lt.order[:i], lt.order[i+1:]...)
			break
		}
	}
	if err := lt.persistLocked(); err != nil {
		return false, errs.StorageFailure("persist after longterm delete", err)
	}
	return true, nil
}

// Query performs a token-overlap search over long-term entries.
func (lt *LongTermStore) Query(ctx context.Context, text string, opts QueryOptions) (QueryResult, error) {
	start := time.Now()
	lt.mu.RLock()
	defer lt.mu.RUnlock()

	if opts.Limit <= 0 {
		return QueryResult{Layer: LayerLongTerm, QueryTimeMs: time.Since(start).Milliseconds()}, nil
	}

	if text == "" {
		return QueryResult{
			Memories:    lt.recentLocked(opts.Limit),
			Layer:       LayerLongTerm,
			QueryTimeMs: time.Since(start).Milliseconds(),
			TotalFound:  len(lt.entries),
		}, nil
	}

	queryTokens := tokenSet(text)
	type scored struct {
		entry MemoryEntry
		score float64
	}
	var results []scored
	for _, id := range lt.order {
		e := lt.entries[id]
		sim := jaccard(queryTokens, tokenSet(e.Content))
		if sim > 0 {
			results = append(results, scored{e, sim})
		}
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
		Layer:       LayerLongTerm,
		QueryTimeMs: time.Since(start).Milliseconds(),
		TotalFound:  len(results),
	}, nil
}

func (lt *LongTermStore) recentLocked(limit int) []MemoryEntry {
	n := len(lt.order)
	if limit > n {
		limit = n
	}
	out := make([]MemoryEntry, limit)
	for i := 0; i < limit; i++ {
		out[i] = lt.entries[lt.order[n-1-i]].Clone()
	}
	return out
}

// Count returns the number of stored entries.
func (lt *LongTermStore) Count(ctx context.Context) (int, error) {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	return len(lt.entries), nil
}

// Close is a no-op; the store writes synchronously on every mutation.
func (lt *LongTermStore) Close() error { return nil }

// EffectiveScore computes surprise x decay-by-age for an entry.
func EffectiveScore(e MemoryEntry, now time.Time) float64 {
	surprise := e.EffectiveSurprise()
	decayRate := defaultDailyDecayRate
	if e.Metadata.DecayFactor != nil {
		decayRate = *e.Metadata.DecayFactor
	}
	days := now.Sub(e.Timestamp).Hours() / 24
	return surprise * scoring.DecayByAge(decayRate, days)
}

// PruneDecayed removes entries whose effective score falls below threshold
// and returns the removed ids.
func (lt *LongTermStore) PruneDecayed(ctx context.Context, threshold float64) ([]string, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	now := time.Now().UTC()
	var removed []string
	for id, e := range lt.entries {
		if EffectiveScore(e, now) < threshold {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(lt.entries, id)
		for i, existing := range lt.order {
			if existing == id {
				lt.order = append(lt.order[:i], lt.order[i+1:]...)
				break
			}
		}
	}
	if len(removed) > 0 {
		if err := lt.persistLocked(); err != nil {
			return nil, errs.StorageFailure("persist after prune", err)
		}
	}
	return removed, nil
}

// GetCurrentMomentum returns the rolling average of recent surprise scores.
func (lt *LongTermStore) GetCurrentMomentum() float64 {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	if len(lt.momentum) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range lt.momentum {
		sum += v
	}
	return sum / float64(len(lt.momentum))
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range strings.Fields(strings.ToLower(s)) {
		set[t] = struct{}{}
	}
	return set
}

// jaccard computes the Jaccard similarity between two token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersect := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersect++
		}
	}
	union := len(a) + len(b) - intersect
	if union == 0 {
		return 0
	}
	return float64(intersect) / float64(union)
}
