package store

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"titan/internal/config"
	"titan/internal/errs"
)

// FactualStore is a keyed hash index over content n-grams, intended for
// definitional lookups (spec §4.1 "Factual"). Collisions are tolerated and
// reported via GetHashStats.
type FactualStore struct {
	mu         sync.RWMutex
	paths      config.Paths
	entries    map[string]MemoryEntry
	buckets    map[uint32][]string // hash bucket -> entry ids
	idToGrams  map[string][]uint32 // entry id -> bucket hashes it was indexed under
}

// NewFactualStore loads (or initializes) the factual layer for the given
// project paths.
func NewFactualStore(paths config.Paths) (*FactualStore, error) {
	fs := &FactualStore{
		paths:     paths,
		entries:   make(map[string]MemoryEntry),
		buckets:   make(map[uint32][]string),
		idToGrams: make(map[string][]uint32),
	}
	data, err := readFileIfExists(paths.FactualFile())
	if err != nil {
		return nil, errs.StorageFailure("read factual store", err)
	}
	entries, err := unmarshalEntries(data)
	if err != nil {
		return nil, errs.StorageFailure("decode factual store", err)
	}
	for _, e := range entries {
		fs.index(e)
	}
	return fs, nil
}

func ngramHashes(content string) []uint32 {
	tokens := tokenize(content)
	if len(tokens) == 0 {
		return nil
	}
	const n = 3
	seen := make(map[uint32]struct{})
	var out []uint32
	add := func(s string) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(s))
		v := h.Sum32()
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	if len(tokens) < n {
		add(strings.Join(tokens, " "))
		return out
	}
	for i := 0; i+n <= len(tokens); i++ {
		add(strings.Join(tokens[i:i+n], " "))
	}
	return out
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

func (fs *FactualStore) index(e MemoryEntry) {
	hashes := ngramHashes(e.Content)
	fs.entries[e.ID] = e
	fs.idToGrams[e.ID] = hashes
	for _, h := range hashes {
		fs.buckets[h] = appendUnique(fs.buckets[h], e.ID)
	}
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func (fs *FactualStore) unindex(id string) {
	for _, h := range fs.idToGrams[id] {
		bucket := fs.buckets[h]
		for i, existing := range bucket {
			if existing == id {
				fs.buckets[h] = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
		if len(fs.buckets[h]) == 0 {
			delete(fs.buckets, h)
		}
	}
	delete(fs.idToGrams, id)
	delete(fs.entries, id)
}

func (fs *FactualStore) persistLocked() error {
	entries := make([]MemoryEntry, 0, len(fs.entries))
	for _, e := range fs.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	data, err := marshalEntries(entries)
	if err != nil {
		return err
	}
	return atomicWriteFile(fs.paths.FactualFile(), data, 0o644)
}

// Store persists entry into the factual layer.
func (fs *FactualStore) Store(ctx context.Context, entry MemoryEntry) (MemoryEntry, error) {
	if entry.Content == "" || len(entry.Content) > MaxContentLength {
		return MemoryEntry{}, errs.Validation("content length out of bounds")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Layer = LayerFactual
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	fs.index(entry)
	if err := fs.persistLocked(); err != nil {
		fs.unindex(entry.ID)
		return MemoryEntry{}, errs.StorageFailure("persist factual entry", err)
	}
	return entry, nil
}

// Get returns the entry with the given id, or nil if absent.
func (fs *FactualStore) Get(ctx context.Context, id string) (*MemoryEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	e, ok := fs.entries[id]
	if !ok {
		return nil, nil
	}
	clone := e.Clone()
	return &clone, nil
}

// Delete removes the entry with the given id.
func (fs *FactualStore) Delete(ctx context.Context, id string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.entries[id]; !ok {
		return false, nil
	}
	fs.unindex(id)
	if err := fs.persistLocked(); err != nil {
		return false, errs.StorageFailure("persist after factual delete", err)
	}
	return true, nil
}

// Query matches text against the n-gram index and ranks candidates by
// overlap count.
func (fs *FactualStore) Query(ctx context.Context, text string, opts QueryOptions) (QueryResult, error) {
	start := time.Now()
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if opts.Limit <= 0 {
		return QueryResult{Layer: LayerFactual, QueryTimeMs: time.Since(start).Milliseconds()}, nil
	}

	if text == "" {
		return QueryResult{
			Memories:    fs.recentLocked(opts.Limit),
			Layer:       LayerFactual,
			QueryTimeMs: time.Since(start).Milliseconds(),
			TotalFound:  len(fs.entries),
		}, nil
	}

	hashes := ngramHashes(text)
	counts := make(map[string]int)
	for _, h := range hashes {
		for _, id := range fs.buckets[h] {
			counts[id]++
		}
	}
	type scored struct {
		id    string
		score int
	}
	scoredList := make([]scored, 0, len(counts))
	for id, c := range counts {
		scoredList = append(scoredList, scored{id, c})
	}
	sort.Slice(scoredList, func(i, j int) bool {
		if scoredList[i].score != scoredList[j].score {
			return scoredList[i].score > scoredList[j].score
		}
		return scoredList[i].id < scoredList[j].id
	})

	limit := opts.Limit
	if limit > len(scoredList) {
		limit = len(scoredList)
	}
	out := make([]MemoryEntry, 0, limit)
	for _, s := range scoredList[:limit] {
		out = append(out, fs.entries[s.id].Clone())
	}
	return QueryResult{
		Memories:    out,
		Layer:       LayerFactual,
		QueryTimeMs: time.Since(start).Milliseconds(),
		TotalFound:  len(counts),
	}, nil
}

func (fs *FactualStore) recentLocked(limit int) []MemoryEntry {
	all := make([]MemoryEntry, 0, len(fs.entries))
	for _, e := range fs.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if limit > len(all) {
		limit = len(all)
	}
	out := make([]MemoryEntry, limit)
	for i := 0; i < limit; i++ {
		out[i] = all[i].Clone()
	}
	return out
}

// Count returns the number of stored entries.
func (fs *FactualStore) Count(ctx context.Context) (int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.entries), nil
}

// Close is a no-op; the store writes synchronously on every mutation.
func (fs *FactualStore) Close() error { return nil }

// GetHashStats reports the n-gram index's bucket/collision profile.
func (fs *FactualStore) GetHashStats() HashStats {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var collisions int
	for _, ids := range fs.buckets {
		if len(ids) > 1 {
			collisions++
		}
	}
	rate := 0.0
	if len(fs.buckets) > 0 {
		rate = float64(collisions) / float64(len(fs.buckets))
	}
	return HashStats{
		Buckets:       len(fs.buckets),
		Entries:       len(fs.entries),
		CollisionRate: rate,
	}
}
