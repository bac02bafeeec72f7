package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"titan/internal/config"
	"titan/internal/errs"
)

const dateLayout = "2006-01-02"

// DailySummary is the generated digest of a single day's episodic entries.
type DailySummary struct {
	Date       string
	EntryCount int
	Highlights []string
}

// PreCompactionSummary groups a flush's entries by the categories the spec
// asks consolidation to preserve before a context-window compaction event.
type PreCompactionSummary struct {
	Insights  []string `json:"insights"`
	Decisions []string `json:"decisions"`
	Errors    []string `json:"errors"`
	Solutions []string `json:"solutions"`
}

// EpisodicStore is the append-only per-day journal layer. Each calendar
// day (UTC) gets its own JSONL file under the episodic directory; entries
// are appended rather than rewritten in place, matching the journal's
// write-once nature.
type EpisodicStore struct {
	mu          sync.RWMutex
	paths       config.Paths
	entries     map[string]MemoryEntry
	idToDate    map[string]string
	byDate      map[string][]string // date -> ordered entry ids
}

// NewEpisodicStore loads (or initializes) the episodic layer, reading every
// existing per-day journal file under the episodic directory.
func NewEpisodicStore(paths config.Paths) (*EpisodicStore, error) {
	es := &EpisodicStore{
		paths:    paths,
		entries:  make(map[string]MemoryEntry),
		idToDate: make(map[string]string),
		byDate:   make(map[string][]string),
	}
	dir := paths.EpisodicDir()
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return es, nil
		}
		return nil, errs.StorageFailure("read episodic dir", err)
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
			continue
		}
		date := strings.TrimSuffix(f.Name(), ".jsonl")
		entries, err := readJSONL(filepath.Join(dir, f.Name()))
		if err != nil {
			return nil, errs.StorageFailure(fmt.Sprintf("read journal %s", f.Name()), err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
		for _, e := range entries {
			es.entries[e.ID] = e
			es.idToDate[e.ID] = date
			es.byDate[date] = append(es.byDate[date], e.ID)
		}
	}
	return es, nil
}

func readJSONL(path string) ([]MemoryEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var out []MemoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e MemoryEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}

func (es *EpisodicStore) appendLineLocked(date string, e MemoryEntry) error {
	dir := es.paths.EpisodicDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	path := es.paths.EpisodicFile(date)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// rewriteDateLocked fully rewrites a day's journal, used only when an entry
// is removed (the one operation the append-only layout cannot express as a
// pure append).
func (es *EpisodicStore) rewriteDateLocked(date string) error {
	ids := es.byDate[date]
	var buf bytes.Buffer
	for _, id := range ids {
		e, ok := es.entries[id]
		if !ok {
			continue
		}
		line, err := json.Marshal(e)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return atomicWriteFile(es.paths.EpisodicFile(date), buf.Bytes(), 0o644)
}

// Store appends entry to the journal for its timestamp's UTC calendar day.
func (es *EpisodicStore) Store(ctx context.Context, entry MemoryEntry) (MemoryEntry, error) {
	if entry.Content == "" || len(entry.Content) > MaxContentLength {
		return MemoryEntry{}, errs.Validation("content length out of bounds")
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Layer = LayerEpisodic
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	date := entry.Timestamp.UTC().Format(dateLayout)
	if err := es.appendLineLocked(date, entry); err != nil {
		return MemoryEntry{}, errs.StorageFailure("append episodic entry", err)
	}
	es.entries[entry.ID] = entry
	es.idToDate[entry.ID] = date
	es.byDate[date] = append(es.byDate[date], entry.ID)
	return entry, nil
}

// Get returns the entry with the given id, or nil if absent.
func (es *EpisodicStore) Get(ctx context.Context, id string) (*MemoryEntry, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	e, ok := es.entries[id]
	if !ok {
		return nil, nil
	}
	clone := e.Clone()
	return &clone, nil
}

// Delete removes the entry with the given id, rewriting its day's journal.
func (es *EpisodicStore) Delete(ctx context.Context, id string) (bool, error) {
	es.mu.Lock()
	defer es.mu.Unlock()
	date, ok := es.idToDate[id]
	if !ok {
		return false, nil
	}
	delete(es.entries, id)
	delete(es.idToDate, id)
	ids := es.byDate[date]
	for i, existing := range ids {
		if existing == id {
			es.byDate[date] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if err := es.rewriteDateLocked(date); err != nil {
		return false, errs.StorageFailure("rewrite journal after delete", err)
	}
	return true, nil
}

// Query performs a token-overlap search across all loaded days, ranked by
// overlap score with ties broken by id. An empty query returns the most
// recent entries, newest first.
func (es *EpisodicStore) Query(ctx context.Context, text string, opts QueryOptions) (QueryResult, error) {
	start := time.Now()
	es.mu.RLock()
	defer es.mu.RUnlock()

	if opts.Limit <= 0 {
		return QueryResult{Layer: LayerEpisodic, QueryTimeMs: time.Since(start).Milliseconds()}, nil
	}

	if text == "" {
		return QueryResult{
			Memories:    es.recentLocked(opts.Limit),
			Layer:       LayerEpisodic,
			QueryTimeMs: time.Since(start).Milliseconds(),
			TotalFound:  len(es.entries),
		}, nil
	}

	queryTokens := tokenSet(text)
	type scored struct {
		entry MemoryEntry
		score float64
	}
	var results []scored
	for _, e := range es.entries {
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
		Layer:       LayerEpisodic,
		QueryTimeMs: time.Since(start).Milliseconds(),
		TotalFound:  len(results),
	}, nil
}

func (es *EpisodicStore) recentLocked(limit int) []MemoryEntry {
	dates := es.sortedDatesLocked(true)
	out := make([]MemoryEntry, 0, limit)
	for _, date := range dates {
		ids := es.byDate[date]
		for i := len(ids) - 1; i >= 0; i-- {
			if len(out) >= limit {
				return out
			}
			out = append(out, es.entries[ids[i]].Clone())
		}
	}
	return out
}

func (es *EpisodicStore) sortedDatesLocked(desc bool) []string {
	dates := make([]string, 0, len(es.byDate))
	for d, ids := range es.byDate {
		if len(ids) > 0 {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool {
		if desc {
			return dates[i] > dates[j]
		}
		return dates[i] < dates[j]
	})
	return dates
}

// Count returns the number of stored entries across all days.
func (es *EpisodicStore) Count(ctx context.Context) (int, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return len(es.entries), nil
}

// Close is a no-op; the store writes synchronously on every mutation.
func (es *EpisodicStore) Close() error { return nil }

// GetToday returns today's UTC date key, in the journal's filename format.
func (es *EpisodicStore) GetToday() string {
	return time.Now().UTC().Format(dateLayout)
}

// GetAvailableDates returns every date with at least one journal entry,
// newest first.
func (es *EpisodicStore) GetAvailableDates() []string {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.sortedDatesLocked(true)
}

// GenerateDailySummary builds a digest of the given date's entries.
func (es *EpisodicStore) GenerateDailySummary(date string) DailySummary {
	es.mu.RLock()
	defer es.mu.RUnlock()
	ids := es.byDate[date]
	summary := DailySummary{Date: date, EntryCount: len(ids)}
	const maxHighlights = 5
	for _, id := range ids {
		if len(summary.Highlights) >= maxHighlights {
			break
		}
		content := es.entries[id].Content
		if len(content) > 160 {
			content = content[:160] + "..."
		}
		summary.Highlights = append(summary.Highlights, content)
	}
	return summary
}

// AddToCurated appends content under the given section heading in the
// human-curated MEMORY.md file, creating the section if it does not exist.
func (es *EpisodicStore) AddToCurated(content, section string) error {
	es.mu.Lock()
	defer es.mu.Unlock()
	path := es.paths.CuratedFile()
	existing, err := readFileIfExists(path)
	if err != nil {
		return errs.StorageFailure("read curated memory", err)
	}
	text := string(existing)
	if text == "" {
		text = "# Memory\n"
	}
	heading := "## " + section
	if !strings.Contains(text, heading) {
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		text += "\n" + heading + "\n"
	}
	entry := fmt.Sprintf("- %s (%s)\n", content, time.Now().UTC().Format(time.RFC3339))
	idx := strings.Index(text, heading)
	insertAt := idx + len(heading)
	if nl := strings.Index(text[insertAt:], "\n"); nl >= 0 {
		insertAt += nl + 1
	} else {
		insertAt = len(text)
	}
	text = text[:insertAt] + entry + text[insertAt:]
	return atomicWriteFile(path, []byte(text), 0o644)
}

// FlushPreCompaction groups today's categorized entries (insight, decision,
// error, solution) into one summary entry, stores it, and returns it.
func (es *EpisodicStore) FlushPreCompaction(ctx context.Context) ([]MemoryEntry, error) {
	date := es.GetToday()
	es.mu.RLock()
	ids := append([]string(nil), es.byDate[date]...)
	entriesByID := make(map[string]MemoryEntry, len(ids))
	for _, id := range ids {
		entriesByID[id] = es.entries[id]
	}
	es.mu.RUnlock()

	summary := PreCompactionSummary{}
	for _, id := range ids {
		e := entriesByID[id]
		switch e.Metadata.Category {
		case "insight":
			summary.Insights = append(summary.Insights, e.Content)
		case "decision":
			summary.Decisions = append(summary.Decisions, e.Content)
		case "error":
			summary.Errors = append(summary.Errors, e.Content)
		case "solution":
			summary.Solutions = append(summary.Solutions, e.Content)
		}
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return nil, errs.StorageFailure("marshal precompaction summary", err)
	}
	flushEntry := MemoryEntry{
		Content: string(payload),
		Layer:   LayerEpisodic,
		Metadata: Metadata{
			Category: "precompaction-summary",
		},
	}
	stored, err := es.Store(ctx, flushEntry)
	if err != nil {
		return nil, err
	}
	return []MemoryEntry{stored}, nil
}
