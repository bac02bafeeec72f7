// Package noop implements the NOOP Log + Utility Tracker component (C6): a
// bounded, disk-persisted ring of skipped-write records, and a per-session
// feedback idempotency tracker used by recordFeedback.
package noop

import (
	"encoding/json"
	"sync"
	"time"

	"titan/internal/config"
	"titan/internal/errs"
	"titan/internal/fsutil"
)

// Entry records a single decision not to write a memory (e.g. a duplicate
// or a sub-threshold surprise score).
type Entry struct {
	MemoryContent string    `json:"memoryContent"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

// Stats is getStats's summary shape.
type Stats struct {
	TotalNoops        int
	TotalWrites        int
	ByReason           map[string]int
	Last24h            int
	Last7d             int
	MemoryWriteRatio   float64
}

type logFile struct {
	Entries []Entry `json:"entries"`
	Writes  int     `json:"writes"`
}

// Log is the bounded NOOP ring, persisted to path on every append.
type Log struct {
	mu       sync.Mutex
	path     string
	maxSize  int
	entries  []Entry
	writes   int // total successful primary-layer writes, tracked for memoryWriteRatio
}

// NewLog loads (or initializes) the NOOP log from path.
func NewLog(path string, cfg config.NoopLogConfig) (*Log, error) {
	maxSize := cfg.MaxEntries
	if maxSize <= 0 {
		maxSize = 10_000
	}
	l := &Log{path: path, maxSize: maxSize}

	data, err := fsutil.ReadFileIfExists(path)
	if err != nil {
		return nil, errs.StorageFailure("read noop log", err)
	}
	if len(data) > 0 {
		var lf logFile
		if err := json.Unmarshal(data, &lf); err != nil {
			return nil, errs.StorageFailure("decode noop log", err)
		}
		l.entries = lf.Entries
		l.writes = lf.Writes
	}
	return l, nil
}

// RecordNoop appends a skipped-write entry, persisting the ring.
func (l *Log) RecordNoop(content, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{MemoryContent: content, Reason: reason, Timestamp: time.Now().UTC()})
	if len(l.entries) > l.maxSize {
		l.entries = l.entries[len(l.entries)-l.maxSize:]
	}
	return l.persistLocked()
}

// RecordWrite increments the successful-write counter used by
// memoryWriteRatio, persisting the ring.
func (l *Log) RecordWrite() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes++
	return l.persistLocked()
}

func (l *Log) persistLocked() error {
	data, err := json.MarshalIndent(logFile{Entries: l.entries, Writes: l.writes}, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.AtomicWriteFile(l.path, data, 0o644)
}

// GetStats returns totals, per-reason counts, 24h/7d windowed counts, and
// the memory write ratio, writes / (writes + noops).
func (l *Log) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	stats := Stats{
		TotalNoops: len(l.entries),
		TotalWrites: l.writes,
		ByReason:   make(map[string]int),
	}
	for _, e := range l.entries {
		stats.ByReason[e.Reason]++
		age := now.Sub(e.Timestamp)
		if age <= 24*time.Hour {
			stats.Last24h++
		}
		if age <= 7*24*time.Hour {
			stats.Last7d++
		}
	}
	denom := l.writes + len(l.entries)
	if denom == 0 {
		stats.MemoryWriteRatio = 0
	} else {
		stats.MemoryWriteRatio = float64(l.writes) / float64(denom)
	}
	return stats
}

// UtilityTracker enforces recordFeedback's per-session idempotency: a given
// (memoryId, sessionId) pair may be applied at most once.
type UtilityTracker struct {
	mu      sync.Mutex
	applied map[string]bool
}

// NewUtilityTracker constructs an empty tracker. Idempotency state is
// process-lifetime only: it need not survive a restart, since a repeated
// feedback call after a restart is indistinguishable from a fresh one.
func NewUtilityTracker() *UtilityTracker {
	return &UtilityTracker{applied: make(map[string]bool)}
}

// TryApply reports whether (memoryId, sessionId) has not been seen before,
// marking it seen as a side effect. A false return means the caller should
// not reapply feedback for this pair.
func (t *UtilityTracker) TryApply(memoryID, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := memoryID + "\x00" + sessionID
	if t.applied[key] {
		return false
	}
	t.applied[key] = true
	return true
}

// Weight applies the recall-time utility weighting function:
// weighted = base * (1 + (utility - 0.5)).
func Weight(base, utility float64) float64 {
	return base * (1 + (utility - 0.5))
}
