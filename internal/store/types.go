// Package store implements the four layer stores (Factual, LongTerm,
// Semantic, Episodic) from spec component C2, and the shared MemoryEntry
// data model from spec §3.
//
// Design note: the source's open metadata maps become a typed envelope here
// (Metadata) carrying the recognised fields explicitly, plus a small Extra
// overflow map for project-specific keys.
package store

import (
	"encoding/json"
	"time"
)

// Layer identifies one of the four storage planes.
type Layer string

const (
	LayerFactual  Layer = "factual"
	LayerLongTerm Layer = "longterm"
	LayerSemantic Layer = "semantic"
	LayerEpisodic Layer = "episodic"
)

// Valid reports whether l is one of the four recognised layers.
func (l Layer) Valid() bool {
	switch l {
	case LayerFactual, LayerLongTerm, LayerSemantic, LayerEpisodic:
		return true
	default:
		return false
	}
}

// MaxContentLength is the spec §3 invariant ceiling for MemoryEntry.Content.
const MaxContentLength = 100_000

// Metadata is the typed envelope over the recognised MemoryEntry metadata
// fields from spec §3, with Extra catching anything else a caller attaches.
type Metadata struct {
	ProjectID     string     `json:"projectId,omitempty"`
	SessionID     string     `json:"sessionId,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	SurpriseScore *float64   `json:"surpriseScore,omitempty"`
	HelpfulCount  int        `json:"helpfulCount,omitempty"`
	HarmfulCount  int        `json:"harmfulCount,omitempty"`
	LastHelpful   *time.Time `json:"lastHelpful,omitempty"`
	LastHarmful   *time.Time `json:"lastHarmful,omitempty"`
	UtilityScore  *float64   `json:"utilityScore,omitempty"`
	DecayFactor   *float64   `json:"decayFactor,omitempty"`
	LastAccessed  *time.Time `json:"lastAccessed,omitempty"`
	Category      string     `json:"category,omitempty"`
	RoutingReason string     `json:"routingReason,omitempty"`

	// Extra holds project-specific keys not recognised above. Kept separate
	// from the tagged fields so known fields survive round-tripping even
	// when callers pass arbitrary string maps.
	Extra map[string]string `json:"extra,omitempty"`
}

// RecomputeUtility enforces the spec §3 invariant:
// utilityScore = helpful / max(1, helpful+harmful).
func (m *Metadata) RecomputeUtility() {
	total := m.HelpfulCount + m.HarmfulCount
	denom := total
	if denom < 1 {
		denom = 1
	}
	u := float64(m.HelpfulCount) / float64(denom)
	m.UtilityScore = &u
}

// HasTag reports whether tag is present in the metadata's tag set.
func (m *Metadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTags merges new tags into the set without duplicating existing ones.
func (m *Metadata) AddTags(tags ...string) {
	for _, t := range tags {
		if t == "" || m.HasTag(t) {
			continue
		}
		m.Tags = append(m.Tags, t)
	}
}

// MemoryEntry is the unit of knowledge persisted by a layer store.
type MemoryEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Layer     Layer     `json:"layer"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata"`
}

// Clone returns a deep-enough copy of the entry safe for callers to mutate
// without affecting the stored original.
func (e MemoryEntry) Clone() MemoryEntry {
	c := e
	c.Metadata.Tags = append([]string(nil), e.Metadata.Tags...)
	if e.Metadata.Extra != nil {
		c.Metadata.Extra = make(map[string]string, len(e.Metadata.Extra))
		for k, v := range e.Metadata.Extra {
			c.Metadata.Extra[k] = v
		}
	}
	return c
}

// EffectiveUtility returns the stored utility score, or 0.5 (neutral) when
// no feedback has been recorded yet.
func (e MemoryEntry) EffectiveUtility() float64 {
	if e.Metadata.UtilityScore != nil {
		return *e.Metadata.UtilityScore
	}
	return 0.5
}

// EffectiveSurprise returns the stored surprise score, or 0.5 when unset.
func (e MemoryEntry) EffectiveSurprise() float64 {
	if e.Metadata.SurpriseScore != nil {
		return *e.Metadata.SurpriseScore
	}
	return 0.5
}

// QueryOptions configures a layer Query call.
type QueryOptions struct {
	Limit int
}

// QueryResult is the per-layer query response shape from spec §4.1.
type QueryResult struct {
	Memories    []MemoryEntry
	Layer       Layer
	QueryTimeMs int64
	TotalFound  int
}

// fileEnvelope is used for JSON round-tripping a list of entries to disk.
type fileEnvelope struct {
	Entries []MemoryEntry `json:"entries"`
}

func marshalEntries(entries []MemoryEntry) ([]byte, error) {
	return json.MarshalIndent(fileEnvelope{Entries: entries}, "", "  ")
}

func unmarshalEntries(data []byte) ([]MemoryEntry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return env.Entries, nil
}
