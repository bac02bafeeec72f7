// Package titancore implements the Memory Manager component (C8):
// TitanCore orchestrates the four layer stores, the adaptive memory
// manager, the causal graph, and the NOOP log behind gateStore/gateQuery
// routing and a scored recall fusion pipeline.
package titancore

import (
	"titan/internal/intent"
	"titan/internal/store"
)

// DisclosureMode selects how much of a recalled memory's content the caller
// receives, per spec §4.2.3 step 4.
type DisclosureMode string

const (
	DisclosureFull     DisclosureMode = "full"
	DisclosureSummary  DisclosureMode = "summary"
	DisclosureMetadata DisclosureMode = "metadata"
)

// RecallOptions configures a recall call.
type RecallOptions struct {
	Limit int
	Mode  DisclosureMode
}

// DisclosedMemory is one fused, scored, and shaped recall result.
type DisclosedMemory struct {
	store.MemoryEntry
	Score         float64
	TokenEstimate int
}

// LayerResult reports one layer's contribution to a recall call.
type LayerResult struct {
	Layer      store.Layer
	Count      int
	IsPriority bool
}

// RecallResult is recall's full response shape.
type RecallResult struct {
	FusedMemories    []DisclosedMemory
	Results          []LayerResult
	TotalQueryTimeMs int64
	DetectedIntent   intent.Intent
	IntentConfidence float64
}

// PruneOptions configures a prune call.
type PruneOptions struct {
	DecayThreshold   float64
	UtilityThreshold float64
	// HasUtilityThreshold distinguishes "prune with utilityThreshold=0" from
	// "utilityThreshold not supplied" (spec §4.2.6: the utility pass only
	// runs when a threshold was explicitly given).
	HasUtilityThreshold bool
	MinFeedback         int
}

// PruneResult is prune's summary of what it removed.
type PruneResult struct {
	Pruned          []string
	PrunedByDecay   []string
	PrunedByUtility []string
}

// FeedbackResult is recordFeedback's outcome.
type FeedbackResult struct {
	Success bool
	Message string
}

// Stats is getStats's summary shape.
type Stats struct {
	LayerCounts      map[store.Layer]int
	NoopWriteRatio   float64
	CausalEdgeCount  int
	CurrentMomentum  float64
}
