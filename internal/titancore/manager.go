package titancore

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"titan/internal/adaptive"
	"titan/internal/causal"
	"titan/internal/config"
	"titan/internal/errs"
	"titan/internal/llmprovider"
	"titan/internal/noop"
	"titan/internal/store"
)

// allLayers is the fixed iteration order used whenever a Manager operation
// must visit every layer (get, delete, export, getStats): longterm first
// since it is the default sink and most often holds the answer.
var allLayers = []store.Layer{store.LayerLongTerm, store.LayerSemantic, store.LayerFactual, store.LayerEpisodic}

const backgroundQueueWorkers = 4

// Manager is TitanCore: the single owner of the four layer stores, the
// adaptive memory manager, the causal graph, and the NOOP log (spec
// Ownership). It implements gateStore/gateQuery routing and the recall
// fusion pipeline described in spec §4.2.
type Manager struct {
	cfg   config.Config
	paths config.Paths

	factual  *store.FactualStore
	longterm *store.LongTermStore
	semantic *store.SemanticStore
	episodic *store.EpisodicStore
	layers   map[store.Layer]store.LayerStore

	adaptiveMgr *adaptive.Manager
	causalGraph *causal.Graph
	noopLog     *noop.Log
	utility     *noop.UtilityTracker
	world       *WorldModel
	embedder    llmprovider.EmbeddingProvider
	llm         llmprovider.LLMClient

	queue *backgroundQueue
	sf    singleflight.Group

	mu            sync.Mutex
	activeProject string
	lastEntryID   string
}

// NewManager wires together every C2-C7 component for a single project
// scope, rooted at cfg.DataDir.
func NewManager(cfg config.Config) (*Manager, error) {
	paths := config.NewPaths(cfg, "")
	comps, err := loadComponents(cfg, paths)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:         cfg,
		paths:       paths,
		adaptiveMgr: adaptive.NewManager(cfg),
		causalGraph: causal.NewGraph(),
		utility:     noop.NewUtilityTracker(),
		queue:       newBackgroundQueue(backgroundQueueWorkers),
		embedder:    llmprovider.NewOfflineEmbeddingProvider(),
		llm:         llmprovider.NoopLLMClient{},
	}
	m.applyComponents(comps)
	return m, nil
}

// SetEmbeddingProvider swaps in a real embedding backend (spec §6.3's
// pluggable EmbeddingProvider), used by recall's semantic similarity boost.
// Passing nil restores the offline hash-based fallback.
func (m *Manager) SetEmbeddingProvider(p llmprovider.EmbeddingProvider) {
	if p == nil {
		p = llmprovider.NewOfflineEmbeddingProvider()
	}
	m.embedder = p
}

// SetLLMClient swaps in a real completion backend (spec §6.3's pluggable
// LLMClient), used for optional summarisation paths. Passing nil restores
// the offline no-op client.
func (m *Manager) SetLLMClient(c llmprovider.LLMClient) {
	if c == nil {
		c = llmprovider.NoopLLMClient{}
	}
	m.llm = c
}

// components bundles the per-project-scoped pieces that SetActiveProject
// must reload: the four layer stores, the NOOP log, and the world model.
// The adaptive manager, causal graph, utility tracker, and background
// queue are process-lifetime and not reloaded on a project switch.
type components struct {
	factual  *store.FactualStore
	longterm *store.LongTermStore
	semantic *store.SemanticStore
	episodic *store.EpisodicStore
	noopLog  *noop.Log
	world    *WorldModel
}

func loadComponents(cfg config.Config, paths config.Paths) (*components, error) {
	factual, err := store.NewFactualStore(paths)
	if err != nil {
		return nil, err
	}
	longterm, err := store.NewLongTermStore(paths)
	if err != nil {
		return nil, err
	}
	semantic, err := store.NewSemanticStore(paths)
	if err != nil {
		return nil, err
	}
	episodic, err := store.NewEpisodicStore(paths)
	if err != nil {
		return nil, err
	}
	noopLog, err := noop.NewLog(paths.NoopLogFile(), cfg.NoopLog)
	if err != nil {
		return nil, err
	}
	world, err := NewWorldModel(paths)
	if err != nil {
		return nil, err
	}
	return &components{
		factual:  factual,
		longterm: longterm,
		semantic: semantic,
		episodic: episodic,
		noopLog:  noopLog,
		world:    world,
	}, nil
}

func (m *Manager) applyComponents(c *components) {
	m.factual = c.factual
	m.longterm = c.longterm
	m.semantic = c.semantic
	m.episodic = c.episodic
	m.noopLog = c.noopLog
	m.world = c.world
	m.layers = map[store.Layer]store.LayerStore{
		store.LayerFactual:  c.factual,
		store.LayerLongTerm: c.longterm,
		store.LayerSemantic: c.semantic,
		store.LayerEpisodic: c.episodic,
	}
}

var qualityWarnWhitespace = regexp.MustCompile(`^\s*$`)

// validateQuality runs the add path's best-effort quality rules (spec
// §4.2.4 step 4): issues are warnings, never failures.
func validateQuality(content string) []string {
	var warnings []string
	if qualityWarnWhitespace.MatchString(content) {
		warnings = append(warnings, "content is entirely whitespace")
	}
	if len(content) < 8 {
		warnings = append(warnings, "content is unusually short")
	}
	return warnings
}

var causalConnective = regexp.MustCompile(`(?i)\b(because|caused by|led to|resulted in|due to)\b`)

// Add routes content through gateStore, persists it to its primary layer
// (fail-stop), best-effort mirrors it, and schedules post-store side
// effects on the background queue.
func (m *Manager) Add(ctx context.Context, content string, metadata store.Metadata) (store.MemoryEntry, error) {
	if content == "" || len(content) > store.MaxContentLength {
		return store.MemoryEntry{}, errs.Validation("content length out of bounds")
	}

	routing := gateStore(content)

	if tags := m.world.ActiveTags(); len(tags) > 0 {
		metadata.AddTags(tags...)
	}
	metadata.RoutingReason = routing.Reason

	for _, warning := range validateQuality(content) {
		log.Warn().Str("warning", warning).Msg("titancore_add_quality_warning")
	}

	entry, err := m.layers[routing.Primary].Store(ctx, store.MemoryEntry{Content: content, Metadata: metadata})
	if err != nil {
		return store.MemoryEntry{}, err
	}
	if werr := m.noopLog.RecordWrite(); werr != nil {
		log.Warn().Err(werr).Msg("titancore_noop_write_record_failed")
	}

	for _, mirror := range routing.Mirrors {
		mirrorEntry := entry.Clone()
		if _, err := m.layers[mirror].Store(ctx, mirrorEntry); err != nil {
			log.Warn().Err(err).Str("layer", string(mirror)).Msg("titancore_mirror_write_failed")
		}
	}

	m.scheduleAddSideEffects(entry)
	return entry, nil
}

// scheduleAddSideEffects enqueues add's non-fatal post-store work: an
// adaptive access record, and explicit-connective causal linking against
// the previously added memory.
func (m *Manager) scheduleAddSideEffects(entry store.MemoryEntry) {
	m.mu.Lock()
	previous := m.lastEntryID
	m.lastEntryID = entry.ID
	m.mu.Unlock()

	m.queue.Submit("adaptive-access-record", func() {
		m.adaptiveMgr.RecordAccess(context.Background(), entry.ID, "")
	})

	if previous != "" && previous != entry.ID && causalConnective.MatchString(entry.Content) {
		m.queue.Submit("causal-link-extraction", func() {
			m.causalGraph.Link(previous, entry.ID, causal.RelCauses, 0.5, []string{"explicit causal connective in content"})
		})
	}
}

// AddToLayer bypasses gateStore and stores content directly into layer.
func (m *Manager) AddToLayer(ctx context.Context, layer store.Layer, content string, metadata store.Metadata) (store.MemoryEntry, error) {
	if content == "" || len(content) > store.MaxContentLength {
		return store.MemoryEntry{}, errs.Validation("content length out of bounds")
	}
	ls, ok := m.layers[layer]
	if !ok {
		return store.MemoryEntry{}, errs.Validation("unknown layer %q", layer)
	}
	entry, err := ls.Store(ctx, store.MemoryEntry{Content: content, Metadata: metadata})
	if err != nil {
		return store.MemoryEntry{}, err
	}
	m.scheduleAddSideEffects(entry)
	return entry, nil
}

// Get searches every layer for id, returning the first hit in allLayers
// order, or nil if no layer holds it.
func (m *Manager) Get(ctx context.Context, id string) (*store.MemoryEntry, error) {
	for _, layer := range allLayers {
		entry, err := m.layers[layer].Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
	}
	return nil, nil
}

// Delete removes id from every layer holding it, never aborting on a
// per-layer error. It also scrubs any causal edges touching id.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	removedAny := false
	for _, layer := range allLayers {
		removed, err := m.layers[layer].Delete(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("layer", string(layer)).Msg("titancore_delete_layer_failed")
			continue
		}
		if removed {
			removedAny = true
		}
	}
	m.causalGraph.RemoveMemory(id)
	return removedAny, nil
}

// Prune runs the decay pass (always) and the utility pass (only if
// opts.HasUtilityThreshold), per spec §4.2.6.
func (m *Manager) Prune(ctx context.Context, opts PruneOptions) (PruneResult, error) {
	var result PruneResult

	decayed, err := m.longterm.PruneDecayed(ctx, opts.DecayThreshold)
	if err != nil {
		return result, err
	}
	result.PrunedByDecay = decayed
	result.Pruned = append(result.Pruned, decayed...)
	for _, id := range decayed {
		m.causalGraph.RemoveMemory(id)
	}

	if opts.HasUtilityThreshold {
		minFeedback := opts.MinFeedback
		for _, layer := range allLayers {
			ls := m.layers[layer]
			count, err := ls.Count(ctx)
			if err != nil || count == 0 {
				continue
			}
			all, err := ls.Query(ctx, "", store.QueryOptions{Limit: count})
			if err != nil {
				continue
			}
			for _, e := range all.Memories {
				total := e.Metadata.HelpfulCount + e.Metadata.HarmfulCount
				if total < minFeedback {
					continue
				}
				if e.EffectiveUtility() < opts.UtilityThreshold {
					if _, err := ls.Delete(ctx, e.ID); err == nil {
						result.PrunedByUtility = append(result.PrunedByUtility, e.ID)
						result.Pruned = append(result.Pruned, e.ID)
						m.causalGraph.RemoveMemory(e.ID)
					}
				}
			}
		}
	}

	return result, nil
}

// RecordFeedback applies helpful/harmful feedback to every layer row
// holding memoryID, idempotently within sessionID.
func (m *Manager) RecordFeedback(ctx context.Context, memoryID, sessionID, signal string) (FeedbackResult, error) {
	if signal != "helpful" && signal != "harmful" {
		return FeedbackResult{}, errs.Validation("unknown feedback signal %q", signal)
	}
	if !m.utility.TryApply(memoryID, sessionID) {
		return FeedbackResult{Success: false, Message: "already recorded"}, nil
	}

	applied := false
	now := time.Now().UTC()
	for _, layer := range allLayers {
		ls := m.layers[layer]
		entry, err := ls.Get(ctx, memoryID)
		if err != nil || entry == nil {
			continue
		}
		if signal == "helpful" {
			entry.Metadata.HelpfulCount++
			entry.Metadata.LastHelpful = &now
		} else {
			entry.Metadata.HarmfulCount++
			entry.Metadata.LastHarmful = &now
		}
		entry.Metadata.RecomputeUtility()

		if _, err := ls.Delete(ctx, memoryID); err != nil {
			log.Warn().Err(err).Str("layer", string(layer)).Msg("titancore_feedback_repersist_failed")
			continue
		}
		if _, err := ls.Store(ctx, *entry); err != nil {
			log.Warn().Err(err).Str("layer", string(layer)).Msg("titancore_feedback_repersist_failed")
			continue
		}
		applied = true
	}
	if !applied {
		return FeedbackResult{Success: false, Message: "memory not found"}, nil
	}
	return FeedbackResult{Success: true, Message: "applied"}, nil
}

// FlushPreCompaction delegates to the episodic store's pre-compaction
// summary flush.
func (m *Manager) FlushPreCompaction(ctx context.Context) ([]store.MemoryEntry, error) {
	return m.episodic.FlushPreCompaction(ctx)
}

// SummarizeDay narrates date's episodic highlights through the configured
// LLMClient, falling back to the stored highlight digest joined as plain
// text when no LLM is configured (or it declines, per NoopLLMClient).
func (m *Manager) SummarizeDay(ctx context.Context, date string) (string, error) {
	digest := m.episodic.GenerateDailySummary(date)
	if len(digest.Highlights) == 0 {
		return "", nil
	}
	messages := []llmprovider.Message{
		{Role: "system", Content: "Summarize the day's memory highlights in two sentences."},
		{Role: "user", Content: strings.Join(digest.Highlights, "\n")},
	}
	completion, err := m.llm.Complete(ctx, messages)
	if err == nil && completion.Content != "" {
		return completion.Content, nil
	}
	return strings.Join(digest.Highlights, " "), nil
}

// Curate appends content to the human-curated markdown file under section.
func (m *Manager) Curate(content, section string) error {
	return m.episodic.AddToCurated(content, section)
}

// Export dumps every layer's entries, best-effort; a layer-level failure is
// joined into the returned error but does not prevent the other layers'
// entries from being returned.
func (m *Manager) Export(ctx context.Context) (map[store.Layer][]store.MemoryEntry, error) {
	out := make(map[store.Layer][]store.MemoryEntry)
	var layerErrs []error
	for _, layer := range allLayers {
		ls := m.layers[layer]
		count, err := ls.Count(ctx)
		if err != nil {
			layerErrs = append(layerErrs, err)
			continue
		}
		if count == 0 {
			continue
		}
		result, err := ls.Query(ctx, "", store.QueryOptions{Limit: count})
		if err != nil {
			layerErrs = append(layerErrs, err)
			continue
		}
		out[layer] = result.Memories
	}
	return out, errors.Join(layerErrs...)
}

// SetActiveProject switches every layer store, the NOOP log, and the world
// model to a new project scope, re-loading their state from disk under it.
// The adaptive manager, causal graph, utility tracker, and background queue
// are kept as they are.
func (m *Manager) SetActiveProject(projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if projectID == m.activeProject {
		return nil
	}
	newPaths := m.paths.WithProject(projectID)
	comps, err := loadComponents(m.cfg, newPaths)
	if err != nil {
		return err
	}
	m.paths = newPaths
	m.applyComponents(comps)
	m.activeProject = projectID
	return nil
}

// GetStats summarises per-layer counts, the NOOP write ratio, the causal
// graph's edge count, and LongTerm's current surprise momentum.
func (m *Manager) GetStats(ctx context.Context) (Stats, error) {
	counts := make(map[store.Layer]int, len(allLayers))
	for _, layer := range allLayers {
		count, err := m.layers[layer].Count(ctx)
		if err != nil {
			return Stats{}, err
		}
		counts[layer] = count
	}
	return Stats{
		LayerCounts:     counts,
		NoopWriteRatio:  m.noopLog.GetStats().MemoryWriteRatio,
		CausalEdgeCount: m.causalGraph.EdgeCount(),
		CurrentMomentum: m.longterm.GetCurrentMomentum(),
	}, nil
}

// Close drains the background task queue. Layer stores persist synchronously
// on every mutation, so there is nothing else to flush.
func (m *Manager) Close() error {
	m.queue.Drain()
	return nil
}
