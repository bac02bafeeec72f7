package titancore

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"titan/internal/llmprovider"
	"titan/internal/noop"
	"titan/internal/store"
)

const (
	priorityLayerWeight = 1.5
	defaultLayerWeight  = 1.0
	positionDecay       = 0.9
	semanticBoostWeight = 0.15
)

// Recall runs the full gateQuery -> fan-out -> fusion -> dedup -> utility
// weighting -> adaptive re-rank -> progressive disclosure pipeline from
// spec §4.2.3. Concurrent identical recall calls are coalesced so repeated
// fan-out work is not duplicated.
func (m *Manager) Recall(ctx context.Context, query string, opts RecallOptions) (RecallResult, error) {
	start := time.Now()

	if opts.Limit <= 0 {
		routing := gateQuery(query)
		results := make([]LayerResult, 0, len(routing.Layers))
		for _, layer := range routing.Layers {
			results = append(results, LayerResult{Layer: layer, Count: 0, IsPriority: layer == routing.PriorityLayer})
		}
		return RecallResult{
			Results:          results,
			TotalQueryTimeMs: time.Since(start).Milliseconds(),
			DetectedIntent:   routing.Intent,
			IntentConfidence: routing.Confidence,
		}, nil
	}

	sfKey := query + "\x00" + strconv.Itoa(opts.Limit) + "\x00" + string(opts.Mode)
	raw, err, _ := m.sf.Do(sfKey, func() (interface{}, error) {
		return m.recallUncached(ctx, query, opts)
	})
	if err != nil {
		return RecallResult{}, err
	}
	result := raw.(RecallResult)
	result.TotalQueryTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

func (m *Manager) recallUncached(ctx context.Context, query string, opts RecallOptions) (RecallResult, error) {
	routing := gateQuery(query)
	fanoutLimit := opts.Limit * 2

	perLayer := make(map[store.Layer][]store.MemoryEntry, len(routing.Layers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, layer := range routing.Layers {
		layer := layer
		g.Go(func() error {
			qr, err := m.layers[layer].Query(gctx, query, store.QueryOptions{Limit: fanoutLimit})
			if err != nil {
				return err
			}
			mu.Lock()
			perLayer[layer] = qr.Memories
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RecallResult{}, err
	}

	results := make([]LayerResult, 0, len(routing.Layers))
	for _, layer := range routing.Layers {
		results = append(results, LayerResult{
			Layer:      layer,
			Count:      len(perLayer[layer]),
			IsPriority: layer == routing.PriorityLayer,
		})
	}

	scored := scoreAndDedup(perLayer, routing.PriorityLayer)
	applyUtilityWeighting(scored)
	m.applySemanticBoost(ctx, scored, query)
	m.adaptiveRerank(scored, query)

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entry.ID < scored[j].Entry.ID
	})

	if opts.Limit > 0 && len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}

	fused := make([]DisclosedMemory, 0, len(scored))
	for _, s := range scored {
		m.adaptiveMgr.RecordAccess(ctx, s.Entry.ID, query)
		fused = append(fused, disclose(s.Entry, s.Score, opts.Mode))
	}

	return RecallResult{
		FusedMemories:    fused,
		Results:          results,
		DetectedIntent:   routing.Intent,
		IntentConfidence: routing.Confidence,
	}, nil
}

// scoredEntry pairs a fused memory with its running fusion score.
type scoredEntry struct {
	Entry store.MemoryEntry
	Score float64
}

// dedupKey is the spec §4.2.3 `<hash_base36>_<len>` composite key: a 32-bit
// content hash combined with content length, so two different documents
// sharing a prefix do not collide.
func dedupKey(content string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(content))
	return strconv.FormatUint(uint64(h.Sum32()), 36) + "_" + strconv.Itoa(len(content))
}

// scoreAndDedup computes layerWeight * positionDecay^position for every
// per-layer result and collapses duplicates (by dedupKey) to the
// highest-scoring occurrence.
func scoreAndDedup(perLayer map[store.Layer][]store.MemoryEntry, priorityLayer store.Layer) []*scoredEntry {
	best := make(map[string]*scoredEntry)
	var order []string

	for layer, entries := range perLayer {
		weight := defaultLayerWeight
		if layer == priorityLayer {
			weight = priorityLayerWeight
		}
		for position, entry := range entries {
			score := weight * math.Pow(positionDecay, float64(position))
			key := dedupKey(entry.Content)
			if existing, ok := best[key]; ok {
				if score > existing.Score {
					existing.Score = score
					existing.Entry = entry
				}
				continue
			}
			best[key] = &scoredEntry{Entry: entry, Score: score}
			order = append(order, key)
		}
	}

	out := make([]*scoredEntry, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// applyUtilityWeighting re-scores every candidate with
// weightedScore = positionScore * (1 + (utilityScore-0.5)) using the stored
// utility score (0.5 neutral if unset), per spec §4.2.3 step 1.
func applyUtilityWeighting(scored []*scoredEntry) {
	for _, s := range scored {
		s.Score = noop.Weight(s.Score, s.Entry.EffectiveUtility())
	}
}

// applySemanticBoost nudges scores toward entries whose embedding (real,
// if an EmbeddingProvider is configured, or the offline hash-based
// fallback) is cosine-close to the query's, on top of the lexical fusion
// score. A failed or empty embedding leaves scores untouched.
func (m *Manager) applySemanticBoost(ctx context.Context, scored []*scoredEntry, query string) {
	queryVec, err := m.embedder.Embed(ctx, query)
	if err != nil || len(queryVec) == 0 {
		return
	}
	for _, s := range scored {
		entryVec, err := m.embedder.Embed(ctx, s.Entry.Content)
		if err != nil {
			continue
		}
		sim := llmprovider.CosineSimilarity(queryVec, entryVec)
		s.Score *= 1 + semanticBoostWeight*sim
	}
}

// adaptiveRerank nudges scores by the adaptive manager's five-factor
// importance, used as a tie-breaker per spec §4.2.3 step 2: ties in the
// primary fusion/utility score are broken by importance, never the reverse.
func (m *Manager) adaptiveRerank(scored []*scoredEntry, query string) {
	const tieBreakerWeight = 1e-6
	for _, s := range scored {
		importance := m.adaptiveMgr.ComputeImportance(s.Entry, query)
		s.Score += importance * tieBreakerWeight
	}
}

// disclose shapes an entry per the requested progressive disclosure mode.
func disclose(entry store.MemoryEntry, score float64, mode DisclosureMode) DisclosedMemory {
	switch mode {
	case DisclosureSummary, DisclosureMetadata:
		content := entry.Content
		if len(content) > 100 {
			content = content[:100] + "…"
		}
		tokenEstimate := int(math.Ceil(float64(len(entry.Content)) / 4))
		if mode == DisclosureMetadata {
			content = ""
		}
		shaped := entry.Clone()
		shaped.Content = content
		return DisclosedMemory{MemoryEntry: shaped, Score: score, TokenEstimate: tokenEstimate}
	default:
		return DisclosedMemory{MemoryEntry: entry.Clone(), Score: score}
	}
}
