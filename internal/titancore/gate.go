package titancore

import (
	"titan/internal/intent"
	"titan/internal/scoring"
	"titan/internal/store"
)

// routingDecision is gateStore's output: the primary layer an add must
// succeed against, plus any best-effort mirror layers.
type routingDecision struct {
	Primary store.Layer
	Mirrors []store.Layer
	Reason  string
}

const (
	highImportanceThreshold   = 0.7
	highPatternBoostThreshold = 0.3
)

// gateStore classifies content into a primary layer and optional mirrors,
// first-match-wins over the spec §4.2.1 table.
func gateStore(content string) routingDecision {
	importance := scoring.ScoreImportance(content)
	patternBoost := scoring.CalculatePatternBoost(content)

	switch {
	case importance > highImportanceThreshold || patternBoost > highPatternBoostThreshold:
		return routingDecision{Primary: store.LayerSemantic, Mirrors: []store.Layer{store.LayerLongTerm}, Reason: "high-value pattern"}
	case scoring.MatchesDefinitionCue(content):
		return routingDecision{Primary: store.LayerFactual, Reason: "factual definition"}
	case scoring.MatchesEventCue(content):
		return routingDecision{Primary: store.LayerEpisodic, Reason: "event/episode"}
	default:
		return routingDecision{Primary: store.LayerLongTerm, Reason: "default + surprise filter"}
	}
}

// queryRouting is gateQuery's output: which layers to search, and which one
// (if any) gets the fusion score's layerWeight boost.
type queryRouting struct {
	Layers        []store.Layer
	PriorityLayer store.Layer
	Broad         bool
	Intent        intent.Intent
	Confidence    float64
}

// gateQuery picks the layers recall should search, per spec §4.2.2, by
// running the intent detector (C7) and routing to its priority layer.
// LongTerm is always included as a fallback; a low-confidence classification
// broadens the search to all four layers rather than trusting a single one.
func gateQuery(query string) queryRouting {
	classification := intent.Detect(query)

	var layers []store.Layer
	addLayer := func(l store.Layer) {
		for _, existing := range layers {
			if existing == l {
				return
			}
		}
		layers = append(layers, l)
	}

	addLayer(classification.PriorityLayer)
	addLayer(store.LayerLongTerm)

	if classification.LowConfidence {
		addLayer(store.LayerFactual)
		addLayer(store.LayerSemantic)
		addLayer(store.LayerEpisodic)
		addLayer(store.LayerLongTerm)
	}

	return queryRouting{
		Layers:        layers,
		PriorityLayer: classification.PriorityLayer,
		Broad:         classification.LowConfidence,
		Intent:        classification.Intent,
		Confidence:    classification.Confidence,
	}
}
