// Package intent implements the Intent Detector component (C7): query
// classification into one of seven intents, each with a priority layer and
// search strategy, used to steer gateQuery's layer selection.
package intent

import (
	"regexp"
	"strings"

	"titan/internal/store"
)

// Intent names one of the recognised query classes.
type Intent string

const (
	IntentFactualLookup   Intent = "factual_lookup"
	IntentPatternMatch    Intent = "pattern_match"
	IntentTimelineQuery   Intent = "timeline_query"
	IntentPreferenceCheck Intent = "preference_check"
	IntentErrorLookup     Intent = "error_lookup"
	IntentDecisionReview  Intent = "decision_review"
	IntentExploration     Intent = "exploration"
)

// Strategy names the search approach an intent implies.
type Strategy string

const (
	StrategyExact    Strategy = "exact"
	StrategySemantic Strategy = "semantic"
	StrategyTemporal Strategy = "temporal"
	StrategyHybrid   Strategy = "hybrid"
)

const (
	highConfidenceThreshold = 0.7
	lowConfidenceThreshold  = 0.5
)

// Classification is Detect's result.
type Classification struct {
	Intent        Intent
	PriorityLayer store.Layer
	Strategy      Strategy
	Confidence    float64
	LowConfidence bool
}

type rule struct {
	intent        Intent
	priorityLayer store.Layer
	strategy      Strategy
	signals       []*regexp.Regexp
}

func sig(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(` + pattern + `)\b`)
}

var rules = []rule{
	{
		intent:        IntentFactualLookup,
		priorityLayer: store.LayerFactual,
		strategy:      StrategyExact,
		signals: []*regexp.Regexp{
			sig(`what is`), sig(`define`), sig(`definition of`), sig(`meaning of`),
		},
	},
	{
		intent:        IntentPatternMatch,
		priorityLayer: store.LayerSemantic,
		strategy:      StrategySemantic,
		signals: []*regexp.Regexp{
			sig(`how to`), sig(`why`), sig(`because`), sig(`pattern`), sig(`approach`), sig(`strategy`),
		},
	},
	{
		intent:        IntentTimelineQuery,
		priorityLayer: store.LayerEpisodic,
		strategy:      StrategyTemporal,
		signals: []*regexp.Regexp{
			sig(`yesterday`), sig(`today`), sig(`last week`), sig(`when did`), sig(`history of`),
		},
	},
	{
		intent:        IntentPreferenceCheck,
		priorityLayer: store.LayerEpisodic,
		strategy:      StrategyHybrid,
		signals: []*regexp.Regexp{
			sig(`i prefer`), sig(`my`), sig(`user wants`), sig(`style`), sig(`preference`),
		},
	},
	{
		intent:        IntentErrorLookup,
		priorityLayer: store.LayerLongTerm,
		strategy:      StrategyHybrid,
		signals: []*regexp.Regexp{
			sig(`error`), sig(`exception`), sig(`failed`), sig(`failure`), sig(`bug`), sig(`crash`),
		},
	},
	{
		intent:        IntentDecisionReview,
		priorityLayer: store.LayerSemantic,
		strategy:      StrategyHybrid,
		signals: []*regexp.Regexp{
			sig(`decided`), sig(`decision`), sig(`chose`), sig(`why did we`), sig(`rationale`),
		},
	},
}

// Detect classifies query into the best-scoring intent. Confidence is the
// fraction of that intent's signals matched; below 0.7 the intent is still
// reported but flagged low-confidence. The exploration fallback applies only
// when no rule matched at all, never merely because confidence is low — a
// single distinctive cue (e.g. "what is") should still route to its layer.
func Detect(query string) Classification {
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return Classification{Intent: IntentExploration, PriorityLayer: store.LayerLongTerm, Strategy: StrategyHybrid, Confidence: 0, LowConfidence: true}
	}

	var best Classification
	bestScore := -1.0
	for _, r := range rules {
		matched := 0
		for _, s := range r.signals {
			if s.MatchString(normalized) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		confidence := float64(matched) / float64(len(r.signals))
		if confidence > bestScore {
			bestScore = confidence
			best = Classification{
				Intent:        r.intent,
				PriorityLayer: r.priorityLayer,
				Strategy:      r.strategy,
				Confidence:    confidence,
				LowConfidence: confidence < highConfidenceThreshold,
			}
		}
	}

	if bestScore < 0 {
		return Classification{
			Intent:        IntentExploration,
			PriorityLayer: store.LayerLongTerm,
			Strategy:      StrategyHybrid,
			Confidence:    0,
			LowConfidence: true,
		}
	}
	if bestScore < lowConfidenceThreshold {
		best.LowConfidence = true
	}
	return best
}
