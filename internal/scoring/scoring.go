// Package scoring implements the novelty, importance, and decay utilities
// shared by gateStore routing (spec component C3) and the adaptive memory
// manager's re-ranking pass (component C4).
package scoring

import (
	"math"
	"regexp"
	"strings"
	"time"

	"titan/internal/config"
)

// Factors is the importance formula's five inputs, each normalised to [0,1]
// before ComputeImportance is called.
type Factors struct {
	Recency      float64
	Frequency    float64
	Relevance    float64
	Connectivity float64
	Surprise     float64
}

// ComputeImportance applies the weighted-sum formula from spec §4.3,
// clamped to [0,1].
func ComputeImportance(f Factors, weights config.ImportanceConfig) float64 {
	score := weights.RecencyWeight*f.Recency +
		weights.FrequencyWeight*f.Frequency +
		weights.RelevanceWeight*f.Relevance +
		weights.ConnectivityWeight*f.Connectivity +
		weights.SurpriseWeight*f.Surprise
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RecencyFactor returns decayRate^daysSinceLastAccess, or 0.5 if lastAccessed
// is nil (never accessed).
func RecencyFactor(lastAccessed *time.Time, decayRate float64, now time.Time) float64 {
	if lastAccessed == nil {
		return 0.5
	}
	days := now.Sub(*lastAccessed).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Pow(decayRate, days)
}

// FrequencyFactor returns min(1, log10(accesses+1)/2).
func FrequencyFactor(accesses int) float64 {
	if accesses < 0 {
		accesses = 0
	}
	v := math.Log10(float64(accesses)+1) / 2
	if v > 1 {
		return 1
	}
	return v
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range tokenPattern.FindAllString(strings.ToLower(s), -1) {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard returns the Jaccard similarity between the lowercase token sets of
// a and b.
func Jaccard(a, b string) float64 {
	setA, setB := tokenSet(a), tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersect := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersect++
		}
	}
	union := len(setA) + len(setB) - intersect
	if union == 0 {
		return 0
	}
	return float64(intersect) / float64(union)
}

// RelevanceFactor returns the Jaccard similarity between content and an
// optional context query, or 0.5 if contextQuery is empty.
func RelevanceFactor(content, contextQuery string) float64 {
	if strings.TrimSpace(contextQuery) == "" {
		return 0.5
	}
	return Jaccard(content, contextQuery)
}

// ConnectivityFactor returns min(1, |tags|*0.2), plus 0.2 if projectID is set.
func ConnectivityFactor(tags []string, projectID string) float64 {
	v := float64(len(tags)) * 0.2
	if v > 1 {
		v = 1
	}
	if projectID != "" {
		v += 0.2
	}
	return clamp01(v)
}

// SurpriseFactor returns the stored surprise score, or 0.5 when unset.
func SurpriseFactor(surpriseScore *float64) float64 {
	if surpriseScore == nil {
		return 0.5
	}
	return *surpriseScore
}

// DecayByAge returns decayRate^days, the multiplier used to age a score.
func DecayByAge(decayRate, days float64) float64 {
	if days < 0 {
		days = 0
	}
	return math.Pow(decayRate, days)
}

var definitionCue = regexp.MustCompile(`(?i)\b(is defined as|means|refers to|is an?\b|is the\b)`)
var eventCue = regexp.MustCompile(`(?i)\b(happened|occurred|did|completed|started|finished)\b`)

// MatchesDefinitionCue reports whether content reads like a definitional
// statement, per the gateStore routing table.
func MatchesDefinitionCue(content string) bool { return definitionCue.MatchString(content) }

// MatchesEventCue reports whether content reads like an episodic event
// report, per the gateStore routing table.
func MatchesEventCue(content string) bool { return eventCue.MatchString(content) }

var importanceSignals = regexp.MustCompile(`(?i)\b(important|critical|always|never|must|remember|crucial|essential|key (decision|insight)|note:)\b`)

// ScoreImportance computes a content-only novelty/importance estimate used
// by gateStore before any access history exists. It favors explicit
// importance language and longer, information-dense content over short or
// filler text.
func ScoreImportance(content string) float64 {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return 0
	}
	score := 0.3

	if n := len(importanceSignals.FindAllString(trimmed, -1)); n > 0 {
		score += math.Min(float64(n)*0.15, 0.4)
	}

	words := strings.Fields(trimmed)
	switch {
	case len(words) >= 40:
		score += 0.2
	case len(words) >= 15:
		score += 0.1
	}

	digits := strings.IndexAny(trimmed, "0123456789")
	if digits >= 0 {
		score += 0.05
	}

	return clamp01(score)
}

var patternSignals = regexp.MustCompile(`(?i)\b(pattern|approach|strategy|should|best practice|rule of thumb|in general|always prefer|avoid|convention)\b`)

// CalculatePatternBoost estimates how much content reads like a reusable
// pattern or heuristic worth promoting into the Semantic layer.
func CalculatePatternBoost(content string) float64 {
	matches := patternSignals.FindAllString(content, -1)
	if len(matches) == 0 {
		return 0
	}
	boost := float64(len(matches)) * 0.15
	return clamp01(boost)
}
