package llmprovider

import (
	"context"
	"testing"
)

func TestOfflineEmbeddingProviderSimilarTextsScoreHigher(t *testing.T) {
	ctx := context.Background()
	p := NewOfflineEmbeddingProvider()

	a, err := p.Embed(ctx, "the quick brown fox jumps over the lazy dog")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := p.Embed(ctx, "the quick brown fox leaps over a sleepy dog")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	c, err := p.Embed(ctx, "quarterly revenue projections for the finance team")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	simAB := CosineSimilarity(a, b)
	simAC := CosineSimilarity(a, c)
	if simAB <= simAC {
		t.Fatalf("expected related sentences to score higher than unrelated: ab=%v ac=%v", simAB, simAC)
	}
}

func TestCosineSimilarityMismatchedLengths(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); got != 0 {
		t.Fatalf("expected 0 for mismatched lengths, got %v", got)
	}
}

func TestNoopLLMClientDeclines(t *testing.T) {
	client := NoopLLMClient{}
	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != ErrNoProvider {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
}
