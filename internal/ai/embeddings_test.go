package ai

import (
	"context"
	"testing"
)

// Fallback-only service: no API key means the primary path is never tried.
func newFallbackService() *EmbeddingService {
	return &EmbeddingService{dimensions: 768, maxInputChars: 4000}
}

func TestEmbedShape(t *testing.T) {
	es := newFallbackService()

	texts := []string{"", "hello", "Chapter 1 introduces vectors.", "a longer piece of study material text"}
	vecs := es.Embed(context.Background(), texts)

	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}
	for i, v := range vecs {
		if len(v) != es.Dimensions() {
			t.Errorf("vector %d has dimension %d, want %d", i, len(v), es.Dimensions())
		}
	}
}

func TestFallbackDeterministic(t *testing.T) {
	es := newFallbackService()

	a := es.fallbackEmbedding("thermodynamics")
	b := es.fallbackEmbedding("thermodynamics")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("fallback embedding not deterministic at index %d", i)
		}
	}

	c := es.fallbackEmbedding("electromagnetism")
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical fallback embeddings")
	}
}

func TestEmbedTruncatesLongInput(t *testing.T) {
	es := &EmbeddingService{dimensions: 8, maxInputChars: 10}

	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}

	vecs := es.Embed(context.Background(), []string{string(long), string(long[:10])})
	for i := range vecs[0] {
		if vecs[0][i] != vecs[1][i] {
			t.Fatal("truncated input should embed identically to its prefix")
		}
	}
}
