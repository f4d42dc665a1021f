package hashed

import (
	"context"
	"math"
	"testing"
)

func TestEmbed_Deterministic(t *testing.T) {
	p := New(128)

	a, err := p.Embed(context.Background(), "turn on the kitchen lights")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := p.Embed(context.Background(), "turn on the kitchen lights")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(a) != 128 {
		t.Fatalf("expected 128 dims, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at index %d: %v != %v", i, a[i], b[i])
		}
	}
}

func TestEmbed_Normalised(t *testing.T) {
	p := New(0) // default dims

	vec, err := p.Embed(context.Background(), "what's the weather like")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != DefaultDimensions {
		t.Fatalf("expected default %d dims, got %d", DefaultDimensions, len(vec))
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1.0) > 1e-4 {
		t.Errorf("expected unit length, got |v|^2 = %f", sum)
	}
}

func TestEmbed_LexicalOverlapScoresHigher(t *testing.T) {
	p := New(256)
	ctx := context.Background()

	base, _ := p.Embed(ctx, "set the bedroom lights to forty percent")
	near, _ := p.Embed(ctx, "set the bedroom lights to fifty percent")
	far, _ := p.Embed(ctx, "play some jazz in the living room")

	if cosine(base, near) <= cosine(base, far) {
		t.Errorf("expected overlapping text to score higher: near=%f far=%f",
			cosine(base, near), cosine(base, far))
	}
}

func TestEmbedBatch_OrderAndLength(t *testing.T) {
	p := New(64)
	texts := []string{"one", "two", "three"}

	vecs, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}

	solo, _ := p.Embed(context.Background(), "two")
	for i := range solo {
		if vecs[1][i] != solo[i] {
			t.Fatal("batch result differs from single embed of same text")
		}
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	p := New(64)
	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil result for empty input, got %v", vecs)
	}
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot // inputs are unit length
}
