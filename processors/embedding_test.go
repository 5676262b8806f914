package processors

import (
	"context"
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{3, 2, 1}

	if got, want := CosineSimilarity(a, a), 1.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("self similarity = %v, want 1", got)
	}
	if CosineSimilarity(a, b) != CosineSimilarity(b, a) {
		t.Errorf("similarity not symmetric")
	}
	if got := CosineSimilarity(a, []float32{1, 2}); got != 0 {
		t.Errorf("mismatched length = %v, want exactly 0", got)
	}
	if got := CosineSimilarity(nil, a); got != 0 {
		t.Errorf("nil vector = %v, want exactly 0", got)
	}
	if got := CosineSimilarity([]float32{}, []float32{}); got != 0 {
		t.Errorf("empty vectors = %v, want exactly 0", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("zero-norm vector = %v, want exactly 0", got)
	}
}

func TestMockEmbedderDeterministic(t *testing.T) {
	m := &MockEmbedder{Dim: 8}
	ctx := context.Background()

	v1, err := m.Embed(ctx, "database indexing strategies")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	v2, _ := m.Embed(ctx, "database indexing strategies")
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("mock embedding not deterministic at %d", i)
		}
	}

	same, _ := m.Embed(ctx, "database indexing")
	other, _ := m.Embed(ctx, "cooking pasta recipes")
	if CosineSimilarity(v1, same) <= CosineSimilarity(v1, other) {
		t.Errorf("token overlap should score higher than disjoint text")
	}
}

func TestMockEmbedderFailure(t *testing.T) {
	m := &MockEmbedder{Fail: true}
	if m.Available() {
		t.Errorf("failing mock must report unavailable")
	}
	if _, err := m.Embed(context.Background(), "x"); err == nil {
		t.Errorf("expected error from failing mock")
	}
}
