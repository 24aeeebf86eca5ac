package embedding

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b Vector
		want float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1},
		{"mismatched dims", Vector{1, 0}, Vector{1, 0, 0}, 0},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tc := range cases {
		if got := CosineSimilarity(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: CosineSimilarity = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestNewOpenAIEmbedderWithoutKey(t *testing.T) {
	t.Parallel()

	if e := NewOpenAIEmbedder("", "", ""); e != nil {
		t.Fatal("embedder created without API key, want nil")
	}
}
