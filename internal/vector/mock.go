package vector

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// MockProvider is a deterministic, dependency-free embedding provider:
// each token hashes into a fixed bucket, so texts sharing words produce
// similar vectors. Good enough for tests and offline development; not a
// real semantic model.
type MockProvider struct {
	Dims int
}

// NewMockProvider returns a mock provider with a small dimension count.
func NewMockProvider() *MockProvider {
	return &MockProvider{Dims: 128}
}

func (m *MockProvider) Name() string  { return "mock" }
func (m *MockProvider) Model() string { return "bag-of-words" }

// Embed hashes each token into a bucket and normalizes the result to a
// unit vector.
func (m *MockProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, m.Dims)
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			vec[h.Sum32()%uint32(m.Dims)] += 1
		}
		out[i] = normalize(vec)
	}
	return out, nil
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}
