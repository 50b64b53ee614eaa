// Package models abstracts the embedding backends reachable through the
// models capability. The sandbox never talks to a provider directly; it only
// sees vectors returned by the host.
package models

import "context"

// EmbeddingProvider produces embedding vectors for a batch of texts using the
// model addressed by modelBit.
type EmbeddingProvider interface {
	EmbedText(ctx context.Context, modelBit string, texts []string) ([][]float32, error)
}

// StaticProvider returns precomputed vectors, used in tests and offline runs.
type StaticProvider struct {
	// Vectors is returned for every request, truncated or repeated to match
	// the number of texts.
	Vectors [][]float32
}

func (p *StaticProvider) EmbedText(_ context.Context, _ string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		if len(p.Vectors) == 0 {
			out[i] = []float32{}
			continue
		}
		out[i] = p.Vectors[i%len(p.Vectors)]
	}
	return out, nil
}
