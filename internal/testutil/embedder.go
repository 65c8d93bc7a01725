package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// HashEmbedder produces deterministic unit vectors from text via SHA-256.
// Identical text always maps to an identical vector, so embedding caches
// and idempotent upserts can be asserted on. Explicit vectors can be
// registered for precise similarity control.
//
// Safe for concurrent use.
type HashEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dim     int
}

// NewHashEmbedder creates an embedder emitting dim-wide vectors.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{vectors: make(map[string][]float32), dim: dim}
}

// SetVector registers an explicit vector for the given text.
func (e *HashEmbedder) SetVector(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = vec
}

// Embed implements the embedding client interface the retriever consumes.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	if v, ok := e.vectors[text]; ok {
		e.mu.Unlock()
		return v, nil
	}
	e.mu.Unlock()
	return deterministicVector(text, e.dim), nil
}

// RegisterEmbedder registers the mock as a Genkit embedder named
// "mock/test-embedder".
func (e *HashEmbedder) RegisterEmbedder(g *genkit.Genkit) ai.Embedder {
	return genkit.DefineEmbedder(g, "mock/test-embedder", &ai.EmbedderOptions{
		Label:      "Mock Test Embedder",
		Dimensions: e.dim,
	}, e.embedRequest)
}

func (e *HashEmbedder) embedRequest(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		vec, err := e.Embed(ctx, documentText(doc))
		if err != nil {
			return nil, err
		}
		embeddings[i] = &ai.Embedding{Embedding: vec}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func documentText(doc *ai.Document) string {
	var sb strings.Builder
	for _, p := range doc.Content {
		if p.Kind == ai.PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// deterministicVector generates a normalized vector from SHA-256 of text.
func deterministicVector(text string, dim int) []float32 {
	hash := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	for i := range vec {
		idx := (i * 4) % len(hash)
		bits := binary.LittleEndian.Uint32([]byte{
			hash[idx%32],
			hash[(idx+1)%32],
			hash[(idx+2)%32],
			hash[(idx+3)%32],
		})
		vec[i] = (float32(bits)/float32(math.MaxUint32))*2 - 1
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}
