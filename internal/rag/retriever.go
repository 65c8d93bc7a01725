// Package rag wires query embedding, vector retrieval, context assembly
// and answer generation into the question answering pipeline.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kosmos-bio/kosmos/internal/document"
	"github.com/kosmos-bio/kosmos/internal/vector"
)

// TopK bounds. Requests outside the range are clamped, not rejected.
const (
	DefaultTopK = 8
	MaxTopK     = 50
)

// embedCacheSize bounds the query embedding cache. Repeated questions in
// a session skip the embedding round trip; when the cache fills it is
// dropped wholesale, the next misses repopulate it.
const embedCacheSize = 256

// allowedFilterKeys are the metadata keys a request may filter on.
// Unknown keys are dropped silently.
var allowedFilterKeys = map[string]struct{}{
	"organism":    {},
	"tissue":      {},
	"mission":     {},
	"source_type": {},
}

// Embedder turns text into a vector. *gemini.EmbeddingClient satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher answers ranked similarity queries. *vector.Store satisfies it.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, opts ...vector.SearchOption) ([]document.Candidate, error)
}

// Retriever embeds a query and fetches the closest documents. Safe for
// concurrent use.
type Retriever struct {
	embedder     Embedder
	store        Searcher
	minScore     float32
	defaultTopK  int
	queryTimeout time.Duration
	logger       *slog.Logger

	mu    sync.Mutex
	cache map[string][]float32
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithQueryTimeout overrides the store's default per-search timeout.
func WithQueryTimeout(d time.Duration) RetrieverOption {
	return func(r *Retriever) { r.queryTimeout = d }
}

// WithDefaultTopK sets the candidate count used when a query does not
// ask for one. Values outside [1, MaxTopK] are ignored.
func WithDefaultTopK(k int) RetrieverOption {
	return func(r *Retriever) {
		if k >= 1 && k <= MaxTopK {
			r.defaultTopK = k
		}
	}
}

// NewRetriever creates a retriever with the given similarity floor.
// A nil logger falls back to slog.Default.
func NewRetriever(embedder Embedder, store Searcher, minScore float32, logger *slog.Logger, opts ...RetrieverOption) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retriever{
		embedder:    embedder,
		store:       store,
		minScore:    minScore,
		defaultTopK: DefaultTopK,
		logger:      logger,
		cache:       make(map[string][]float32, embedCacheSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns the candidates for the query, best first. An embedding
// failure or store failure aborts the request; there is no keyword
// fallback, a degraded answer would silently lose the similarity ranking
// the citations depend on.
func (r *Retriever) Retrieve(ctx context.Context, q document.Query) ([]document.Candidate, error) {
	embedding, err := r.embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	topK := clampTopK(q.TopK, r.defaultTopK)
	opts := []vector.SearchOption{
		vector.WithTopK(topK),
		vector.WithMinScore(r.minScore),
	}
	if r.queryTimeout > 0 {
		opts = append(opts, vector.WithTimeout(r.queryTimeout))
	}
	if q.MinScore > 0 {
		opts = append(opts, vector.WithMinScore(q.MinScore))
	}
	for key, value := range sanitizeFilters(q.Filters) {
		opts = append(opts, vector.WithFilter(key, value))
	}

	candidates, err := r.store.Search(ctx, embedding, opts...)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	r.logger.Debug("retrieved candidates", "count", len(candidates), "top_k", topK)
	return candidates, nil
}

// embed returns the cached vector for text or asks the embedder.
func (r *Retriever) embed(ctx context.Context, text string) ([]float32, error) {
	r.mu.Lock()
	cached, ok := r.cache[text]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	embedding, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if len(r.cache) >= embedCacheSize {
		r.cache = make(map[string][]float32, embedCacheSize)
	}
	r.cache[text] = embedding
	r.mu.Unlock()

	return embedding, nil
}

func clampTopK(k, fallback int) int {
	switch {
	case k <= 0:
		return fallback
	case k > MaxTopK:
		return MaxTopK
	}
	return k
}

// sanitizeFilters keeps only the allowed metadata keys.
func sanitizeFilters(filters map[string]string) map[string]string {
	if len(filters) == 0 {
		return nil
	}
	out := make(map[string]string, len(filters))
	for key, value := range filters {
		if _, ok := allowedFilterKeys[key]; ok && value != "" {
			out[key] = value
		}
	}
	return out
}
