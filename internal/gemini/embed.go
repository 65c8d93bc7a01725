// Package gemini wraps the Genkit Google AI clients behind the narrow
// interfaces the pipeline consumes. Every call first acquires a token from
// the shared outbound limiter so embedding and generation traffic drain
// the same quota.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"

	"github.com/kosmos-bio/kosmos/internal/limit"
)

// maxEmbedRunes bounds the text sent to the embedding model. Longer input
// is cut at a rune boundary and marked so the truncation is visible in
// stored content hashes and logs.
const maxEmbedRunes = 8000

// truncationMarker is appended to embedding input that was cut.
const truncationMarker = " [truncated]"

// embedDimensions must match the pgvector column width. gemini-embedding-001
// emits 3072 dimensions unless told otherwise.
const embedDimensions = 768

// EmbeddingClient produces query and document embeddings via Genkit.
type EmbeddingClient struct {
	embedder ai.Embedder
	limiter  *limit.Limiter
	opts     options
	logger   *slog.Logger
}

// NewEmbeddingClient wraps a Genkit embedder. A nil logger falls back to
// slog.Default.
func NewEmbeddingClient(embedder ai.Embedder, limiter *limit.Limiter, logger *slog.Logger, opts ...Option) *EmbeddingClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingClient{embedder: embedder, limiter: limiter, opts: buildOptions(opts), logger: logger}
}

// Embed returns the embedding vector for text. Oversized input is
// truncated, never rejected. Transient upstream failures map to
// ErrEmbeddingUnavailable; limiter exhaustion surfaces as
// limit.ErrRateLimited.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	if c.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.timeout)
		defer cancel()
	}

	input, truncated := truncateForEmbedding(text)
	if truncated {
		c.logger.Debug("truncated embedding input", "original_runes", utf8.RuneCountInString(text))
	}

	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			ai.DocumentFromText(input, nil),
		},
		Options: map[string]any{"outputDimensionality": embedDimensions},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrEmbeddingUnavailable)
	}
	return resp.Embeddings[0].Embedding, nil
}

// truncateForEmbedding cuts text to maxEmbedRunes at a rune boundary and
// reports whether anything was cut.
func truncateForEmbedding(text string) (string, bool) {
	if utf8.RuneCountInString(text) <= maxEmbedRunes {
		return text, false
	}
	runes := []rune(text)
	return string(runes[:maxEmbedRunes]) + truncationMarker, true
}
