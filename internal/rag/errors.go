package rag

import (
	"github.com/kosmos-bio/kosmos/internal/gemini"
	"github.com/kosmos-bio/kosmos/internal/limit"
	"github.com/kosmos-bio/kosmos/internal/vector"
)

// The pipeline's error taxonomy. Callers match with errors.Is; the HTTP
// layer maps each to a status code. The sentinels are owned by the
// packages that produce them and re-exported here so callers need a
// single import.
var (
	// ErrEmbeddingUnavailable: the query could not be embedded.
	// Retrieval fails fast; no degraded keyword search is attempted.
	ErrEmbeddingUnavailable = gemini.ErrEmbeddingUnavailable

	// ErrStoreUnavailable: the vector store could not answer.
	ErrStoreUnavailable = vector.ErrUnavailable

	// ErrGenerationUnavailable: the generation model failed after retries.
	ErrGenerationUnavailable = gemini.ErrGenerationUnavailable

	// ErrGenerationRejected: the model refused the prompt. The pipeline
	// converts this into an apology response rather than surfacing it.
	ErrGenerationRejected = gemini.ErrGenerationRejected

	// ErrRateLimited: the shared outbound limiter was exhausted.
	ErrRateLimited = limit.ErrRateLimited
)
