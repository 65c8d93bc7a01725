package gemini

import (
	"errors"
	"strings"
)

// Sentinel errors distinguishing the two failure modes of each upstream
// call. Unavailable errors are retryable; a rejection is terminal for the
// query that triggered it.
var (
	// ErrEmbeddingUnavailable indicates the embedding model could not be
	// reached or returned a transient failure.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrGenerationUnavailable indicates the generation model could not
	// be reached or returned a transient failure.
	ErrGenerationUnavailable = errors.New("generation service unavailable")

	// ErrGenerationRejected indicates the model refused the prompt, for
	// example a safety block. Retrying the same prompt cannot succeed.
	ErrGenerationRejected = errors.New("generation rejected")
)

// rejectionPatterns mark refusals baked into the upstream response.
// Matching is case-insensitive substring search over the error text.
var rejectionPatterns = []string{
	"blocked",
	"safety",
	"prohibited",
	"blocklist",
	"recitation",
}

// isRejection reports whether the generate error is a content refusal
// rather than an infrastructure failure.
func isRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range rejectionPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
