package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kosmos-bio/kosmos/internal/rag"
	"github.com/kosmos-bio/kosmos/internal/session"
)

// errorResponse is the JSON error body.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON renders v into a buffer first so an encoding failure can
// still become a clean 500 instead of a half-written body.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
		http.Error(w, `{"error":"internal server error","code":"internal"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logger.Debug("failed to write response", "error", err)
	}
}

// writeError maps a pipeline error onto its HTTP status. Unknown errors
// become opaque 500s; the detail stays in the log, not the body.
func writeError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var status int
	var code, message string

	switch {
	case errors.Is(err, rag.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "rate_limited"
		message = "Too many requests. Please slow down and try again."
	case errors.Is(err, rag.ErrEmbeddingUnavailable):
		status, code = http.StatusServiceUnavailable, "embedding_unavailable"
		message = "The embedding service is temporarily unavailable."
	case errors.Is(err, rag.ErrStoreUnavailable), errors.Is(err, session.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, "store_unavailable"
		message = "The document store is temporarily unavailable."
	case errors.Is(err, rag.ErrGenerationUnavailable):
		status, code = http.StatusServiceUnavailable, "generation_unavailable"
		message = "The generation service is temporarily unavailable."
	case errors.Is(err, session.ErrSessionNotFound):
		status, code = http.StatusNotFound, "session_not_found"
		message = "Session not found."
	default:
		status, code = http.StatusInternalServerError, "internal"
		message = "Internal server error."
		logger.Error("unhandled error", "error", err)
	}

	if status != http.StatusInternalServerError {
		logger.Warn("request failed", "code", code, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: message, Code: code}, logger)
}

// writeBadRequest reports a client input problem with its own message.
func writeBadRequest(w http.ResponseWriter, message string, logger *slog.Logger) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: message, Code: "bad_request"}, logger)
}
