// Package api exposes the question answering pipeline over HTTP/JSON.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kosmos-bio/kosmos/internal/chat"
	"github.com/kosmos-bio/kosmos/internal/document"
	"github.com/kosmos-bio/kosmos/internal/entity"
	"github.com/kosmos-bio/kosmos/internal/rag"
	"github.com/kosmos-bio/kosmos/internal/session"
	"github.com/kosmos-bio/kosmos/internal/vector"
)

// Answerer runs one question through the pipeline. *rag.Pipeline
// satisfies it.
type Answerer interface {
	Answer(ctx context.Context, q document.Query, history []rag.Message) (rag.Answer, error)
}

// Retriever serves raw similarity search for /search. *rag.Retriever
// satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, q document.Query) ([]document.Candidate, error)
}

// SessionStore persists conversations. *session.Store satisfies it.
type SessionStore interface {
	Create(ctx context.Context) (*session.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	List(ctx context.Context, limit int) ([]session.Session, error)
	AppendTurn(ctx context.Context, id uuid.UUID, turn session.Turn) error
	History(ctx context.Context, id uuid.UUID, limit int) ([]session.Message, error)
	Clear(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Extractor finds entities for /entities/extract. Both entity strategies
// satisfy it.
type Extractor interface {
	Extract(ctx context.Context, text string) []entity.Entity
}

// CorpusChecker reports vector store health. *vector.Store satisfies it.
type CorpusChecker interface {
	HealthCheck(ctx context.Context) (vector.Stats, error)
}

// BreakerReporter exposes the generation circuit position.
// *chat.Orchestrator satisfies it.
type BreakerReporter interface {
	BreakerState() chat.CircuitState
}

// Config carries the server's HTTP-level settings.
type Config struct {
	RateLimitRPS    float64
	RateLimitBurst  int
	TrustProxy      bool
	CORSOrigins     []string
	RequestDeadline time.Duration
}

// Server routes HTTP requests to the pipeline.
type Server struct {
	pipeline  Answerer
	retriever Retriever
	sessions  SessionStore
	extractor Extractor
	corpus    CorpusChecker
	breaker   BreakerReporter
	logger    *slog.Logger

	handler http.Handler
}

// NewServer wires routes and middleware. A nil logger falls back to
// slog.Default.
func NewServer(cfg Config, pipeline Answerer, retriever Retriever, sessions SessionStore,
	extractor Extractor, corpus CorpusChecker, breaker BreakerReporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		pipeline:  pipeline,
		retriever: retriever,
		sessions:  sessions,
		extractor: extractor,
		corpus:    corpus,
		breaker:   breaker,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /chat/session", s.handleCreateSession)
	mux.HandleFunc("GET /chat/sessions", s.handleListSessions)
	mux.HandleFunc("GET /chat/history/{session_id}", s.handleHistory)
	mux.HandleFunc("DELETE /chat/history/{session_id}", s.handleClearHistory)
	mux.HandleFunc("DELETE /chat/session/{session_id}", s.handleDeleteSession)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /entities/extract", s.handleExtract)
	mux.HandleFunc("GET /health", s.handleHealth)

	rl := newIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.TrustProxy)

	// Outermost first: recovery wraps everything, rate limiting runs
	// before any work is done.
	var h http.Handler = mux
	h = deadlineMiddleware(cfg.RequestDeadline)(h)
	h = rateLimitMiddleware(rl, logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)
	h = loggingMiddleware(logger)(h)
	h = requestIDMiddleware(h)
	h = recoveryMiddleware(logger)(h)

	s.handler = h
	return s
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}
