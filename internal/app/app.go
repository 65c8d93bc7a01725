// Package app assembles the question answering service from its parts:
// configuration, PostgreSQL pool, Genkit clients, retrieval pipeline and
// HTTP server. Components are constructed in dependency order and torn
// down in reverse.
package app

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kosmos-bio/kosmos/internal/api"
	"github.com/kosmos-bio/kosmos/internal/chat"
	"github.com/kosmos-bio/kosmos/internal/config"
	"github.com/kosmos-bio/kosmos/internal/gemini"
	"github.com/kosmos-bio/kosmos/internal/rag"
	"github.com/kosmos-bio/kosmos/internal/session"
	"github.com/kosmos-bio/kosmos/internal/vector"
)

// App holds the assembled service.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Embedder *gemini.EmbeddingClient
	Store    *vector.Store
	Sessions *session.Store
	Pipeline *rag.Pipeline
	Chat     *chat.Orchestrator
	Server   *api.Server

	cleanups []func()
}

// Handler returns the HTTP handler with middleware applied.
func (a *App) Handler() http.Handler {
	return a.Server.Handler()
}

// Close releases resources in reverse construction order. Safe to call
// once; Setup registers a cleanup per acquired resource.
func (a *App) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}

// onClose registers a cleanup to run during Close.
func (a *App) onClose(fn func()) {
	a.cleanups = append(a.cleanups, fn)
}
