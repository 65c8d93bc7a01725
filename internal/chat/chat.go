// Package chat turns an assembled context and a question into the final
// answer text. It owns the generation hardening: retries with backoff, a
// circuit breaker, refusal handling and response cleanup.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kosmos-bio/kosmos/internal/gemini"
	"github.com/kosmos-bio/kosmos/internal/limit"
	"github.com/kosmos-bio/kosmos/internal/rag"
)

// apologyMessage is returned verbatim when the model refuses a prompt.
const apologyMessage = "I'm sorry, but I can't provide a response to that request. I can help with questions about space biology research, such as the effects of microgravity on living organisms, spaceflight experiments, and space missions."

// Generator makes one generation attempt. *gemini.GenerationClient
// satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Orchestrator implements rag.Responder over a Generator.
type Orchestrator struct {
	generator     Generator
	breaker       *CircuitBreaker
	retryConfig   RetryConfig
	historyBudget int
	logger        *slog.Logger
}

// NewOrchestrator creates the orchestrator. historyBudget bounds the
// tokens spent on conversation history per prompt. A nil logger falls
// back to slog.Default.
func NewOrchestrator(generator Generator, breaker *CircuitBreaker, retryConfig RetryConfig, historyBudget int, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultCircuitBreakerConfig())
	}
	return &Orchestrator{
		generator:     generator,
		breaker:       breaker,
		retryConfig:   retryConfig,
		historyBudget: historyBudget,
		logger:        logger,
	}
}

// BreakerState exposes the circuit position for health reporting.
func (o *Orchestrator) BreakerState() CircuitState {
	return o.breaker.State()
}

// Respond generates the answer for a query against the assembled context.
// A model refusal counts as a successful upstream round trip for the
// breaker and comes back as an apology reply, not an error.
func (o *Orchestrator) Respond(ctx context.Context, query, contextText string, history []rag.Message) (rag.Reply, error) {
	if err := o.breaker.Allow(); err != nil {
		return rag.Reply{}, fmt.Errorf("%w: %v", gemini.ErrGenerationUnavailable, err)
	}

	prompt := buildPrompt(query, contextText, history, o.historyBudget)

	text, err := o.executeWithRetry(ctx, prompt)
	if err != nil {
		if errors.Is(err, gemini.ErrGenerationRejected) {
			o.breaker.Success()
			o.logger.Info("generation rejected, answering with apology")
			return rag.Reply{Text: apologyMessage, Rejected: true}, nil
		}
		// A local rate-limit timeout says nothing about Gemini; only
		// upstream failures move the circuit.
		if !errors.Is(err, limit.ErrRateLimited) {
			o.breaker.Failure()
		}
		return rag.Reply{}, err
	}

	o.breaker.Success()
	return rag.Reply{Text: cleanResponse(text)}, nil
}

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	excessNewlines    = regexp.MustCompile(`\n{3,}`)
	trailingSpaceLine = regexp.MustCompile(`[ \t]+\n`)
)

// cleanResponse strips HTML the model occasionally emits and collapses
// runaway blank lines.
func cleanResponse(text string) string {
	text = htmlTagPattern.ReplaceAllString(text, "")
	text = trailingSpaceLine.ReplaceAllString(text, "\n")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
