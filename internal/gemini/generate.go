package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/kosmos-bio/kosmos/internal/limit"
)

// GenerationClient calls the Gemini generation model through Genkit.
type GenerationClient struct {
	g           *genkit.Genkit
	modelName   string
	temperature float64
	maxTokens   int
	limiter     *limit.Limiter
	opts        options
	logger      *slog.Logger
}

// NewGenerationClient wraps the Genkit instance for a fixed model.
// modelName is the fully qualified Genkit name, e.g. "googleai/gemini-2.5-flash".
func NewGenerationClient(g *genkit.Genkit, modelName string, temperature float64, maxTokens int, limiter *limit.Limiter, logger *slog.Logger, opts ...Option) *GenerationClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationClient{
		g:           g,
		modelName:   modelName,
		temperature: temperature,
		maxTokens:   maxTokens,
		limiter:     limiter,
		opts:        buildOptions(opts),
		logger:      logger,
	}
}

// Generate produces a completion for the prompt. Refusals map to
// ErrGenerationRejected, every other upstream failure to
// ErrGenerationUnavailable. The caller owns retry policy; this method
// makes exactly one attempt after acquiring a limiter token.
func (c *GenerationClient) Generate(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return "", err
	}
	if c.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.timeout)
		defer cancel()
	}

	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithPrompt(prompt),
		ai.WithConfig(map[string]any{
			"temperature":     c.temperature,
			"maxOutputTokens": c.maxTokens,
		}),
	)
	if err != nil {
		if isRejection(err) {
			return "", fmt.Errorf("%w: %v", ErrGenerationRejected, err)
		}
		return "", fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}

	if resp.FinishReason == ai.FinishReason("blocked") {
		return "", fmt.Errorf("%w: response blocked by model", ErrGenerationRejected)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrGenerationUnavailable)
	}

	c.logger.Debug("generation completed", "model", c.modelName, "response_length", len(text))
	return text, nil
}
