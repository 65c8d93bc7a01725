package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kosmos-bio/kosmos/internal/gemini"
	"github.com/kosmos-bio/kosmos/internal/limit"
)

// RetryConfig configures generation retries.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns the production defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryableError reports whether another attempt could succeed. A
// refusal cannot, the same prompt gets the same refusal. A limiter
// timeout cannot either, the bucket will still be empty after the
// backoff sleep.
func retryableError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, gemini.ErrGenerationRejected):
		return false
	case errors.Is(err, limit.ErrRateLimited):
		return false
	case errors.Is(err, gemini.ErrGenerationUnavailable):
		return true
	}

	errStr := err.Error()
	if containsAny(errStr, "rate limit", "quota exceeded", "429") {
		return true
	}
	if containsAny(errStr, "500", "502", "503", "504", "unavailable") {
		return true
	}
	if containsAny(errStr, "connection reset", "timeout", "temporary") {
		return true
	}
	return false
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// executeWithRetry calls the generator with exponential backoff. The
// generator acquires the shared outbound limiter itself, so every attempt
// is rate limited, not just the first.
func (o *Orchestrator) executeWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	delay := o.retryConfig.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= o.retryConfig.MaxRetries; attempt++ {
		text, err := o.generator.Generate(ctx, prompt)
		if err == nil {
			o.logger.Debug("generation succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start))
			return text, nil
		}

		lastErr = err
		if !retryableError(err) {
			return "", err
		}
		if attempt == o.retryConfig.MaxRetries {
			break
		}

		o.logger.Debug("retrying generation",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, o.retryConfig.MaxInterval)
		}
	}

	return "", fmt.Errorf("generation after %d retries (elapsed: %v): %w",
		o.retryConfig.MaxRetries, time.Since(start), lastErr)
}
