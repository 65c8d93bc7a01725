package entity

import (
	"context"
	"log/slog"
	"time"
)

// probeText exercises every dictionary type once; a working model
// extractor must at least parse it into valid JSON.
const probeText = "Mice on the ISS showed bone loss under microgravity in this experiment."

// probeTimeout bounds the startup capability check.
const probeTimeout = 15 * time.Second

// Detect picks the extraction strategy at startup. When the generator is
// available and answers the probe with parseable entities, the
// model-backed extractor is used; otherwise the dictionary extractor.
// The choice is made once, not per request.
func Detect(ctx context.Context, generator Generator, logger *slog.Logger) Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if generator == nil {
		logger.Info("entity extraction strategy", "strategy", "pattern")
		return NewPatternExtractor()
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	model := NewModelExtractor(generator, logger)
	if _, err := model.extractWithModel(probeCtx, probeText); err != nil {
		logger.Warn("model extraction probe failed, using patterns", "error", err)
		return NewPatternExtractor()
	}

	logger.Info("entity extraction strategy", "strategy", "model")
	return model
}
