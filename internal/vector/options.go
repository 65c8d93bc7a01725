package vector

import "time"

const (
	defaultTopK    = 8
	defaultTimeout = 10 * time.Second
)

// SearchOption configures a similarity search using the functional options
// pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK     int
	filter   map[string]string
	minScore float32
	timeout  time.Duration
}

// WithTopK sets the maximum number of results to return. Non-positive
// values keep the default.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithFilter restricts results to documents whose metadata contains the
// given key/value pair. Multiple filters combine with AND.
func WithFilter(key, value string) SearchOption {
	return func(c *searchConfig) {
		if c.filter == nil {
			c.filter = make(map[string]string)
		}
		c.filter[key] = value
	}
}

// WithMinScore drops results whose similarity falls below the floor.
// Zero disables the floor.
func WithMinScore(score float32) SearchOption {
	return func(c *searchConfig) {
		c.minScore = score
	}
}

// WithTimeout bounds the search round trip.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:    defaultTopK,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
