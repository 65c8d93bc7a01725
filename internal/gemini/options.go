package gemini

import "time"

// Option configures an embedding or generation client.
type Option func(*options)

type options struct {
	timeout time.Duration
}

// WithTimeout bounds each upstream call. The limiter wait is not counted
// against this budget. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
