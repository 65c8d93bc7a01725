package testutil

import "log/slog"

// DiscardLogger returns a logger that drops everything. Equivalent to
// log.NewNop; kept here so test files need only one import.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
