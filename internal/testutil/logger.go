package testutil

import (
	"io"
	"log/slog"
)

// DiscardLogger returns a logger that drops everything, for tests that
// exercise error paths without noisy output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
