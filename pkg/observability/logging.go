package observability

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds the service's JSON logger at the named level (DEBUG, INFO, WARN, ERROR).
// Unknown levels fall back to INFO.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
