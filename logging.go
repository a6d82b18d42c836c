package probmc

import (
	"io"
	"log/slog"

	slogmulti "github.com/samber/slog-multi"
)

// Create the logger used for progress reports and diagnostics.
//
// Records are written as text to w. If diagnostics is not nil the records are also
// written to it as JSON, including the debug records of every phase of the traversal.
func NewLogger(w io.Writer, level slog.Leveler, diagnostics io.Writer) *slog.Logger {
	handlers := []slog.Handler{
		slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}),
	}
	if diagnostics != nil {
		handlers = append(handlers, slog.NewJSONHandler(diagnostics, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slogmulti.Fanout(handlers...))
}
