package commands

import (
	"io"
	"log/slog"
)

// setSlog sets the default logger from the verbose flag count: warnings only
// by default, INFO with -v, DEBUG with -vv.
func setSlog(w io.Writer, verbosity int, jsonLogs bool) {
	opts := &slog.HandlerOptions{Level: level(verbosity)}
	if jsonLogs {
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, opts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, opts)))
}

func level(verbosity int) slog.Level {
	switch verbosity {
	case 0:
		return slog.LevelWarn
	case 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
