// Package rmlog wires up the structured logger every component shares,
// in the same shape as the teacher's cmd/pgmigrator/root.go: a console
// writer for interactive use, a JSON writer for machine consumption, and
// a level parsed from configuration.
package rmlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// New builds a zerolog.Logger for the given format ("json" or "console")
// and level name, writing to out (os.Stderr for console output is the
// typical choice, since INFO/DEBUG should not pollute stdout that the
// Node-Check Protocol relies on for its single structured line, §4.3).
func New(format, level string, out io.Writer) zerolog.Logger {
	var w io.Writer
	switch format {
	case "json":
		w = out
	default:
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(w).With().Timestamp().Logger()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// WithSink builds a logger at the same level as base that writes every
// line to both primary and sink, the same role metrics.NewLogWriter
// played in the teacher's clone.go when --tui was given: the dashboard
// gets its own writer fed in parallel with the normal console output.
func WithSink(base zerolog.Logger, primary io.Writer, sink io.Writer) zerolog.Logger {
	w := zerolog.ConsoleWriter{Out: primary, TimeFormat: time.RFC3339}
	return zerolog.New(zerolog.MultiLevelWriter(w, sink)).With().Timestamp().Logger().Level(base.GetLevel())
}

// Default returns a logger suitable for use before configuration has
// been loaded (e.g. while reporting a config-parse failure itself).
func Default() zerolog.Logger {
	return New("console", "info", os.Stderr)
}

// Event logs err at ERROR level, splitting a categorical *rmerrors.Error
// into the main message plus DETAIL:/HINT: lines spec §7 documents.
// The message is logged as the error carries it; this helper just
// attaches detail/hint.
func Event(logger zerolog.Logger, err error) {
	var e *rmerrors.Error
	if rmerrors.As(err, &e) {
		ev := logger.Error().Str("kind", string(e.Kind))
		if e.Detail != "" {
			ev = ev.Str("detail", e.Detail)
		}
		if e.Hint != "" {
			ev = ev.Str("hint", e.Hint)
		}
		ev.Msg(e.Msg)
		return
	}
	logger.Error().Err(err).Msg("operation failed")
}
