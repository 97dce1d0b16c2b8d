package comm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a text logger that tags every record with the rank. Unless
// allRanks is set, ranks other than Root only emit warnings and errors, so a job
// of N processes does not print every progress message N times.
func NewLogger(w io.Writer, c Comm, level slog.Level, allRanks bool) *slog.Logger {
	if c.Rank() != Root && !allRanks && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("rank", c.Rank())
}

// ParseLevel accepts debug, info, warn or error, case-insensitively. The empty
// string selects info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("comm: log level %q: %w", s, err)
	}
	return l, nil
}

// Stdout is where Printf, Println and AllPrintf write
var Stdout io.Writer = os.Stdout

// Printf does fmt.Printf only on Root
func Printf(c Comm, format string, args ...any) {
	if c.Rank() != Root {
		return
	}
	fmt.Fprintf(Stdout, format, args...)
}

// Println does fmt.Println only on Root
func Println(c Comm, args ...any) {
	if c.Rank() != Root {
		return
	}
	fmt.Fprintln(Stdout, args...)
}

// AllPrintf prints on every rank, with the rank first
func AllPrintf(c Comm, format string, args ...any) {
	fmt.Fprintf(Stdout, fmt.Sprintf("P%d: ", c.Rank())+format, args...)
}

type loggerKey struct{}

// WithLogger attaches logger to ctx
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the logger attached to ctx, or slog.Default
func Logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
