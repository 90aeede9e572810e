// Package log wires up the default slog logger and allows passing a logger
// through a context.
package log

import (
	"context"
	"log/slog"
	"os"
)

// Debug is set once at startup and read by components that want to emit
// additional debugging data.
var Debug bool

type ctxKey struct{}

func InitializeDefaultLogger(debug bool) {
	Debug = debug
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
