// Package observability wires logging, metrics and tracing for both
// binaries.
package observability

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey struct{}

// SetupLogger installs a JSON slog handler as the process default and
// returns it. Dev environments log at debug.
func SetupLogger(service, appEnv string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "dev" {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(h).With(
		slog.String("service", service),
		slog.String("env", appEnv),
	)
	slog.SetDefault(logger)
	return logger
}

// WithLogger returns a context carrying the logger.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// Logger extracts the request-scoped logger, falling back to the default.
func Logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
