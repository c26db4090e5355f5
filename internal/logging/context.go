package logging

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

type requestLoggerContextKey struct{}

// Used when a code path runs without a request logger, typically detached background work
var fallbackLogger = sync.OnceValue(func() *slog.Logger {
	return slog.New(NewTraceLogHandler(slog.NewJSONHandler(os.Stdout, nil))).With(slog.String("logger", "fallback"))
})

func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(requestLoggerContextKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return fallbackLogger()
}

func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, requestLoggerContextKey{}, logger)
}

// AddMetaToContext stores a logger carrying attrs on top of the current one
func AddMetaToContext(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}

	logger := FromContext(ctx)
	handler := logger.Handler().WithAttrs(attrs)

	return AddToContext(ctx, slog.New(handler))
}
