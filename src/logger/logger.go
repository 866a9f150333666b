package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/otel/trace"
)

var L *slog.Logger = slog.New(slog.NewTextHandler(io.Discard, nil)) // Global logger instance, silent until InitLogger

// InitLogger initializes the global logger.
// Call this once at application startup, after loading config.
func InitLogger(logLevelStr string) {
	InitLoggerTo(os.Stdout, logLevelStr)
}

// InitLoggerTo is InitLogger with an explicit destination. Terminals get the
// text handler, everything else structured JSON.
func InitLoggerTo(w io.Writer, logLevelStr string) {
	level, ok := parseLevel(logLevelStr)
	if !ok {
		slog.Warn("Invalid LOG_LEVEL specified, defaulting to INFO", "configuredLevel", logLevelStr)
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if f, isFile := w.(*os.File); isFile && isatty.IsTerminal(f.Fd()) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	L = slog.New(handler)

	slog.SetDefault(L)
	L.Info("Logger initialized", "level", level.String())
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// FromContext returns the global logger enriched with the trace and span ids of
// the span active in ctx, if any.
func FromContext(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return L
	}
	return L.With("traceID", sc.TraceID().String(), "spanID", sc.SpanID().String())
}
