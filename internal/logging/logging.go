// Package logging configures the process-wide slog logger and carries it on
// request contexts.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/masq"
)

type ctxKey struct{}

var defaultLogger atomic.Pointer[slog.Logger]

func init() {
	defaultLogger.Store(slog.Default())
}

// New builds a logger writing to w. format is "console" (clog) or "json".
// Secret-tagged fields and well known credential names are masked.
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	filter := masq.New(
		masq.WithTag("secret"),
		masq.WithFieldName("ChatKey"),
		masq.WithFieldName("OpenAIAPIKey"),
		masq.WithFieldName("AnthropicAPIKey"),
		masq.WithFieldName("DatabaseURL"),
	)

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		h = clog.New(
			clog.WithWriter(w),
			clog.WithLevel(lvl),
			clog.WithReplaceAttr(filter),
		)
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       lvl,
			ReplaceAttr: filter,
		})
	default:
		return nil, fmt.Errorf("unsupported log format %q (expected console|json)", format)
	}
	return slog.New(h), nil
}

// SetDefault installs l as the fallback logger for contexts without one.
func SetDefault(l *slog.Logger) {
	if l == nil {
		return
	}
	defaultLogger.Store(l)
	slog.SetDefault(l)
}

// Default returns the process-wide logger.
func Default() *slog.Logger {
	return defaultLogger.Load()
}

// With returns a copy of ctx carrying l.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the logger stored on ctx, or the default logger.
func From(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return Default()
}

func parseLevel(v string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", v)
	}
}
