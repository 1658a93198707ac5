// Package logging builds the server's *slog.Logger per SPEC_FULL.md §10.2:
// a rotating local file handler (lumberjack) fanned out alongside an
// OpenTelemetry log bridge (otelslog) so structured logs carry trace/span
// correlation without requiring an external collector, matching the
// reference stack's own otel dependencies.
package logging

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	otellog "go.opentelemetry.io/otel/sdk/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where operational logs go and how they rotate.
type Config struct {
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      slog.Level
}

func defaults(cfg Config) Config {
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 50
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays == 0 {
		cfg.MaxAgeDays = 28
	}
	return cfg
}

// New builds the server's logger and returns a shutdown func that flushes
// the otel log provider; the serve command calls it after the fx app stops.
func New(cfg Config) (*slog.Logger, func(context.Context) error, error) {
	cfg = defaults(cfg)

	exporter, err := stdoutlog.New()
	if err != nil {
		return nil, nil, err
	}
	provider := otellog.NewLoggerProvider(
		otellog.WithProcessor(otellog.NewBatchProcessor(exporter)),
	)
	otelHandler := otelslog.NewHandler("umon", otelslog.WithLoggerProvider(provider))

	var fileHandler slog.Handler
	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		fileHandler = slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: cfg.Level})
	} else {
		fileHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level})
	}

	logger := slog.New(fanoutHandler{handlers: []slog.Handler{fileHandler, otelHandler}})
	return logger, provider.Shutdown, nil
}

// fanoutHandler dispatches every record to each wrapped handler, so the
// rotating file log and the otel bridge both see every record independent
// of each other's failures.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return fanoutHandler{handlers: next}
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return fanoutHandler{handlers: next}
}
