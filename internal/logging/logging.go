// Package logging builds the structured logger for a gate run. Records at
// error level and above are forwarded to Sentry when a DSN is configured.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

type Config struct {
	Level     slog.Level
	SentryDSN string
	Version   string
	// Output defaults to stderr so stdout stays reserved for step results.
	Output io.Writer
}

// Logger is a slog.Logger tagged with a run id.
type Logger struct {
	*slog.Logger
	RunID         string
	sentryEnabled bool
}

// New builds a logger and, when cfg.SentryDSN is set, initialises Sentry.
func New(cfg Config) (*Logger, error) {
	sentryEnabled := false
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:     cfg.SentryDSN,
			Release: cfg.Version,
		})
		if err != nil {
			return nil, fmt.Errorf("sentry init: %w", err)
		}
		sentryEnabled = true
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	handler := &sentryHandler{
		Handler: slog.NewTextHandler(out, &slog.HandlerOptions{
			Level: cfg.Level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					if t, ok := a.Value.Any().(time.Time); ok {
						a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
					}
				}
				return a
			},
		}),
		sentryEnabled: sentryEnabled,
	}

	runID := uuid.NewString()
	if sentryEnabled {
		sentry.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag("run", runID)
		})
	}

	return &Logger{
		Logger:        slog.New(handler).With("run", runID),
		RunID:         runID,
		sentryEnabled: sentryEnabled,
	}, nil
}

// Discard returns a logger that writes nothing. Useful for tests and
// library callers that do not care about logs.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Flush waits for buffered Sentry events. Call before the process exits.
func (l *Logger) Flush(timeout time.Duration) {
	if l != nil && l.sentryEnabled {
		sentry.Flush(timeout)
	}
}

// LevelQuiet writes nothing locally. The run's failure is already printed
// once as an annotation; Sentry, when enabled, still receives errors.
const LevelQuiet = slog.LevelError + 4

// LevelFor maps the verbose flag to a log level.
func LevelFor(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return LevelQuiet
}

type sentryHandler struct {
	slog.Handler
	sentryEnabled bool
}

func (h *sentryHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.Handler.Enabled(ctx, level) || (h.sentryEnabled && level >= slog.LevelError)
}

func (h *sentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.Handler.Enabled(ctx, r.Level) {
		if err := h.Handler.Handle(ctx, r); err != nil {
			return err
		}
	}
	if h.sentryEnabled && r.Level >= slog.LevelError {
		sendToSentry(r)
	}
	return nil
}

func (h *sentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sentryHandler{
		Handler:       h.Handler.WithAttrs(attrs),
		sentryEnabled: h.sentryEnabled,
	}
}

func (h *sentryHandler) WithGroup(name string) slog.Handler {
	return &sentryHandler{
		Handler:       h.Handler.WithGroup(name),
		sentryEnabled: h.sentryEnabled,
	}
}

func sendToSentry(r slog.Record) {
	event := sentry.NewEvent()
	event.Level = sentryLevel(r.Level)
	event.Message = r.Message
	event.Timestamp = r.Time

	r.Attrs(func(a slog.Attr) bool {
		event.Extra[a.Key] = a.Value.Resolve().String()
		return true
	})

	if r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		event.Exception = []sentry.Exception{{
			Type:  "GateError",
			Value: r.Message,
			Stacktrace: &sentry.Stacktrace{
				Frames: []sentry.Frame{{
					Filename: frame.File,
					Function: frame.Function,
					Lineno:   frame.Line,
				}},
			},
		}}
	}

	sentry.CaptureEvent(event)
}

func sentryLevel(level slog.Level) sentry.Level {
	switch {
	case level >= slog.LevelError:
		return sentry.LevelError
	case level >= slog.LevelWarn:
		return sentry.LevelWarning
	case level >= slog.LevelInfo:
		return sentry.LevelInfo
	default:
		return sentry.LevelDebug
	}
}
