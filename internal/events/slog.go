package events

import (
	"context"
	"log/slog"
)

// LogSink writes events to a structured logger. Crashes and launch
// failures log at warn and error level.
type LogSink struct {
	Logger *slog.Logger
}

func NewLogSink(l *slog.Logger) *LogSink { return &LogSink{Logger: l} }

func (s *LogSink) Send(ctx context.Context, e Event) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	level := slog.LevelInfo
	switch e.Kind {
	case Crashed:
		level = slog.LevelWarn
	case LaunchFailed:
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("service", e.Service),
		slog.String("event", string(e.Kind)),
	}
	if e.PID != 0 {
		attrs = append(attrs, slog.Int("pid", e.PID))
	}
	if e.ExitCode != nil {
		attrs = append(attrs, slog.Int("exit_code", *e.ExitCode))
	}
	if e.Uptime > 0 {
		attrs = append(attrs, slog.Duration("uptime", e.Uptime))
	}
	if e.RestartCount > 0 {
		attrs = append(attrs, slog.Int("restarts", e.RestartCount))
	}
	if e.Detail != "" {
		attrs = append(attrs, slog.String("detail", e.Detail))
	}
	l.LogAttrs(ctx, level, "service event", attrs...)
	return nil
}
