// Package events carries supervisor lifecycle events to their consumers.
package events

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	Started      Kind = "started"
	Crashed      Kind = "crashed"
	NormalExit   Kind = "normal_exit"
	Restarted    Kind = "restarted"
	Stopped      Kind = "stopped"
	LaunchFailed Kind = "launch_failed"
)

// Kinds lists every event kind.
func Kinds() []Kind {
	return []Kind{Started, Crashed, NormalExit, Restarted, Stopped, LaunchFailed}
}

// Event is one structured lifecycle record.
type Event struct {
	Time    time.Time `json:"time"`
	Service string    `json:"service"`
	Kind    Kind      `json:"kind"`
	Detail  string    `json:"detail,omitempty"`

	PID          int           `json:"pid,omitempty"`
	ExitCode     *int          `json:"exit_code,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	StartedAt    time.Time     `json:"started_at,omitzero"`
	RestartCount int           `json:"restart_count"`
	CrashCount   int           `json:"crash_count"`

	ServiceKind string `json:"service_kind,omitempty"`
	Command     string `json:"command,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Send(ctx context.Context, e Event) error { return f(ctx, e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

type multi []Sink

// Multi fans an event out to every sink. All sinks are tried; errors are
// joined.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
