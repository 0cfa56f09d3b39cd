// Package history persists supervisor lifecycle events to external stores
// for later analysis. Each backend lives in its own subpackage; factory
// picks one from a DSN.
package history

import (
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/loykin/watchdogd/internal/events"
)

// DefaultTable is used when a sink is configured without a table name.
const DefaultTable = "service_events"

var tableRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateTable rejects names that cannot be spliced into DDL unquoted.
func ValidateTable(name string) error {
	if !tableRe.MatchString(name) {
		return fmt.Errorf("invalid history table name %q", name)
	}
	return nil
}

// Sink is an events.Sink backed by a resource that must be released.
type Sink interface {
	events.Sink
	io.Closer
}

// Record is the flattened row form of an event, shared by every backend.
type Record struct {
	OccurredAt   time.Time  `json:"occurred_at"`
	Service      string     `json:"service"`
	Kind         string     `json:"kind"`
	Detail       string     `json:"detail,omitempty"`
	PID          int        `json:"pid,omitempty"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	UptimeMS     int64      `json:"uptime_ms,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	RestartCount int        `json:"restart_count"`
	CrashCount   int        `json:"crash_count"`
	ServiceKind  string     `json:"service_kind,omitempty"`
	Command      string     `json:"command,omitempty"`
}

// RecordOf flattens e. Times are stored in UTC.
func RecordOf(e events.Event) Record {
	r := Record{
		OccurredAt:   e.Time.UTC(),
		Service:      e.Service,
		Kind:         string(e.Kind),
		Detail:       e.Detail,
		PID:          e.PID,
		UptimeMS:     e.Uptime.Milliseconds(),
		RestartCount: e.RestartCount,
		CrashCount:   e.CrashCount,
		ServiceKind:  e.ServiceKind,
		Command:      e.Command,
	}
	if r.OccurredAt.IsZero() {
		r.OccurredAt = time.Now().UTC()
	}
	if e.ExitCode != nil {
		c := *e.ExitCode
		r.ExitCode = &c
	}
	if !e.StartedAt.IsZero() {
		t := e.StartedAt.UTC()
		r.StartedAt = &t
	}
	return r
}

// Event converts r back to the event model.
func (r Record) Event() events.Event {
	e := events.Event{
		Time:         r.OccurredAt,
		Service:      r.Service,
		Kind:         events.Kind(r.Kind),
		Detail:       r.Detail,
		PID:          r.PID,
		ExitCode:     r.ExitCode,
		Uptime:       time.Duration(r.UptimeMS) * time.Millisecond,
		RestartCount: r.RestartCount,
		CrashCount:   r.CrashCount,
		ServiceKind:  r.ServiceKind,
		Command:      r.Command,
	}
	if r.StartedAt != nil {
		e.StartedAt = *r.StartedAt
	}
	return e
}
