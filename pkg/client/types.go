package client

import (
	"fmt"
	"time"
)

// ServiceState mirrors the server's per-service runtime record.
type ServiceState struct {
	Name               string    `json:"name"`
	Kind               string    `json:"kind"`
	Phase              string    `json:"phase"`
	Tracked            int       `json:"tracked"`
	PID                int       `json:"pid,omitempty"`
	LaunchedAt         time.Time `json:"launched_at,omitzero"`
	RestartCount       int       `json:"restart_count"`
	CrashCount         int       `json:"crash_count"`
	LastExitCode       *int      `json:"last_exit_code,omitempty"`
	LastClassification string    `json:"last_classification,omitempty"`
	LastError          string    `json:"last_error,omitempty"`
	AutoRestart        bool      `json:"auto_restart"`
}

// Event is one lifecycle event from the in-memory buffer.
type Event struct {
	Time         time.Time     `json:"time"`
	Service      string        `json:"service"`
	Kind         string        `json:"kind"`
	Detail       string        `json:"detail,omitempty"`
	PID          int           `json:"pid,omitempty"`
	ExitCode     *int          `json:"exit_code,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	StartedAt    time.Time     `json:"started_at,omitzero"`
	RestartCount int           `json:"restart_count"`
	CrashCount   int           `json:"crash_count"`
}

// HistoryRecord is one persisted event row.
type HistoryRecord struct {
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
}

// Health is the /healthz payload.
type Health struct {
	Status   string `json:"status"`
	Services int    `json:"services"`
	Running  int    `json:"running"`
}

// EventQuery filters /events and /history. Zero values mean server defaults.
type EventQuery struct {
	Service string
	Limit   int
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for any non-200 response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
