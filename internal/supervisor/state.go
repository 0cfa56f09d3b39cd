package supervisor

import (
	"time"

	"github.com/loykin/watchdogd/internal/classify"
	"github.com/loykin/watchdogd/internal/service"
)

// State is a point-in-time copy of one service's runtime record. Tracked
// pids are exposed only as a count.
type State struct {
	Name               string           `json:"name"`
	Kind               service.Kind     `json:"kind"`
	Phase              Phase            `json:"phase"`
	Tracked            int              `json:"tracked"`
	PID                int              `json:"pid,omitempty"`
	LaunchedAt         time.Time        `json:"launched_at,omitzero"`
	RestartCount       int              `json:"restart_count"`
	CrashCount         int              `json:"crash_count"`
	LastExitCode       *int             `json:"last_exit_code,omitempty"`
	LastClassification classify.Verdict `json:"last_classification,omitempty"`
	LastError          string           `json:"last_error,omitempty"`
	AutoRestart        bool             `json:"auto_restart"`
}

func (s State) clone() State {
	if s.LastExitCode != nil {
		c := *s.LastExitCode
		s.LastExitCode = &c
	}
	return s
}
