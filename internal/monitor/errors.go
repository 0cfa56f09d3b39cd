package monitor

import (
	"fmt"
	"strings"
)

// PollError reports that liveness could not be determined for one tick.
// Failures counts consecutive failing ticks.
type PollError struct {
	Service  string
	Failures int
	Err      error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll %s (failure %d): %v", e.Service, e.Failures, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// TerminationTimeout reports that a graceful stop did not converge within
// its bound and survivors were killed.
type TerminationTimeout struct {
	Service   string
	Timeout   string
	Survivors []int
	// Released lists members that refused every signal and were dropped.
	Released []int
}

func (e *TerminationTimeout) Error() string {
	msg := fmt.Sprintf("stop %s: graceful termination exceeded %s, killed [%s]", e.Service, e.Timeout, joinPIDs(e.Survivors))
	if len(e.Released) > 0 {
		msg += fmt.Sprintf(", released unsignallable [%s]", joinPIDs(e.Released))
	}
	return msg
}

// ReleasedError reports members that could not be signalled and were
// released from the tracked set instead of being observed gone.
type ReleasedError struct {
	Service string
	PIDs    []int
}

func (e *ReleasedError) Error() string {
	return fmt.Sprintf("stop %s: released unsignallable [%s]", e.Service, joinPIDs(e.PIDs))
}

func joinPIDs(pids []int) string {
	out := make([]string, len(pids))
	for i, p := range pids {
		out[i] = fmt.Sprint(p)
	}
	return strings.Join(out, " ")
}
