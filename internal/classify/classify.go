// Package classify decides whether an emptied process set was a crash and
// whether the service should be relaunched.
package classify

import (
	"time"

	"github.com/loykin/watchdogd/internal/monitor"
	"github.com/loykin/watchdogd/internal/service"
)

type Verdict string

const (
	NormalExit Verdict = "normal_exit"
	Crash      Verdict = "crash"
)

// Classify returns NormalExit only for a known zero exit code observed
// strictly inside the grace window. Everything else, including an uptime
// equal to minUptime, is a crash.
func Classify(minUptime, uptime time.Duration, exit monitor.Exit) Verdict {
	if uptime < minUptime && exit.CodeKnown && exit.Code == 0 {
		return NormalExit
	}
	return Crash
}

// Decision is the restart policy outcome for one exit.
type Decision struct {
	Verdict Verdict
	Restart bool
	// Delay before the relaunch; zero restarts immediately.
	Delay time.Duration
}

// Decide applies the restart policy. Crash-looping services restart once
// per detected crash; RestartInterval is the only pacing.
func Decide(def service.Definition, uptime time.Duration, exit monitor.Exit) Decision {
	v := Classify(def.MinUptimeForCrash, uptime, exit)
	d := Decision{Verdict: v}
	if v == Crash && def.AutoRestart {
		d.Restart = true
		d.Delay = def.RestartInterval
	}
	return d
}
