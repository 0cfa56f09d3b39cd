package supervisor

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/loykin/watchdogd/internal/monitor"
	"github.com/loykin/watchdogd/internal/snapshot"
	"github.com/loykin/watchdogd/internal/strategy"
)

// run drives one launch from BEFORE snapshot to an empty tracked set. It
// reports to the unit loop and never touches unit state directly, except
// for the tracked pid list.
func (u *unit) run(ctx context.Context, gen uint64) {
	var (
		launched bool
		primary  *monitor.Primary
		mon      *monitor.Monitor
		started  time.Time
	)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		perr := &PanicError{Service: u.def.Name, Value: r}
		u.log.Error("instance panicked", "panic", r, "stack", string(debug.Stack()))
		if !launched {
			u.post(report{kind: reportLaunched, gen: gen, err: perr})
			return
		}
		if mon == nil && primary != nil {
			mon = u.newMonitor(ctx, primary, snapshot.Result{
				Primary:         primary.PID(),
				PrimaryIncluded: true,
				Members:         []snapshot.Proc{{PID: primary.PID()}},
			})
		}
		var termErr error
		var exit monitor.Exit
		if mon != nil {
			termErr = mon.Terminate(context.Background(), u.def.StopTimeout)
			exit = mon.Exit()
		}
		u.post(report{kind: reportFinished, gen: gen, err: perr, termErr: termErr, exit: exit, uptime: uptime(started, exit.At)})
	}()

	def := u.def
	before, beforeErr := u.opts.Tracker.Before(ctx, def)
	if ctx.Err() != nil {
		// stopped while the BEFORE snapshot was taken: nothing to spawn
		launched = true
		u.post(report{kind: reportFinished, gen: gen, detail: "stopped before spawn"})
		return
	}

	sp, err := u.opts.Launcher.Launch(def, strategy.Options{
		Env:    u.opts.Env,
		Output: u.opts.Output,
		Logger: u.opts.Logger,
	})
	launched = true
	if err != nil {
		u.post(report{kind: reportLaunched, gen: gen, err: err})
		return
	}
	started = sp.StartedAt
	primary = monitor.Watch(sp.PID, waitFunc(sp))
	go func() {
		<-primary.Done()
		if err := sp.Close(); err != nil {
			u.log.Debug("close output", "error", err)
		}
	}()
	u.post(report{kind: reportLaunched, gen: gen, spawn: sp})

	var validators []snapshot.Validator
	if sp.ProfileDir != "" {
		validators = append(validators, snapshot.CmdlineContains(strategy.ProfileArg(sp.ProfileDir)))
	}
	res, snapErr := u.opts.Tracker.Capture(ctx, def, before, snapshot.Launch{
		PID:        sp.PID,
		StartedAt:  sp.StartedAt,
		Alive:      func() bool { return !primary.Exited() },
		Validators: validators,
	})
	if beforeErr != nil {
		snapErr = beforeErr
	}
	mon = u.newMonitor(ctx, primary, res)
	u.post(report{kind: reportCaptured, gen: gen, pids: mon.PIDs(), snapErr: snapErr})

	var exit monitor.Exit
	var runErr error
	if ctx.Err() == nil {
		exit, runErr = mon.Run(ctx, u.opts.PollInterval)
	}
	var termErr error
	if ctx.Err() != nil || runErr != nil {
		// stop requested, or polling gave up: tear down what is left
		termErr = mon.Terminate(context.Background(), def.StopTimeout)
		exit = mon.Exit()
	}
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	u.post(report{
		kind:    reportFinished,
		gen:     gen,
		exit:    exit,
		uptime:  uptime(started, exit.At),
		err:     runErr,
		termErr: termErr,
	})
}

func (u *unit) newMonitor(ctx context.Context, primary *monitor.Primary, res snapshot.Result) *monitor.Monitor {
	return monitor.New(context.WithoutCancel(ctx), u.def.Name, primary, res, monitor.Options{
		Prober:          u.opts.Prober,
		MaxPollFailures: u.opts.MaxPollFailures,
		Interval:        u.opts.PollInterval,
		Logger:          u.log,
		Signal:          u.opts.Signal,
		OnChange:        u.setTracked,
	})
}

// post hands r to the unit loop, which keeps receiving while an instance
// exists.
func (u *unit) post(r report) {
	u.reports <- r
}

func waitFunc(sp *strategy.Spawn) func() error {
	if sp.Wait != nil {
		return sp.Wait
	}
	if sp.Cmd != nil {
		return sp.Cmd.Wait
	}
	return func() error { return errors.New("primary cannot be reaped") }
}

func uptime(start, end time.Time) time.Duration {
	if start.IsZero() || end.IsZero() {
		return 0
	}
	if d := end.Sub(start); d > 0 {
		return d
	}
	return 0
}
