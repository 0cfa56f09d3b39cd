package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loykin/watchdogd/internal/classify"
	"github.com/loykin/watchdogd/internal/events"
	"github.com/loykin/watchdogd/internal/metrics"
	"github.com/loykin/watchdogd/internal/monitor"
	"github.com/loykin/watchdogd/internal/service"
	"github.com/loykin/watchdogd/internal/strategy"
)

type commandAction int

const (
	actionBoot commandAction = iota
	actionStart
	actionStop
	actionRestart
	actionShutdown
)

func (a commandAction) String() string {
	switch a {
	case actionBoot:
		return "boot"
	case actionStart:
		return "start"
	case actionStop:
		return "stop"
	case actionRestart:
		return "restart"
	case actionShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

type command struct {
	action commandAction
	reply  chan error
	// attempted is closed once the boot spawn attempt has completed.
	attempted chan struct{}
}

type reportKind int

const (
	reportLaunched reportKind = iota
	reportCaptured
	reportFinished
)

// report is sent by an instance goroutine to its unit.
type report struct {
	kind reportKind
	gen  uint64

	spawn *strategy.Spawn
	pids  []int
	// snapErr is a degraded capture; the instance keeps running.
	snapErr error

	exit   monitor.Exit
	uptime time.Duration
	// err is a launch failure on reportLaunched, and on reportFinished a
	// supervision failure that forces a crash verdict.
	err     error
	termErr error
	// detail overrides the Stopped event text.
	detail string
}

type instance struct {
	gen    uint64
	cancel context.CancelFunc
	reason string
}

// unit owns the lifecycle of one service. All transitions happen on the
// loop goroutine; mu only guards the copy readers see.
type unit struct {
	def  service.Definition
	opts Options
	log  *slog.Logger

	cmds    chan command
	reports chan report
	done    chan struct{}

	mu   sync.RWMutex
	st   State
	pids []int

	// loop-owned
	gen          uint64
	inst         *instance
	retry        <-chan time.Time
	pendingStart bool
	waiters      []chan error
	attempted    []chan struct{}
	closing      bool
}

func newUnit(def service.Definition, opts Options) *unit {
	u := &unit{
		def:     def,
		opts:    opts,
		log:     opts.Logger.With("service", def.Name),
		cmds:    make(chan command, 16),
		reports: make(chan report, 4),
		done:    make(chan struct{}),
		st: State{
			Name:        def.Name,
			Kind:        def.Kind,
			Phase:       PhasePending,
			AutoRestart: def.AutoRestart,
		},
	}
	metrics.SetCurrentState(def.Name, PhasePending.String(), true)
	go u.loop()
	return u
}

func (u *unit) loop() {
	defer close(u.done)
	for {
		if u.closing && u.inst == nil {
			u.release(nil)
			return
		}
		select {
		case c := <-u.cmds:
			u.handleCommand(c)
		case r := <-u.reports:
			u.handleReport(r)
		case <-u.retry:
			u.retry = nil
			u.countRestart("crash")
			u.launch("crash")
		}
	}
}

// send queues c. Commands with a reply wait for it.
func (u *unit) send(ctx context.Context, c command) error {
	select {
	case u.cmds <- c:
	case <-u.done:
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
	if c.reply == nil {
		return nil
	}
	select {
	case err := <-c.reply:
		return err
	case <-u.done:
		select {
		case err := <-c.reply:
			return err
		default:
			return ErrShuttingDown
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *unit) do(ctx context.Context, a commandAction) error {
	return u.send(ctx, command{action: a, reply: make(chan error, 1)})
}

func (u *unit) handleCommand(c command) {
	u.log.Debug("command", "action", c.action, "phase", u.phase())
	if u.closing && c.action != actionStop && c.action != actionShutdown {
		if c.attempted != nil {
			close(c.attempted)
		}
		replyTo(c.reply, ErrShuttingDown)
		return
	}
	switch c.action {
	case actionBoot:
		if u.phase() == PhasePending {
			u.attempted = append(u.attempted, c.attempted)
			u.launch("")
		} else {
			close(c.attempted)
		}
	case actionStart:
		switch u.phase() {
		case PhasePending, PhaseStopped:
			u.launch("")
		case PhaseStopping:
			u.pendingStart = true
		}
		replyTo(c.reply, nil)
	case actionStop:
		u.pendingStart = false
		u.stop(c.reply)
	case actionRestart:
		switch {
		case u.inst != nil:
			u.pendingStart = true
			u.stop(c.reply)
		case u.retry != nil:
			u.retry = nil
			u.countRestart("manual")
			u.launch("manual")
			replyTo(c.reply, nil)
		default:
			u.launch("")
			replyTo(c.reply, nil)
		}
	case actionShutdown:
		u.closing = true
		u.pendingStart = false
		u.stop(c.reply)
	}
}

// stop cancels whatever the unit is doing. The reply is held until the
// instance has finished tearing down.
func (u *unit) stop(reply chan error) {
	switch {
	case u.inst != nil:
		if u.phase() != PhaseStopping {
			u.setPhase(PhaseStopping)
			u.inst.cancel()
		}
		if reply != nil {
			u.waiters = append(u.waiters, reply)
		}
		return
	case u.retry != nil:
		u.retry = nil
		u.setPhase(PhaseStopped)
		u.emit(events.Event{Kind: events.Stopped, Detail: "pending restart cancelled"})
	case u.phase() == PhasePending:
		u.setPhase(PhaseStopped)
		u.emit(events.Event{Kind: events.Stopped, Detail: "stopped before first start"})
	}
	replyTo(reply, nil)
}

func (u *unit) countRestart(reason string) {
	u.mu.Lock()
	u.st.RestartCount++
	u.mu.Unlock()
	metrics.IncRestart(u.def.Name, reason)
}

// launch starts a new instance. reason is empty for a plain start and
// names the cause of a restart otherwise.
func (u *unit) launch(reason string) {
	if u.inst != nil {
		u.log.Error("launch requested while an instance is active", "gen", u.inst.gen)
		return
	}
	u.gen++
	ctx, cancel := context.WithCancel(context.Background())
	u.inst = &instance{gen: u.gen, cancel: cancel, reason: reason}
	u.mu.Lock()
	u.st.LastError = ""
	u.st.PID = 0
	u.mu.Unlock()
	u.setPhase(PhaseStarting)
	go u.run(ctx, u.gen)
}

func (u *unit) handleReport(r report) {
	if u.inst == nil || r.gen != u.inst.gen {
		u.log.Warn("dropping report from stale instance", "gen", r.gen)
		return
	}
	switch r.kind {
	case reportLaunched:
		u.onLaunched(r)
	case reportCaptured:
		u.onCaptured(r)
	case reportFinished:
		u.onFinished(r)
	}
}

func (u *unit) closeAttempted() {
	for _, ch := range u.attempted {
		close(ch)
	}
	u.attempted = nil
}

func (u *unit) onLaunched(r report) {
	u.closeAttempted()
	if r.err != nil {
		u.inst.cancel()
		u.inst = nil
		u.mu.Lock()
		u.st.LastError = r.err.Error()
		u.mu.Unlock()
		metrics.IncLaunchFailure(u.def.Name)
		u.emit(events.Event{Kind: events.LaunchFailed, Detail: r.err.Error()})
		u.setPhase(PhaseStopped)
		u.afterStop()
		return
	}
	u.mu.Lock()
	u.st.PID = r.spawn.PID
	u.st.LaunchedAt = r.spawn.StartedAt
	u.mu.Unlock()
}

func (u *unit) onCaptured(r report) {
	u.setTracked(r.pids)
	if r.snapErr != nil {
		u.log.Warn("process tracking degraded to primary only", "error", r.snapErr)
		metrics.IncSupervisionError(u.def.Name, "snapshot")
	}
	if u.phase() != PhaseStarting {
		return
	}
	metrics.IncStart(u.def.Name)
	detail := fmt.Sprintf("tracking %d process(es)", len(r.pids))
	if reason := u.inst.reason; reason != "" {
		u.emit(events.Event{Kind: events.Restarted, Detail: reason + "; " + detail})
	} else {
		u.emit(events.Event{Kind: events.Started, Detail: detail})
	}
	u.setPhase(PhaseRunning)
}

func (u *unit) onFinished(r report) {
	u.closeAttempted()
	u.inst.cancel()
	u.inst = nil
	u.setTracked(nil)
	metrics.ObserveUptime(u.def.Name, r.uptime.Seconds())
	if r.termErr != nil {
		u.log.Warn("termination needed escalation", "error", r.termErr)
		metrics.IncSupervisionError(u.def.Name, "termination")
	}
	u.mu.Lock()
	if r.exit.CodeKnown {
		code := r.exit.Code
		u.st.LastExitCode = &code
	} else {
		u.st.LastExitCode = nil
	}
	u.mu.Unlock()

	if u.phase() == PhaseStopping {
		metrics.IncStop(u.def.Name)
		ev := u.exitEvent(events.Stopped, r)
		switch {
		case r.termErr != nil:
			ev.Detail = r.termErr.Error()
		case r.detail != "":
			ev.Detail = r.detail
		}
		u.emit(ev)
		u.setPhase(PhaseStopped)
		u.afterStop()
		return
	}

	u.setPhase(PhaseCrashed)
	var d classify.Decision
	if r.err != nil {
		d = classify.Decision{Verdict: classify.Crash, Restart: u.def.AutoRestart, Delay: u.def.RestartInterval}
		u.mu.Lock()
		u.st.LastError = r.err.Error()
		u.mu.Unlock()
		metrics.IncSupervisionError(u.def.Name, supervisionKind(r.err))
	} else {
		d = classify.Decide(u.def, r.uptime, r.exit)
	}
	u.mu.Lock()
	u.st.LastClassification = d.Verdict
	if d.Verdict == classify.Crash {
		u.st.CrashCount++
	}
	u.mu.Unlock()
	metrics.IncExit(u.def.Name, string(d.Verdict))

	kind := events.NormalExit
	if d.Verdict == classify.Crash {
		kind = events.Crashed
	}
	ev := u.exitEvent(kind, r)
	ev.Detail = exitDetail(d, r)
	u.emit(ev)

	if !d.Restart {
		u.setPhase(PhaseStopped)
		return
	}
	if d.Delay > 0 {
		u.setPhase(PhaseStarting)
		u.retry = u.opts.Clock.After(d.Delay)
		return
	}
	u.countRestart("crash")
	u.launch("crash")
}

// afterStop honours a start that was queued while stopping and releases
// the stop waiters.
func (u *unit) afterStop() {
	if u.pendingStart && !u.closing {
		u.pendingStart = false
		u.countRestart("manual")
		u.launch("manual")
	}
	u.release(nil)
}

func (u *unit) release(err error) {
	for _, w := range u.waiters {
		replyTo(w, err)
	}
	u.waiters = nil
	u.closeAttempted()
}

func (u *unit) exitEvent(kind events.Kind, r report) events.Event {
	ev := events.Event{Kind: kind, PID: r.exit.LastPID, Uptime: r.uptime}
	if r.exit.CodeKnown {
		code := r.exit.Code
		ev.ExitCode = &code
	}
	return ev
}

func exitDetail(d classify.Decision, r report) string {
	var parts []string
	if r.err != nil {
		parts = append(parts, r.err.Error())
	}
	if !r.exit.CodeKnown {
		parts = append(parts, "exit code unknown")
	}
	switch {
	case d.Restart && d.Delay > 0:
		parts = append(parts, "restart in "+d.Delay.String())
	case d.Restart:
		parts = append(parts, "restarting")
	case d.Verdict == classify.Crash:
		parts = append(parts, "auto restart disabled")
	}
	return strings.Join(parts, "; ")
}

func supervisionKind(err error) string {
	var pe *PanicError
	if errors.As(err, &pe) {
		return "panic"
	}
	var poll *monitor.PollError
	if errors.As(err, &poll) {
		return "poll"
	}
	return "other"
}

func (u *unit) phase() Phase {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.st.Phase
}

func (u *unit) setPhase(p Phase) {
	u.mu.Lock()
	old := u.st.Phase
	u.st.Phase = p
	u.mu.Unlock()
	if old == p {
		return
	}
	metrics.RecordStateTransition(u.def.Name, old.String(), p.String())
	metrics.SetCurrentState(u.def.Name, old.String(), false)
	metrics.SetCurrentState(u.def.Name, p.String(), true)
	u.log.Debug("phase", "from", old, "to", p)
}

// setTracked is also called from the instance goroutine as members exit.
func (u *unit) setTracked(pids []int) {
	cp := append([]int(nil), pids...)
	u.mu.Lock()
	u.pids = cp
	u.st.Tracked = len(cp)
	u.mu.Unlock()
	metrics.SetTracked(u.def.Name, len(cp))
}

func (u *unit) state() State {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.st.clone()
}

func (u *unit) trackedPIDs() []int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]int(nil), u.pids...)
}

func (u *unit) emit(ev events.Event) {
	st := u.state()
	ev.Time = u.opts.Clock.Now()
	ev.Service = u.def.Name
	ev.ServiceKind = string(u.def.Kind)
	ev.Command = u.def.Command
	ev.RestartCount = st.RestartCount
	ev.CrashCount = st.CrashCount
	if ev.PID == 0 {
		ev.PID = st.PID
	}
	if ev.StartedAt.IsZero() {
		ev.StartedAt = st.LaunchedAt
	}
	ctx, cancel := context.WithTimeout(context.Background(), u.opts.SinkTimeout)
	defer cancel()
	if err := u.opts.Sink.Send(ctx, ev); err != nil {
		u.log.Warn("event sink failed", "event", ev.Kind, "error", err)
	}
}

func replyTo(ch chan error, err error) {
	if ch != nil {
		ch <- err
	}
}
