// Package monitor polls the tracked process set of one running service
// instance until every member has been observed gone.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"syscall"
	"time"

	"github.com/loykin/watchdogd/internal/snapshot"
)

const (
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultMaxPollFailures = 5
	// killGrace bounds the wait for survivors after SIGKILL.
	killGrace = 5 * time.Second
	// tokenSlack is the start time difference, in milliseconds, still
	// taken as the same process.
	tokenSlack = 1000
)

// Member is one non-primary tracked process.
type Member struct {
	PID   int
	Name  string
	Token int64
}

// Status is the outcome of one poll.
type Status struct {
	Alive      bool
	AliveCount int
}

// Exit describes the terminal state of an emptied set. Code comes from the
// primary only.
type Exit struct {
	Code      int
	CodeKnown bool
	At        time.Time
	LastPID   int
}

type Options struct {
	Prober          Prober
	MaxPollFailures int
	// Interval paces polling inside Terminate.
	Interval time.Duration
	Logger   *slog.Logger
	// Signal delivers stop signals; nil uses the OS.
	Signal func(pid int, group, force bool) error
	// OnChange receives the remaining member pids whenever the set shrinks.
	OnChange func(pids []int)
}

// Monitor owns one tracked set. It is not safe for concurrent use; the
// service's instance goroutine is its only caller.
type Monitor struct {
	service string
	log     *slog.Logger
	prober  Prober

	primary        *Primary
	primaryTracked bool
	members        map[int]Member

	maxFailures int
	failures    int
	interval    time.Duration
	signal      func(pid int, group, force bool) error
	onChange    func(pids []int)
	reported    int

	lastAt  time.Time
	lastPID int
	// released holds members dropped by the last Terminate because they
	// could not be signalled.
	released []int
}

// New builds the set from a capture result. A member's identity token is its
// captured start time, falling back to a probe when the capture had none.
// Members already gone, or whose pid was reused since capture, are dropped.
func New(ctx context.Context, service string, primary *Primary, res snapshot.Result, opts Options) *Monitor {
	m := &Monitor{
		service:        service,
		log:            opts.Logger,
		prober:         opts.Prober,
		primary:        primary,
		primaryTracked: res.PrimaryIncluded && primary != nil,
		members:        make(map[int]Member, len(res.Members)),
		maxFailures:    opts.MaxPollFailures,
		interval:       opts.Interval,
		signal:         opts.Signal,
		onChange:       opts.OnChange,
	}
	if m.signal == nil {
		m.signal = signalProcess
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.prober == nil {
		m.prober = ProcProber{}
	}
	if m.maxFailures <= 0 {
		m.maxFailures = DefaultMaxPollFailures
	}
	if m.interval <= 0 {
		m.interval = DefaultPollInterval
	}
	if primary != nil && primary.Exited() {
		m.primaryTracked = false
		_, _, at := primary.Result()
		m.noteExit(primary.PID(), at)
	}
	for _, p := range res.Members {
		if primary != nil && p.PID == primary.PID() {
			continue
		}
		// the capture's start time is the identity; a probe can only
		// confirm it or show that the pid was reused since
		token := p.CreateTime
		alive, tok, err := m.prober.Probe(ctx, p.PID)
		if err == nil && (!alive || reused(token, tok)) {
			m.noteExit(p.PID, time.Now())
			continue
		}
		if token == 0 {
			token = tok
		}
		m.members[p.PID] = Member{PID: p.PID, Name: p.Name, Token: token}
	}
	m.reported = m.Len()
	return m
}

// reused reports whether token got belongs to a different process than
// want. Enumeration and probing may derive boot time from different
// sources, so start times within tokenSlack are the same process.
func reused(want, got int64) bool {
	if want == 0 || got == 0 {
		return false
	}
	d := want - got
	if d < 0 {
		d = -d
	}
	return d > tokenSlack
}

func (m *Monitor) noteExit(pid int, at time.Time) {
	if at.After(m.lastAt) || m.lastAt.IsZero() {
		m.lastAt = at
		m.lastPID = pid
	}
}

// Len returns the number of members not yet observed gone.
func (m *Monitor) Len() int {
	n := len(m.members)
	if m.primaryTracked {
		n++
	}
	return n
}

// PIDs lists the live members, primary first.
func (m *Monitor) PIDs() []int {
	out := make([]int, 0, m.Len())
	if m.primaryTracked {
		out = append(out, m.primary.PID())
	}
	rest := make([]int, 0, len(m.members))
	for pid := range m.members {
		rest = append(rest, pid)
	}
	sort.Ints(rest)
	return append(out, rest...)
}

// Poll observes every member once. Members that are gone, or whose pid now
// carries a different identity token, leave the set for good. Probe
// failures keep the member and are reported as *PollError.
func (m *Monitor) Poll(ctx context.Context) (Status, error) {
	if m.primaryTracked && m.primary.Exited() {
		m.primaryTracked = false
		_, _, at := m.primary.Result()
		m.noteExit(m.primary.PID(), at)
	}
	var errs []error
	for pid, mem := range m.members {
		alive, tok, err := m.prober.Probe(ctx, pid)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !alive || reused(mem.Token, tok) {
			m.drop(pid)
		}
	}
	st := Status{AliveCount: m.Len()}
	st.Alive = st.AliveCount > 0
	if st.AliveCount != m.reported {
		m.reported = st.AliveCount
		if m.onChange != nil {
			m.onChange(m.PIDs())
		}
	}
	if len(errs) > 0 {
		m.failures++
		return st, &PollError{Service: m.service, Failures: m.failures, Err: errors.Join(errs...)}
	}
	m.failures = 0
	return st, nil
}

// Exit returns the terminal description of the set.
func (m *Monitor) Exit() Exit {
	e := Exit{At: m.lastAt, LastPID: m.lastPID}
	if m.primary != nil && m.primary.Exited() {
		e.Code, e.CodeKnown, _ = m.primary.Result()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return e
}

// Run polls every interval until the set is empty, the context ends, or
// polling has failed MaxPollFailures ticks in a row. The primary's exit
// wakes the loop early.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) (Exit, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		st, err := m.Poll(ctx)
		if err != nil {
			var pe *PollError
			if errors.As(err, &pe) && pe.Failures >= m.maxFailures {
				return m.Exit(), err
			}
			m.log.Debug("poll failed, retrying", "service", m.service, "error", err)
		}
		if !st.Alive {
			return m.Exit(), nil
		}
		var primaryDone <-chan struct{}
		if m.primaryTracked {
			primaryDone = m.primary.Done()
		}
		select {
		case <-ctx.Done():
			return Exit{}, ctx.Err()
		case <-primaryDone:
		case <-t.C:
		}
	}
}

// Terminate stops every member: a graceful signal (to the primary's whole
// process group), up to timeout for the set to empty, then a forceful
// signal to survivors. Survivors of the kill are signalled again every
// killGrace until the set is empty or ctx ends; Terminate never reports an
// empty set while a member is still observed alive. Members that cannot be
// signalled at all (EPERM) are released from the set and named in a
// *ReleasedError. Escalation yields *TerminationTimeout.
func (m *Monitor) Terminate(ctx context.Context, timeout time.Duration) error {
	if m.Len() == 0 {
		return nil
	}
	m.released = nil
	m.signalAll(false)
	if m.waitEmpty(ctx, timeout) {
		return m.releasedErr()
	}
	survivors := m.PIDs()
	m.log.Warn("graceful stop timed out, killing", "service", m.service, "pids", survivors)
	for {
		m.signalAll(true)
		if m.waitEmpty(ctx, killGrace) {
			return &TerminationTimeout{Service: m.service, Timeout: timeout.String(), Survivors: survivors, Released: m.released}
		}
		if err := ctx.Err(); err != nil {
			return errors.Join(&TerminationTimeout{Service: m.service, Timeout: timeout.String(), Survivors: survivors, Released: m.released}, err)
		}
		m.log.Warn("processes survived kill, still waiting", "service", m.service, "pids", m.PIDs())
	}
}

func (m *Monitor) releasedErr() error {
	if len(m.released) == 0 {
		return nil
	}
	return &ReleasedError{Service: m.service, PIDs: m.released}
}

func (m *Monitor) signalAll(force bool) {
	if m.primary != nil && !m.primary.Exited() {
		if err := m.signal(m.primary.PID(), true, force); err != nil {
			m.log.Debug("signal primary", "service", m.service, "pid", m.primary.PID(), "error", err)
		}
	}
	for pid, mem := range m.members {
		// re-check identity so a reused pid is never signalled
		alive, tok, err := m.prober.Probe(context.Background(), pid)
		if err == nil && (!alive || reused(mem.Token, tok)) {
			m.drop(pid)
			continue
		}
		err = m.signal(pid, false, force)
		switch {
		case err == nil:
		case errors.Is(err, syscall.ESRCH):
			m.drop(pid)
		case errors.Is(err, syscall.EPERM):
			m.log.Warn("cannot signal tracked process, releasing it", "service", m.service, "pid", pid, "name", mem.Name)
			delete(m.members, pid)
			m.released = append(m.released, pid)
		default:
			m.log.Debug("signal member", "service", m.service, "pid", pid, "error", err)
		}
	}
}

func (m *Monitor) drop(pid int) {
	delete(m.members, pid)
	m.noteExit(pid, time.Now())
}

// waitEmpty polls until the set is empty (true) or d elapses or ctx ends.
func (m *Monitor) waitEmpty(ctx context.Context, d time.Duration) bool {
	step := m.interval
	if step > 100*time.Millisecond {
		step = 100 * time.Millisecond
	}
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(step)
	defer tick.Stop()
	for {
		if st, _ := m.Poll(ctx); !st.Alive {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			st, _ := m.Poll(ctx)
			return !st.Alive
		case <-tick.C:
		}
	}
}
