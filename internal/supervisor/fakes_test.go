package supervisor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/watchdogd/internal/events"
	"github.com/loykin/watchdogd/internal/service"
	"github.com/loykin/watchdogd/internal/snapshot"
	"github.com/loykin/watchdogd/internal/strategy"
)

// fakeClock fires After channels only when advanced.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []clockWaiter
}

type clockWaiter struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, clockWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// fakeProc is a primary whose exit is driven by the test.
type fakeProc struct {
	name   string
	pid    int
	exit   chan error
	done   chan struct{}
	once   sync.Once
	signal int
}

func (p *fakeProc) wait() error {
	err := <-p.exit
	close(p.done)
	return err
}

// finish makes Wait return err; later calls are ignored.
func (p *fakeProc) finish(err error) {
	p.once.Do(func() { p.exit <- err })
}

func (p *fakeProc) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

type fakeLauncher struct {
	mu      sync.Mutex
	nextPID int
	procs   []*fakeProc
	names   []string
	fail    error
	// maxLive is the most primaries ever alive at once per service.
	maxLive map[string]int
	// ignoreTerm keeps procs alive through a graceful signal.
	ignoreTerm bool
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{nextPID: 1000, maxLive: map[string]int{}}
}

func (l *fakeLauncher) Launch(def service.Definition, _ strategy.Options) (*strategy.Spawn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, def.Name)
	if l.fail != nil {
		return nil, &strategy.LaunchError{Service: def.Name, Op: "spawn", Err: l.fail}
	}
	live := 1
	for _, p := range l.procs {
		if p.name == def.Name && !p.exited() {
			live++
		}
	}
	if live > l.maxLive[def.Name] {
		l.maxLive[def.Name] = live
	}
	l.nextPID++
	p := &fakeProc{name: def.Name, pid: l.nextPID, exit: make(chan error, 1), done: make(chan struct{})}
	l.procs = append(l.procs, p)
	return &strategy.Spawn{PID: p.pid, StartedAt: time.Now(), Wait: p.wait}, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.names)
}

func (l *fakeLauncher) launched() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

// last returns the most recent proc of the named service.
func (l *fakeLauncher) last(name string) *fakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.procs) - 1; i >= 0; i-- {
		if l.procs[i].name == name {
			return l.procs[i]
		}
	}
	return nil
}

// signal stands in for OS signal delivery.
func (l *fakeLauncher) signal(pid int, _ bool, force bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.procs {
		if p.pid != pid {
			continue
		}
		p.signal++
		if l.ignoreTerm && !force {
			return nil
		}
		p.finish(errors.New("signal: terminated"))
		return nil
	}
	return errors.New("no such process")
}

type deadProber struct{}

func (deadProber) Probe(context.Context, int) (bool, int64, error) { return false, 0, nil }

// gatedTracker blocks Capture for the named service until gate is closed.
type gatedTracker struct {
	service string
	gate    chan struct{}
	panics  bool
}

func (g *gatedTracker) Before(context.Context, service.Definition) (snapshot.Snapshot, error) {
	return nil, nil
}

func (g *gatedTracker) Capture(ctx context.Context, def service.Definition, _ snapshot.Snapshot, l snapshot.Launch) (snapshot.Result, error) {
	if def.Name == g.service {
		if g.panics {
			panic("capture exploded")
		}
		select {
		case <-g.gate:
		case <-ctx.Done():
		}
	}
	return snapshot.Result{Primary: l.PID, PrimaryIncluded: true, Members: []snapshot.Proc{{PID: l.PID}}}, nil
}

// helperTracker attributes one extra process to every launch. With
// holdBefore set, Before blocks until its context ends.
type helperTracker struct {
	helper     int
	holdBefore bool
}

func (h *helperTracker) Before(ctx context.Context, _ service.Definition) (snapshot.Snapshot, error) {
	if h.holdBefore {
		<-ctx.Done()
	}
	return nil, nil
}

func (h *helperTracker) Capture(_ context.Context, _ service.Definition, _ snapshot.Snapshot, l snapshot.Launch) (snapshot.Result, error) {
	return snapshot.Result{
		Primary:         l.PID,
		PrimaryIncluded: true,
		Members:         []snapshot.Proc{{PID: l.PID}, {PID: h.helper, Name: "helper"}},
	}, nil
}

// helperProber reports only the helper pid, alive until released.
type helperProber struct {
	helper int
	gone   atomic.Bool
}

func (p *helperProber) Probe(_ context.Context, pid int) (bool, int64, error) {
	if pid != p.helper || p.gone.Load() {
		return false, 0, nil
	}
	return true, 42, nil
}

type harness struct {
	sup      *Supervisor
	launcher *fakeLauncher
	clock    *fakeClock
	rec      *events.Recorder
}

func newHarness(t *testing.T, defs []service.Definition, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{launcher: newFakeLauncher(), clock: newFakeClock(), rec: events.NewRecorder(512)}
	opts := Options{
		Sink:         h.rec,
		Launcher:     h.launcher,
		Prober:       deadProber{},
		Signal:       h.launcher.signal,
		PollInterval: 5 * time.Millisecond,
		StopTimeout:  200 * time.Millisecond,
		Clock:        h.clock,
	}
	for _, m := range mutate {
		m(&opts)
	}
	sup, err := New(defs, opts)
	require.NoError(t, err)
	h.sup = sup
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	require.NoError(t, h.sup.Run(context.Background()))
}

func (h *harness) waitPhase(t *testing.T, name string, want Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := h.sup.State(name)
		return err == nil && st.Phase == want
	}, 3*time.Second, 2*time.Millisecond, "service %s never reached %s", name, want)
}

func (h *harness) kinds(name string) []events.Kind {
	var out []events.Kind
	for _, e := range h.rec.Filter(name, 0) {
		out = append(out, e.Kind)
	}
	return out
}

func (h *harness) lastEvent(name string, kind events.Kind) (events.Event, bool) {
	evs := h.rec.Filter(name, 0)
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Kind == kind {
			return evs[i], true
		}
	}
	return events.Event{}, false
}

func def(name string) service.Definition {
	return service.Definition{
		Name:    name,
		Kind:    service.KindExecutable,
		Command: "/opt/" + name + "/bin/" + name,
		Enabled: true,
	}
}

func sortedKeys(m map[string][]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
