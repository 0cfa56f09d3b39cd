package monitor

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/watchdogd/internal/snapshot"
)

type probe struct {
	alive bool
	token int64
}

type fakeProber struct {
	mu    sync.Mutex
	procs map[int]probe
	errs  int // number of upcoming calls that fail
	calls int
}

func newFakeProber() *fakeProber { return &fakeProber{procs: map[int]probe{}} }

func (f *fakeProber) set(pid int, alive bool, token int64) {
	f.mu.Lock()
	f.procs[pid] = probe{alive: alive, token: token}
	f.mu.Unlock()
}

func (f *fakeProber) failNext(n int) {
	f.mu.Lock()
	f.errs = n
	f.mu.Unlock()
}

func (f *fakeProber) Probe(_ context.Context, pid int) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.errs > 0 {
		f.errs--
		return false, 0, errors.New("proc table busy")
	}
	p := f.procs[pid]
	return p.alive, p.token, nil
}

func result(primary int, others ...int) snapshot.Result {
	r := snapshot.Result{Primary: primary, PrimaryIncluded: true, Members: []snapshot.Proc{{PID: primary}}}
	for _, p := range others {
		r.Members = append(r.Members, snapshot.Proc{PID: p, Name: "helper"})
	}
	return r
}

func TestPollShrinksUntilEmpty(t *testing.T) {
	pr := newFakeProber()
	pr.set(101, true, 7)
	primary := newPrimary(100)
	m := New(context.Background(), "svc", primary, result(100, 101), Options{Prober: pr})
	assert.Equal(t, []int{100, 101}, m.PIDs())

	primary.finish(nil)
	st, err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Status{Alive: true, AliveCount: 1}, st)

	pr.set(101, false, 0)
	st, err = m.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Alive)

	exit := m.Exit()
	assert.True(t, exit.CodeKnown)
	assert.Equal(t, 0, exit.Code)
	assert.Equal(t, 101, exit.LastPID, "last member to exit")
}

func TestPollTokenMismatchIsExit(t *testing.T) {
	pr := newFakeProber()
	pr.set(201, true, 1000)
	primary := newPrimary(200)
	primary.finish(nil)
	m := New(context.Background(), "svc", primary, result(200, 201), Options{Prober: pr})
	require.Equal(t, 1, m.Len())

	// pid 201 was reused by an unrelated process
	pr.set(201, true, 9000)
	st, err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Alive)

	// the original never comes back even if probed alive again
	pr.set(201, true, 1000)
	st, _ = m.Poll(context.Background())
	assert.False(t, st.Alive)
}

func TestNewDropsMembersAlreadyGone(t *testing.T) {
	pr := newFakeProber()
	pr.set(301, false, 0)
	pr.set(302, true, 5)
	m := New(context.Background(), "svc", newPrimary(300), result(300, 301, 302), Options{Prober: pr})
	assert.Equal(t, []int{300, 302}, m.PIDs())
}

func TestNewUsesCapturedStartTime(t *testing.T) {
	pr := newFakeProber()
	// 311 was reused between capture and monitor creation; 312 is the
	// captured process, its probed start time off by boot-time rounding
	pr.set(311, true, 50_000)
	pr.set(312, true, 20_400)
	primary := newPrimary(310)
	res := snapshot.Result{Primary: 310, Members: []snapshot.Proc{
		{PID: 311, Name: "old", CreateTime: 10_000},
		{PID: 312, Name: "kept", CreateTime: 20_000},
	}}
	m := New(context.Background(), "svc", primary, res, Options{Prober: pr})
	assert.Equal(t, []int{312}, m.PIDs())

	// later reuse of 312 is judged against the captured start time
	pr.set(312, true, 90_000)
	st, err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Alive)
}

func TestPrimaryNotIncluded(t *testing.T) {
	pr := newFakeProber()
	pr.set(401, true, 9)
	primary := newPrimary(400)
	res := snapshot.Result{Primary: 400, Members: []snapshot.Proc{{PID: 401}}}
	m := New(context.Background(), "svc", primary, res, Options{Prober: pr})
	assert.Equal(t, []int{401}, m.PIDs())
}

func TestRunPersistentPollError(t *testing.T) {
	pr := newFakeProber()
	pr.set(501, true, 1)
	primary := newPrimary(500)
	primary.finish(nil)
	m := New(context.Background(), "svc", primary, result(500, 501), Options{Prober: pr, MaxPollFailures: 3})
	pr.failNext(100)

	_, err := m.Run(context.Background(), time.Millisecond)
	var pe *PollError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Failures)
	assert.Equal(t, "svc", pe.Service)
}

func TestRunTransientPollErrorRecovers(t *testing.T) {
	pr := newFakeProber()
	pr.set(601, true, 1)
	primary := newPrimary(600)
	primary.finish(nil)
	m := New(context.Background(), "svc", primary, result(600, 601), Options{Prober: pr, MaxPollFailures: 3})
	pr.failNext(2)
	go func() {
		time.Sleep(20 * time.Millisecond)
		pr.set(601, false, 0)
	}()
	exit, err := m.Run(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 601, exit.LastPID)
}

func TestRunWakesOnPrimaryExit(t *testing.T) {
	primary := newPrimary(700)
	m := New(context.Background(), "svc", primary, result(700), Options{Prober: newFakeProber()})
	go func() {
		time.Sleep(10 * time.Millisecond)
		primary.finish(nil)
	}()
	start := time.Now()
	exit, err := m.Run(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, exit.CodeKnown)
	assert.Equal(t, 700, exit.LastPID)
}

func TestRunContextCancel(t *testing.T) {
	m := New(context.Background(), "svc", newPrimary(800), result(800), Options{Prober: newFakeProber()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Run(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcProberSelf(t *testing.T) {
	alive, token, err := ProcProber{}.Probe(context.Background(), os.Getpid())
	require.NoError(t, err)
	assert.True(t, alive)
	assert.Greater(t, token, int64(0))

	again, token2, err := ProcProber{}.Probe(context.Background(), os.Getpid())
	require.NoError(t, err)
	assert.True(t, again)
	assert.Equal(t, token, token2, "token is stable for one process")
}

func TestTerminationTimeoutMessage(t *testing.T) {
	e := &TerminationTimeout{Service: "web", Timeout: "5s", Survivors: []int{1, 2}}
	assert.Equal(t, "stop web: graceful termination exceeded 5s, killed [1 2]", e.Error())
	e.Released = []int{3}
	assert.Equal(t, "stop web: graceful termination exceeded 5s, killed [1 2], released unsignallable [3]", e.Error())
}

// reaped returns a primary that has already exited.
func reaped(t *testing.T, pid int) *Primary {
	t.Helper()
	p := Watch(pid, func() error { return nil })
	<-p.Done()
	return p
}

func memberOnly(primary *Primary, pid int) snapshot.Result {
	return snapshot.Result{Primary: primary.PID(), Members: []snapshot.Proc{{PID: pid, Name: "helper"}}}
}

func TestTerminateWaitsForKillSurvivors(t *testing.T) {
	pr := newFakeProber()
	pr.set(701, true, 7)
	var mu sync.Mutex
	var kills int
	sig := func(pid int, _, force bool) error {
		mu.Lock()
		defer mu.Unlock()
		if force {
			kills++
		}
		return nil
	}
	primary := reaped(t, 700)
	m := New(context.Background(), "svc", primary, memberOnly(primary, 701), Options{Prober: pr, Signal: sig, Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := m.Terminate(ctx, 20*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	var tt *TerminationTimeout
	require.ErrorAs(t, err, &tt)
	assert.Equal(t, []int{701}, m.PIDs(), "an unkilled member stays tracked")

	go func() {
		time.Sleep(100 * time.Millisecond)
		pr.set(701, false, 0)
	}()
	err = m.Terminate(context.Background(), 20*time.Millisecond)
	require.ErrorAs(t, err, &tt)
	assert.Zero(t, m.Len())
	mu.Lock()
	assert.GreaterOrEqual(t, kills, 2)
	mu.Unlock()
}

func TestTerminateReleasesUnsignallable(t *testing.T) {
	pr := newFakeProber()
	pr.set(801, true, 8)
	sig := func(int, bool, bool) error { return syscall.EPERM }
	primary := reaped(t, 800)
	m := New(context.Background(), "svc", primary, memberOnly(primary, 801), Options{Prober: pr, Signal: sig})

	err := m.Terminate(context.Background(), time.Second)
	var re *ReleasedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, []int{801}, re.PIDs)
	assert.Zero(t, m.Len())
	assert.Equal(t, "stop svc: released unsignallable [801]", err.Error())
}

func TestTerminateDropsVanishedMember(t *testing.T) {
	pr := newFakeProber()
	pr.set(901, true, 9)
	sig := func(int, bool, bool) error { return syscall.ESRCH }
	primary := reaped(t, 900)
	m := New(context.Background(), "svc", primary, memberOnly(primary, 901), Options{Prober: pr, Signal: sig})

	require.NoError(t, m.Terminate(context.Background(), time.Second))
	assert.Zero(t, m.Len())
	assert.Equal(t, 901, m.Exit().LastPID)
}
