package monitor

import (
	"errors"
	"os/exec"
	"sync"
	"time"
)

// Primary owns the reaping of the directly spawned process. Its exit code
// is the only one the supervisor can observe.
type Primary struct {
	pid  int
	done chan struct{}

	mu        sync.Mutex
	code      int
	codeKnown bool
	at        time.Time
	err       error
}

func newPrimary(pid int) *Primary {
	return &Primary{pid: pid, done: make(chan struct{})}
}

// Reap starts waiting on cmd in the background. Call it right after Start
// so the primary never lingers as a zombie.
func Reap(cmd *exec.Cmd) *Primary {
	return Watch(cmd.Process.Pid, cmd.Wait)
}

// Watch runs wait in the background and records its outcome as the exit
// of pid.
func Watch(pid int, wait func() error) *Primary {
	p := newPrimary(pid)
	go func() {
		p.finish(wait())
	}()
	return p
}

func (p *Primary) finish(err error) {
	p.mu.Lock()
	p.at = time.Now()
	p.err = err
	var ee *exec.ExitError
	switch {
	case err == nil:
		p.code, p.codeKnown = 0, true
	case errors.As(err, &ee):
		// -1 when terminated by a signal
		if c := ee.ExitCode(); c >= 0 {
			p.code, p.codeKnown = c, true
		}
	}
	p.mu.Unlock()
	close(p.done)
}

func (p *Primary) PID() int { return p.pid }

// Done is closed once the primary has been reaped.
func (p *Primary) Done() <-chan struct{} { return p.done }

// Exited reports whether the primary has been reaped.
func (p *Primary) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Result returns the exit code, whether it is known, and when the primary
// was reaped. Valid only after Done is closed.
func (p *Primary) Result() (int, bool, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.codeKnown, p.at
}

// Err returns the raw Wait error.
func (p *Primary) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
