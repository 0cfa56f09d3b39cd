// Package supervisor runs every configured service through its lifecycle:
// ordered startup, launch, process tracking, exit classification and
// restart. Each service is driven by one goroutine that serialises all of
// its transitions, so a service never has two live process sets.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/loykin/watchdogd/internal/service"
)

type Supervisor struct {
	opts   Options
	units  []*unit
	byName map[string]*unit

	started  atomic.Bool
	closed   atomic.Bool
	quit     chan struct{}
	quitOnce sync.Once
}

// New validates defs and prepares one unit per enabled definition. No
// process is launched until Run.
func New(defs []service.Definition, opts Options) (*Supervisor, error) {
	if err := service.ValidateSet(defs); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	s := &Supervisor{
		opts:   opts,
		byName: make(map[string]*unit, len(defs)),
		quit:   make(chan struct{}),
	}
	for _, d := range defs {
		if !d.Enabled {
			opts.Logger.Info("service disabled, skipping", "service", d.Name)
			continue
		}
		if d.StopTimeout <= 0 && opts.StopTimeout > 0 {
			d.StopTimeout = opts.StopTimeout
		}
		u := newUnit(d.WithDefaults(), opts)
		s.units = append(s.units, u)
		s.byName[d.Name] = u
	}
	return s, nil
}

// Run performs the ordered startup: in configuration order, wait the
// service's startup delay, then launch it and wait for the spawn attempt to
// complete before moving on. It does not wait for capture windows. Run
// returns once every service has been attempted; the services keep running
// until Shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("supervisor already started")
	}
	for _, u := range s.units {
		if d := u.def.StartupDelay; d > 0 {
			select {
			case <-s.opts.Clock.After(d):
			case <-ctx.Done():
				return ctx.Err()
			case <-s.quit:
				return ErrShuttingDown
			}
		}
		attempted := make(chan struct{})
		if err := u.send(ctx, command{action: actionBoot, attempted: attempted}); err != nil {
			return err
		}
		select {
		case <-attempted:
		case <-u.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.opts.Logger.Info("startup complete", "services", len(s.units))
	return nil
}

func (s *Supervisor) unit(name string) (*unit, error) {
	if s.closed.Load() {
		return nil, ErrShuttingDown
	}
	u, ok := s.byName[name]
	if !ok {
		return nil, unknown(name)
	}
	return u, nil
}

func (s *Supervisor) command(ctx context.Context, name string, a commandAction) error {
	u, err := s.unit(name)
	if err != nil {
		return err
	}
	return u.do(ctx, a)
}

// StartService launches a stopped service. It is a no-op for a service
// that is already starting or running, and is queued behind an in-progress
// stop.
func (s *Supervisor) StartService(ctx context.Context, name string) error {
	return s.command(ctx, name, actionStart)
}

// StopService terminates the service's process set and returns once it is
// empty. A pending automatic restart is cancelled.
func (s *Supervisor) StopService(ctx context.Context, name string) error {
	return s.command(ctx, name, actionStop)
}

// RestartService stops the service and launches it again. Concurrent
// restarts coalesce into one relaunch.
func (s *Supervisor) RestartService(ctx context.Context, name string) error {
	return s.command(ctx, name, actionRestart)
}

// State returns a snapshot of one service.
func (s *Supervisor) State(name string) (State, error) {
	u, ok := s.byName[name]
	if !ok {
		return State{}, unknown(name)
	}
	return u.state(), nil
}

// States returns every service in configuration order.
func (s *Supervisor) States() []State {
	out := make([]State, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u.state())
	}
	return out
}

// Names lists the supervised services in configuration order.
func (s *Supervisor) Names() []string {
	out := make([]string, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u.def.Name)
	}
	return out
}

// Definition returns the effective definition of a service.
func (s *Supervisor) Definition(name string) (service.Definition, error) {
	u, ok := s.byName[name]
	if !ok {
		return service.Definition{}, unknown(name)
	}
	return u.def, nil
}

// TrackedPIDs returns the live tracked pids of every service that has any.
func (s *Supervisor) TrackedPIDs() map[string][]int {
	out := make(map[string][]int, len(s.units))
	for _, u := range s.units {
		if pids := u.trackedPIDs(); len(pids) > 0 {
			out[u.def.Name] = pids
		}
	}
	return out
}

// Shutdown stops every service concurrently and waits for all process sets
// to be empty. Further commands fail with ErrShuttingDown.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.closed.Store(true)
	s.quitOnce.Do(func() { close(s.quit) })

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, u := range s.units {
		wg.Add(1)
		go func(u *unit) {
			defer wg.Done()
			err := u.do(ctx, actionShutdown)
			if err != nil && !errors.Is(err, ErrShuttingDown) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.opts.Logger.Info("all services stopped")
	return nil
}
