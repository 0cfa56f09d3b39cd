package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/watchdogd/internal/env"
	"github.com/loykin/watchdogd/internal/events"
	"github.com/loykin/watchdogd/internal/logger"
	"github.com/loykin/watchdogd/internal/monitor"
	"github.com/loykin/watchdogd/internal/service"
	"github.com/loykin/watchdogd/internal/snapshot"
	"github.com/loykin/watchdogd/internal/strategy"
)

// defaultSinkTimeout bounds a single event delivery.
const defaultSinkTimeout = 5 * time.Second

// Launcher spawns the primary process of a service.
type Launcher interface {
	Launch(def service.Definition, opts strategy.Options) (*strategy.Spawn, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(def service.Definition, opts strategy.Options) (*strategy.Spawn, error)

func (f LauncherFunc) Launch(def service.Definition, opts strategy.Options) (*strategy.Spawn, error) {
	return f(def, opts)
}

// Tracker captures the process set a launch produced.
type Tracker interface {
	Before(ctx context.Context, def service.Definition) (snapshot.Snapshot, error)
	Capture(ctx context.Context, def service.Definition, before snapshot.Snapshot, l snapshot.Launch) (snapshot.Result, error)
}

// Options configures a Supervisor. Zero values select the OS-backed
// implementations.
type Options struct {
	Sink     events.Sink
	Logger   *slog.Logger
	Launcher Launcher
	Tracker  Tracker
	Prober   monitor.Prober
	// Signal overrides OS signal delivery during termination.
	Signal func(pid int, group, force bool) error

	Env    *env.Env
	Output logger.FileConfig

	PollInterval    time.Duration
	MaxPollFailures int
	// StopTimeout applies to definitions that do not set their own.
	StopTimeout time.Duration
	SinkTimeout time.Duration
	Clock       Clock
}

func (o Options) withDefaults() Options {
	if o.Sink == nil {
		o.Sink = events.Discard
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Launcher == nil {
		o.Launcher = LauncherFunc(strategy.Launch)
	}
	if o.Tracker == nil {
		o.Tracker = &snapshot.Tracker{Logger: o.Logger}
	}
	if o.Prober == nil {
		o.Prober = monitor.ProcProber{}
	}
	if o.Env == nil {
		o.Env = env.New()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = monitor.DefaultPollInterval
	}
	if o.MaxPollFailures <= 0 {
		o.MaxPollFailures = monitor.DefaultMaxPollFailures
	}
	if o.SinkTimeout <= 0 {
		o.SinkTimeout = defaultSinkTimeout
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	return o
}
