// Package watchdogd is the embeddable entry point: load a configuration,
// assemble a Daemon and run it until its context ends.
package watchdogd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/watchdogd/internal/config"
	"github.com/loykin/watchdogd/internal/events"
	"github.com/loykin/watchdogd/internal/history"
	"github.com/loykin/watchdogd/internal/history/factory"
	"github.com/loykin/watchdogd/internal/logger"
	"github.com/loykin/watchdogd/internal/metrics"
	"github.com/loykin/watchdogd/internal/server"
	"github.com/loykin/watchdogd/internal/service"
	"github.com/loykin/watchdogd/internal/supervisor"
)

// Re-export core types for external consumers.

type Config = config.Config

type Definition = service.Definition

type State = supervisor.State

type Event = events.Event

type EventSink = events.Sink

type EventSinkFunc = events.SinkFunc

type Phase = supervisor.Phase

var (
	ErrUnknownService = supervisor.ErrUnknownService
	ErrShuttingDown   = supervisor.ErrShuttingDown
)

// LoadConfig reads and validates a configuration file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// shutdownGrace bounds HTTP listener shutdown.
const shutdownGrace = 5 * time.Second

// Daemon wires a Supervisor to its event sinks, HTTP API and metrics.
type Daemon struct {
	cfg *Config
	log *slog.Logger
	sup *supervisor.Supervisor

	recorder  *events.Recorder
	histories []history.Sink
	closers   []io.Closer
	registry  *prometheus.Registry
	resources *metrics.ResourceCollector
	router    *server.Router
}

// Option customises a Daemon.
type Option func(*daemonOptions)

type daemonOptions struct {
	logger *slog.Logger
	sinks  []events.Sink
	sup    supervisor.Options
}

// WithLogger replaces the logger built from the [log] section.
func WithLogger(l *slog.Logger) Option { return func(o *daemonOptions) { o.logger = l } }

// WithSink adds an event sink after the configured ones.
func WithSink(s events.Sink) Option {
	return func(o *daemonOptions) { o.sinks = append(o.sinks, s) }
}

// WithSupervisorOptions seeds the supervisor options; fields derived from
// the configuration are overwritten.
func WithSupervisorOptions(so supervisor.Options) Option {
	return func(o *daemonOptions) { o.sup = so }
}

// NewDaemon builds every component described by cfg. Sinks that fail to
// open abort construction and already opened ones are closed.
func NewDaemon(cfg *Config, opts ...Option) (*Daemon, error) {
	var o daemonOptions
	for _, fn := range opts {
		fn(&o)
	}
	log := o.logger
	if log == nil {
		log = cfg.File.Log.NewSlogger()
	}
	d := &Daemon{cfg: cfg, log: log}

	sinks := []events.Sink{events.NewLogSink(log)}
	if cfg.File.Server.Enabled {
		d.recorder = events.NewRecorder(cfg.File.Server.EventBuffer)
		sinks = append(sinks, d.recorder)
	}
	if cl := cfg.File.CrashLog; cl.Enabled {
		crash := events.NewCrashLog(crashLogWriter(cl, cfg.File.Log.File))
		sinks = append(sinks, crash)
		d.closers = append(d.closers, crash)
	}
	for _, h := range cfg.File.History {
		s, err := factory.NewSinkFromDSN(h.DSN, h.Table)
		if err != nil {
			_ = d.close()
			return nil, fmt.Errorf("open history %q: %w", h.DSN, err)
		}
		d.histories = append(d.histories, s)
		d.closers = append(d.closers, s)
		sinks = append(sinks, s)
	}
	sinks = append(sinks, o.sinks...)

	if cfg.File.Metrics.Enabled {
		d.registry = prometheus.NewRegistry()
		if err := metrics.Register(d.registry); err != nil {
			_ = d.close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		if cfg.File.Metrics.Resources.Enabled {
			d.resources = metrics.NewResourceCollector(cfg.File.Metrics.Resources, log)
			if err := d.resources.Register(d.registry); err != nil {
				_ = d.close()
				return nil, fmt.Errorf("register resource metrics: %w", err)
			}
		}
	}

	so := o.sup
	so.Sink = events.Multi(sinks...)
	so.Logger = log
	so.Env = cfg.Env
	so.Output = cfg.File.Log.File
	so.PollInterval = cfg.PollInterval()
	so.MaxPollFailures = cfg.File.Settings.MaxPollFailures
	so.StopTimeout = cfg.StopTimeout()
	sup, err := supervisor.New(cfg.Services, so)
	if err != nil {
		_ = d.close()
		return nil, err
	}
	d.sup = sup

	ropts := server.Options{
		BasePath: cfg.File.Server.BasePath,
		Logger:   log,
	}
	if d.recorder != nil {
		ropts.Events = d.recorder
	}
	if r := d.historyReader(); r != nil {
		ropts.History = r
	}
	d.router = server.NewRouter(sup, ropts)
	return d, nil
}

func crashLogWriter(cl config.CrashLogConfig, files logger.FileConfig) io.Writer {
	path := cl.Path
	if path == "" {
		path = filepath.Join(files.Dir, "crash_reports.log")
	}
	rot := logger.FileConfig{
		MaxSizeMB:  cl.MaxSizeMB,
		MaxBackups: cl.MaxBackups,
		MaxAgeDays: cl.MaxAgeDays,
		Compress:   cl.Compress,
	}
	return rot.Rotating(path)
}

// historyReader returns the first history sink that can be queried.
func (d *Daemon) historyReader() server.HistoryReader {
	for _, s := range d.histories {
		if r, ok := s.(server.HistoryReader); ok {
			return r
		}
	}
	return nil
}

// Supervisor exposes the underlying supervisor.
func (d *Daemon) Supervisor() *supervisor.Supervisor { return d.sup }

// Handler returns the API handler for mounting in another server.
func (d *Daemon) Handler() http.Handler { return d.router.Handler() }

// Router returns the API router.
func (d *Daemon) Router() *server.Router { return d.router }

// Gatherer returns the metrics registry, or nil when metrics are disabled.
func (d *Daemon) Gatherer() prometheus.Gatherer {
	if d.registry == nil {
		return nil
	}
	return d.registry
}

// Events returns the recent-event buffer, or nil when the API is disabled.
func (d *Daemon) Events() *events.Recorder { return d.recorder }

// Run starts the services in order, serves the configured listeners and
// blocks until ctx ends. It then stops every service and closes the
// sinks. Listener failures stop the daemon and are returned.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		runErrs []error
	)
	fail := func(err error) {
		errMu.Lock()
		runErrs = append(runErrs, err)
		errMu.Unlock()
		cancel()
	}
	serve := func(srv *http.Server) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Serve(ctx, srv, shutdownGrace, d.log); err != nil {
				fail(fmt.Errorf("listener %s: %w", srv.Addr, err))
			}
		}()
	}

	if d.cfg.File.Server.Enabled {
		serve(server.NewHTTPServer(d.cfg.File.Server.Listen, d.router.Handler()))
	}
	if d.registry != nil && d.cfg.File.Metrics.Listen != "" {
		serve(server.NewMetricsServer(d.cfg.File.Metrics.Listen, d.registry))
	}
	if d.resources != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.resources.Run(ctx, d.sup)
		}()
	}

	d.log.Info("starting services", "count", len(d.sup.Names()))
	if err := d.sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, supervisor.ErrShuttingDown) {
		fail(err)
	}
	<-ctx.Done()

	d.log.Info("shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), d.shutdownTimeout())
	defer scancel()
	if err := d.sup.Shutdown(sctx); err != nil {
		fail(err)
	}
	wg.Wait()
	if err := d.close(); err != nil {
		fail(err)
	}
	errMu.Lock()
	defer errMu.Unlock()
	return errors.Join(runErrs...)
}

// shutdownTimeout leaves room for the slowest service to be killed.
func (d *Daemon) shutdownTimeout() time.Duration {
	longest := d.cfg.StopTimeout()
	for _, def := range d.cfg.Services {
		if def.StopTimeout > longest {
			longest = def.StopTimeout
		}
	}
	return 2*longest + shutdownGrace
}

func (d *Daemon) close() error {
	var errs []error
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
