package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "watchdogd"
	subsystem = "service"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "starts_total",
			Help:      "Number of successful launches, restarts included.",
		}, []string{"name"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "restarts_total",
			Help:      "Number of relaunches, automatic and manual.",
		}, []string{"name", "reason"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stops_total",
			Help:      "Number of requested stops.",
		}, []string{"name"},
	)
	serviceExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "exits_total",
			Help:      "Unexpected exits by classification (crash or normal_exit).",
		}, []string{"name", "verdict"},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "launch_failures_total",
			Help:      "Number of launches that failed before a process existed.",
		}, []string{"name"},
	)
	supervisionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "supervision_errors_total",
			Help:      "Snapshot, poll and termination problems by kind.",
		}, []string{"name", "kind"},
	)
	uptimeAtExit = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "uptime_seconds",
			Help:      "Uptime observed when a tracked set emptied.",
			Buckets:   []float64{1, 5, 30, 60, 300, 1800, 3600, 21600, 86400},
		}, []string{"name"},
	)
	trackedProcesses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tracked_processes",
			Help:      "Processes currently attributed to the service.",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle phase transitions.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "current_state",
			Help:      "Current lifecycle phase (1 = active phase, 0 = inactive).",
		}, []string{"name", "state"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		serviceStarts, serviceRestarts, serviceStops, serviceExits, launchFailures,
		supervisionErrors, uptimeAtExit, trackedProcesses, stateTransitions, currentStates,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by the supervisor to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}

// IncRestart counts a relaunch; reason is "crash" or "manual".
func IncRestart(name, reason string) {
	if regOK.Load() {
		serviceRestarts.WithLabelValues(name, reason).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name).Inc()
	}
}

func IncExit(name, verdict string) {
	if regOK.Load() {
		serviceExits.WithLabelValues(name, verdict).Inc()
	}
}

func IncLaunchFailure(name string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(name).Inc()
	}
}

// IncSupervisionError counts a non-fatal error; kind is "snapshot", "poll"
// or "termination".
func IncSupervisionError(name, kind string) {
	if regOK.Load() {
		supervisionErrors.WithLabelValues(name, kind).Inc()
	}
}

func ObserveUptime(name string, seconds float64) {
	if regOK.Load() {
		uptimeAtExit.WithLabelValues(name).Observe(seconds)
	}
}

func SetTracked(name string, n int) {
	if regOK.Load() {
		trackedProcesses.WithLabelValues(name).Set(float64(n))
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}
