package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapm",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process launches.",
		}, []string{"name"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapm",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stop requests handled.",
		}, []string{"name"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapm",
			Subsystem: "process",
			Name:      "auto_restarts_total",
			Help:      "Number of restarts triggered by the monitor.",
		}, []string{"name"},
	)
	processFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapm",
			Subsystem: "process",
			Name:      "failures_total",
			Help:      "Number of Running records found dead by reconciliation.",
		}, []string{"name"},
	)
	spawnErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapm",
			Subsystem: "process",
			Name:      "spawn_errors_total",
			Help:      "Number of launches refused by the OS or rejected as empty.",
		}, []string{"name"},
	)
	restartsSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapm",
			Subsystem: "monitor",
			Name:      "restarts_suppressed_total",
			Help:      "Auto-restarts withheld by the crash-loop breaker.",
		}, []string{"name"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zapm",
			Subsystem: "process",
			Name:      "current_state",
			Help:      "1 for the state a record is in, 0 for the others.",
		}, []string{"name", "state"},
	)
	monitorPass = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zapm",
			Subsystem: "monitor",
			Name:      "pass_duration_seconds",
			Help:      "Duration of one reconciliation pass.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

var states = []string{"Running", "Stopped", "Failed", "Unknown"}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processStarts, processStops, processRestarts, processFailures, spawnErrors, restartsSuppressed, currentStates, monitorPass}
	for _, c := range cs {
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

// Handler serves the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		processStops.WithLabelValues(name).Inc()
	}
}

func IncAutoRestart(name string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(name).Inc()
	}
}

func IncFailure(name string) {
	if regOK.Load() {
		processFailures.WithLabelValues(name).Inc()
	}
}

func IncSpawnError(name string) {
	if regOK.Load() {
		spawnErrors.WithLabelValues(name).Inc()
	}
}

func IncRestartSuppressed(name string) {
	if regOK.Load() {
		restartsSuppressed.WithLabelValues(name).Inc()
	}
}

func ObserveMonitorPass(seconds float64) {
	if regOK.Load() {
		monitorPass.Observe(seconds)
	}
}

// SetState marks state as the current one for name.
func SetState(name, state string) {
	if !regOK.Load() {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		currentStates.WithLabelValues(name, s).Set(v)
	}
}

// ForgetProcess drops every series labelled with name.
func ForgetProcess(name string) {
	if !regOK.Load() {
		return
	}
	for _, s := range states {
		currentStates.DeleteLabelValues(name, s)
	}
	for _, v := range []*prometheus.CounterVec{processStarts, processStops, processRestarts, processFailures, spawnErrors, restartsSuppressed} {
		v.DeleteLabelValues(name)
	}
}
