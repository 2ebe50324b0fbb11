// Package metrics exposes the daemon's Prometheus collectors. Wiring is
// optional: every recorder function no-ops until Register has been called.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcprocd",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of Start operations that produced a running process.",
		}, []string{"project", "name"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcprocd",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of Stop operations (graceful or forced).",
		}, []string{"project", "name"},
	)
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcprocd",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of Restart operations.",
		}, []string{"project", "name"},
	)
	failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcprocd",
			Subsystem: "process",
			Name:      "failures_total",
			Help:      "Number of records that transitioned to the Failed state.",
		}, []string{"project", "name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcprocd",
			Subsystem: "process",
			Name:      "state_transitions_total",
			Help:      "Number of state machine transitions.",
		}, []string{"project", "name", "from", "to"},
	)
	nonTerminalRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mcprocd",
			Subsystem: "registry",
			Name:      "non_terminal_records",
			Help:      "Count of records currently in a non-terminal state (Starting, Running or Stopping).",
		},
	)
	readinessWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mcprocd",
			Subsystem: "process",
			Name:      "readiness_wait_seconds",
			Help:      "Observed duration of the wait_for_pattern readiness wait.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"project", "name", "timed_out"},
	)
	logLinesCaptured = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcprocd",
			Subsystem: "loghub",
			Name:      "log_lines_captured_total",
			Help:      "Number of lines appended to the ring buffer and log file.",
		}, []string{"project", "name", "level"},
	)
	grepInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcprocd",
			Subsystem: "loghub",
			Name:      "grep_invocations_total",
			Help:      "Number of Grep calls served.",
		}, []string{"project"},
	)
)

// Register registers all collectors with r. Safe to call more than once.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	collectors := []prometheus.Collector{
		starts, stops, restarts, failures, stateTransitions,
		nonTerminalRecords, readinessWaitSeconds, logLinesCaptured, grepInvocations,
	}
	for _, c := range collectors {
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

// Handler serves the registered collectors for an optional HTTP listener,
// independent of the unix-socket RPC surface.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart(project, name string) {
	if regOK.Load() {
		starts.WithLabelValues(project, name).Inc()
	}
}

func IncStop(project, name string) {
	if regOK.Load() {
		stops.WithLabelValues(project, name).Inc()
	}
}

func IncRestart(project, name string) {
	if regOK.Load() {
		restarts.WithLabelValues(project, name).Inc()
	}
}

func IncFailure(project, name string) {
	if regOK.Load() {
		failures.WithLabelValues(project, name).Inc()
	}
}

func RecordStateTransition(project, name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(project, name, from, to).Inc()
	}
}

func SetNonTerminalRecords(n int) {
	if regOK.Load() {
		nonTerminalRecords.Set(float64(n))
	}
}

func ObserveReadinessWait(project, name string, seconds float64, timedOut bool) {
	if regOK.Load() {
		readinessWaitSeconds.WithLabelValues(project, name, boolLabel(timedOut)).Observe(seconds)
	}
}

func IncLogLines(project, name, level string, n int) {
	if regOK.Load() {
		logLinesCaptured.WithLabelValues(project, name, level).Add(float64(n))
	}
}

func IncGrep(project string) {
	if regOK.Load() {
		grepInvocations.WithLabelValues(project).Inc()
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
