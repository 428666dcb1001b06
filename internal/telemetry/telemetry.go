// Package telemetry implements the DFO's read-and-reset counters (spec.md
// 6) and exposes the three count counters, plus per-worker gauges, as
// Prometheus collectors grounded on the teacher's internal/metrics/prom.go.
// The three duration counters are not exported to Prometheus.
package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eljelink/dfo/internal/registry"
)

// Counters holds the six read-and-reset fields from the telemetry snapshot
// in spec.md 6. All fields are safe for concurrent use.
type Counters struct {
	TokensReceived       atomic.Int64
	DecisionsSent        atomic.Int64
	DecisionsReceived    atomic.Int64
	DecidingDestinationUS atomic.Int64
	WaitingForDecisionUS  atomic.Int64
	WaitingForSlotsUS     atomic.Int64
}

// Snapshot is the value returned by a read-and-reset.
type Snapshot struct {
	TokensReceived       int64
	DecisionsSent        int64
	DecisionsReceived    int64
	DecidingDestinationUS int64
	WaitingForDecisionUS  int64
	WaitingForSlotsUS     int64
}

// ReadAndReset atomically captures the current counter values and zeroes
// them, as required by the telemetry contract.
func (c *Counters) ReadAndReset() Snapshot {
	return Snapshot{
		TokensReceived:        c.TokensReceived.Swap(0),
		DecisionsSent:         c.DecisionsSent.Swap(0),
		DecisionsReceived:     c.DecisionsReceived.Swap(0),
		DecidingDestinationUS: c.DecidingDestinationUS.Swap(0),
		WaitingForDecisionUS:  c.WaitingForDecisionUS.Swap(0),
		WaitingForSlotsUS:     c.WaitingForSlotsUS.Swap(0),
	}
}

// AddDuration accumulates a wall-clock span into one of the microsecond
// counters.
func AddDuration(counter *atomic.Int64, d time.Duration) {
	counter.Add(d.Microseconds())
}

// Registry wires Counters and a registry.Registry into Prometheus
// collectors, mirroring the teacher's metrics.Collectors() pattern.
type Registry struct {
	counters *Counters
	workers  *registry.Registry

	tokensReceived    prometheus.CounterFunc
	decisionsSent     prometheus.CounterFunc
	decisionsReceived prometheus.CounterFunc

	workerInFlight *prometheus.GaugeVec
	workerBusy     *prometheus.GaugeVec
	workerInError  *prometheus.GaugeVec
	workerLatency  *prometheus.GaugeVec
}

// NewRegistry builds the Prometheus collectors for counters and workers.
// The counter funcs read, but do not reset, the underlying values — reset
// happens only through explicit ReadAndReset calls from the command plane.
func NewRegistry(counters *Counters, workers *registry.Registry) *Registry {
	r := &Registry{counters: counters, workers: workers}

	r.tokensReceived = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "dfo_tokens_received_total",
		Help: "Completion tokens received since the counters were last reset.",
	}, func() float64 { return float64(counters.TokensReceived.Load()) })

	r.decisionsSent = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "dfo_decisions_sent_total",
		Help: "Trigger decisions successfully sent to a worker.",
	}, func() float64 { return float64(counters.DecisionsSent.Load()) })

	r.decisionsReceived = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "dfo_decisions_received_total",
		Help: "Trigger decisions pulled off the decision source.",
	}, func() float64 { return float64(counters.DecisionsReceived.Load()) })

	r.workerInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dfo_worker_inflight",
		Help: "Current in-flight assignment count per worker.",
	}, []string{"worker"})

	r.workerBusy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dfo_worker_busy",
		Help: "1 if the worker is currently busy (hysteresis), else 0.",
	}, []string{"worker"})

	r.workerInError = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dfo_worker_in_error",
		Help: "1 if the worker is currently quarantined, else 0.",
	}, []string{"worker"})

	r.workerLatency = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dfo_worker_average_latency_seconds",
		Help: "Average completion latency over the last minute, per worker.",
	}, []string{"worker"})

	return r
}

// Collectors returns every collector this registry owns, for registration
// against a prometheus.Registerer.
func (r *Registry) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.tokensReceived,
		r.decisionsSent,
		r.decisionsReceived,
		r.workerInFlight,
		r.workerBusy,
		r.workerInError,
		r.workerLatency,
	}
}

// RefreshWorkerGauges recomputes the per-worker gauge values from the
// current registry snapshot. Call this periodically (e.g. from the scrape
// handler or a ticker) since WorkerLoad does not push its own metrics.
func (r *Registry) RefreshWorkerGauges() {
	since := time.Now().Add(-time.Minute)
	for _, w := range r.workers.Workers() {
		id := w.ConnectionName()
		r.workerInFlight.WithLabelValues(id).Set(float64(w.InFlightCount()))
		r.workerLatency.WithLabelValues(id).Set(w.AverageLatency(since).Seconds())
		r.workerInError.WithLabelValues(id).Set(boolToFloat(w.IsInError()))
		r.workerBusy.WithLabelValues(id).Set(boolToFloat(w.IsBusy()))
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
