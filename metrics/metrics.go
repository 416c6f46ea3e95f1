// Package metrics exposes the engine's Prometheus instrumentation: slice
// dispatch latency, plan progress, circuit breaker trips, and VaR compute
// duration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sliceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "execalgo_slice_dispatch_latency_milliseconds",
			Help:    "Time from next_action deciding PLACE_ORDER to the terminal fill/reject event, in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"algo", "instrument"},
	)

	slicesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execalgo_slices_total",
			Help: "Total number of slices by algo and terminal outcome",
		},
		[]string{"algo", "outcome"},
	)

	planStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "execalgo_plan_fill_ratio",
			Help: "Fraction of target_qty filled for an in-flight plan",
		},
		[]string{"plan_id", "algo"},
	)

	plansActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "execalgo_plans_active",
			Help: "Number of non-terminal execution plans by algo",
		},
		[]string{"algo"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "execalgo_circuit_breaker_state",
			Help: "Circuit breaker state as an enum (0=NORMAL,1=TRIGGERED,2=COOLING,3=RECOVERY,4=MANUAL_OVERRIDE)",
		},
		[]string{"reason"},
	)

	breakerCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "execalgo_circuit_breaker_capacity_ratio",
			Help: "Current allowed capacity fraction, 0.0-1.0",
		},
	)

	breakerTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execalgo_circuit_breaker_trips_total",
			Help: "Total number of TRIGGERED transitions by reason",
		},
		[]string{"reason"},
	)

	varComputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "execalgo_var_compute_duration_milliseconds",
			Help:    "Time to compute a single VaR estimate, in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"method"},
	)

	auditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execalgo_audit_events_total",
			Help: "Total audit events recorded by event type",
		},
		[]string{"event_type"},
	)

	auditChainViolationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "execalgo_audit_chain_violations_total",
			Help: "Total illegal event-chain transitions observed by the ledger",
		},
	)
)

// breakerStateCode maps a BreakerState name to the enum value breakerState
// exposes. Kept here (not in the risk package) so metrics stays the only
// place that encodes Prometheus label/value conventions.
var breakerStateCode = map[string]float64{
	"NORMAL":          0,
	"TRIGGERED":       1,
	"COOLING":         2,
	"RECOVERY":        3,
	"MANUAL_OVERRIDE": 4,
}

// RecordSliceDispatch records the latency from PLACE_ORDER to a slice's
// terminal outcome.
func RecordSliceDispatch(algo, instrument, outcome string, latencyMs float64) {
	sliceLatency.WithLabelValues(algo, instrument).Observe(latencyMs)
	slicesTotal.WithLabelValues(algo, outcome).Inc()
}

// SetPlanFillRatio updates the live fill-ratio gauge for an in-flight plan.
func SetPlanFillRatio(planID, algo string, ratio float64) {
	planStatus.WithLabelValues(planID, algo).Set(ratio)
}

// SetActivePlans sets the count of non-terminal plans for an algo.
func SetActivePlans(algo string, count int) {
	plansActive.WithLabelValues(algo).Set(float64(count))
}

// SetBreakerState reports the circuit breaker's current state and capacity.
func SetBreakerState(state string, reason string, capacity float64) {
	for name, code := range breakerStateCode {
		if name == state {
			breakerState.WithLabelValues(reason).Set(code)
		}
	}
	breakerCapacity.Set(capacity)
}

// RecordBreakerTrip increments the trip counter for a TRIGGERED transition.
func RecordBreakerTrip(reason string) {
	breakerTripsTotal.WithLabelValues(reason).Inc()
}

// RecordVaRCompute records how long a VaR estimate took to compute.
func RecordVaRCompute(method string, duration time.Duration) {
	varComputeDuration.WithLabelValues(method).Observe(float64(duration.Microseconds()) / 1000.0)
}

// RecordAuditEvent increments the per-event-type counter.
func RecordAuditEvent(eventType string) {
	auditEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordChainViolation increments the chain-violation counter.
func RecordChainViolation() {
	auditChainViolationsTotal.Inc()
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
