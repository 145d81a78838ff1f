// Package metrics exports fixrev counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sprite-ai/fixrev/internal/fault"
	"github.com/sprite-ai/fixrev/internal/model"
)

const namespace = "fixrev"

// Metrics holds the collectors for one registry.
type Metrics struct {
	calls       *prometheus.CounterVec
	retries     prometheus.Counter
	tokens      *prometheus.CounterVec
	costUSD     prometheus.Counter
	latency     *prometheus.HistogramVec
	groups      *prometheus.CounterVec
	inFlight    prometheus.Gauge
	degradation prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider calls by model and result kind.",
		}, []string{"model", "result"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Provider calls that were retried.",
		}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed by direction.",
		}, []string{"model", "direction"}),
		costUSD: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Estimated provider spend in USD.",
		}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_seconds",
			Help:      "Provider call latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model"}),
		groups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patch_groups_total",
			Help:      "Patch groups by final state.",
		}, []string{"state"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Fix requests currently running.",
		}),
		degradation: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_degraded_total",
			Help:      "Runs in which the AI subsystem was disabled by a fatal error.",
		}),
	}
}

// ObserveCall implements cost.Observer.
func (m *Metrics) ObserveCall(modelName string, u model.Usage, costUSD float64) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(modelName, "input").Add(float64(u.InputTokens))
	m.tokens.WithLabelValues(modelName, "output").Add(float64(u.OutputTokens))
	m.costUSD.Add(costUSD)
}

// ObserveAttempt records the result and latency of one provider attempt.
func (m *Metrics) ObserveAttempt(modelName string, err error, elapsed time.Duration, retried bool) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = fault.KindOf(err).String()
	}
	m.calls.WithLabelValues(modelName, result).Inc()
	m.latency.WithLabelValues(modelName).Observe(elapsed.Seconds())
	if retried {
		m.retries.Inc()
	}
}

// ObserveGroup records a patch group's final state.
func (m *Metrics) ObserveGroup(state model.GroupState) {
	if m == nil {
		return
	}
	m.groups.WithLabelValues(state.String()).Inc()
}

// TrackInFlight adjusts the in-flight gauge by delta.
func (m *Metrics) TrackInFlight(delta int) {
	if m == nil {
		return
	}
	m.inFlight.Add(float64(delta))
}

// ObserveDegraded counts a degradation event.
func (m *Metrics) ObserveDegraded() {
	if m == nil {
		return
	}
	m.degradation.Inc()
}
