package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Activation outcomes recorded by Metrics.RecordActivation.
const (
	OutcomeActivated  = "activated"
	OutcomeAborted    = "aborted"
	OutcomeIneligible = "ineligible"
	OutcomeCancelled  = "cancelled"
	OutcomeQuick      = "quick"
	OutcomeMirrored   = "mirrored"
)

// Delivery results recorded by Metrics.RecordDelivery.
const (
	DeliveryApplied      = "applied"
	DeliveryDuplicate    = "duplicate"
	DeliveryGap          = "gap"
	DeliveryMalformed    = "malformed"
	DeliveryUnknown      = "unknown_ability"
	DeliveryMissingActor = "missing_actor"
	DeliveryStale        = "stale"
	DeliveryIgnored      = "ignored"
	DeliveryDeferred     = "deferred"
)

// Metrics holds the prometheus collectors exported on /metrics. It also
// satisfies telemetry.Metrics so keyed counters from the simulation loop
// land in the same registry.
type Metrics struct {
	activations *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	deferred    *prometheus.CounterVec
	counters    *prometheus.CounterVec
	gauges      *prometheus.GaugeVec
	tickSeconds prometheus.Histogram
}

// NewMetrics constructs the collectors and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unicopia_ability_activations_total",
			Help: "Ability triggers by outcome",
		}, []string{"ability", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unicopia_replication_deliveries_total",
			Help: "Replicated activation frames received by result",
		}, []string{"result"}),
		deferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unicopia_deferred_tasks_total",
			Help: "Deferred tasks processed by result",
		}, []string{"result"}),
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unicopia_sim_events_total",
			Help: "Simulation loop counters keyed by event",
		}, []string{"key"}),
		gauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "unicopia_sim_gauge",
			Help: "Simulation loop gauges keyed by name",
		}, []string{"key"}),
		tickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "unicopia_tick_duration_seconds",
			Help:    "Wall time spent stepping one simulation tick",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.activations, m.deliveries, m.deferred, m.counters, m.gauges, m.tickSeconds)
	}
	return m
}

// RecordActivation counts one trigger outcome.
func (m *Metrics) RecordActivation(ability, outcome string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(ability, outcome).Inc()
}

// RecordDelivery counts one received frame.
func (m *Metrics) RecordDelivery(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}

// RecordDeferred counts processed deferred tasks.
func (m *Metrics) RecordDeferred(result string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.deferred.WithLabelValues(result).Add(float64(count))
}

// ObserveTick records the duration of one tick in seconds.
func (m *Metrics) ObserveTick(seconds float64) {
	if m == nil {
		return
	}
	m.tickSeconds.Observe(seconds)
}

// Add implements telemetry.Metrics.
func (m *Metrics) Add(key string, delta uint64) {
	if m == nil {
		return
	}
	m.counters.WithLabelValues(key).Add(float64(delta))
}

// Store implements telemetry.Metrics.
func (m *Metrics) Store(key string, value uint64) {
	if m == nil {
		return
	}
	m.gauges.WithLabelValues(key).Set(float64(value))
}
