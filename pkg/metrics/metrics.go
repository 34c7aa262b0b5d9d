// Package metrics records turn and capability metrics in Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is nil-safe: every method on a nil *Recorder is a no-op.
type Recorder struct {
	turnsTotal        *prometheus.CounterVec
	turnDuration      *prometheus.HistogramVec
	capabilityTotal   *prometheus.CounterVec
	capabilityLatency *prometheus.HistogramVec
	dispatchesTotal   prometheus.Counter
	retriesTotal      *prometheus.CounterVec
	rateLimitedTotal  prometheus.Counter
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aba_turns_total",
				Help: "Conversation turns by derived stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aba_turn_duration_seconds",
				Help:    "End-to-end turn latency by stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		capabilityTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aba_capability_calls_total",
				Help: "Capability invocations by capability and result outcome",
			},
			[]string{"capability", "outcome"},
		),
		capabilityLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aba_capability_duration_seconds",
				Help:    "Capability latency including retries",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"capability"},
		),
		dispatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aba_dispatches_total",
			Help: "Ambulance dispatches issued",
		}),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aba_model_retries_total",
				Help: "Model call retries by capability",
			},
			[]string{"capability"},
		),
		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aba_http_rate_limited_total",
			Help: "Requests rejected by the per-session rate limiter",
		}),
	}
}

func (r *Recorder) ObserveTurn(stage, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.turnsTotal.WithLabelValues(stage, outcome).Inc()
	r.turnDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (r *Recorder) ObserveCapability(capability, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.capabilityTotal.WithLabelValues(capability, outcome).Inc()
	r.capabilityLatency.WithLabelValues(capability).Observe(d.Seconds())
}

func (r *Recorder) IncDispatch() {
	if r == nil {
		return
	}
	r.dispatchesTotal.Inc()
}

func (r *Recorder) IncRetry(capability string) {
	if r == nil {
		return
	}
	r.retriesTotal.WithLabelValues(capability).Inc()
}

func (r *Recorder) IncRateLimited() {
	if r == nil {
		return
	}
	r.rateLimitedTotal.Inc()
}
