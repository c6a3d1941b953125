package circuitbreaker

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusListener exports breaker events as Prometheus metrics. One
// listener can be shared by every breaker in a registry; series are
// partitioned by breaker name.
type PrometheusListener struct {
	requests     *prometheus.CounterVec
	successes    *prometheus.CounterVec
	failures     *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	stateChanges *prometheus.CounterVec
	currentState *prometheus.GaugeVec
	callDuration *prometheus.HistogramVec
}

// NewPrometheusListener creates a PrometheusListener whose collectors are
// registered on reg, or on the default registerer when reg is nil.
func NewPrometheusListener(namespace string, reg prometheus.Registerer) *PrometheusListener {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusListener{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_requests_total",
				Help:      "Total number of completed calls",
			},
			[]string{"name"},
		),
		successes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_successes_total",
				Help:      "Total number of successful calls",
			},
			[]string{"name"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_failures_total",
				Help:      "Total number of failed calls, timeouts included",
			},
			[]string{"name"},
		),
		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_rejections_total",
				Help:      "Total number of rejected calls (circuit open or probe budget exhausted)",
			},
			[]string{"name"},
		),
		stateChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state_changes_total",
				Help:      "Total number of state changes",
			},
			[]string{"name", "from", "to"},
		),
		currentState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_call_duration_seconds",
				Help:      "Call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"name", "outcome"},
		),
	}
}

// OnStateChange implements EventListener.
func (p *PrometheusListener) OnStateChange(name string, from, to State) {
	p.stateChanges.WithLabelValues(name, from.String(), to.String()).Inc()
	p.currentState.WithLabelValues(name).Set(float64(to))
}

// OnCallSuccess implements EventListener.
func (p *PrometheusListener) OnCallSuccess(name string, duration time.Duration) {
	p.requests.WithLabelValues(name).Inc()
	p.successes.WithLabelValues(name).Inc()
	p.callDuration.WithLabelValues(name, "success").Observe(duration.Seconds())
}

// OnCallFailure implements EventListener.
func (p *PrometheusListener) OnCallFailure(name string, duration time.Duration, cause error) {
	p.requests.WithLabelValues(name).Inc()
	p.failures.WithLabelValues(name).Inc()

	outcome := "failure"
	if errors.Is(cause, ErrCallTimeout) {
		outcome = "timeout"
	}
	p.callDuration.WithLabelValues(name, outcome).Observe(duration.Seconds())
}

// OnCallRejected implements EventListener.
func (p *PrometheusListener) OnCallRejected(name string) {
	p.rejections.WithLabelValues(name).Inc()
}
