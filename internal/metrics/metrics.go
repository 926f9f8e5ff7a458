package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rdmtests/console/internal/results"
)

const Namespace = "rdmconsole"

// Exchange outcomes.
const (
	OutcomeOK             = "ok"
	OutcomeProtocolError  = "protocol_error"
	OutcomeTransportError = "transport_error"
)

// Metrics is safe to use as a nil pointer, in which case nothing is recorded.
type Metrics struct {
	exchanges   *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	lastResults *prometheus.GaugeVec
	rejections  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		exchanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "gateway_exchanges_total",
			Help:      "Count of requests sent to the RDM test server",
		}, []string{
			"endpoint",
			"outcome",
		}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "gateway_exchange_seconds",
			Help:      "Latency of requests sent to the RDM test server",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
		}, []string{
			"endpoint",
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "test_runs_total",
			Help:      "Count of submitted test runs",
		}, []string{
			"outcome",
		}),
		lastResults: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_results",
			Help:      "Number of tests per state in the most recent run",
		}, []string{
			"state",
		}),
		rejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "validation_rejections_total",
			Help:      "Count of test runs rejected before submission",
		}),
	}
}

func (m *Metrics) RecordExchange(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(endpoint, outcome).Inc()
	m.latency.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) RecordRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordResults(summary []results.StateCount) {
	if m == nil {
		return
	}
	for _, sc := range summary {
		m.lastResults.WithLabelValues(string(sc.State)).Set(float64(sc.Count))
	}
}

func (m *Metrics) RecordRejection() {
	if m == nil {
		return
	}
	m.rejections.Inc()
}
