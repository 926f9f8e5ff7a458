package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/rdmtests/console/internal/results"
)

func TestRecordExchange(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordExchange("GetDevices", OutcomeOK, 10*time.Millisecond)
	m.RecordExchange("GetDevices", OutcomeOK, 20*time.Millisecond)
	m.RecordExchange("GetDevices", OutcomeProtocolError, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.exchanges.WithLabelValues("GetDevices", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exchanges.WithLabelValues("GetDevices", OutcomeProtocolError)))
}

func TestRecordResults(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordResults(results.Summary(map[string]int{"Passed": 5, "Failed": 1}))

	assert.Equal(t, 5.0, testutil.ToFloat64(m.lastResults.WithLabelValues("Passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lastResults.WithLabelValues("Failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.lastResults.WithLabelValues("Not Run")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordExchange("GetUnivInfo", OutcomeOK, time.Second)
		m.RecordRun(OutcomeOK)
		m.RecordResults(nil)
		m.RecordRejection()
	})
}
