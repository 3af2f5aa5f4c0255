package ingest

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/pvm/internal/ir"
)

// Outcome label values.
const (
	OutcomeCommitted = "committed"
	OutcomeFailed    = "failed"
)

// Metrics are the ingestion collectors. A nil *Metrics records nothing.
type Metrics struct {
	Records        *prometheus.CounterVec
	Failures       *prometheus.CounterVec
	Bytes          *prometheus.CounterVec
	RecordDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pvm",
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Records processed, by stream and outcome.",
		}, []string{"stream", "outcome"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pvm",
			Subsystem: "ingest",
			Name:      "failures_total",
			Help:      "Failed records, by error code.",
		}, []string{"code"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pvm",
			Subsystem: "ingest",
			Name:      "bytes_total",
			Help:      "Bytes read, by stream.",
		}, []string{"stream"}),
		RecordDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pvm",
			Subsystem: "ingest",
			Name:      "record_duration_seconds",
			Help:      "Time to update and process one record.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
	for _, c := range []prometheus.Collector{m.Records, m.Failures, m.Bytes, m.RecordDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register ingest metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observe(stream string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.RecordDuration.Observe(d.Seconds())
	if err == nil {
		m.Records.WithLabelValues(stream, OutcomeCommitted).Inc()
		return
	}
	m.Records.WithLabelValues(stream, OutcomeFailed).Inc()
	code := string(ir.CodeOf(err))
	if code == "" {
		code = "OTHER"
	}
	m.Failures.WithLabelValues(code).Inc()
}

func (m *Metrics) addBytes(stream string, n int) {
	if m == nil {
		return
	}
	m.Bytes.WithLabelValues(stream).Add(float64(n))
}
