// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for Hookline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/hookline/record"
)

// Metrics holds the Hookline metric instruments, registered against a
// caller-supplied Prometheus registerer so hosts control exposure.
type Metrics struct {
	CapturesTotal   *prometheus.CounterVec
	DeliveriesTotal *prometheus.CounterVec
	DeliveryLatency prometheus.Histogram
	SweepRowsTotal  *prometheus.CounterVec
	LiveRecords     *prometheus.GaugeVec
	ArchivedRecords prometheus.Gauge
}

// NewMetrics creates and registers the Hookline instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CapturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookline_captures_total",
			Help: "Inbound captures by outcome (captured, rejected).",
		}, []string{"outcome"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookline_deliveries_total",
			Help: "Delivery attempts by mode and outcome.",
		}, []string{"mode", "outcome"}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hookline_delivery_latency_seconds",
			Help:    "Outbound delivery latency.",
			Buckets: prometheus.DefBuckets,
		}),
		SweepRowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookline_sweep_rows_total",
			Help: "Rows processed by each automation sweep.",
		}, []string{"sweep"}),
		LiveRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hookline_live_records",
			Help: "Live relay records by status.",
		}, []string{"status"}),
		ArchivedRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hookline_archived_records",
			Help: "Rows currently in the archive store.",
		}),
	}

	reg.MustRegister(
		m.CapturesTotal,
		m.DeliveriesTotal,
		m.DeliveryLatency,
		m.SweepRowsTotal,
		m.LiveRecords,
		m.ArchivedRecords,
	)
	return m
}

// ObserveCapture counts one inbound capture by outcome.
func (m *Metrics) ObserveCapture(outcome string) {
	m.CapturesTotal.WithLabelValues(outcome).Inc()
}

// ObserveDelivery counts one delivery attempt and its latency.
func (m *Metrics) ObserveDelivery(mode record.Mode, outcome string, latency time.Duration) {
	m.DeliveriesTotal.WithLabelValues(string(mode), outcome).Inc()
	if latency > 0 {
		m.DeliveryLatency.Observe(latency.Seconds())
	}
}

// ObserveSweep counts rows processed by a sweep.
func (m *Metrics) ObserveSweep(name string, rows int) {
	m.SweepRowsTotal.WithLabelValues(name).Add(float64(rows))
}

// SetLiveRecords sets the live gauge for a status.
func (m *Metrics) SetLiveRecords(status record.Status, n int64) {
	m.LiveRecords.WithLabelValues(status.Label()).Set(float64(n))
}
