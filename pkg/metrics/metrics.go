// Package metrics holds the Prometheus instrumentation of the query service.
// A single Metrics value is built at startup and handed to the components that record into it.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh cycle outcomes.
const (
	CycleElected   = "elected"
	CycleSkipped   = "skipped"
	CycleLockError = "lock_error"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	RefreshCycles         *prometheus.CounterVec
	CompartmentRefreshes  *prometheus.CounterVec
	CompartmentLastUpdate *prometheus.GaugeVec
	RefreshDuration       prometheus.Histogram

	RequestCounts    *prometheus.CounterVec
	RequestLatencies *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg gets a fresh private registry,
// which is what tests want.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		RefreshCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "validatorx_refresh_cycles_total",
				Help: "Refresh cycles, partitioned by election outcome.",
			},
			[]string{"outcome"},
		),
		CompartmentRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "validatorx_compartment_refreshes_total",
				Help: "Compartment refresh attempts, partitioned by compartment, source and status.",
			},
			[]string{"compartment", "source", "status"},
		),
		CompartmentLastUpdate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "validatorx_compartment_last_update_seconds",
				Help: "Unix time of the last successful replacement of each compartment.",
			},
			[]string{"compartment"},
		),
		RefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "validatorx_refresh_duration_seconds",
				Help:    "Duration of elected refresh passes.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 11),
			},
		),
		RequestCounts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "validatorx_requests_total",
				Help: "How many API requests were served, partitioned by endpoint and status.",
			},
			[]string{"endpoint", "status"},
		),
		RequestLatencies: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "validatorx_request_latencies_seconds",
				Help: "How long API requests take to serve, partitioned by endpoint.",
			},
			[]string{"endpoint"},
		),
	}
	reg.MustRegister(
		m.RefreshCycles,
		m.CompartmentRefreshes,
		m.CompartmentLastUpdate,
		m.RefreshDuration,
		m.RequestCounts,
		m.RequestLatencies,
	)
	return m
}

// ObserveCompartment records one compartment refresh attempt. source is "primary" or "fast_path".
func (m *Metrics) ObserveCompartment(compartment, source string, err error, at time.Time) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CompartmentRefreshes.WithLabelValues(compartment, source, status).Inc()
	if err == nil {
		m.CompartmentLastUpdate.WithLabelValues(compartment).Set(float64(at.Unix()))
	}
}

// ObserveCycle counts one refresh cycle by outcome.
func (m *Metrics) ObserveCycle(outcome string) {
	if m == nil {
		return
	}
	m.RefreshCycles.WithLabelValues(outcome).Inc()
}

// ObserveRequest records a served request.
func (m *Metrics) ObserveRequest(endpoint string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.RequestCounts.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.RequestLatencies.WithLabelValues(endpoint).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
