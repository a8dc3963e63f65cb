// Package metrics exposes Prometheus instrumentation for the subscription
// engine. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Business metrics
	QuotaChecksTotal   *prometheus.CounterVec
	TransitionsTotal   *prometheus.CounterVec
	PaymentEventsTotal *prometheus.CounterVec

	// Sweeper metrics
	SweepRunsTotal    *prometheus.CounterVec
	SweepDuration     *prometheus.HistogramVec
	SweepItemsHandled *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "academyplans_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "academyplans_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		QuotaChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "academyplans_quota_checks_total",
				Help: "Quota checks by decision",
			},
			[]string{"decision"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "academyplans_subscription_transitions_total",
				Help: "Subscription transitions by history action",
			},
			[]string{"action"},
		),
		PaymentEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "academyplans_payment_events_total",
				Help: "Payment events by reconciliation result",
			},
			[]string{"result"},
		),
		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "academyplans_sweep_runs_total",
				Help: "Background sweep runs",
			},
			[]string{"job", "status"},
		),
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "academyplans_sweep_duration_seconds",
				Help:    "Background sweep duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		SweepItemsHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "academyplans_sweep_items_total",
				Help: "Subscriptions or intents processed by background sweeps",
			},
			[]string{"job"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.QuotaChecksTotal,
		m.TransitionsTotal,
		m.PaymentEventsTotal,
		m.SweepRunsTotal,
		m.SweepDuration,
		m.SweepItemsHandled,
	)
	return m
}

// ObserveQuota counts a quota decision.
func (m *Metrics) ObserveQuota(allowed bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.QuotaChecksTotal.WithLabelValues(decision).Inc()
}

// ObserveTransition counts a committed history action.
func (m *Metrics) ObserveTransition(action string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(action).Inc()
}

// ObservePaymentEvent counts a reconciled payment event.
func (m *Metrics) ObservePaymentEvent(result string) {
	if m == nil {
		return
	}
	m.PaymentEventsTotal.WithLabelValues(result).Inc()
}

// ObserveSweep records one sweep run.
func (m *Metrics) ObserveSweep(job string, handled int, err error, took time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SweepRunsTotal.WithLabelValues(job, status).Inc()
	m.SweepDuration.WithLabelValues(job).Observe(took.Seconds())
	m.SweepItemsHandled.WithLabelValues(job).Add(float64(handled))
}

// Middleware records request counts and latency per route template.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m == nil {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		route := c.Route().Path
		m.HTTPRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
