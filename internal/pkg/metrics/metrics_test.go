package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveQuota(true)
		m.ObserveTransition("upgraded")
		m.ObservePaymentEvent("confirmed")
		m.ObserveSweep("expire_due", 3, nil, time.Second)
	})
}

func TestBusinessCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveQuota(true)
	m.ObserveQuota(false)
	m.ObserveQuota(false)
	m.ObserveTransition("upgraded")
	m.ObserveSweep("expire_due", 2, errors.New("db down"), 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotaChecksTotal.WithLabelValues("allowed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QuotaChecksTotal.WithLabelValues("denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("upgraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepRunsTotal.WithLabelValues("expire_due", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SweepItemsHandled.WithLabelValues("expire_due")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	app := fiber.New()
	app.Use(m.Middleware())
	app.Get("/plans/:id", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/metrics", m.Handler())

	resp, err := app.Test(httptest.NewRequest("GET", "/plans/7", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/plans/:id", "200")))

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "academyplans_http_requests_total")
}
