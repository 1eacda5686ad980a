package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestObserve(t *testing.T) {
	m := New()

	m.ObserveHTTP(http.MethodGet, "/api/orders/{uuid}", http.StatusOK, 10*time.Millisecond)
	m.ObserveTransition("processing", "provider_purchased")
	m.ObserveTransition("processing", "provider_purchased")
	m.ObserveTrackingLink("sent")

	body := scrape(t, m)
	assert.Contains(t, body, `esim_http_requests_total{code="200",method="GET",route="/api/orders/{uuid}"} 1`)
	assert.Contains(t, body, `esim_order_transitions_total{from="processing",to="provider_purchased"} 2`)
	assert.Contains(t, body, `esim_tracking_links_total{outcome="sent"} 1`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTransition("a", "b")
		m.ObserveHTTP("GET", "/", 200, time.Second)
	})
}
