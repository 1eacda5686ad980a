// Package metrics собирает метрики сервиса для Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics хранит коллекторы сервиса на собственном реестре.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	OrdersCreated       prometheus.Counter
	Transitions         *prometheus.CounterVec
	ProvisioningLatency prometheus.Histogram
	ProviderCalls       *prometheus.CounterVec
	TrackingLinks       *prometheus.CounterVec
	WebhookReplays      *prometheus.CounterVec
}

// New регистрирует коллекторы.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esim",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "esim",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "esim",
			Name:      "orders_created_total",
			Help:      "Orders created at checkout.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esim",
			Name:      "order_transitions_total",
			Help:      "Order status transitions.",
		}, []string{"from", "to"}),
		ProvisioningLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "esim",
			Name:      "provisioning_duration_seconds",
			Help:      "Time from payment to a completed order with an eSIM.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
		}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esim",
			Name:      "provider_calls_total",
			Help:      "Calls to the eSIM provider by operation and result.",
		}, []string{"op", "result"}),
		TrackingLinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esim",
			Name:      "tracking_links_total",
			Help:      "Tracking link requests by outcome.",
		}, []string{"outcome"}),
		WebhookReplays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esim",
			Name:      "webhook_replays_total",
			Help:      "Webhook deliveries ignored as duplicates.",
		}, []string{"source"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.OrdersCreated,
		m.Transitions,
		m.ProvisioningLatency,
		m.ProviderCalls,
		m.TrackingLinks,
		m.WebhookReplays,
	)
	return m
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry возвращает реестр коллекторов.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTP учитывает обработанный HTTP-запрос.
func (m *Metrics) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveOrderCreated учитывает созданный заказ.
func (m *Metrics) ObserveOrderCreated() {
	if m == nil {
		return
	}
	m.OrdersCreated.Inc()
}

// ObserveProvisioned учитывает время от оплаты до выдачи eSIM.
func (m *Metrics) ObserveProvisioned(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProvisioningLatency.Observe(elapsed.Seconds())
}

// ObserveTransition учитывает смену статуса заказа.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

// ObserveProviderCall учитывает обращение к провайдеру.
func (m *Metrics) ObserveProviderCall(op, result string) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(op, result).Inc()
}

// ObserveTrackingLink учитывает запрос ссылки отслеживания.
func (m *Metrics) ObserveTrackingLink(outcome string) {
	if m == nil {
		return
	}
	m.TrackingLinks.WithLabelValues(outcome).Inc()
}

// ObserveWebhookReplay учитывает повторную доставку вебхука.
func (m *Metrics) ObserveWebhookReplay(source string) {
	if m == nil {
		return
	}
	m.WebhookReplays.WithLabelValues(source).Inc()
}
