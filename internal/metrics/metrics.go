// Package metrics exposes chat engine and HTTP counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/omochice/roomchat/internal/chat"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements chat.Recorder on a private Prometheus registry.
// Room ids are never used as label values.
type Metrics struct {
	registry  *prometheus.Registry
	namespace string

	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec

	sessionsOpened    prometheus.Counter
	sessionsClosed    prometheus.Counter
	messages          prometheus.Counter
	deliveries        prometheus.Counter
	deliveryFailures  prometheus.Counter
	handshakeRejected *prometheus.CounterVec
	protocolErrors    prometheus.Counter
	persistFailures   prometheus.Counter
}

var _ chat.Recorder = (*Metrics)(nil)

// New registers all collectors under namespace.
func New(namespace string) *Metrics {
	ns := namespace
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry:  r,
		namespace: ns,
		httpReqCnt: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"},
			[]string{"method", "route", "status"}),
		httpDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: prometheus.DefBuckets},
			[]string{"method", "route", "status"}),
		sessionsOpened:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "sessions_opened_total"}),
		sessionsClosed:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "sessions_closed_total"}),
		messages:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "messages_broadcast_total"}),
		deliveries:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "deliveries_total"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "delivery_failures_total"}),
		handshakeRejected: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "handshakes_rejected_total"},
			[]string{"reason"}),
		protocolErrors:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "protocol_errors_total"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "persistence_failures_total"}),
	}
	r.MustRegister(m.httpReqCnt, m.httpDur,
		m.sessionsOpened, m.sessionsClosed, m.messages, m.deliveries, m.deliveryFailures,
		m.handshakeRejected, m.protocolErrors, m.persistFailures)
	return m
}

// TrackRegistry exports the live session and room counts of reg.
func (m *Metrics) TrackRegistry(reg *chat.Registry) {
	m.Gauge("sessions_active", "Sessions currently registered.", func() float64 {
		return float64(reg.SessionCount())
	})
	m.Gauge("rooms_active", "Rooms with at least one session.", func() float64 {
		return float64(reg.RoomCount())
	})
}

// Gauge registers a gauge sampled from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: m.namespace, Name: name, Help: help}, fn))
}

func (m *Metrics) SessionOpened(string) { m.sessionsOpened.Inc() }

func (m *Metrics) SessionClosed(string) { m.sessionsClosed.Inc() }

func (m *Metrics) MessageBroadcast(_ string, delivered int) {
	m.messages.Inc()
	m.deliveries.Add(float64(delivered))
}

func (m *Metrics) DeliveryFailed(string) { m.deliveryFailures.Inc() }

func (m *Metrics) HandshakeRejected(reason string) {
	m.handshakeRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ProtocolError() { m.protocolErrors.Inc() }

func (m *Metrics) PersistenceFailed() { m.persistFailures.Inc() }

// Middleware records request counts and latencies per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
