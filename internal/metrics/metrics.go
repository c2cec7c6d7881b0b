package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several instances can coexist in tests.
// Every method is safe to call on a nil *Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	bookingTransitions *prometheus.CounterVec
	bookingsCreated    prometheus.Counter
	gatewayCalls       *prometheus.CounterVec
	gatewayLatency     *prometheus.HistogramVec
	httpRequests       *prometheus.CounterVec
	lockContention     prometheus.Counter
	eventsPublished    *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		bookingTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hac_booking_transitions_total",
			Help: "Booking status transitions applied.",
		}, []string{"from", "to"}),
		bookingsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "hac_bookings_created_total",
			Help: "Bookings created and sent to checkout.",
		}),
		gatewayCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hac_payment_gateway_calls_total",
			Help: "Calls made to the payment gateway.",
		}, []string{"operation", "outcome"}),
		gatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hac_payment_gateway_duration_seconds",
			Help:    "Payment gateway call latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"operation"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hac_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "route", "code"}),
		lockContention: factory.NewCounter(prometheus.CounterOpts{
			Name: "hac_booking_lock_contention_total",
			Help: "Transitions rejected because another request held the booking lock.",
		}),
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hac_booking_events_published_total",
			Help: "Booking events written to Kafka.",
		}, []string{"topic", "outcome"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.bookingTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveBookingCreated() {
	if m == nil {
		return
	}
	m.bookingsCreated.Inc()
}

// ObserveGatewayCall records one gateway round trip that began at start.
func (m *Metrics) ObserveGatewayCall(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(operation, outcome(err)).Inc()
	m.gatewayLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveRequest(method, route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

func (m *Metrics) ObserveLockContention() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}

func (m *Metrics) ObservePublish(topic string, err error) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(topic, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
