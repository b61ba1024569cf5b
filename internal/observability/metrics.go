package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vip4dfw"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	BookingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bookings_created_total", Help: "Bookings created"},
		[]string{"service_type", "payment_method"},
	)
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "booking_transitions_total", Help: "Booking status transitions"},
		[]string{"from", "to"},
	)
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "webhook_events_total", Help: "Stripe webhook events by outcome"},
		[]string{"type", "outcome"},
	)
	Tips = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "tips_total", Help: "Tip payments by outcome"},
		[]string{"outcome"},
	)
	DriverLocationUpdates = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "driver_location_updates_total", Help: "Driver location fixes received"},
	)
	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "websocket_clients", Help: "Connected tracking clients"},
	)
)

// GinMetrics records request counts and latency by route template.
func GinMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}
