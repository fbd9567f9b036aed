package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recovery_engine"

// Metrics stores Prometheus collectors for the webhook API and the reminder pipeline.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	webhookEventsTotal     *prometheus.CounterVec
	signalsTotal           *prometheus.CounterVec
	attemptsScheduled      *prometheus.CounterVec
	attemptsSent           *prometheus.CounterVec
	attemptsFailed         *prometheus.CounterVec
	attemptsCancelled      prometheus.Counter
	dispatchDuration       *prometheus.HistogramVec
	timersArmed            prometheus.Gauge
	overdueDispatchedTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		webhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Gateway webhook events by event type and outcome.",
			},
			[]string{"event", "outcome"},
		),
		signalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_total",
				Help:      "Failure and recovery signals by kind and delivery path (queue or inline).",
			},
			[]string{"kind", "path"},
		),
		attemptsScheduled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_scheduled_total",
				Help:      "Recovery attempts persisted in scheduled state.",
			},
			[]string{"channel"},
		),
		attemptsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_sent_total",
				Help:      "Recovery attempts delivered to a channel.",
			},
			[]string{"channel"},
		),
		attemptsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_failed_total",
				Help:      "Recovery attempts that ended failed, by reason.",
			},
			[]string{"channel", "reason"},
		),
		attemptsCancelled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_cancelled_total",
				Help:      "Scheduled recovery attempts cancelled because the payment recovered.",
			},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Channel send duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		timersArmed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "timers_armed",
				Help:      "In-process dispatch timers currently armed.",
			},
		),
		overdueDispatchedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "overdue_dispatched_total",
				Help:      "Attempts dispatched by a sweep because their time had already passed.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.webhookEventsTotal,
		m.signalsTotal,
		m.attemptsScheduled,
		m.attemptsSent,
		m.attemptsFailed,
		m.attemptsCancelled,
		m.dispatchDuration,
		m.timersArmed,
		m.overdueDispatchedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncWebhookEvent(event string, outcome string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.WithLabelValues(label(event), label(outcome)).Inc()
}

func (m *Metrics) IncSignal(kind string, path string) {
	if m == nil {
		return
	}
	m.signalsTotal.WithLabelValues(label(kind), label(path)).Inc()
}

func (m *Metrics) IncAttemptsScheduled(channel string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.attemptsScheduled.WithLabelValues(label(channel)).Add(float64(n))
}

func (m *Metrics) IncAttemptSent(channel string) {
	if m == nil {
		return
	}
	m.attemptsSent.WithLabelValues(label(channel)).Inc()
}

func (m *Metrics) IncAttemptFailed(channel string, reason string) {
	if m == nil {
		return
	}
	m.attemptsFailed.WithLabelValues(label(channel), label(reason)).Inc()
}

func (m *Metrics) AddAttemptsCancelled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.attemptsCancelled.Add(float64(n))
}

func (m *Metrics) ObserveDispatchDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.dispatchDuration.WithLabelValues(label(channel)).Observe(seconds)
}

func (m *Metrics) SetTimersArmed(n int) {
	if m == nil {
		return
	}
	m.timersArmed.Set(float64(n))
}

func (m *Metrics) IncOverdueDispatched() {
	if m == nil {
		return
	}
	m.overdueDispatchedTotal.Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func label(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
