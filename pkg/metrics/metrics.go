// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "guardian"

type Metrics struct {
	SessionsStarted     prometheus.Counter
	SessionTransitions  *prometheus.CounterVec
	ActiveRuntimes      prometheus.Gauge
	LocationWrites      *prometheus.CounterVec
	RemindersFired      prometheus.Counter
	AlertsCreated       *prometheus.CounterVec
	CooldownRejections  prometheus.Counter
	WatcherDeliveries   *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "sessions_started_total",
			Help:      "Tracking sessions started.",
		}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "session_transitions_total",
			Help:      "Tracking session status transitions by target status.",
		}, []string{"status"}),
		ActiveRuntimes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "active_runtimes",
			Help:      "Sessions with a running location reporter or escalation timer on this instance.",
		}),
		LocationWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "location_writes_total",
			Help:      "Location pings by outcome (stored, throttled, failed).",
		}, []string{"result"}),
		RemindersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "reminders_fired_total",
			Help:      "Check-in reminders fired.",
		}),
		AlertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "created_total",
			Help:      "Alerts created by type.",
		}, []string{"alert_type"}),
		CooldownRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "cooldown_rejections_total",
			Help:      "Alert sends rejected by the cooldown.",
		}),
		WatcherDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "deliveries_total",
			Help:      "Watcher notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.SessionsStarted,
		m.SessionTransitions,
		m.ActiveRuntimes,
		m.LocationWrites,
		m.RemindersFired,
		m.AlertsCreated,
		m.CooldownRejections,
		m.WatcherDeliveries,
		m.HTTPRequests,
		m.HTTPRequestDuration,
	)

	return m
}

// NewUnregistered returns collectors that are not exported anywhere.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
