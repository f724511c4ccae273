// Package telemetry registers the Prometheus metrics exposed on /metrics.
//
// HTTP metrics are labelled with the Gin route template (c.FullPath()), not
// the raw URL, so form and submission ids never become label values.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forms_http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forms_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// SubmissionsTotal counts intake outcomes: accepted, replayed, invalid_key,
	// not_found, quota_exceeded, invalid, error.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forms_submissions_total",
			Help: "Submission intake outcomes.",
		},
		[]string{"outcome"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forms_notifications_total",
			Help: "Notification attempts by channel and final status.",
		},
		[]string{"channel", "status"},
	)

	NotificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forms_notification_duration_seconds",
			Help:    "Time spent delivering one notification channel.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// TrackingEventsTotal counts open and click events; result is recorded or error.
	TrackingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forms_tracking_events_total",
			Help: "Email tracking events.",
		},
		[]string{"event", "result"},
	)
)
