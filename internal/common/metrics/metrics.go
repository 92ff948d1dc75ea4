// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_notification_fetches_total",
			Help: "Notification fetches by kind and source (endpoint, fallback, none)",
		},
		[]string{"kind", "source"},
	)

	NotificationFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_notification_fallbacks_total",
			Help: "Times the listing fallback was used instead of the notifications endpoint",
		},
		[]string{"kind", "reason"},
	)

	OrphanNotificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_orphan_notifications_dropped_total",
			Help: "Notifications dropped because their parent no longer exists",
		},
		[]string{"kind"},
	)

	OrphanFilterFailOpen = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_orphan_filter_fail_open_total",
			Help: "Orphan filter runs that returned input unchanged because the parent listing failed",
		},
		[]string{"kind"},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_commands_total",
			Help: "Approve/reject commands by kind, action and outcome",
		},
		[]string{"kind", "action", "outcome"},
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "approval_command_duration_seconds",
			Help: "Duration of approve/reject round trips in seconds",
		},
		[]string{"kind", "action"},
	)

	RefreshOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_refresh_outcomes_total",
			Help: "View refresh outcomes (applied, failed, skipped, stale, stopped)",
		},
		[]string{"view", "outcome"},
	)

	FlagsCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_local_flags_collected_total",
			Help: "Local pending flags removed by stale collection or confirmation",
		},
		[]string{"kind", "reason"},
	)

	PendingCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "approval_pending_count",
			Help: "Current pending count of a mounted view",
		},
		[]string{"view"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_http_requests_total",
			Help: "HTTP requests served by route template and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "approval_http_request_duration_seconds",
			Help:    "HTTP request latency by route template",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
