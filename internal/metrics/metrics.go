package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arbiter_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path"})

	HTTPRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_http_rate_limited_total",
		Help: "Total number of HTTP requests rejected by the client rate limiter",
	})
)

// Intake metrics
var (
	ReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_reports_total",
		Help: "Total number of reports accepted",
	}, []string{"source", "reason"})

	ReportRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_report_rejections_total",
		Help: "Total number of reports rejected at intake",
	}, []string{"cause"})
)

// Ledger metrics
var (
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_actions_total",
		Help: "Total number of moderation actions taken",
	}, []string{"kind"})

	DismissalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_dismissals_total",
		Help: "Total number of reports dismissed without action",
	})

	ReversalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_reversals_total",
		Help: "Total number of moderation actions reversed",
	}, []string{"kind", "self"})

	SecurityDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_security_denials_total",
		Help: "Total number of operations denied for insufficient role",
	}, []string{"operation"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_notifications_total",
		Help: "Total number of notifications dispatched",
	}, []string{"kind", "status"})

	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_events_dropped_total",
		Help: "Total number of events not delivered to a slow subscriber",
	})
)

// Oracle and sweeper metrics
var (
	OracleChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_oracle_checks_total",
		Help: "Total number of restriction checks",
	}, []string{"capability", "result"})

	SweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_sweeps_total",
		Help: "Total number of expiration sweeps",
	}, []string{"status"})

	RestrictionsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_restrictions_expired_total",
		Help: "Total number of restrictions deactivated by the sweeper",
	})
)

// State gauges (updated periodically by collector)
var (
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arbiter_queue_depth",
		Help: "Number of open reports by priority",
	}, []string{"priority"})

	ActiveRestrictions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arbiter_active_restrictions",
		Help: "Number of active restrictions by kind",
	}, []string{"kind"})

	StoreUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbiter_store_up",
		Help: "Store reachability (1=up, 0=down)",
	})

	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbiter_event_subscribers",
		Help: "Number of connected event stream subscribers",
	})
)

// NormalizePath reduces high-cardinality path labels by replacing dynamic
// segments with placeholders. This keeps the metric label space bounded.
func NormalizePath(path string) string {
	segments := splitPath(path)
	if len(segments) < 3 || segments[0] != "api" {
		return path
	}

	switch segments[1] {
	case "reports":
		if len(segments) == 3 && segments[2] != "flag" {
			return "/api/reports/:id"
		}
		if len(segments) == 4 && (segments[3] == "actions" || segments[3] == "dismiss") {
			return "/api/reports/:id/" + segments[3]
		}
	case "actions":
		if len(segments) == 3 {
			return "/api/actions/:id"
		}
		if len(segments) == 4 && segments[3] == "reverse" {
			return "/api/actions/:id/reverse"
		}
	case "audit":
		if len(segments) == 4 && segments[2] == "moderators" {
			return "/api/audit/moderators/:id"
		}
	case "users":
		if len(segments) == 4 && segments[3] == "status" {
			return "/api/users/:id/status"
		}
	case "restrictions":
		if len(segments) == 4 && segments[3] == "check" {
			return "/api/restrictions/:user/check"
		}
	}

	return path
}

func splitPath(path string) []string {
	// Skip leading slash
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	// Split on /
	var segments []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if i > start {
				segments = append(segments, path[start:i])
			}
			start = i + 1
		}
	}
	if start < len(path) {
		segments = append(segments, path[start:])
	}
	return segments
}
