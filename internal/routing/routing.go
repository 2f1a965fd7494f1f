package routing

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tangled.org/arabica.social/arbiter/internal/handlers"
	"tangled.org/arabica.social/arbiter/internal/metrics"
	"tangled.org/arabica.social/arbiter/internal/middleware"
)

// Config holds the configuration needed for setting up routes
type Config struct {
	Handlers *handlers.Handler
	Logger   zerolog.Logger

	// JWTSecret verifies session bearer tokens
	JWTSecret []byte

	// RateLimiter throttles clients by IP; nil disables throttling
	RateLimiter *middleware.RateLimiter
}

// uncompressed paths bypass gzip: the websocket needs the raw connection
// and promhttp negotiates its own encoding.
var uncompressed = map[string]bool{
	"/api/events": true,
	"/metrics":    true,
}

// SetupRouter creates and configures the HTTP router with all routes and middleware
func SetupRouter(cfg Config) http.Handler {
	h := cfg.Handlers
	mux := http.NewServeMux()

	// Report intake
	mux.HandleFunc("POST /api/reports", h.HandleSubmitReport)
	mux.HandleFunc("POST /api/reports/flag", h.HandleFlagContent)
	mux.HandleFunc("GET /api/reports/{id}", h.HandleGetReport)

	// Queue
	mux.HandleFunc("GET /api/queue", h.HandleListQueue)
	mux.HandleFunc("GET /api/queue/next", h.HandleNextInQueue)

	// Actions and reversals
	mux.HandleFunc("POST /api/reports/{id}/actions", h.HandleTakeAction)
	mux.HandleFunc("POST /api/reports/{id}/dismiss", h.HandleDismissReport)
	mux.HandleFunc("GET /api/actions/{id}", h.HandleGetAction)
	mux.HandleFunc("POST /api/actions/{id}/reverse", h.HandleReverseAction)

	// Audit (read-only)
	mux.HandleFunc("GET /api/audit/reversal-rate", h.HandleReversalRate)
	mux.HandleFunc("GET /api/audit/time-to-reversal", h.HandleTimeToReversal)
	mux.HandleFunc("GET /api/audit/moderators/{id}", h.HandleModeratorStats)
	mux.HandleFunc("GET /api/audit/sla", h.HandleSLACompliance)

	// User standing and the restriction oracle
	mux.HandleFunc("GET /api/users/{id}/status", h.HandleUserStatus)
	mux.HandleFunc("GET /api/restrictions/{user}/check", h.HandleCheckRestriction)

	// Dashboard stream
	mux.HandleFunc("GET /api/events", h.HandleEventStream)

	// Operations
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealthz)

	// Apply middleware in order (innermost first, outermost last)
	compressed := gzhttp.GzipHandler(mux)
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if uncompressed[r.URL.Path] {
			mux.ServeHTTP(w, r)
			return
		}
		compressed.ServeHTTP(w, r)
	})

	// 1. Resolve the session token into the request context
	handler = middleware.AuthMiddleware(cfg.JWTSecret)(handler)

	// 2. Apply rate limiting
	if cfg.RateLimiter != nil {
		handler = middleware.RateLimitMiddleware(cfg.RateLimiter)(handler)
	}

	// 3. Trace every request, named by its normalized route
	handler = otelhttp.NewHandler(handler, "arbiter",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + metrics.NormalizePath(r.URL.Path)
		}),
	)

	// 4. Apply logging middleware (outermost - wraps everything)
	handler = middleware.LoggingMiddleware(cfg.Logger)(handler)

	return handler
}
