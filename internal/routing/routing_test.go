package routing

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tangled.org/arabica.social/arbiter/internal/database/boltstore"
	"tangled.org/arabica.social/arbiter/internal/handlers"
	"tangled.org/arabica.social/arbiter/internal/middleware"
	"tangled.org/arabica.social/arbiter/internal/moderation"
)

var secret = []byte("routing-secret")

func newRouter(t *testing.T, limiter *middleware.RateLimiter) http.Handler {
	t.Helper()

	db, err := boltstore.Open(boltstore.Options{Path: filepath.Join(t.TempDir(), "routing.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dir, err := moderation.NewStaticDirectory(moderation.DirectoryUser{ID: "mod", Role: moderation.RoleModerator})
	require.NoError(t, err)

	engine, err := moderation.NewEngine(moderation.Options{Store: db.ModerationStore(), Directory: dir})
	require.NoError(t, err)

	return SetupRouter(Config{
		Handlers:    handlers.NewHandler(engine),
		Logger:      zerolog.Nop(),
		JWTSecret:   secret,
		RateLimiter: limiter,
	})
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := middleware.IssueToken(secret, userID, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func serve(router http.Handler, method, target, auth, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSetupRouter(t *testing.T) {
	router := newRouter(t, nil)
	report := `{"reported_user_id":"bob","target_kind":"post","target_id":"p1","reason":"spam"}`

	tests := []struct {
		name   string
		method string
		target string
		auth   string
		body   string
		status int
	}{
		{"health", http.MethodGet, "/healthz", "", "", http.StatusOK},
		{"anonymous report", http.MethodPost, "/api/reports", "", report, http.StatusUnauthorized},
		{"bad token", http.MethodPost, "/api/reports", "Bearer nope", report, http.StatusUnauthorized},
		{"report", http.MethodPost, "/api/reports", bearer(t, "alice"), report, http.StatusCreated},
		{"queue as user", http.MethodGet, "/api/queue", bearer(t, "alice"), "", http.StatusForbidden},
		{"queue as moderator", http.MethodGet, "/api/queue", bearer(t, "mod"), "", http.StatusOK},
		{"next as moderator", http.MethodGet, "/api/queue/next", bearer(t, "mod"), "", http.StatusOK},
		{"missing action", http.MethodGet, "/api/actions/nope", bearer(t, "mod"), "", http.StatusNotFound},
		{"own status", http.MethodGet, "/api/users/alice/status", bearer(t, "alice"), "", http.StatusOK},
		{"own check", http.MethodGet, "/api/restrictions/alice/check?capability=post", bearer(t, "alice"), "", http.StatusOK},
		{"sla", http.MethodGet, "/api/audit/sla", bearer(t, "mod"), "", http.StatusOK},
		{"wrong method", http.MethodDelete, "/api/queue", bearer(t, "mod"), "", http.StatusMethodNotAllowed},
		{"unknown route", http.MethodGet, "/api/nothing", "", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(router, tt.method, tt.target, tt.auth, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestSetupRouter_Metrics(t *testing.T) {
	router := newRouter(t, nil)

	serve(router, http.MethodGet, "/healthz", "", "")
	rec := serve(router, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "arbiter_http_requests_total")
}

func TestSetupRouter_RateLimited(t *testing.T) {
	router := newRouter(t, middleware.NewRateLimiter(60, 2, time.Minute))

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(router, http.MethodGet, "/healthz", "", "").Code)
}
