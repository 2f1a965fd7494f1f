package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"tangled.org/arabica.social/arbiter/internal/middleware"
	"tangled.org/arabica.social/arbiter/internal/moderation"
)

// MaxBodyBytes caps JSON request bodies
const MaxBodyBytes = 64 << 10

// Handler contains all HTTP handler methods and their dependencies.
type Handler struct {
	engine *moderation.Engine

	// now supplies default range ends for audit queries
	now func() time.Time
}

// NewHandler creates a new Handler serving engine.
func NewHandler(engine *moderation.Engine) *Handler {
	return &Handler{engine: engine, now: time.Now}
}

// errorResponse is the JSON body of every failed request
type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("handlers: failed to encode response")
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError translates engine errors into status codes. Reads that would
// reveal whether an entity exists are only reachable by staff, so not found
// is reported as 404 without leaking anything to plain users.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *moderation.ValidationError
		rl *moderation.RateLimitError
		re *moderation.RestrictedError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Message, Field: ve.Field})
	case errors.As(err, &rl):
		secs := rl.RetrySeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeErrorMessage(w, http.StatusTooManyRequests, fmt.Sprintf("Report limit reached. Please try again in %d seconds.", secs))
	case errors.As(err, &re):
		writeErrorMessage(w, http.StatusForbidden, re.Error())
	case errors.Is(err, moderation.ErrUnauthorized):
		writeErrorMessage(w, http.StatusForbidden, "Permission denied")
	case errors.Is(err, moderation.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, "Not found")
	case errors.Is(err, moderation.ErrAlreadyResolved):
		writeErrorMessage(w, http.StatusConflict, "Report has already been resolved")
	case errors.Is(err, moderation.ErrAlreadyReversed):
		writeErrorMessage(w, http.StatusConflict, "Action has already been reversed")
	case errors.Is(err, moderation.ErrDuplicateReport):
		writeErrorMessage(w, http.StatusConflict, "You have already reported this content")
	case errors.Is(err, moderation.ErrAlreadyRestricted):
		writeErrorMessage(w, http.StatusConflict, "User already has this restriction; reverse the existing action first")
	case moderation.IsRetryable(err):
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("handlers: store unavailable")
		w.Header().Set("Retry-After", "1")
		writeErrorMessage(w, http.StatusServiceUnavailable, "Temporarily unavailable, please retry")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("handlers: request failed")
		writeErrorMessage(w, http.StatusInternalServerError, "Internal error")
	}
}

// requireActor returns the authenticated user or writes a 401.
func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := middleware.CurrentActor(r.Context())
	if actor == "" {
		writeErrorMessage(w, http.StatusUnauthorized, "Authentication required")
		return "", false
	}
	return actor, true
}

// decodeJSON reads a bounded JSON body into target, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		writeErrorMessage(w, http.StatusUnsupportedMediaType, "Expected application/json")
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeErrorMessage(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		writeErrorMessage(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, moderation.NewValidationError(name, "must be an integer")
	}
	return n, nil
}

// HandleHealthz reports whether the store is reachable.
func (h *Handler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		log.Warn().Err(err).Msg("handlers: health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
