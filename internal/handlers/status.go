package handlers

import (
	"errors"
	"net/http"
	"time"

	"tangled.org/arabica.social/arbiter/internal/moderation"
)

// CheckResponse is the oracle's answer for one capability
type CheckResponse struct {
	UserID      string                     `json:"user_id"`
	Capability  moderation.Capability      `json:"capability"`
	Allowed     bool                       `json:"allowed"`
	Restriction moderation.RestrictionKind `json:"restriction,omitempty"`
	ExpiresAt   *time.Time                 `json:"expires_at,omitempty"`
	Message     string                     `json:"message,omitempty"`
}

// HandleUserStatus returns a user's restrictions and recent actions.
func (h *Handler) HandleUserStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}

	status, err := h.engine.UserStatus(r.Context(), actor, r.PathValue("id"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleCheckRestriction asks the oracle whether a user may use a capability.
// A denial is a normal answer, not an error.
func (h *Handler) HandleCheckRestriction(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	userID := r.PathValue("user")
	capability := moderation.Capability(r.URL.Query().Get("capability"))
	if capability == "" {
		capability = moderation.CapabilityAny
	}

	resp := CheckResponse{UserID: userID, Capability: capability, Allowed: true}
	err := h.engine.CheckAllowedFor(r.Context(), actor, userID, capability)
	var re *moderation.RestrictedError
	switch {
	case err == nil:
	case errors.As(err, &re):
		resp.Allowed = false
		resp.Restriction = re.Kind
		resp.ExpiresAt = re.ExpiresAt
		resp.Message = re.Error()
	default:
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
