package handlers

import (
	"net/http"

	"tangled.org/arabica.social/arbiter/internal/moderation"
)

// ActionRequest is the JSON body of a moderation action
type ActionRequest struct {
	Kind            string `json:"kind"`
	Reason          string `json:"reason"`
	DurationDays    *int   `json:"duration_days"`
	RestrictionType string `json:"restriction_type"`
	InternalNotes   string `json:"internal_notes"`
	ResolutionNotes string `json:"resolution_notes"`
	TargetUserID    string `json:"target_user_id"`
}

// DismissRequest is the JSON body of a dismissal
type DismissRequest struct {
	Notes string `json:"notes"`
}

// ReverseRequest is the JSON body of a reversal
type ReverseRequest struct {
	Reason string `json:"reason"`
}

// HandleTakeAction resolves a report with a moderation action.
func (h *Handler) HandleTakeAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req ActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	action, err := h.engine.TakeAction(r.Context(), actor, r.PathValue("id"), moderation.ActionKind(req.Kind), moderation.ActionParams{
		Reason:          req.Reason,
		DurationDays:    req.DurationDays,
		RestrictionType: moderation.RestrictionKind(req.RestrictionType),
		InternalNotes:   req.InternalNotes,
		ResolutionNotes: req.ResolutionNotes,
		TargetUserID:    req.TargetUserID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, action)
}

// HandleDismissReport closes a report without action.
func (h *Handler) HandleDismissReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req DismissRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	report, err := h.engine.DismissReport(r.Context(), actor, r.PathValue("id"), req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleReverseAction revokes a ledger entry.
func (h *Handler) HandleReverseAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req ReverseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	action, err := h.engine.ReverseAction(r.Context(), actor, r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

// HandleGetAction returns one ledger entry to staff.
func (h *Handler) HandleGetAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	action, err := h.engine.GetAction(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}
