package handlers

import (
	"net/http"

	"tangled.org/arabica.social/arbiter/internal/moderation"
)

// ReportRequest is the JSON body of a user report
type ReportRequest struct {
	ReportedUserID string `json:"reported_user_id"`
	TargetKind     string `json:"target_kind"`
	TargetID       string `json:"target_id"`
	Reason         string `json:"reason"`
	Description    string `json:"description"`
}

// FlagRequest is the JSON body of a moderator flag
type FlagRequest struct {
	ReportedUserID string `json:"reported_user_id"`
	TargetKind     string `json:"target_kind"`
	TargetID       string `json:"target_id"`
	Reason         string `json:"reason"`
	InternalNotes  string `json:"internal_notes"`
	Priority       *int   `json:"priority"`
}

// HandleSubmitReport files a report on behalf of the authenticated user.
func (h *Handler) HandleSubmitReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req ReportRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	report, err := h.engine.SubmitReport(r.Context(), moderation.SubmitReportInput{
		ReporterID:     actor,
		ReportedUserID: req.ReportedUserID,
		TargetKind:     moderation.TargetKind(req.TargetKind),
		TargetID:       req.TargetID,
		Reason:         moderation.ReportReason(req.Reason),
		Description:    req.Description,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	// reporters get an acknowledgement, not the queue entry
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":      report.ID,
		"status":  "received",
		"message": "Thank you for your report. It will be reviewed by a moderator.",
	})
}

// HandleFlagContent raises a report directly from a moderator.
func (h *Handler) HandleFlagContent(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req FlagRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	report, err := h.engine.FlagContent(r.Context(), moderation.FlagInput{
		ModeratorID:    actor,
		ReportedUserID: req.ReportedUserID,
		TargetKind:     moderation.TargetKind(req.TargetKind),
		TargetID:       req.TargetID,
		Reason:         moderation.ReportReason(req.Reason),
		InternalNotes:  req.InternalNotes,
		Priority:       req.Priority,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

// HandleGetReport returns one report to staff.
func (h *Handler) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	report, err := h.engine.GetReport(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
