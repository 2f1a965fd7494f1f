package handlers

import (
	"net/http"
	"time"

	"tangled.org/arabica.social/arbiter/internal/moderation"
)

// DefaultAuditWindow is used when a query names no start time
const DefaultAuditWindow = 30 * 24 * time.Hour

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, moderation.NewValidationError(name, "must be an RFC 3339 timestamp")
	}
	return t, nil
}

// parseRange reads start and end query parameters. A missing end means now
// and a missing start means DefaultAuditWindow before the end.
func (h *Handler) parseRange(r *http.Request) (moderation.Range, error) {
	start, err := parseTimeParam(r, "start")
	if err != nil {
		return moderation.Range{}, err
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		return moderation.Range{}, err
	}
	if start.IsZero() {
		anchor := end
		if anchor.IsZero() {
			anchor = h.now()
		}
		start = anchor.Add(-DefaultAuditWindow)
	}
	return moderation.Range{Start: start, End: end}, nil
}

// HandleReversalRate reports reversal rates, optionally grouped.
func (h *Handler) HandleReversalRate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	rng, err := h.parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	buckets, err := h.engine.ReversalRate(r.Context(), actor, rng, moderation.GroupBy(r.URL.Query().Get("group_by")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"buckets": buckets})
}

// timingResponse renders durations in seconds
type timingResponse struct {
	Kind          moderation.ActionKind `json:"kind"`
	Count         int                   `json:"count"`
	MeanSeconds   float64               `json:"mean_seconds"`
	MedianSeconds float64               `json:"median_seconds"`
}

// HandleTimeToReversal reports how long actions stood before reversal, per kind.
func (h *Handler) HandleTimeToReversal(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	rng, err := h.parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	stats, err := h.engine.TimeToReversalStats(r.Context(), actor, rng)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows := make([]timingResponse, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, timingResponse{
			Kind:          s.Kind,
			Count:         s.Count,
			MeanSeconds:   s.Mean.Seconds(),
			MedianSeconds: s.Median.Seconds(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"kinds": rows})
}

// HandleModeratorStats summarises one moderator's activity.
func (h *Handler) HandleModeratorStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	rng, err := h.parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	stats, err := h.engine.ModeratorStats(r.Context(), actor, r.PathValue("id"), rng)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleSLACompliance reports review deadline compliance.
func (h *Handler) HandleSLACompliance(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	rng, err := h.parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	report, err := h.engine.SLACompliance(r.Context(), actor, rng)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
