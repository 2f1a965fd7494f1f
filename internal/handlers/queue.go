package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"tangled.org/arabica.social/arbiter/internal/moderation"
)

// QueueResponse is a page of the moderation queue
type QueueResponse struct {
	Reports []moderation.Report `json:"reports"`
	Count   int                 `json:"count"`
}

func parseQueueFilter(r *http.Request) (moderation.QueueFilter, error) {
	q := r.URL.Query()
	var filter moderation.QueueFilter

	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, moderation.ReportStatus(s))
			}
		}
	}

	var err error
	if filter.Priority, err = queryInt(r, "priority"); err != nil {
		return filter, err
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		return filter, err
	}
	if raw := q.Get("flagged"); raw != "" {
		if filter.FlaggedOnly, err = strconv.ParseBool(raw); err != nil {
			return filter, moderation.NewValidationError("flagged", "must be true or false")
		}
	}
	filter.Source = moderation.ReportSource(q.Get("source"))
	return filter, nil
}

// HandleListQueue lists open reports in review order.
func (h *Handler) HandleListQueue(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	filter, err := parseQueueFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	reports, err := h.engine.ListQueue(r.Context(), actor, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reports == nil {
		reports = []moderation.Report{}
	}
	writeJSON(w, http.StatusOK, QueueResponse{Reports: reports, Count: len(reports)})
}

// HandleNextInQueue returns the most urgent open report, or 204 when the queue is empty.
func (h *Handler) HandleNextInQueue(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	report, err := h.engine.NextInQueue(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if report == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
