package moderation

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"tangled.org/arabica.social/arbiter/internal/tracing"
)

// Queue page size bounds
const (
	DefaultQueueLimit = 50
	MaxQueueLimit     = 500
)

// QueueFilter narrows the moderation queue. Empty Statuses means all open reports.
type QueueFilter struct {
	Statuses    []ReportStatus
	Priority    int
	FlaggedOnly bool
	Source      ReportSource
	Limit       int
}

// Validate checks the filter and fills in defaults
func (f *QueueFilter) Validate() error {
	if len(f.Statuses) == 0 {
		f.Statuses = []ReportStatus{ReportStatusPending, ReportStatusUnderReview}
	}
	for _, s := range f.Statuses {
		if !s.Valid() {
			return NewValidationError("status", "unknown status "+string(s))
		}
	}
	if f.Priority != 0 && (f.Priority < PriorityMostUrgent || f.Priority > PriorityLeastUrgent) {
		return NewValidationError("priority", "must be between 1 and 5")
	}
	switch f.Source {
	case SourceAny, SourceUser, SourceModerator:
	default:
		return NewValidationError("source", "must be user or moderator")
	}
	if f.Limit < 0 {
		return NewValidationError("limit", "must not be negative")
	}
	if f.Limit == 0 {
		f.Limit = DefaultQueueLimit
	}
	f.Limit = min(f.Limit, MaxQueueLimit)
	return nil
}

// compareQueue orders by priority, then age, then moderator flags before user
// reports, then id so the order is total.
func compareQueue(a, b Report) int {
	if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	if a.ModeratorFlagged != b.ModeratorFlagged {
		if a.ModeratorFlagged {
			return -1
		}
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}

// SortQueue sorts reports into queue order in place
func SortQueue(reports []Report) {
	slices.SortFunc(reports, compareQueue)
}

// ListQueue returns the open reports a moderator should review, most urgent
// first. The result is recomputed on every call.
func (e *Engine) ListQueue(ctx context.Context, actorID string, filter QueueFilter) (_ []Report, err error) {
	ctx, span := tracing.EngineSpan(ctx, "list_queue", actorID, "")
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	if _, err := e.requireStaff(ctx, "list_queue", actorID, ""); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	reports, err := e.store.ListReports(ctx, ReportFilter{
		Statuses:    filter.Statuses,
		Priority:    filter.Priority,
		FlaggedOnly: filter.FlaggedOnly,
		Source:      filter.Source,
	})
	if err != nil {
		return nil, err
	}

	SortQueue(reports)
	if len(reports) > filter.Limit {
		reports = reports[:filter.Limit]
	}
	return reports, nil
}

// NextInQueue returns the most urgent open report, or nil when the queue is empty.
func (e *Engine) NextInQueue(ctx context.Context, actorID string) (*Report, error) {
	reports, err := e.ListQueue(ctx, actorID, QueueFilter{Limit: 1})
	if err != nil || len(reports) == 0 {
		return nil, err
	}
	return &reports[0], nil
}

// QueueDepth counts open reports per priority. It is used by the metrics collector.
func (e *Engine) QueueDepth(ctx context.Context) (map[int]int, error) {
	reports, err := e.store.ListReports(ctx, ReportFilter{
		Statuses: []ReportStatus{ReportStatusPending, ReportStatusUnderReview},
	})
	if err != nil {
		return nil, err
	}
	depth := make(map[int]int, PriorityLeastUrgent)
	for _, r := range reports {
		depth[r.Priority]++
	}
	return depth, nil
}
