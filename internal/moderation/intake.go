package moderation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"tangled.org/arabica.social/arbiter/internal/metrics"
	"tangled.org/arabica.social/arbiter/internal/tracing"
)

// Report intake limits
const (
	ReportRateLimit      = 10
	ReportRateWindow     = 24 * time.Hour
	MaxDescriptionLength = 1000
)

// PriorityFor returns the queue priority of a report filed under reason.
// Unknown reasons get the priority of "other".
func PriorityFor(reason ReportReason) int {
	if p, ok := reasonPriority[reason]; ok {
		return p
	}
	return reasonPriority[ReasonOther]
}

// Check applies the rolling quota to the creation times of the reporter's
// reports and returns a *RateLimitError when the quota is exhausted.
// RetryAfter is the time until enough reports age out of the window.
func (g *ReportGuard) Check(created []time.Time) error {
	if g == nil || g.Max <= 0 {
		return nil
	}
	cutoff := g.Now.Add(-g.Window)
	var inWindow []time.Time
	for _, t := range created {
		if t.After(cutoff) {
			inWindow = append(inWindow, t)
		}
	}
	if len(inWindow) < g.Max {
		return nil
	}
	sort.Slice(inWindow, func(i, j int) bool { return inWindow[i].Before(inWindow[j]) })
	release := inWindow[len(inWindow)-g.Max]
	return &RateLimitError{RetryAfter: release.Add(g.Window).Sub(g.Now)}
}

// SubmitReportInput is a report filed by a user
type SubmitReportInput struct {
	ReporterID     string
	ReportedUserID string
	TargetKind     TargetKind
	TargetID       string
	Reason         ReportReason
	Description    string
}

// FlagInput is a report raised directly by a moderator
type FlagInput struct {
	ModeratorID    string
	ReportedUserID string
	TargetKind     TargetKind
	TargetID       string
	Reason         ReportReason
	InternalNotes  string
	Priority       *int
}

func validateTarget(kind TargetKind, id string, reason ReportReason) error {
	if !kind.Valid() {
		return NewValidationError("target_kind", "must be one of post, comment, track, user")
	}
	if strings.TrimSpace(id) == "" {
		return NewValidationError("target_id", "is required")
	}
	if !reason.Valid() {
		return NewValidationError("reason", "unknown report reason")
	}
	return nil
}

// reportedUser returns the user a report is about. For user targets it is the
// target itself.
func reportedUser(kind TargetKind, targetID, reportedUserID string) *string {
	if kind == TargetUser {
		return &targetID
	}
	if reportedUserID == "" {
		return nil
	}
	return &reportedUserID
}

func (e *Engine) checkTargetExists(ctx context.Context, kind TargetKind, id string) error {
	if !kind.IsContent() {
		return nil
	}
	ok, err := e.content.Exists(ctx, kind, id)
	if err != nil {
		return wrapContentErr("content exists", err)
	}
	if !ok {
		return NewValidationError("target_id", "target does not exist")
	}
	return nil
}

// SubmitReport files a user report. The submission quota is counted in the
// same store transaction as the insert.
func (e *Engine) SubmitReport(ctx context.Context, in SubmitReportInput) (_ *Report, err error) {
	ctx, span := tracing.EngineSpan(ctx, "submit_report", in.ReporterID, in.TargetID)
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()
	defer func() {
		if err != nil {
			metrics.ReportRejectionsTotal.WithLabelValues(rejectionCause(err)).Inc()
		}
	}()

	if err := requireText("reporter_id", in.ReporterID); err != nil {
		return nil, err
	}
	if err := validateTarget(in.TargetKind, in.TargetID, in.Reason); err != nil {
		return nil, err
	}
	description := strings.TrimSpace(in.Description)
	if in.Reason == ReasonOther && description == "" {
		return nil, NewValidationError("description", "is required when reason is other")
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return nil, NewValidationError("description", "must be at most 1000 characters")
	}
	if in.TargetKind == TargetUser && in.TargetID == in.ReporterID {
		return nil, NewValidationError("target_id", "cannot report yourself")
	}
	if err := e.checkTargetExists(ctx, in.TargetKind, in.TargetID); err != nil {
		return nil, err
	}

	now := e.clock()
	reporter := in.ReporterID
	report := Report{
		ID:             e.newID(),
		ReporterID:     &reporter,
		ReportedUserID: reportedUser(in.TargetKind, in.TargetID, in.ReportedUserID),
		TargetKind:     in.TargetKind,
		TargetID:       in.TargetID,
		Reason:         in.Reason,
		Description:    description,
		Status:         ReportStatusPending,
		Priority:       PriorityFor(in.Reason),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	guard := &ReportGuard{
		Window:           e.reportWindow,
		Max:              e.reportLimit,
		Now:              now,
		RejectDuplicates: true,
	}
	if err := e.store.CreateReport(ctx, report, guard); err != nil {
		var rl *RateLimitError
		if errors.As(err, &rl) {
			log.Info().
				Str("reporter", in.ReporterID).
				Int("retry_after", rl.RetrySeconds()).
				Msg("moderation: report rate limited")
		}
		return nil, err
	}

	metrics.ReportsTotal.WithLabelValues(string(SourceUser), string(report.Reason)).Inc()
	log.Info().
		Str("report_id", report.ID).
		Str("reporter", in.ReporterID).
		Str("target", string(report.TargetKind)+":"+report.TargetID).
		Str("reason", string(report.Reason)).
		Int("priority", report.Priority).
		Msg("moderation: report submitted")

	e.publish(Event{Type: EventReportSubmitted, ReportID: report.ID, UserID: deref(report.ReportedUserID), At: now})
	return &report, nil
}

// FlagContent files a report on behalf of a moderator. Flags skip the pending
// state and are never less urgent than ModeratorFlagPriority.
func (e *Engine) FlagContent(ctx context.Context, in FlagInput) (_ *Report, err error) {
	ctx, span := tracing.EngineSpan(ctx, "flag_content", in.ModeratorID, in.TargetID)
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	if _, err := e.requireStaff(ctx, "flag_content", in.ModeratorID, in.TargetID); err != nil {
		return nil, err
	}
	if err := validateTarget(in.TargetKind, in.TargetID, in.Reason); err != nil {
		return nil, err
	}
	notes := strings.TrimSpace(in.InternalNotes)
	if notes == "" {
		return nil, NewValidationError("internal_notes", "is required")
	}
	priority := ModeratorFlagPriority
	if in.Priority != nil {
		if *in.Priority < PriorityMostUrgent || *in.Priority > PriorityLeastUrgent {
			return nil, NewValidationError("priority", "must be between 1 and 5")
		}
		priority = min(*in.Priority, ModeratorFlagPriority)
	}
	if err := e.checkTargetExists(ctx, in.TargetKind, in.TargetID); err != nil {
		return nil, err
	}

	now := e.clock()
	moderator := in.ModeratorID
	report := Report{
		ID:               e.newID(),
		ReporterID:       &moderator,
		ReportedUserID:   reportedUser(in.TargetKind, in.TargetID, in.ReportedUserID),
		TargetKind:       in.TargetKind,
		TargetID:         in.TargetID,
		Reason:           in.Reason,
		Status:           ReportStatusUnderReview,
		Priority:         priority,
		ModeratorFlagged: true,
		InternalNotes:    notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := e.store.CreateReport(ctx, report, nil); err != nil {
		return nil, err
	}

	metrics.ReportsTotal.WithLabelValues(string(SourceModerator), string(report.Reason)).Inc()
	log.Info().
		Str("report_id", report.ID).
		Str("actor", in.ModeratorID).
		Str("target", string(report.TargetKind)+":"+report.TargetID).
		Int("priority", report.Priority).
		Msg("moderation: content flagged")

	e.publish(Event{Type: EventReportFlagged, ReportID: report.ID, UserID: deref(report.ReportedUserID), At: now})
	return &report, nil
}

func rejectionCause(err error) string {
	switch {
	case IsRateLimited(err):
		return "rate_limited"
	case errors.Is(err, ErrDuplicateReport):
		return "duplicate"
	case IsValidationError(err):
		return "invalid"
	}
	return "error"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
