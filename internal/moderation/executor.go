package moderation

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"tangled.org/arabica.social/arbiter/internal/metrics"
	"tangled.org/arabica.social/arbiter/internal/tracing"
)

// MaxDurationDays caps suspensions and timed restrictions
const MaxDurationDays = 3650

// ActionParams are the moderator-supplied details of an action
type ActionParams struct {
	Reason          string
	DurationDays    *int
	RestrictionType RestrictionKind
	InternalNotes   string
	ResolutionNotes string
	// TargetUserID names the user for a report that records none. It must
	// match the reported user otherwise.
	TargetUserID string
}

func validateDuration(days *int, required bool) error {
	if days == nil {
		if required {
			return NewValidationError("duration_days", "is required")
		}
		return nil
	}
	if *days < 1 || *days > MaxDurationDays {
		return NewValidationError("duration_days", "must be between 1 and 3650")
	}
	return nil
}

// resolveTarget picks the user an action applies to. The override only fills
// in a report that names no user, and never redirects a content action away
// from the content's author.
func resolveTarget(report *Report, kind ActionKind, override string) (string, error) {
	reported := deref(report.ReportedUserID)
	override = strings.TrimSpace(override)
	switch {
	case override == "" || override == reported:
	case kind.IsContentAction():
		return "", NewValidationError("target_user_id", "content actions apply to the author of the reported content")
	case reported != "":
		return "", NewValidationError("target_user_id", "report already names the reported user")
	default:
		return override, nil
	}
	if reported == "" {
		return "", NewValidationError("target_user_id", "report has no reported user")
	}
	return reported, nil
}

// planAction validates the kind-specific parameters and builds the action and
// restriction records to commit. Ids and timestamps come from the engine.
func (e *Engine) planAction(report *Report, actorID, targetUserID string, kind ActionKind, p ActionParams, now time.Time) (*ModerationAction, *UserRestriction, error) {
	reportID := report.ID
	action := &ModerationAction{
		ID:            e.newID(),
		ActorID:       actorID,
		TargetUserID:  targetUserID,
		Kind:          kind,
		TargetKind:    report.TargetKind,
		TargetID:      report.TargetID,
		Reason:        strings.TrimSpace(p.Reason),
		ReportID:      &reportID,
		InternalNotes: strings.TrimSpace(p.InternalNotes),
		CreatedAt:     now,
	}

	var restrictionKind RestrictionKind
	var duration *int

	switch kind {
	case ActionContentRemoved, ActionContentApproved:
		if !report.TargetKind.IsContent() {
			return nil, nil, NewValidationError("kind", "content actions need a post, comment or track target")
		}
		action.Payload.Content = &ContentPayload{TargetKind: report.TargetKind, TargetID: report.TargetID}

	case ActionUserWarned:
		action.Payload.Warning = &WarningPayload{ReportReason: report.Reason}

	case ActionUserSuspended:
		if err := validateDuration(p.DurationDays, true); err != nil {
			return nil, nil, err
		}
		restrictionKind, duration = RestrictionSuspended, p.DurationDays

	case ActionUserBanned:
		if p.DurationDays != nil {
			return nil, nil, NewValidationError("duration_days", "bans are permanent")
		}
		restrictionKind = RestrictionSuspended

	case ActionRestrictionApplied:
		switch p.RestrictionType {
		case RestrictionPostingDisabled, RestrictionCommentingDisabled, RestrictionUploadDisabled:
		default:
			return nil, nil, NewValidationError("restriction_type", "must be posting_disabled, commenting_disabled or upload_disabled")
		}
		if err := validateDuration(p.DurationDays, false); err != nil {
			return nil, nil, err
		}
		restrictionKind, duration = p.RestrictionType, p.DurationDays
	}

	if restrictionKind == "" {
		return action, nil, action.Payload.Validate(kind)
	}

	var expiresAt *time.Time
	if duration != nil {
		t := now.AddDate(0, 0, *duration)
		expiresAt = &t
		d := *duration
		action.DurationDays = &d
		action.ExpiresAt = expiresAt
	}

	restriction := &UserRestriction{
		ID:        e.newID(),
		UserID:    targetUserID,
		Kind:      restrictionKind,
		ExpiresAt: expiresAt,
		Active:    true,
		Reason:    action.Reason,
		AppliedBy: actorID,
		ActionID:  action.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	switch kind {
	case ActionRestrictionApplied:
		action.Payload.Restriction = &RestrictionPayload{Kind: restrictionKind, RestrictionID: restriction.ID, ExpiresAt: expiresAt}
	default:
		action.Payload.Suspension = &SuspensionPayload{RestrictionID: restriction.ID, Permanent: kind == ActionUserBanned, ExpiresAt: expiresAt}
	}

	return action, restriction, action.Payload.Validate(kind)
}

// TakeAction executes a moderation action against the subject of a report and
// closes the report. The action record, the restriction it imposes, the report
// update and the content hook happen in one store transaction; of several
// concurrent calls on one report exactly one commits and the rest get
// ErrAlreadyResolved.
func (e *Engine) TakeAction(ctx context.Context, actorID, reportID string, kind ActionKind, p ActionParams) (_ *ModerationAction, err error) {
	ctx, span := tracing.EngineSpan(ctx, "take_action", actorID, reportID)
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	actorRole, err := e.requireStaff(ctx, "take_action", actorID, reportID)
	if err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, NewValidationError("kind", "unknown action kind")
	}
	if err := requireText("reason", p.Reason); err != nil {
		return nil, err
	}

	report, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if !report.Status.Open() {
		return nil, ErrAlreadyResolved
	}

	targetUserID, err := resolveTarget(report, kind, p.TargetUserID)
	if err != nil {
		return nil, err
	}

	// target role is read now, not when the report was filed
	targetRole, err := e.roleOf(ctx, targetUserID)
	if err != nil {
		return nil, err
	}
	if !AuthorizeAction(actorRole, targetRole, kind) {
		return nil, e.deny("take_action", actorID, actorRole, targetUserID)
	}

	now := e.clock()
	action, restriction, err := e.planAction(report, actorID, targetUserID, kind, p, now)
	if err != nil {
		return nil, err
	}

	res, err := e.store.ResolveReport(ctx, reportID, func(cur Report, active ActiveLookup) (*Resolution, error) {
		if !cur.Status.Open() {
			return nil, ErrAlreadyResolved
		}

		if restriction != nil {
			// an in-force restriction belongs to another action; it ends only by
			// reversing that action or by expiring
			existing, err := active(targetUserID)
			if err != nil {
				return nil, err
			}
			for _, r := range existing {
				if r.Kind == restriction.Kind && r.InForce(now) {
					log.Info().
						Str("report_id", reportID).
						Str("actor", actorID).
						Str("target", targetUserID).
						Str("kind", string(r.Kind)).
						Str("existing_action_id", r.ActionID).
						Msg("moderation: restriction already in force")
					return nil, ErrAlreadyRestricted
				}
			}
		}

		switch kind {
		case ActionContentRemoved:
			if err := e.content.Remove(ctx, cur.TargetKind, cur.TargetID); err != nil {
				return nil, wrapContentErr("content remove", err)
			}
		case ActionContentApproved:
			if err := e.content.Approve(ctx, cur.TargetKind, cur.TargetID); err != nil {
				return nil, wrapContentErr("content approve", err)
			}
		}

		cur.Status = ReportStatusResolved
		if kind == ActionContentApproved {
			cur.Status = ReportStatusDismissed
		}
		reviewedAt := now
		cur.ReviewerID = actorID
		cur.ReviewedAt = &reviewedAt
		cur.ResolutionNotes = strings.TrimSpace(p.ResolutionNotes)
		cur.ActionID = action.ID
		cur.UpdatedAt = now

		return &Resolution{Report: cur, Action: action, Restriction: restriction}, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ActionsTotal.WithLabelValues(string(kind)).Inc()
	logEvt := log.Info().
		Str("action_id", action.ID).
		Str("report_id", reportID).
		Str("actor", actorID).
		Str("target", targetUserID).
		Str("kind", string(kind))
	if res.Lapsed != nil {
		logEvt = logEvt.Str("lapsed_restriction_id", res.Lapsed.ID)
	}
	logEvt.Msg("moderation: action taken")

	e.publish(Event{Type: EventActionTaken, ReportID: reportID, ActionID: action.ID, UserID: targetUserID, At: now})

	committed := *res.Action
	if kind != ActionContentApproved {
		sent := e.dispatch(ctx, Notification{
			RecipientID:  targetUserID,
			Kind:         NotificationActionTaken,
			ActionID:     action.ID,
			ActionKind:   kind,
			Reason:       action.Reason,
			DurationDays: action.DurationDays,
			ActorName:    e.directory.DisplayName(ctx, actorID),
			CreatedAt:    now,
		})
		if sent {
			if err := e.store.MarkNotificationSent(ctx, action.ID); err != nil {
				log.Warn().Err(err).Str("action_id", action.ID).Msg("moderation: failed to record notification")
			} else {
				committed.NotificationSent = true
			}
		}
	}

	return &committed, nil
}

// DismissReport closes a report without taking any action.
func (e *Engine) DismissReport(ctx context.Context, actorID, reportID, notes string) (_ *Report, err error) {
	ctx, span := tracing.EngineSpan(ctx, "dismiss_report", actorID, reportID)
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	if _, err := e.requireStaff(ctx, "dismiss_report", actorID, reportID); err != nil {
		return nil, err
	}

	now := e.clock()
	res, err := e.store.ResolveReport(ctx, reportID, func(cur Report, _ ActiveLookup) (*Resolution, error) {
		if !cur.Status.Open() {
			return nil, ErrAlreadyResolved
		}
		reviewedAt := now
		cur.Status = ReportStatusDismissed
		cur.ReviewerID = actorID
		cur.ReviewedAt = &reviewedAt
		cur.ResolutionNotes = strings.TrimSpace(notes)
		cur.UpdatedAt = now
		return &Resolution{Report: cur}, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.DismissalsTotal.Inc()
	log.Info().
		Str("report_id", reportID).
		Str("actor", actorID).
		Msg("moderation: report dismissed")

	e.publish(Event{Type: EventReportDismissed, ReportID: reportID, UserID: deref(res.Report.ReportedUserID), At: now})
	return &res.Report, nil
}

// GetAction returns a ledger entry. Only staff may read the ledger directly.
func (e *Engine) GetAction(ctx context.Context, actorID, actionID string) (*ModerationAction, error) {
	if _, err := e.requireStaff(ctx, "get_action", actorID, actionID); err != nil {
		return nil, err
	}
	return e.store.GetAction(ctx, actionID)
}

// GetReport returns a report. Only staff may read reports.
func (e *Engine) GetReport(ctx context.Context, actorID, reportID string) (*Report, error) {
	if _, err := e.requireStaff(ctx, "get_report", actorID, reportID); err != nil {
		return nil, err
	}
	return e.store.GetReport(ctx, reportID)
}
