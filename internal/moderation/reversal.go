package moderation

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"tangled.org/arabica.social/arbiter/internal/metrics"
	"tangled.org/arabica.social/arbiter/internal/tracing"
)

// ReverseAction revokes a prior action. The revocation fields are written at
// most once: a second call fails with ErrAlreadyReversed. Authorization uses
// the target's role at the time of the call.
func (e *Engine) ReverseAction(ctx context.Context, actorID, actionID, reason string) (_ *ModerationAction, err error) {
	ctx, span := tracing.EngineSpan(ctx, "reverse_action", actorID, actionID)
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	actorRole, err := e.requireStaff(ctx, "reverse_action", actorID, actionID)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, NewValidationError("reason", "is required")
	}

	action, err := e.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if action.Reversed() {
		return nil, ErrAlreadyReversed
	}

	targetRole, err := e.roleOf(ctx, action.TargetUserID)
	if err != nil {
		return nil, err
	}
	if !AuthorizeReversal(actorRole, targetRole, action.Kind) {
		return nil, e.deny("reverse_action", actorID, actorRole, action.TargetUserID)
	}

	now := e.clock()
	rev, err := e.store.RevokeAction(ctx, actionID, func(cur ModerationAction, restriction *UserRestriction, active ActiveLookup) (*Revocation, error) {
		if cur.Reversed() {
			return nil, ErrAlreadyReversed
		}
		lift, err := liftsSuspension(cur, restriction, active, now)
		if err != nil {
			return nil, err
		}
		if lift {
			if err := e.directory.ClearSuspension(ctx, cur.TargetUserID); err != nil {
				return nil, Unavailable("clear suspension", err)
			}
		}
		return &Revocation{RevokedAt: now, RevokedBy: actorID, Reason: reason}, nil
	})
	if err != nil {
		return nil, err
	}

	reversed := rev.Action
	self := reversed.SelfReversal()
	metrics.ReversalsTotal.WithLabelValues(string(reversed.Kind), strconv.FormatBool(self)).Inc()
	logEvt := log.Info().
		Str("action_id", actionID).
		Str("actor", actorID).
		Str("original_actor", reversed.ActorID).
		Str("target", reversed.TargetUserID).
		Str("kind", string(reversed.Kind)).
		Bool("self_reversal", self)
	if rev.Restriction != nil {
		logEvt = logEvt.Str("restriction_id", rev.Restriction.ID)
	}
	logEvt.Msg("moderation: action reversed")

	e.publish(Event{Type: EventActionReversed, ActionID: actionID, UserID: reversed.TargetUserID, At: now})

	e.dispatch(ctx, Notification{
		RecipientID: reversed.TargetUserID,
		Kind:        NotificationActionReversed,
		ActionID:    actionID,
		ActionKind:  reversed.Kind,
		Reason:      reason,
		ActorName:   e.directory.DisplayName(ctx, actorID),
		CreatedAt:   now,
	})

	return reversed, nil
}

// liftsSuspension reports whether revoking action ends the user's suspension:
// its own suspension must still be in force and no other one may remain.
func liftsSuspension(action ModerationAction, restriction *UserRestriction, active ActiveLookup, now time.Time) (bool, error) {
	if action.Kind != ActionUserSuspended && action.Kind != ActionUserBanned {
		return false, nil
	}
	if restriction == nil || !restriction.InForce(now) {
		return false, nil
	}
	current, err := active(action.TargetUserID)
	if err != nil {
		return false, err
	}
	for _, r := range current {
		if r.ID != restriction.ID && r.Kind == RestrictionSuspended && r.InForce(now) {
			return false, nil
		}
	}
	return true, nil
}
