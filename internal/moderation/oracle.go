package moderation

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"tangled.org/arabica.social/arbiter/internal/metrics"
	"tangled.org/arabica.social/arbiter/internal/tracing"
)

// capabilityRestriction maps a capability to the restriction kind that removes it
var capabilityRestriction = map[Capability]RestrictionKind{
	CapabilityPost:    RestrictionPostingDisabled,
	CapabilityComment: RestrictionCommentingDisabled,
	CapabilityUpload:  RestrictionUploadDisabled,
}

// Allowed decides whether a user holding restrictions may exercise capability at now.
// When denied it returns the restriction responsible, preferring a suspension and
// then the one that lasts longest.
func Allowed(restrictions []UserRestriction, capability Capability, now time.Time) (bool, *UserRestriction) {
	var blocking *UserRestriction
	for i := range restrictions {
		r := &restrictions[i]
		if !r.InForce(now) || !blocks(r.Kind, capability) {
			continue
		}
		if blocking == nil || outranks(r, blocking) {
			blocking = r
		}
	}
	if blocking == nil {
		return true, nil
	}
	found := *blocking
	return false, &found
}

func blocks(kind RestrictionKind, capability Capability) bool {
	if kind == RestrictionSuspended || capability == CapabilityAny {
		return true
	}
	return capabilityRestriction[capability] == kind
}

func outranks(a, b *UserRestriction) bool {
	if (a.Kind == RestrictionSuspended) != (b.Kind == RestrictionSuspended) {
		return a.Kind == RestrictionSuspended
	}
	switch {
	case a.ExpiresAt == nil:
		return b.ExpiresAt != nil
	case b.ExpiresAt == nil:
		return false
	}
	return a.ExpiresAt.After(*b.ExpiresAt)
}

// IsAllowed reports whether userID may currently exercise capability.
// It reads the user's restrictions in a single snapshot and has no side effects.
func (e *Engine) IsAllowed(ctx context.Context, userID string, capability Capability) (bool, error) {
	err := e.CheckAllowed(ctx, userID, capability)
	if err == nil {
		return true, nil
	}
	var re *RestrictedError
	if errors.As(err, &re) {
		return false, nil
	}
	return false, err
}

// CheckAllowed returns a *RestrictedError describing the blocking restriction
// when userID may not exercise capability.
func (e *Engine) CheckAllowed(ctx context.Context, userID string, capability Capability) (err error) {
	ctx, span := tracing.EngineSpan(ctx, "check_allowed", userID, string(capability))
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	if userID == "" {
		return NewValidationError("user_id", "is required")
	}
	if !capability.Valid() {
		return NewValidationError("capability", "must be one of post, comment, upload, any")
	}

	restrictions, err := e.store.ListRestrictions(ctx, userID, true)
	if err != nil {
		return err
	}

	ok, blocking := Allowed(restrictions, capability, e.clock())
	if ok {
		metrics.OracleChecksTotal.WithLabelValues(string(capability), "allowed").Inc()
		return nil
	}

	metrics.OracleChecksTotal.WithLabelValues(string(capability), "denied").Inc()
	log.Debug().
		Str("user", userID).
		Str("capability", string(capability)).
		Str("restriction", string(blocking.Kind)).
		Msg("moderation: capability denied")

	return &RestrictedError{
		Capability: capability,
		Kind:       blocking.Kind,
		ExpiresAt:  blocking.ExpiresAt,
	}
}

// CheckAllowedFor runs CheckAllowed on behalf of actorID, who must be the
// user in question or staff.
func (e *Engine) CheckAllowedFor(ctx context.Context, actorID, userID string, capability Capability) error {
	if actorID != userID {
		if _, err := e.requireStaff(ctx, "check_allowed", actorID, userID); err != nil {
			return err
		}
	}
	return e.CheckAllowed(ctx, userID, capability)
}
