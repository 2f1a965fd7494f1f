package moderation

import (
	"fmt"
	"time"
)

// ActionPayload carries the kind-specific details of a ModerationAction.
// Exactly one arm is set and it must agree with the action kind.
type ActionPayload struct {
	Content     *ContentPayload     `json:"content,omitempty"`
	Restriction *RestrictionPayload `json:"restriction,omitempty"`
	Suspension  *SuspensionPayload  `json:"suspension,omitempty"`
	Warning     *WarningPayload     `json:"warning,omitempty"`
}

// ContentPayload describes a removal or approval of content.
type ContentPayload struct {
	TargetKind TargetKind `json:"target_kind"`
	TargetID   string     `json:"target_id"`
}

// RestrictionPayload describes a capability restriction.
type RestrictionPayload struct {
	Kind          RestrictionKind `json:"kind"`
	RestrictionID string          `json:"restriction_id"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}

// SuspensionPayload describes a suspension or a ban. Bans are Permanent.
type SuspensionPayload struct {
	RestrictionID string     `json:"restriction_id"`
	Permanent     bool       `json:"permanent"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// WarningPayload describes a warning.
type WarningPayload struct {
	ReportReason ReportReason `json:"report_reason,omitempty"`
}

func (p ActionPayload) arms() int {
	n := 0
	if p.Content != nil {
		n++
	}
	if p.Restriction != nil {
		n++
	}
	if p.Suspension != nil {
		n++
	}
	if p.Warning != nil {
		n++
	}
	return n
}

// Validate checks that the payload matches the action kind.
func (p ActionPayload) Validate(kind ActionKind) error {
	if p.arms() != 1 {
		return fmt.Errorf("moderation: payload for %s must set exactly one variant", kind)
	}
	var ok bool
	switch kind {
	case ActionContentRemoved, ActionContentApproved:
		ok = p.Content != nil
	case ActionRestrictionApplied:
		ok = p.Restriction != nil
	case ActionUserSuspended:
		ok = p.Suspension != nil && !p.Suspension.Permanent
	case ActionUserBanned:
		ok = p.Suspension != nil && p.Suspension.Permanent
	case ActionUserWarned:
		ok = p.Warning != nil
	default:
		return fmt.Errorf("moderation: unknown action kind %q", kind)
	}
	if !ok {
		return fmt.Errorf("moderation: payload variant does not match action kind %s", kind)
	}
	return nil
}

// RestrictionID returns the id of the restriction the payload created, if any.
func (p ActionPayload) RestrictionID() string {
	switch {
	case p.Restriction != nil:
		return p.Restriction.RestrictionID
	case p.Suspension != nil:
		return p.Suspension.RestrictionID
	}
	return ""
}
