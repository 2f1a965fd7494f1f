package moderation

import "time"

// Role is the platform role of a user as reported by the identity directory.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// IsStaff returns true for moderators and admins.
func (r Role) IsStaff() bool {
	return r == RoleModerator || r == RoleAdmin
}

// TargetKind is the kind of thing a report points at
type TargetKind string

const (
	TargetPost    TargetKind = "post"
	TargetComment TargetKind = "comment"
	TargetTrack   TargetKind = "track"
	TargetUser    TargetKind = "user"
)

// Valid reports whether k is a known target kind.
func (k TargetKind) Valid() bool {
	switch k {
	case TargetPost, TargetComment, TargetTrack, TargetUser:
		return true
	}
	return false
}

// IsContent returns true for target kinds held by the content store.
func (k TargetKind) IsContent() bool {
	return k == TargetPost || k == TargetComment || k == TargetTrack
}

// ReportReason is the closed set of reasons a report can be filed under
type ReportReason string

const (
	ReasonSelfHarm             ReportReason = "self_harm"
	ReasonHateSpeech           ReportReason = "hate_speech"
	ReasonHarassment           ReportReason = "harassment"
	ReasonInappropriateContent ReportReason = "inappropriate_content"
	ReasonSpam                 ReportReason = "spam"
	ReasonCopyrightViolation   ReportReason = "copyright_violation"
	ReasonImpersonation        ReportReason = "impersonation"
	ReasonOther                ReportReason = "other"
)

// reasonPriority maps each report reason to its queue priority (1 = most urgent).
var reasonPriority = map[ReportReason]int{
	ReasonSelfHarm:             1,
	ReasonHateSpeech:           2,
	ReasonHarassment:           2,
	ReasonInappropriateContent: 3,
	ReasonSpam:                 3,
	ReasonCopyrightViolation:   3,
	ReasonImpersonation:        3,
	ReasonOther:                4,
}

// AllReasons returns every report reason in priority order
func AllReasons() []ReportReason {
	return []ReportReason{
		ReasonSelfHarm,
		ReasonHateSpeech,
		ReasonHarassment,
		ReasonInappropriateContent,
		ReasonSpam,
		ReasonCopyrightViolation,
		ReasonImpersonation,
		ReasonOther,
	}
}

// Valid reports whether r is a known reason.
func (r ReportReason) Valid() bool {
	_, ok := reasonPriority[r]
	return ok
}

// ReportStatus represents the review state of a report
type ReportStatus string

const (
	ReportStatusPending     ReportStatus = "pending"
	ReportStatusUnderReview ReportStatus = "under_review"
	ReportStatusResolved    ReportStatus = "resolved"
	ReportStatusDismissed   ReportStatus = "dismissed"
)

// Open returns true while the report can still be acted on.
func (s ReportStatus) Open() bool {
	return s == ReportStatusPending || s == ReportStatusUnderReview
}

// Valid reports whether s is a known status.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportStatusPending, ReportStatusUnderReview, ReportStatusResolved, ReportStatusDismissed:
		return true
	}
	return false
}

// Priority bounds for reports
const (
	PriorityMostUrgent  = 1
	PriorityLeastUrgent = 5
	// ModeratorFlagPriority is the least urgent priority a moderator flag may carry.
	ModeratorFlagPriority = 2
)

// Report represents a suspected violation awaiting or having received review
type Report struct {
	ID               string       `json:"id"` // TID
	ReporterID       *string      `json:"reporter_id"`
	ReportedUserID   *string      `json:"reported_user_id"`
	TargetKind       TargetKind   `json:"target_kind"`
	TargetID         string       `json:"target_id"`
	Reason           ReportReason `json:"reason"`
	Description      string       `json:"description,omitempty"`
	Status           ReportStatus `json:"status"`
	Priority         int          `json:"priority"`
	ModeratorFlagged bool         `json:"moderator_flagged"`
	InternalNotes    string       `json:"internal_notes,omitempty"`
	ReviewerID       string       `json:"reviewer_id,omitempty"`
	ReviewedAt       *time.Time   `json:"reviewed_at,omitempty"`
	ResolutionNotes  string       `json:"resolution_notes,omitempty"`
	ActionID         string       `json:"action_id,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// ActionKind is the closed set of moderation actions
type ActionKind string

const (
	ActionContentRemoved     ActionKind = "content_removed"
	ActionContentApproved    ActionKind = "content_approved"
	ActionUserWarned         ActionKind = "user_warned"
	ActionUserSuspended      ActionKind = "user_suspended"
	ActionUserBanned         ActionKind = "user_banned"
	ActionRestrictionApplied ActionKind = "restriction_applied"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionContentRemoved, ActionContentApproved, ActionUserWarned,
		ActionUserSuspended, ActionUserBanned, ActionRestrictionApplied:
		return true
	}
	return false
}

// IsContentAction returns true for actions that operate on a piece of content.
func (k ActionKind) IsContentAction() bool {
	return k == ActionContentRemoved || k == ActionContentApproved
}

// ImposesRestriction returns true for actions that create a UserRestriction.
func (k ActionKind) ImposesRestriction() bool {
	return k == ActionUserSuspended || k == ActionUserBanned || k == ActionRestrictionApplied
}

// ActionStatus is the derived lifecycle state of a ModerationAction
type ActionStatus string

const (
	ActionStatusActive   ActionStatus = "active"
	ActionStatusExpired  ActionStatus = "expired"
	ActionStatusReversed ActionStatus = "reversed"
)

// ModerationAction is an entry in the append-only action ledger.
// Revocation fields are written at most once and never cleared.
type ModerationAction struct {
	ID               string        `json:"id"`
	ActorID          string        `json:"actor_id"`
	TargetUserID     string        `json:"target_user_id"`
	Kind             ActionKind    `json:"kind"`
	TargetKind       TargetKind    `json:"target_kind,omitempty"`
	TargetID         string        `json:"target_id,omitempty"`
	Reason           string        `json:"reason"`
	DurationDays     *int          `json:"duration_days,omitempty"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"`
	ReportID         *string       `json:"report_id,omitempty"`
	InternalNotes    string        `json:"internal_notes,omitempty"`
	NotificationSent bool          `json:"notification_sent"`
	CreatedAt        time.Time     `json:"created_at"`
	RevokedAt        *time.Time    `json:"revoked_at,omitempty"`
	RevokedBy        *string       `json:"revoked_by,omitempty"`
	ReversalReason   *string       `json:"reversal_reason,omitempty"`
	Payload          ActionPayload `json:"payload"`
}

// Reversed returns true once the action has been revoked.
func (a *ModerationAction) Reversed() bool {
	return a.RevokedAt != nil
}

// Status derives the lifecycle state of the action at the given instant.
func (a *ModerationAction) Status(now time.Time) ActionStatus {
	if a.RevokedAt != nil {
		return ActionStatusReversed
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
		return ActionStatusExpired
	}
	return ActionStatusActive
}

// SelfReversal reports whether the action was revoked by the actor who took it.
func (a *ModerationAction) SelfReversal() bool {
	return a.RevokedBy != nil && *a.RevokedBy == a.ActorID
}

// RestrictionKind is the capability a UserRestriction removes
type RestrictionKind string

const (
	RestrictionPostingDisabled    RestrictionKind = "posting_disabled"
	RestrictionCommentingDisabled RestrictionKind = "commenting_disabled"
	RestrictionUploadDisabled     RestrictionKind = "upload_disabled"
	RestrictionSuspended          RestrictionKind = "suspended"
)

// Valid reports whether k is a known restriction kind.
func (k RestrictionKind) Valid() bool {
	switch k {
	case RestrictionPostingDisabled, RestrictionCommentingDisabled, RestrictionUploadDisabled, RestrictionSuspended:
		return true
	}
	return false
}

// SystemExpiry is the actor recorded when a restriction lapses rather than being reversed
const SystemExpiry = "system:expiry"

// UserRestriction limits one capability of a user, or all of them when suspended.
// A nil ExpiresAt means the restriction is permanent.
type UserRestriction struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Kind          RestrictionKind `json:"kind"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	Active        bool            `json:"active"`
	Reason        string          `json:"reason"`
	AppliedBy     string          `json:"applied_by"`
	ActionID      string          `json:"action_id"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeactivatedAt *time.Time      `json:"deactivated_at,omitempty"`
	DeactivatedBy string          `json:"deactivated_by,omitempty"`
}

// InForce returns true if the restriction is active and unexpired at now.
func (r *UserRestriction) InForce(now time.Time) bool {
	if !r.Active {
		return false
	}
	return r.ExpiresAt == nil || r.ExpiresAt.After(now)
}

// Capability is a protected operation guarded by the restriction oracle
type Capability string

const (
	CapabilityPost    Capability = "post"
	CapabilityComment Capability = "comment"
	CapabilityUpload  Capability = "upload"
	CapabilityAny     Capability = "any"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityPost, CapabilityComment, CapabilityUpload, CapabilityAny:
		return true
	}
	return false
}

// NotificationKind identifies why a notification is sent
type NotificationKind string

const (
	NotificationActionTaken        NotificationKind = "action_taken"
	NotificationActionReversed     NotificationKind = "action_reversed"
	NotificationRestrictionExpired NotificationKind = "restriction_expired"
)

// Notification is the structured request handed to the notification dispatcher.
type Notification struct {
	RecipientID  string           `json:"recipient_id"`
	Kind         NotificationKind `json:"kind"`
	ActionID     string           `json:"action_id"`
	ActionKind   ActionKind       `json:"action_kind,omitempty"`
	Reason       string           `json:"reason"`
	DurationDays *int             `json:"duration_days,omitempty"`
	ActorName    string           `json:"actor_name"`
	CreatedAt    time.Time        `json:"created_at"`
}
