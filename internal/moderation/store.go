package moderation

import (
	"context"
	"time"
)

// Store defines the persistence interface for the moderation ledger.
// Implementations must be safe for concurrent use, must run every mutating
// method as a single atomic unit, and must never delete a report, action or
// restriction.
type Store interface {
	// Reports
	CreateReport(ctx context.Context, report Report, guard *ReportGuard) error
	GetReport(ctx context.Context, id string) (*Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]Report, error)
	ResolveReport(ctx context.Context, reportID string, resolve ResolveFunc) (*Resolution, error)

	// Action ledger
	GetAction(ctx context.Context, id string) (*ModerationAction, error)
	ListActions(ctx context.Context, filter ActionFilter) ([]ModerationAction, error)
	RevokeAction(ctx context.Context, actionID string, revoke RevokeFunc) (*Revocation, error)
	MarkNotificationSent(ctx context.Context, actionID string) error

	// Restrictions
	GetRestriction(ctx context.Context, id string) (*UserRestriction, error)
	// ListRestrictions lists restrictions of userID, or of every user when userID is empty.
	ListRestrictions(ctx context.Context, userID string, activeOnly bool) ([]UserRestriction, error)
	ExpireRestrictions(ctx context.Context, now time.Time) ([]UserRestriction, error)

	Ping(ctx context.Context) error
}

// ReportGuard is checked inside the transaction that inserts a user report.
// Only the reporter's own user reports count; moderator flags are skipped.
type ReportGuard struct {
	// Window and Max bound how many reports one reporter may file.
	Window time.Duration
	Max    int
	Now    time.Time

	// RejectDuplicates refuses a second open report on the same target.
	RejectDuplicates bool
}

// ResolveFunc receives the current report inside the store transaction and
// returns the state to commit. Returning an error aborts the transaction.
// active reads a user's active restrictions within the same transaction.
type ResolveFunc func(report Report, active ActiveLookup) (*Resolution, error)

// ActiveLookup returns the restrictions of userID whose Active flag is set.
type ActiveLookup func(userID string) ([]UserRestriction, error)

// Resolution is the set of records committed together when a report is closed.
// Action and Restriction are nil when the report is dismissed without action.
// A new Restriction fails with ErrAlreadyRestricted while a restriction of the
// same user and kind is in force. One that is still flagged active but has
// passed its expiry is deactivated as SystemExpiry.
type Resolution struct {
	Report      Report
	Action      *ModerationAction
	Restriction *UserRestriction
	// Lapsed is filled in by the store with an expired restriction retired
	// ahead of the sweeper to make room for the new one.
	Lapsed *UserRestriction
}

// RevokeFunc receives the action, its linked restriction (if any) and a lookup
// of active restrictions inside the store transaction and returns the
// revocation to write.
type RevokeFunc func(action ModerationAction, restriction *UserRestriction, active ActiveLookup) (*Revocation, error)

// Revocation carries the only fields that may ever be written on an existing action.
type Revocation struct {
	RevokedAt time.Time
	RevokedBy string
	Reason    string

	// Filled in by the store after commit.
	Action      *ModerationAction
	Restriction *UserRestriction
}

// ReportSource distinguishes user reports from moderator flags
type ReportSource string

const (
	SourceAny       ReportSource = ""
	SourceUser      ReportSource = "user"
	SourceModerator ReportSource = "moderator"
)

// ReportFilter selects reports. Zero values match everything.
type ReportFilter struct {
	Statuses    []ReportStatus
	Priority    int
	FlaggedOnly bool
	Source      ReportSource
	ReporterID  string
	Since       time.Time
}

// Match reports whether r passes the filter.
func (f ReportFilter) Match(r *Report) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Priority != 0 && r.Priority != f.Priority {
		return false
	}
	if f.FlaggedOnly && !r.ModeratorFlagged {
		return false
	}
	switch f.Source {
	case SourceUser:
		if r.ModeratorFlagged {
			return false
		}
	case SourceModerator:
		if !r.ModeratorFlagged {
			return false
		}
	}
	if f.ReporterID != "" && (r.ReporterID == nil || *r.ReporterID != f.ReporterID) {
		return false
	}
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// ActionFilter selects ledger entries. Results are ordered oldest first.
type ActionFilter struct {
	ActorID      string
	TargetUserID string
	// Limit keeps only the newest N matching entries when positive.
	Limit int
}

// Match reports whether a passes the filter (Limit is applied by the store).
func (f ActionFilter) Match(a *ModerationAction) bool {
	if f.ActorID != "" && a.ActorID != f.ActorID {
		return false
	}
	if f.TargetUserID != "" && a.TargetUserID != f.TargetUserID {
		return false
	}
	return true
}
