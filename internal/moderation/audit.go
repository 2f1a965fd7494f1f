package moderation

import (
	"cmp"
	"context"
	"slices"
	"sort"
	"strconv"
	"time"
)

// Range is a half-open time interval [Start, End). A zero End means now.
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

func (e *Engine) normalizeRange(r Range) (Range, error) {
	if r.End.IsZero() {
		r.End = e.clock()
	}
	if !r.End.After(r.Start) {
		return r, NewValidationError("range", "end must be after start")
	}
	return r, nil
}

// GroupBy selects the dimension reversal rates are broken down by
type GroupBy string

const (
	GroupNone       GroupBy = ""
	GroupActionKind GroupBy = "action_kind"
	GroupPriority   GroupBy = "priority"
	GroupActor      GroupBy = "actor"
)

// Valid reports whether g is a known grouping
func (g GroupBy) Valid() bool {
	switch g {
	case GroupNone, GroupActionKind, GroupPriority, GroupActor:
		return true
	}
	return false
}

// RateBucket is one row of a reversal rate breakdown
type RateBucket struct {
	Key      string  `json:"key"`
	Created  int     `json:"created"`
	Reversed int     `json:"reversed"`
	Rate     float64 `json:"rate"`
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// ReversalRate computes reversed-in-range over created-in-range as a
// percentage, optionally grouped. Grouping by priority uses the priority of
// the linked report; actions without one fall under "none".
func (e *Engine) ReversalRate(ctx context.Context, actorID string, r Range, groupBy GroupBy) ([]RateBucket, error) {
	if _, err := e.requireStaff(ctx, "audit", actorID, ""); err != nil {
		return nil, err
	}
	if !groupBy.Valid() {
		return nil, NewValidationError("group_by", "must be action_kind, priority or actor")
	}
	r, err := e.normalizeRange(r)
	if err != nil {
		return nil, err
	}

	actions, err := e.store.ListActions(ctx, ActionFilter{})
	if err != nil {
		return nil, err
	}

	keyOf := func(a *ModerationAction) (string, error) {
		switch groupBy {
		case GroupActionKind:
			return string(a.Kind), nil
		case GroupActor:
			return a.ActorID, nil
		case GroupPriority:
			if a.ReportID == nil {
				return "none", nil
			}
			rep, err := e.store.GetReport(ctx, *a.ReportID)
			if err != nil {
				return "", err
			}
			return strconv.Itoa(rep.Priority), nil
		}
		return "all", nil
	}

	buckets := make(map[string]*RateBucket)
	bucket := func(key string) *RateBucket {
		b, ok := buckets[key]
		if !ok {
			b = &RateBucket{Key: key}
			buckets[key] = b
		}
		return b
	}

	for i := range actions {
		a := &actions[i]
		created := r.Contains(a.CreatedAt)
		reversed := a.RevokedAt != nil && r.Contains(*a.RevokedAt)
		if !created && !reversed {
			continue
		}
		key, err := keyOf(a)
		if err != nil {
			return nil, err
		}
		b := bucket(key)
		if created {
			b.Created++
		}
		if reversed {
			b.Reversed++
		}
	}

	if groupBy == GroupNone && len(buckets) == 0 {
		bucket("all")
	}

	result := make([]RateBucket, 0, len(buckets))
	for _, b := range buckets {
		b.Rate = percent(b.Reversed, b.Created)
		result = append(result, *b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// TimeToReversal returns how long an action stood before it was revoked.
func TimeToReversal(a *ModerationAction) (time.Duration, bool) {
	if a.RevokedAt == nil {
		return 0, false
	}
	return a.RevokedAt.Sub(a.CreatedAt), true
}

// ReversalTiming aggregates time-to-reversal for one action kind
type ReversalTiming struct {
	Kind   ActionKind    `json:"kind"`
	Count  int           `json:"count"`
	Mean   time.Duration `json:"mean"`
	Median time.Duration `json:"median"`
}

func median(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	s := slices.Clone(ds)
	slices.Sort(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// TimeToReversalStats aggregates time-to-reversal per action kind over the
// actions revoked within the range.
func (e *Engine) TimeToReversalStats(ctx context.Context, actorID string, r Range) ([]ReversalTiming, error) {
	if _, err := e.requireStaff(ctx, "audit", actorID, ""); err != nil {
		return nil, err
	}
	r, err := e.normalizeRange(r)
	if err != nil {
		return nil, err
	}

	actions, err := e.store.ListActions(ctx, ActionFilter{})
	if err != nil {
		return nil, err
	}

	byKind := make(map[ActionKind][]time.Duration)
	for i := range actions {
		a := &actions[i]
		d, ok := TimeToReversal(a)
		if !ok || !r.Contains(*a.RevokedAt) {
			continue
		}
		byKind[a.Kind] = append(byKind[a.Kind], d)
	}

	result := make([]ReversalTiming, 0, len(byKind))
	for kind, ds := range byKind {
		var total time.Duration
		for _, d := range ds {
			total += d
		}
		result = append(result, ReversalTiming{
			Kind:   kind,
			Count:  len(ds),
			Mean:   total / time.Duration(len(ds)),
			Median: median(ds),
		})
	}
	slices.SortFunc(result, func(a, b ReversalTiming) int { return cmp.Compare(a.Kind, b.Kind) })
	return result, nil
}

// ModeratorStats summarises one actor's ledger activity
type ModeratorStats struct {
	ActorID            string  `json:"actor_id"`
	ActionsTaken       int     `json:"actions_taken"`
	ReversalsReceived  int     `json:"reversals_received"`
	SelfReversals      int     `json:"self_reversals"`
	ReversalsPerformed int     `json:"reversals_performed"`
	ReversalRate       float64 `json:"reversal_rate"`
}

// ModeratorStats reports the actions subjectID took in range, how many of
// their actions were reversed in range (and how many of those by themselves),
// and how many reversals they performed.
func (e *Engine) ModeratorStats(ctx context.Context, actorID, subjectID string, r Range) (*ModeratorStats, error) {
	if _, err := e.requireStaff(ctx, "audit", actorID, subjectID); err != nil {
		return nil, err
	}
	if err := requireText("moderator_id", subjectID); err != nil {
		return nil, err
	}
	r, err := e.normalizeRange(r)
	if err != nil {
		return nil, err
	}

	actions, err := e.store.ListActions(ctx, ActionFilter{})
	if err != nil {
		return nil, err
	}

	stats := &ModeratorStats{ActorID: subjectID}
	for i := range actions {
		a := &actions[i]
		revokedInRange := a.RevokedAt != nil && r.Contains(*a.RevokedAt)
		if a.ActorID == subjectID {
			if r.Contains(a.CreatedAt) {
				stats.ActionsTaken++
			}
			if revokedInRange {
				stats.ReversalsReceived++
				if a.SelfReversal() {
					stats.SelfReversals++
				}
			}
		}
		if revokedInRange && *a.RevokedBy == subjectID {
			stats.ReversalsPerformed++
		}
	}
	stats.ReversalRate = percent(stats.ReversalsReceived, stats.ActionsTaken)
	return stats, nil
}

// slaTargets is the review deadline per report priority
var slaTargets = map[int]time.Duration{
	1: time.Hour,
	2: 4 * time.Hour,
	3: 24 * time.Hour,
	4: 72 * time.Hour,
	5: 168 * time.Hour,
}

// SLATarget returns the review deadline for a priority
func SLATarget(priority int) time.Duration {
	if d, ok := slaTargets[priority]; ok {
		return d
	}
	return slaTargets[PriorityLeastUrgent]
}

// SLABucket counts review outcomes for one priority
type SLABucket struct {
	Priority   int     `json:"priority"`
	Target     string  `json:"target"`
	Met        int     `json:"met"`
	Breached   int     `json:"breached"`
	Pending    int     `json:"pending"`
	Compliance float64 `json:"compliance"`
}

// SLAReport is the review-time compliance over a range
type SLAReport struct {
	Met        int         `json:"met"`
	Breached   int         `json:"breached"`
	Pending    int         `json:"pending"`
	Compliance float64     `json:"compliance"`
	ByPriority []SLABucket `json:"by_priority"`
}

func compliance(met, breached int) float64 {
	if met+breached == 0 {
		return 100
	}
	return percent(met, met+breached)
}

// SLACompliance measures how many reports created in range were reviewed
// within the deadline for their priority. Open reports past their deadline are
// breaches; open reports still inside it are pending and not scored.
func (e *Engine) SLACompliance(ctx context.Context, actorID string, r Range) (*SLAReport, error) {
	if _, err := e.requireStaff(ctx, "audit", actorID, ""); err != nil {
		return nil, err
	}
	r, err := e.normalizeRange(r)
	if err != nil {
		return nil, err
	}

	reports, err := e.store.ListReports(ctx, ReportFilter{Since: r.Start})
	if err != nil {
		return nil, err
	}

	now := e.clock()
	buckets := make(map[int]*SLABucket)
	for p := PriorityMostUrgent; p <= PriorityLeastUrgent; p++ {
		buckets[p] = &SLABucket{Priority: p, Target: SLATarget(p).String()}
	}

	report := &SLAReport{}
	for i := range reports {
		rep := &reports[i]
		if !r.Contains(rep.CreatedAt) {
			continue
		}
		b, ok := buckets[rep.Priority]
		if !ok {
			continue
		}
		deadline := rep.CreatedAt.Add(SLATarget(rep.Priority))
		switch {
		case rep.ReviewedAt != nil && !rep.ReviewedAt.After(deadline):
			b.Met++
		case rep.ReviewedAt != nil, now.After(deadline):
			b.Breached++
		default:
			b.Pending++
		}
	}

	for p := PriorityMostUrgent; p <= PriorityLeastUrgent; p++ {
		b := buckets[p]
		b.Compliance = compliance(b.Met, b.Breached)
		report.Met += b.Met
		report.Breached += b.Breached
		report.Pending += b.Pending
		report.ByPriority = append(report.ByPriority, *b)
	}
	report.Compliance = compliance(report.Met, report.Breached)
	return report, nil
}

// UserStatus is the moderation standing of one user
type UserStatus struct {
	UserID       string             `json:"user_id"`
	Restrictions []UserRestriction  `json:"restrictions"`
	Actions      []ModerationAction `json:"actions"`
}

// UserStatus returns the restrictions in force on userID and the most recent
// actions against them, newest first. Users may read their own status; staff
// may read anyone's. Internal notes are hidden from non-staff.
func (e *Engine) UserStatus(ctx context.Context, actorID, userID string, historyLimit int) (*UserStatus, error) {
	if err := requireText("user_id", userID); err != nil {
		return nil, err
	}
	staff := false
	if actorID != userID {
		if _, err := e.requireStaff(ctx, "user_status", actorID, userID); err != nil {
			return nil, err
		}
		staff = true
	} else if role, err := e.roleOf(ctx, actorID); err != nil {
		return nil, err
	} else {
		staff = role.IsStaff()
	}
	if historyLimit <= 0 {
		historyLimit = 20
	}

	restrictions, err := e.store.ListRestrictions(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	now := e.clock()
	inForce := make([]UserRestriction, 0, len(restrictions))
	for _, r := range restrictions {
		if r.InForce(now) {
			inForce = append(inForce, r)
		}
	}

	actions, err := e.store.ListActions(ctx, ActionFilter{TargetUserID: userID, Limit: historyLimit})
	if err != nil {
		return nil, err
	}
	slices.Reverse(actions)
	if !staff {
		for i := range actions {
			actions[i].InternalNotes = ""
		}
	}

	return &UserStatus{UserID: userID, Restrictions: inForce, Actions: actions}, nil
}
