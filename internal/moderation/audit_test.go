package moderation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tangled.org/arabica.social/arbiter/internal/moderation"
)

type auditLedger struct {
	warned, restricted, untouched *moderation.ModerationAction
	open                          *moderation.Report
}

// seedLedger builds a small history:
//
//	start       five reports filed (four spam by alice, one self-harm by carol)
//	start+30m   mod warns, mod2 restricts posting, mod warns again with notes
//	start+2h    mod reverses their own warning, admin reverses the restriction,
//	            mod dismisses the self-harm report (past its 1h deadline)
func seedLedger(t *testing.T, f *fixture) auditLedger {
	t.Helper()
	ctx := context.Background()

	r1 := f.report(t, "post-1")
	r2 := f.report(t, "post-2")
	open := f.report(t, "post-3")
	r5 := f.report(t, "post-5")
	urgent, err := f.engine.SubmitReport(ctx, moderation.SubmitReportInput{
		ReporterID: carol, TargetKind: moderation.TargetUser, TargetID: bob, Reason: moderation.ReasonSelfHarm,
	})
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	warned, err := f.engine.TakeAction(ctx, mod, r1.ID, moderation.ActionUserWarned, moderation.ActionParams{Reason: "spam"})
	require.NoError(t, err)
	restricted, err := f.engine.TakeAction(ctx, mod2, r2.ID, moderation.ActionRestrictionApplied, moderation.ActionParams{
		Reason: "spam", RestrictionType: moderation.RestrictionPostingDisabled,
	})
	require.NoError(t, err)
	untouched, err := f.engine.TakeAction(ctx, mod, r5.ID, moderation.ActionUserWarned, moderation.ActionParams{
		Reason: "spam", InternalNotes: "watch this one",
	})
	require.NoError(t, err)

	f.clock.Advance(90 * time.Minute)
	_, err = f.engine.ReverseAction(ctx, mod, warned.ID, "wrong account")
	require.NoError(t, err)
	_, err = f.engine.ReverseAction(ctx, admin, restricted.ID, "too harsh")
	require.NoError(t, err)
	_, err = f.engine.DismissReport(ctx, mod, urgent.ID, "false alarm")
	require.NoError(t, err)

	return auditLedger{warned: warned, restricted: restricted, untouched: untouched, open: open}
}

func TestReversalRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedLedger(t, f)

	window := moderation.Range{Start: start.Add(-time.Hour), End: start.Add(3 * time.Hour)}

	all, err := f.engine.ReversalRate(ctx, admin, window, moderation.GroupNone)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "all", all[0].Key)
	assert.Equal(t, 3, all[0].Created)
	assert.Equal(t, 2, all[0].Reversed)
	assert.InDelta(t, 66.67, all[0].Rate, 0.01)

	byActor, err := f.engine.ReversalRate(ctx, admin, window, moderation.GroupActor)
	require.NoError(t, err)
	require.Len(t, byActor, 2)
	assert.Equal(t, moderation.RateBucket{Key: mod, Created: 2, Reversed: 1, Rate: 50}, byActor[0])
	assert.Equal(t, moderation.RateBucket{Key: mod2, Created: 1, Reversed: 1, Rate: 100}, byActor[1])

	byKind, err := f.engine.ReversalRate(ctx, mod, window, moderation.GroupActionKind)
	require.NoError(t, err)
	require.Len(t, byKind, 2)
	assert.Equal(t, "restriction_applied", byKind[0].Key)
	assert.Equal(t, "user_warned", byKind[1].Key)
	assert.Equal(t, 2, byKind[1].Created)

	byPriority, err := f.engine.ReversalRate(ctx, mod, window, moderation.GroupPriority)
	require.NoError(t, err)
	require.Len(t, byPriority, 1)
	assert.Equal(t, "3", byPriority[0].Key)

	// reversals are counted in the window they happen in
	late := moderation.Range{Start: start.Add(time.Hour), End: start.Add(3 * time.Hour)}
	rows, err := f.engine.ReversalRate(ctx, admin, late, moderation.GroupNone)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].Created)
	assert.Equal(t, 2, rows[0].Reversed)
	assert.Zero(t, rows[0].Rate)

	empty, err := f.engine.ReversalRate(ctx, admin, moderation.Range{Start: start.Add(100 * time.Hour), End: start.Add(101 * time.Hour)}, moderation.GroupNone)
	require.NoError(t, err)
	assert.Equal(t, []moderation.RateBucket{{Key: "all"}}, empty)
}

func TestReversalRate_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ReversalRate(ctx, alice, moderation.Range{Start: start}, moderation.GroupNone)
	assert.ErrorIs(t, err, moderation.ErrUnauthorized)

	_, err = f.engine.ReversalRate(ctx, admin, moderation.Range{Start: start}, "weekday")
	assert.True(t, moderation.IsValidationError(err))

	_, err = f.engine.ReversalRate(ctx, admin, moderation.Range{Start: start, End: start.Add(-time.Hour)}, moderation.GroupNone)
	assert.True(t, moderation.IsValidationError(err))
}

func TestTimeToReversalStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedLedger(t, f)

	stats, err := f.engine.TimeToReversalStats(ctx, admin, moderation.Range{Start: start, End: start.Add(3 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, stats, 2)
	for _, s := range stats {
		assert.Equal(t, 1, s.Count)
		assert.Equal(t, 90*time.Minute, s.Mean)
		assert.Equal(t, 90*time.Minute, s.Median)
	}

	d, ok := moderation.TimeToReversal(&moderation.ModerationAction{CreatedAt: start})
	assert.False(t, ok)
	assert.Zero(t, d)
}

func TestModeratorStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedLedger(t, f)

	window := moderation.Range{Start: start, End: start.Add(3 * time.Hour)}

	stats, err := f.engine.ModeratorStats(ctx, admin, mod, window)
	require.NoError(t, err)
	assert.Equal(t, &moderation.ModeratorStats{
		ActorID:            mod,
		ActionsTaken:       2,
		ReversalsReceived:  1,
		SelfReversals:      1,
		ReversalsPerformed: 1,
		ReversalRate:       50,
	}, stats)

	stats, err = f.engine.ModeratorStats(ctx, admin, admin, window)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ActionsTaken)
	assert.Equal(t, 1, stats.ReversalsPerformed)
	assert.Zero(t, stats.ReversalRate)

	_, err = f.engine.ModeratorStats(ctx, admin, "", window)
	assert.True(t, moderation.IsValidationError(err))
}

func TestSLACompliance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedLedger(t, f)

	report, err := f.engine.SLACompliance(ctx, mod, moderation.Range{Start: start.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Met)
	assert.Equal(t, 1, report.Breached)
	assert.Equal(t, 1, report.Pending)
	assert.InDelta(t, 75, report.Compliance, 0.001)

	require.Len(t, report.ByPriority, 5)
	p1 := report.ByPriority[0]
	assert.Equal(t, 1, p1.Breached)
	assert.Zero(t, p1.Compliance)
	assert.Equal(t, "1h0m0s", p1.Target)

	p2 := report.ByPriority[1]
	assert.Equal(t, float64(100), p2.Compliance)

	p3 := report.ByPriority[2]
	assert.Equal(t, 3, p3.Met)
	assert.Equal(t, 1, p3.Pending)

	// the open report breaches once its deadline passes
	f.clock.Advance(24 * time.Hour)
	report, err = f.engine.SLACompliance(ctx, mod, moderation.Range{Start: start.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Breached)
	assert.Zero(t, report.Pending)
}

func TestUserStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ledger := seedLedger(t, f)

	own, err := f.engine.UserStatus(ctx, bob, bob, 0)
	require.NoError(t, err)
	assert.Empty(t, own.Restrictions)
	require.Len(t, own.Actions, 3)
	assert.Equal(t, ledger.untouched.ID, own.Actions[0].ID)
	assert.Empty(t, own.Actions[0].InternalNotes)

	staff, err := f.engine.UserStatus(ctx, mod, bob, 1)
	require.NoError(t, err)
	require.Len(t, staff.Actions, 1)
	assert.Equal(t, "watch this one", staff.Actions[0].InternalNotes)

	_, err = f.engine.UserStatus(ctx, alice, bob, 0)
	assert.ErrorIs(t, err, moderation.ErrUnauthorized)

	// a fresh restriction shows up while in force
	r := f.report(t, "post-9")
	_, err = f.engine.TakeAction(ctx, mod, r.ID, moderation.ActionRestrictionApplied, moderation.ActionParams{
		Reason: "spam", RestrictionType: moderation.RestrictionUploadDisabled, DurationDays: ptr(2),
	})
	require.NoError(t, err)

	own, err = f.engine.UserStatus(ctx, bob, bob, 0)
	require.NoError(t, err)
	require.Len(t, own.Restrictions, 1)
	assert.Equal(t, moderation.RestrictionUploadDisabled, own.Restrictions[0].Kind)
}
