package boltstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"tangled.org/arabica.social/arbiter/internal/moderation"
)

func setupTestModerationStore(t *testing.T) (*Store, *ModerationStore) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := Open(Options{Path: dbPath})
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store, store.ModerationStore()
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func testReport(id, reporter, targetID string, created time.Time) moderation.Report {
	return moderation.Report{
		ID:             id,
		ReporterID:     ptr(reporter),
		ReportedUserID: ptr("user-bad"),
		TargetKind:     moderation.TargetPost,
		TargetID:       targetID,
		Reason:         moderation.ReasonSpam,
		Status:         moderation.ReportStatusPending,
		Priority:       3,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func suspendResolution(report moderation.Report, actionID, restrictionID string, at time.Time, expires *time.Time) *moderation.Resolution {
	report.Status = moderation.ReportStatusResolved
	report.ActionID = actionID
	report.ReviewerID = "mod-1"
	report.ReviewedAt = ptr(at)
	return &moderation.Resolution{
		Report: report,
		Action: &moderation.ModerationAction{
			ID:           actionID,
			ActorID:      "mod-1",
			TargetUserID: "user-bad",
			Kind:         moderation.ActionUserSuspended,
			Reason:       "spam wave",
			ExpiresAt:    expires,
			ReportID:     ptr(report.ID),
			CreatedAt:    at,
			Payload: moderation.ActionPayload{
				Suspension: &moderation.SuspensionPayload{RestrictionID: restrictionID, ExpiresAt: expires},
			},
		},
		Restriction: &moderation.UserRestriction{
			ID:        restrictionID,
			UserID:    "user-bad",
			Kind:      moderation.RestrictionSuspended,
			ExpiresAt: expires,
			Active:    true,
			Reason:    "spam wave",
			AppliedBy: "mod-1",
			ActionID:  actionID,
			CreatedAt: at,
			UpdatedAt: at,
		},
	}
}

func TestReports(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestModerationStore(t)

	t.Run("create and get", func(t *testing.T) {
		report := testReport("r1", "reporter-a", "post-1", baseTime)
		require.NoError(t, store.CreateReport(ctx, report, nil))

		got, err := store.GetReport(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "reporter-a", *got.ReporterID)
		assert.Equal(t, moderation.ReportStatusPending, got.Status)
		assert.True(t, got.CreatedAt.Equal(baseTime))
	})

	t.Run("missing report", func(t *testing.T) {
		_, err := store.GetReport(ctx, "nope")
		assert.ErrorIs(t, err, moderation.ErrNotFound)
	})

	t.Run("list filters and orders oldest first", func(t *testing.T) {
		flagged := testReport("r0", "mod-1", "post-2", baseTime.Add(time.Minute))
		flagged.ModeratorFlagged = true
		flagged.Status = moderation.ReportStatusUnderReview
		require.NoError(t, store.CreateReport(ctx, flagged, nil))

		all, err := store.ListReports(ctx, moderation.ReportFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "r0", all[0].ID, "keys sort by id")

		mods, err := store.ListReports(ctx, moderation.ReportFilter{Source: moderation.SourceModerator})
		require.NoError(t, err)
		require.Len(t, mods, 1)
		assert.Equal(t, "r0", mods[0].ID)

		pending, err := store.ListReports(ctx, moderation.ReportFilter{Statuses: []moderation.ReportStatus{moderation.ReportStatusPending}})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "r1", pending[0].ID)
	})
}

func TestCreateReport_Guard(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestModerationStore(t)

	now := baseTime
	guard := &moderation.ReportGuard{Window: 24 * time.Hour, Max: 10, Now: now, RejectDuplicates: true}

	// ten reports spread over the last 20 hours
	for i := 0; i < 10; i++ {
		created := now.Add(-20*time.Hour + time.Duration(i)*time.Hour)
		r := testReport(fmt.Sprintf("r%02d", i), "reporter-a", fmt.Sprintf("post-%d", i), created)
		require.NoError(t, store.CreateReport(ctx, r, guard))
	}

	t.Run("eleventh report is rate limited", func(t *testing.T) {
		err := store.CreateReport(ctx, testReport("r10", "reporter-a", "post-10", now), guard)
		var rl *moderation.RateLimitError
		require.ErrorAs(t, err, &rl)
		// the oldest report leaves the window 4 hours from now
		assert.Equal(t, 4*time.Hour, rl.RetryAfter)

		_, err = store.GetReport(ctx, "r10")
		assert.ErrorIs(t, err, moderation.ErrNotFound, "rejected report must not be stored")
	})

	t.Run("other reporters are unaffected", func(t *testing.T) {
		require.NoError(t, store.CreateReport(ctx, testReport("r11", "reporter-b", "post-1", now), guard))
	})

	t.Run("window slides", func(t *testing.T) {
		later := *guard
		later.Now = now.Add(4*time.Hour + time.Second)
		require.NoError(t, store.CreateReport(ctx, testReport("r12", "reporter-a", "post-12", later.Now), &later))
	})

	t.Run("duplicate open report", func(t *testing.T) {
		g := &moderation.ReportGuard{Now: now, RejectDuplicates: true}
		err := store.CreateReport(ctx, testReport("r13", "reporter-b", "post-1", now), g)
		assert.ErrorIs(t, err, moderation.ErrDuplicateReport)
	})

	t.Run("moderator flags are not counted", func(t *testing.T) {
		for i := 0; i < 12; i++ {
			flag := testReport(fmt.Sprintf("f%02d", i), "mod-1", fmt.Sprintf("post-%d", i), now)
			flag.ModeratorFlagged = true
			flag.Status = moderation.ReportStatusUnderReview
			require.NoError(t, store.CreateReport(ctx, flag, nil))
		}
		require.NoError(t, store.CreateReport(ctx, testReport("r14", "mod-1", "post-0", now), guard))
	})
}

func TestResolveReport(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestModerationStore(t)

	require.NoError(t, store.CreateReport(ctx, testReport("r1", "reporter-a", "post-1", baseTime), nil))

	at := baseTime.Add(time.Hour)
	expires := at.Add(72 * time.Hour)

	res, err := store.ResolveReport(ctx, "r1", func(cur moderation.Report, _ moderation.ActiveLookup) (*moderation.Resolution, error) {
		return suspendResolution(cur, "a1", "x1", at, &expires), nil
	})
	require.NoError(t, err)
	assert.Nil(t, res.Lapsed)

	report, err := store.GetReport(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, moderation.ReportStatusResolved, report.Status)
	assert.Equal(t, "a1", report.ActionID)

	action, err := store.GetAction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, moderation.ActionUserSuspended, action.Kind)

	active, err := store.ListRestrictions(ctx, "user-bad", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "x1", active[0].ID)

	t.Run("second resolution is rejected", func(t *testing.T) {
		called := false
		_, err := store.ResolveReport(ctx, "r1", func(cur moderation.Report, _ moderation.ActiveLookup) (*moderation.Resolution, error) {
			called = true
			return suspendResolution(cur, "a2", "x2", at, &expires), nil
		})
		assert.True(t, called)
		assert.ErrorIs(t, err, moderation.ErrAlreadyResolved)

		_, err = store.GetAction(ctx, "a2")
		assert.ErrorIs(t, err, moderation.ErrNotFound, "aborted transaction must not leave an action")
	})

	t.Run("callback error aborts", func(t *testing.T) {
		require.NoError(t, store.CreateReport(ctx, testReport("r2", "reporter-a", "post-2", baseTime), nil))
		boom := errors.New("content store down")
		_, err := store.ResolveReport(ctx, "r2", func(moderation.Report, moderation.ActiveLookup) (*moderation.Resolution, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		report, err := store.GetReport(ctx, "r2")
		require.NoError(t, err)
		assert.Equal(t, moderation.ReportStatusPending, report.Status)
	})

	t.Run("restriction already in force", func(t *testing.T) {
		require.NoError(t, store.CreateReport(ctx, testReport("r3", "reporter-a", "post-3", baseTime), nil))
		later := at.Add(time.Hour)
		shorter := later.Add(time.Hour)

		_, err := store.ResolveReport(ctx, "r3", func(cur moderation.Report, active moderation.ActiveLookup) (*moderation.Resolution, error) {
			existing, err := active("user-bad")
			require.NoError(t, err)
			assert.Len(t, existing, 1)
			return suspendResolution(cur, "a3", "x3", later, &shorter), nil
		})
		assert.ErrorIs(t, err, moderation.ErrAlreadyRestricted)

		report, err := store.GetReport(ctx, "r3")
		require.NoError(t, err)
		assert.Equal(t, moderation.ReportStatusPending, report.Status)

		_, err = store.GetAction(ctx, "a3")
		assert.ErrorIs(t, err, moderation.ErrNotFound)

		active, err := store.ListRestrictions(ctx, "user-bad", true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "x1", active[0].ID)
	})

	t.Run("lapsed restriction is retired as expired", func(t *testing.T) {
		// x1 expired but the sweeper has not run yet
		later := expires.Add(time.Hour)
		longer := later.Add(30 * 24 * time.Hour)

		res, err := store.ResolveReport(ctx, "r3", func(cur moderation.Report, _ moderation.ActiveLookup) (*moderation.Resolution, error) {
			return suspendResolution(cur, "a4", "x4", later, &longer), nil
		})
		require.NoError(t, err)
		require.NotNil(t, res.Lapsed)
		assert.Equal(t, "x1", res.Lapsed.ID)

		old, err := store.GetRestriction(ctx, "x1")
		require.NoError(t, err)
		assert.False(t, old.Active)
		assert.Equal(t, moderation.SystemExpiry, old.DeactivatedBy)

		active, err := store.ListRestrictions(ctx, "user-bad", true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "x4", active[0].ID)

		all, err := store.ListRestrictions(ctx, "user-bad", false)
		require.NoError(t, err)
		assert.Len(t, all, 2, "lapsed restriction is kept")
	})
}

func TestResolveReport_Concurrent(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestModerationStore(t)

	require.NoError(t, store.CreateReport(ctx, testReport("r1", "reporter-a", "post-1", baseTime), nil))

	var committed, rejected atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := store.ResolveReport(ctx, "r1", func(cur moderation.Report, _ moderation.ActiveLookup) (*moderation.Resolution, error) {
				if !cur.Status.Open() {
					return nil, moderation.ErrAlreadyResolved
				}
				return suspendResolution(cur, fmt.Sprintf("a%d", i), fmt.Sprintf("x%d", i), baseTime, nil), nil
			})
			switch {
			case err == nil:
				committed.Add(1)
			case errors.Is(err, moderation.ErrAlreadyResolved):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), committed.Load())
	assert.Equal(t, int32(7), rejected.Load())

	actions, err := store.ListActions(ctx, moderation.ActionFilter{})
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestRevokeAction(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestModerationStore(t)

	require.NoError(t, store.CreateReport(ctx, testReport("r1", "reporter-a", "post-1", baseTime), nil))
	expires := baseTime.Add(72 * time.Hour)
	_, err := store.ResolveReport(ctx, "r1", func(cur moderation.Report, _ moderation.ActiveLookup) (*moderation.Resolution, error) {
		return suspendResolution(cur, "a1", "x1", baseTime, &expires), nil
	})
	require.NoError(t, err)

	revokedAt := baseTime.Add(2 * time.Hour)
	rev, err := store.RevokeAction(ctx, "a1", func(a moderation.ModerationAction, r *moderation.UserRestriction, _ moderation.ActiveLookup) (*moderation.Revocation, error) {
		require.NotNil(t, r)
		assert.Equal(t, "x1", r.ID)
		return &moderation.Revocation{RevokedAt: revokedAt, RevokedBy: "admin-1", Reason: "appeal granted"}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, rev.Action)
	assert.Equal(t, "admin-1", *rev.Action.RevokedBy)
	assert.False(t, rev.Restriction.Active)

	restriction, err := store.GetRestriction(ctx, "x1")
	require.NoError(t, err)
	assert.False(t, restriction.Active)
	assert.Equal(t, "admin-1", restriction.DeactivatedBy)

	t.Run("second revoke keeps the first revocation", func(t *testing.T) {
		_, err := store.RevokeAction(ctx, "a1", func(moderation.ModerationAction, *moderation.UserRestriction, moderation.ActiveLookup) (*moderation.Revocation, error) {
			return &moderation.Revocation{RevokedAt: revokedAt.Add(time.Hour), RevokedBy: "mod-2", Reason: "again"}, nil
		})
		assert.ErrorIs(t, err, moderation.ErrAlreadyReversed)

		action, err := store.GetAction(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, "admin-1", *action.RevokedBy)
		assert.Equal(t, "appeal granted", *action.ReversalReason)
		assert.True(t, action.RevokedAt.Equal(revokedAt))
	})

	t.Run("unknown action", func(t *testing.T) {
		_, err := store.RevokeAction(ctx, "nope", func(moderation.ModerationAction, *moderation.UserRestriction, moderation.ActiveLookup) (*moderation.Revocation, error) {
			return &moderation.Revocation{}, nil
		})
		assert.ErrorIs(t, err, moderation.ErrNotFound)
	})
}

func TestMarkNotificationSent(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestModerationStore(t)

	require.NoError(t, store.CreateReport(ctx, testReport("r1", "reporter-a", "post-1", baseTime), nil))
	_, err := store.ResolveReport(ctx, "r1", func(cur moderation.Report, _ moderation.ActiveLookup) (*moderation.Resolution, error) {
		return suspendResolution(cur, "a1", "x1", baseTime, nil), nil
	})
	require.NoError(t, err)

	require.NoError(t, store.MarkNotificationSent(ctx, "a1"))
	require.NoError(t, store.MarkNotificationSent(ctx, "a1"))

	action, err := store.GetAction(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, action.NotificationSent)

	assert.ErrorIs(t, store.MarkNotificationSent(ctx, "nope"), moderation.ErrNotFound)
}

func TestExpireRestrictions(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestModerationStore(t)

	soon := baseTime.Add(time.Hour)
	for i, expires := range []*time.Time{&soon, nil} {
		id := fmt.Sprintf("r%d", i)
		require.NoError(t, store.CreateReport(ctx, testReport(id, "reporter-a", "post-"+id, baseTime), nil))
		_, err := store.ResolveReport(ctx, id, func(cur moderation.Report, _ moderation.ActiveLookup) (*moderation.Resolution, error) {
			res := suspendResolution(cur, "a"+id, "x"+id, baseTime, expires)
			res.Restriction.UserID = "user-" + id
			res.Action.TargetUserID = "user-" + id
			return res, nil
		})
		require.NoError(t, err)
	}

	t.Run("nothing due yet", func(t *testing.T) {
		expired, err := store.ExpireRestrictions(ctx, baseTime.Add(30*time.Minute))
		require.NoError(t, err)
		assert.Empty(t, expired)
	})

	t.Run("expiry at exactly now is due", func(t *testing.T) {
		expired, err := store.ExpireRestrictions(ctx, soon)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, "xr0", expired[0].ID)
		assert.Equal(t, moderation.SystemExpiry, expired[0].DeactivatedBy)
	})

	t.Run("second sweep is a no-op", func(t *testing.T) {
		expired, err := store.ExpireRestrictions(ctx, soon.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, expired)
	})

	t.Run("permanent restriction stays active", func(t *testing.T) {
		active, err := store.ListRestrictions(ctx, "", true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "xr1", active[0].ID)
	})
}

func TestIndexKeysDoNotCollide(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestModerationStore(t)

	for i, user := range []string{"did:plc:a", "did:plc:a:b"} {
		id := fmt.Sprintf("r%d", i)
		require.NoError(t, store.CreateReport(ctx, testReport(id, "reporter-a", "post-"+id, baseTime), nil))
		_, err := store.ResolveReport(ctx, id, func(cur moderation.Report, _ moderation.ActiveLookup) (*moderation.Resolution, error) {
			res := suspendResolution(cur, "a"+id, "x"+id, baseTime, nil)
			res.Restriction.UserID = user
			res.Action.TargetUserID = user
			return res, nil
		})
		require.NoError(t, err)
	}

	restrictions, err := store.ListRestrictions(ctx, "did:plc:a", false)
	require.NoError(t, err)
	require.Len(t, restrictions, 1)
	assert.Equal(t, "xr0", restrictions[0].ID)

	actions, err := store.ListActions(ctx, moderation.ActionFilter{TargetUserID: "did:plc:a"})
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestClosedStoreIsRetryable(t *testing.T) {
	ctx := context.Background()
	db, store := setupTestModerationStore(t)

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, db.Close())

	err := store.Ping(ctx)
	require.Error(t, err)
	assert.True(t, moderation.IsRetryable(err))

	_, err = store.GetReport(ctx, "r1")
	assert.ErrorIs(t, err, moderation.ErrStoreUnavailable)
}
