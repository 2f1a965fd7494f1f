package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"

	"tangled.org/arabica.social/arbiter/internal/moderation"
	"tangled.org/arabica.social/arbiter/internal/tracing"
)

// ModerationStore provides persistent storage for moderation data.
// Every mutating method runs in a single bolt write transaction, so writers
// are serialized and each operation commits or aborts as a whole.
type ModerationStore struct {
	db *bolt.DB
}

var _ moderation.Store = (*ModerationStore)(nil)

// indexKey joins key parts with a NUL byte, which cannot occur in ids.
func indexKey(parts ...string) []byte {
	n := len(parts) - 1
	for _, p := range parts {
		n += len(p)
	}
	key := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			key = append(key, 0)
		}
		key = append(key, p...)
	}
	return key
}

func prefixKey(part string) []byte {
	return append([]byte(part), 0)
}

// storeErr marks lock timeouts and a closed database as retryable.
// Errors raised by engine callbacks pass through unchanged.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, berrors.ErrDatabaseNotOpen) || errors.Is(err, berrors.ErrTimeout) {
		return moderation.Unavailable(op, err)
	}
	return err
}

func (s *ModerationStore) span(ctx context.Context, op string) func(*error) {
	_, span := tracing.StoreSpan(ctx, "bbolt", op)
	return func(err *error) {
		tracing.EndWithError(span, *err)
		span.End()
	}
}

func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return b.Put(key, data)
}

// ========== Reports ==========

// CreateReport stores a new report, applying the guard in the same transaction.
func (s *ModerationStore) CreateReport(ctx context.Context, report moderation.Report, guard *moderation.ReportGuard) (err error) {
	defer s.span(ctx, "create_report")(&err)

	err = s.db.Update(func(tx *bolt.Tx) error {
		reports := tx.Bucket(BucketReports)
		if reports.Get([]byte(report.ID)) != nil {
			return fmt.Errorf("report %s already exists", report.ID)
		}

		if guard != nil && report.ReporterID != nil {
			var created []time.Time
			byReporter := tx.Bucket(BucketReportsByReporter)
			prefix := prefixKey(*report.ReporterID)
			c := byReporter.Cursor()
			for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
				var prior moderation.Report
				ok, err := getJSON(reports, v, &prior)
				if err != nil {
					return err
				}
				// flags are staff work, not user reports
				if !ok || prior.ModeratorFlagged {
					continue
				}
				if guard.RejectDuplicates && prior.Status.Open() &&
					prior.TargetKind == report.TargetKind && prior.TargetID == report.TargetID {
					return moderation.ErrDuplicateReport
				}
				created = append(created, prior.CreatedAt)
			}
			if err := guard.Check(created); err != nil {
				return err
			}
		}

		if err := putJSON(reports, []byte(report.ID), report); err != nil {
			return err
		}
		if report.ReporterID != nil {
			key := indexKey(*report.ReporterID, report.ID)
			if err := tx.Bucket(BucketReportsByReporter).Put(key, []byte(report.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	return storeErr("create report", err)
}

// GetReport retrieves a report by ID.
func (s *ModerationStore) GetReport(ctx context.Context, id string) (*moderation.Report, error) {
	var report moderation.Report
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(BucketReports), []byte(id), &report)
		return err
	})
	if err != nil {
		return nil, storeErr("get report", err)
	}
	if !found {
		return nil, moderation.ErrNotFound
	}
	return &report, nil
}

// ListReports returns matching reports, oldest first.
func (s *ModerationStore) ListReports(ctx context.Context, filter moderation.ReportFilter) (_ []moderation.Report, err error) {
	defer s.span(ctx, "list_reports")(&err)

	var reports []moderation.Report
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketReports).ForEach(func(k, v []byte) error {
			var report moderation.Report
			if err := json.Unmarshal(v, &report); err != nil {
				return fmt.Errorf("failed to unmarshal report %s: %w", k, err)
			}
			if filter.Match(&report) {
				reports = append(reports, report)
			}
			return nil
		})
	})
	return reports, storeErr("list reports", err)
}

// activeLookup reads a user's active restrictions within tx.
func activeLookup(tx *bolt.Tx) moderation.ActiveLookup {
	return func(userID string) ([]moderation.UserRestriction, error) {
		return listRestrictions(tx, userID, true)
	}
}

// ResolveReport closes a report. The callback sees the committed report state
// under the write lock, so concurrent resolutions of one report serialize and
// only the first finds it open.
func (s *ModerationStore) ResolveReport(ctx context.Context, reportID string, resolve moderation.ResolveFunc) (_ *moderation.Resolution, err error) {
	defer s.span(ctx, "resolve_report")(&err)

	var res *moderation.Resolution
	err = s.db.Update(func(tx *bolt.Tx) error {
		reports := tx.Bucket(BucketReports)

		var current moderation.Report
		ok, err := getJSON(reports, []byte(reportID), &current)
		if err != nil {
			return err
		}
		if !ok {
			return moderation.ErrNotFound
		}

		res, err = resolve(current, activeLookup(tx))
		if err != nil {
			return err
		}
		if !current.Status.Open() {
			return moderation.ErrAlreadyResolved
		}
		if res.Report.ID != reportID || res.Report.Status.Open() {
			return fmt.Errorf("resolution must close report %s", reportID)
		}

		if res.Action != nil {
			if err := insertAction(tx, res.Action); err != nil {
				return err
			}
		}

		if res.Restriction != nil {
			lapsed, err := insertRestriction(tx, res.Restriction)
			if err != nil {
				return err
			}
			res.Lapsed = lapsed
		}

		return putJSON(reports, []byte(reportID), res.Report)
	})
	if err != nil {
		return nil, storeErr("resolve report", err)
	}
	return res, nil
}

// ========== Action ledger ==========

func insertAction(tx *bolt.Tx, action *moderation.ModerationAction) error {
	if err := action.Payload.Validate(action.Kind); err != nil {
		return err
	}
	actions := tx.Bucket(BucketActions)
	if actions.Get([]byte(action.ID)) != nil {
		return fmt.Errorf("action %s already exists", action.ID)
	}
	if err := putJSON(actions, []byte(action.ID), action); err != nil {
		return err
	}
	return tx.Bucket(BucketActionsByTarget).Put(indexKey(action.TargetUserID, action.ID), []byte(action.ID))
}

// GetAction retrieves a ledger entry by ID.
func (s *ModerationStore) GetAction(ctx context.Context, id string) (*moderation.ModerationAction, error) {
	var action moderation.ModerationAction
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(BucketActions), []byte(id), &action)
		return err
	})
	if err != nil {
		return nil, storeErr("get action", err)
	}
	if !found {
		return nil, moderation.ErrNotFound
	}
	return &action, nil
}

// ListActions returns matching ledger entries oldest first. With a positive
// limit only the newest entries are kept.
func (s *ModerationStore) ListActions(ctx context.Context, filter moderation.ActionFilter) (_ []moderation.ModerationAction, err error) {
	defer s.span(ctx, "list_actions")(&err)

	var result []moderation.ModerationAction
	err = s.db.View(func(tx *bolt.Tx) error {
		actions := tx.Bucket(BucketActions)

		collect := func(v []byte) error {
			var action moderation.ModerationAction
			if err := json.Unmarshal(v, &action); err != nil {
				return fmt.Errorf("failed to unmarshal action: %w", err)
			}
			if filter.Match(&action) {
				result = append(result, action)
			}
			return nil
		}

		if filter.TargetUserID == "" {
			return actions.ForEach(func(_, v []byte) error { return collect(v) })
		}

		// index keys sort by action id within a user, so this is chronological too
		prefix := prefixKey(filter.TargetUserID)
		c := tx.Bucket(BucketActionsByTarget).Cursor()
		for k, id := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, id = c.Next() {
			if data := actions.Get(id); data != nil {
				if err := collect(data); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("list actions", err)
	}

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result, nil
}

// RevokeAction writes the revocation fields of an action, which must still be
// unset, and deactivates the restriction the action created.
func (s *ModerationStore) RevokeAction(ctx context.Context, actionID string, revoke moderation.RevokeFunc) (_ *moderation.Revocation, err error) {
	defer s.span(ctx, "revoke_action")(&err)

	var rev *moderation.Revocation
	err = s.db.Update(func(tx *bolt.Tx) error {
		actions := tx.Bucket(BucketActions)
		restrictions := tx.Bucket(BucketRestrictions)

		var action moderation.ModerationAction
		ok, err := getJSON(actions, []byte(actionID), &action)
		if err != nil {
			return err
		}
		if !ok {
			return moderation.ErrNotFound
		}

		var restriction *moderation.UserRestriction
		if rid := action.Payload.RestrictionID(); rid != "" {
			var r moderation.UserRestriction
			ok, err := getJSON(restrictions, []byte(rid), &r)
			if err != nil {
				return err
			}
			if ok {
				restriction = &r
			}
		}

		rev, err = revoke(action, restriction, activeLookup(tx))
		if err != nil {
			return err
		}
		if action.RevokedAt != nil {
			return moderation.ErrAlreadyReversed
		}

		revokedAt := rev.RevokedAt
		revokedBy := rev.RevokedBy
		reason := rev.Reason
		action.RevokedAt = &revokedAt
		action.RevokedBy = &revokedBy
		action.ReversalReason = &reason
		if err := putJSON(actions, []byte(actionID), action); err != nil {
			return err
		}

		if restriction != nil && restriction.Active {
			if err := deactivate(tx, restriction, revokedBy, revokedAt); err != nil {
				return err
			}
		}

		rev.Action = &action
		rev.Restriction = restriction
		return nil
	})
	if err != nil {
		return nil, storeErr("revoke action", err)
	}
	return rev, nil
}

// MarkNotificationSent flips notification_sent to true. It never flips it back.
func (s *ModerationStore) MarkNotificationSent(ctx context.Context, actionID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		actions := tx.Bucket(BucketActions)

		var action moderation.ModerationAction
		ok, err := getJSON(actions, []byte(actionID), &action)
		if err != nil {
			return err
		}
		if !ok {
			return moderation.ErrNotFound
		}
		if action.NotificationSent {
			return nil
		}
		action.NotificationSent = true
		return putJSON(actions, []byte(actionID), action)
	})
	return storeErr("mark notification sent", err)
}

// ========== Restrictions ==========

// insertRestriction stores r and makes it the active restriction of its kind.
// It fails with ErrAlreadyRestricted while the slot holds a restriction in
// force; one that has passed its expiry is deactivated as SystemExpiry.
func insertRestriction(tx *bolt.Tx, r *moderation.UserRestriction) (*moderation.UserRestriction, error) {
	restrictions := tx.Bucket(BucketRestrictions)
	active := tx.Bucket(BucketActiveRestrictions)

	if restrictions.Get([]byte(r.ID)) != nil {
		return nil, fmt.Errorf("restriction %s already exists", r.ID)
	}

	var lapsed *moderation.UserRestriction
	slot := indexKey(r.UserID, string(r.Kind))
	if prevID := active.Get(slot); prevID != nil {
		var prev moderation.UserRestriction
		ok, err := getJSON(restrictions, prevID, &prev)
		if err != nil {
			return nil, err
		}
		if ok && prev.InForce(r.CreatedAt) {
			return nil, moderation.ErrAlreadyRestricted
		}
		if ok && prev.Active {
			if err := deactivate(tx, &prev, moderation.SystemExpiry, r.CreatedAt); err != nil {
				return nil, err
			}
			lapsed = &prev
		}
	}

	if err := putJSON(restrictions, []byte(r.ID), r); err != nil {
		return nil, err
	}
	if err := tx.Bucket(BucketRestrictionsByUser).Put(indexKey(r.UserID, r.ID), []byte(r.ID)); err != nil {
		return nil, err
	}
	if r.Active {
		if err := active.Put(slot, []byte(r.ID)); err != nil {
			return nil, err
		}
	}
	return lapsed, nil
}

// deactivate clears the active flag of r and releases its active slot.
func deactivate(tx *bolt.Tx, r *moderation.UserRestriction, by string, at time.Time) error {
	deactivatedAt := at
	r.Active = false
	r.DeactivatedAt = &deactivatedAt
	r.DeactivatedBy = by
	r.UpdatedAt = at
	if err := putJSON(tx.Bucket(BucketRestrictions), []byte(r.ID), r); err != nil {
		return err
	}

	active := tx.Bucket(BucketActiveRestrictions)
	slot := indexKey(r.UserID, string(r.Kind))
	if string(active.Get(slot)) == r.ID {
		return active.Delete(slot)
	}
	return nil
}

// GetRestriction retrieves a restriction by ID.
func (s *ModerationStore) GetRestriction(ctx context.Context, id string) (*moderation.UserRestriction, error) {
	var r moderation.UserRestriction
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(BucketRestrictions), []byte(id), &r)
		return err
	})
	if err != nil {
		return nil, storeErr("get restriction", err)
	}
	if !found {
		return nil, moderation.ErrNotFound
	}
	return &r, nil
}

func listRestrictions(tx *bolt.Tx, userID string, activeOnly bool) ([]moderation.UserRestriction, error) {
	restrictions := tx.Bucket(BucketRestrictions)
	var result []moderation.UserRestriction

	collect := func(v []byte) error {
		var r moderation.UserRestriction
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("failed to unmarshal restriction: %w", err)
		}
		if !activeOnly || r.Active {
			result = append(result, r)
		}
		return nil
	}

	if userID == "" {
		err := restrictions.ForEach(func(_, v []byte) error { return collect(v) })
		return result, err
	}

	prefix := prefixKey(userID)
	c := tx.Bucket(BucketRestrictionsByUser).Cursor()
	for k, id := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, id = c.Next() {
		if data := restrictions.Get(id); data != nil {
			if err := collect(data); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// ListRestrictions returns the restrictions of a user, or of everyone when
// userID is empty, from a single read snapshot.
func (s *ModerationStore) ListRestrictions(ctx context.Context, userID string, activeOnly bool) (_ []moderation.UserRestriction, err error) {
	defer s.span(ctx, "list_restrictions")(&err)

	var result []moderation.UserRestriction
	err = s.db.View(func(tx *bolt.Tx) error {
		var err error
		result, err = listRestrictions(tx, userID, activeOnly)
		return err
	})
	return result, storeErr("list restrictions", err)
}

// ExpireRestrictions deactivates every active restriction whose expiry is at
// or before now and returns the rows it changed.
func (s *ModerationStore) ExpireRestrictions(ctx context.Context, now time.Time) (_ []moderation.UserRestriction, err error) {
	defer s.span(ctx, "expire_restrictions")(&err)

	var expired []moderation.UserRestriction
	err = s.db.Update(func(tx *bolt.Tx) error {
		restrictions := tx.Bucket(BucketRestrictions)

		// Collect first; bolt forbids writes while iterating a bucket
		var due []moderation.UserRestriction
		err := tx.Bucket(BucketActiveRestrictions).ForEach(func(_, id []byte) error {
			var r moderation.UserRestriction
			ok, err := getJSON(restrictions, id, &r)
			if err != nil || !ok {
				return err
			}
			if r.Active && r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
				due = append(due, r)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for i := range due {
			if err := deactivate(tx, &due[i], moderation.SystemExpiry, now); err != nil {
				return err
			}
		}
		expired = due
		return nil
	})
	if err != nil {
		return nil, storeErr("expire restrictions", err)
	}
	return expired, nil
}

// Ping checks that the database is open.
func (s *ModerationStore) Ping(ctx context.Context) error {
	return storeErr("ping", s.db.View(func(tx *bolt.Tx) error { return nil }))
}

// hasPrefix checks if a byte slice has a given prefix.
func hasPrefix(s, prefix []byte) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i, b := range prefix {
		if s[i] != b {
			return false
		}
	}
	return true
}
