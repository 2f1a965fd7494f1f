package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"tangled.org/arabica.social/arbiter/internal/moderation"
	"tangled.org/arabica.social/arbiter/internal/tracing"
)

// timeFormat is fixed width so stored timestamps compare correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ModerationStore implements moderation.Store using SQLite.
type ModerationStore struct {
	db *sql.DB
}

// NewModerationStore creates a ModerationStore backed by the given database.
// The database must already have the moderation schema applied.
func NewModerationStore(db *sql.DB) *ModerationStore {
	return &ModerationStore{db: db}
}

// Ensure ModerationStore implements the interface at compile time.
var _ moderation.Store = (*ModerationStore)(nil)

// storeErr maps lock contention and lost connections to a retryable error.
// Errors raised by engine callbacks pass through unchanged.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return moderation.Unavailable(op, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "sql: database is closed") {
		return moderation.Unavailable(op, err)
	}
	return err
}

// inTx runs fn in a transaction, committing if it returns nil.
func (s *ModerationStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) (err error) {
	ctx, span := tracing.StoreSpan(ctx, "sqlite", op)
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return storeErr(op, err)
	}
	return storeErr(op, tx.Commit())
}

type scanner interface {
	Scan(dest ...any) error
}

// ========== Reports ==========

const reportColumns = `id, reporter_id, reported_user_id, target_kind, target_id, reason, description,
	status, priority, moderator_flagged, internal_notes, reviewer_id, reviewed_at,
	resolution_notes, action_id, created_at, updated_at`

func scanReport(row scanner) (*moderation.Report, error) {
	var r moderation.Report
	var reporter, reported, reviewedAt sql.NullString
	var flagged int
	var createdAt, updatedAt string
	err := row.Scan(&r.ID, &reporter, &reported, &r.TargetKind, &r.TargetID, &r.Reason, &r.Description,
		&r.Status, &r.Priority, &flagged, &r.InternalNotes, &r.ReviewerID, &reviewedAt,
		&r.ResolutionNotes, &r.ActionID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.ReporterID = stringPtr(reporter)
	r.ReportedUserID = stringPtr(reported)
	r.ModeratorFlagged = flagged == 1
	r.ReviewedAt = parseTimePtr(reviewedAt)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func (s *ModerationStore) CreateReport(ctx context.Context, report moderation.Report, guard *moderation.ReportGuard) error {
	return s.inTx(ctx, "create_report", func(tx *sql.Tx) error {
		if guard != nil && report.ReporterID != nil {
			if err := checkGuard(ctx, tx, report, guard); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO moderation_reports (`+reportColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, report.ID, nullString(report.ReporterID), nullString(report.ReportedUserID),
			report.TargetKind, report.TargetID, report.Reason, report.Description,
			report.Status, report.Priority, boolInt(report.ModeratorFlagged), report.InternalNotes,
			report.ReviewerID, formatTimePtr(report.ReviewedAt), report.ResolutionNotes, report.ActionID,
			formatTime(report.CreatedAt), formatTime(report.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert report: %w", err)
		}
		return nil
	})
}

// checkGuard counts the reporter's recent reports and looks for an open
// duplicate inside the insert transaction.
func checkGuard(ctx context.Context, tx *sql.Tx, report moderation.Report, guard *moderation.ReportGuard) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT created_at, status, target_kind, target_id
		FROM moderation_reports
		WHERE reporter_id = ? AND moderator_flagged = 0
			AND (created_at > ? OR status IN ('pending', 'under_review'))
	`, *report.ReporterID, formatTime(guard.Now.Add(-guard.Window)))
	if err != nil {
		return fmt.Errorf("count reports: %w", err)
	}
	defer rows.Close()

	var created []time.Time
	for rows.Next() {
		var createdAt string
		var status moderation.ReportStatus
		var kind moderation.TargetKind
		var targetID string
		if err := rows.Scan(&createdAt, &status, &kind, &targetID); err != nil {
			return err
		}
		if guard.RejectDuplicates && status.Open() && kind == report.TargetKind && targetID == report.TargetID {
			return moderation.ErrDuplicateReport
		}
		created = append(created, parseTime(createdAt))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return guard.Check(created)
}

func (s *ModerationStore) GetReport(ctx context.Context, id string) (*moderation.Report, error) {
	r, err := scanReport(s.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM moderation_reports WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, moderation.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get report", err)
	}
	return r, nil
}

func (s *ModerationStore) ListReports(ctx context.Context, filter moderation.ReportFilter) ([]moderation.Report, error) {
	var where []string
	var args []any

	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, st)
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.Priority != 0 {
		where = append(where, "priority = ?")
		args = append(args, filter.Priority)
	}
	if filter.FlaggedOnly || filter.Source == moderation.SourceModerator {
		where = append(where, "moderator_flagged = 1")
	}
	if filter.Source == moderation.SourceUser {
		where = append(where, "moderator_flagged = 0")
	}
	if filter.ReporterID != "" {
		where = append(where, "reporter_id = ?")
		args = append(args, filter.ReporterID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(filter.Since))
	}

	query := `SELECT ` + reportColumns + ` FROM moderation_reports`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list reports", err)
	}
	defer rows.Close()

	var reports []moderation.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, storeErr("list reports", err)
		}
		reports = append(reports, *r)
	}
	return reports, storeErr("list reports", rows.Err())
}

// activeLookup reads a user's active restrictions within tx.
func activeLookup(ctx context.Context, tx *sql.Tx) moderation.ActiveLookup {
	return func(userID string) ([]moderation.UserRestriction, error) {
		return queryRestrictions(ctx, tx, `WHERE user_id = ? AND active = 1 ORDER BY id`, userID)
	}
}

func (s *ModerationStore) ResolveReport(ctx context.Context, reportID string, resolve moderation.ResolveFunc) (*moderation.Resolution, error) {
	var res *moderation.Resolution
	err := s.inTx(ctx, "resolve_report", func(tx *sql.Tx) error {
		current, err := scanReport(tx.QueryRowContext(ctx,
			`SELECT `+reportColumns+` FROM moderation_reports WHERE id = ?`, reportID))
		if errors.Is(err, sql.ErrNoRows) {
			return moderation.ErrNotFound
		}
		if err != nil {
			return err
		}

		res, err = resolve(*current, activeLookup(ctx, tx))
		if err != nil {
			return err
		}
		if res.Report.ID != reportID || res.Report.Status.Open() {
			return fmt.Errorf("resolution must close report %s", reportID)
		}

		r := res.Report
		result, err := tx.ExecContext(ctx, `
			UPDATE moderation_reports SET
				status = ?, reviewer_id = ?, reviewed_at = ?, resolution_notes = ?,
				action_id = ?, internal_notes = ?, updated_at = ?
			WHERE id = ? AND status IN ('pending', 'under_review')
		`, r.Status, r.ReviewerID, formatTimePtr(r.ReviewedAt), r.ResolutionNotes,
			r.ActionID, r.InternalNotes, formatTime(r.UpdatedAt), reportID)
		if err != nil {
			return fmt.Errorf("update report: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return moderation.ErrAlreadyResolved
		}

		if res.Action != nil {
			if err := insertAction(ctx, tx, res.Action); err != nil {
				return err
			}
		}
		if res.Restriction != nil {
			res.Lapsed, err = insertRestriction(ctx, tx, res.Restriction)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ========== Action ledger ==========

const actionColumns = `id, actor_id, target_user_id, kind, target_kind, target_id, reason,
	duration_days, expires_at, report_id, internal_notes, notification_sent, created_at,
	revoked_at, revoked_by, reversal_reason, payload`

func scanAction(row scanner) (*moderation.ModerationAction, error) {
	var a moderation.ModerationAction
	var duration sql.NullInt64
	var expiresAt, reportID, revokedAt, revokedBy, reversalReason sql.NullString
	var sent int
	var createdAt, payload string
	err := row.Scan(&a.ID, &a.ActorID, &a.TargetUserID, &a.Kind, &a.TargetKind, &a.TargetID, &a.Reason,
		&duration, &expiresAt, &reportID, &a.InternalNotes, &sent, &createdAt,
		&revokedAt, &revokedBy, &reversalReason, &payload)
	if err != nil {
		return nil, err
	}
	if duration.Valid {
		d := int(duration.Int64)
		a.DurationDays = &d
	}
	a.ExpiresAt = parseTimePtr(expiresAt)
	a.ReportID = stringPtr(reportID)
	a.NotificationSent = sent == 1
	a.CreatedAt = parseTime(createdAt)
	a.RevokedAt = parseTimePtr(revokedAt)
	a.RevokedBy = stringPtr(revokedBy)
	a.ReversalReason = stringPtr(reversalReason)
	if err := json.Unmarshal([]byte(payload), &a.Payload); err != nil {
		return nil, fmt.Errorf("action %s payload: %w", a.ID, err)
	}
	return &a, nil
}

func insertAction(ctx context.Context, tx *sql.Tx, a *moderation.ModerationAction) error {
	if err := a.Payload.Validate(a.Kind); err != nil {
		return err
	}
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	var duration any
	if a.DurationDays != nil {
		duration = *a.DurationDays
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO moderation_actions (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ActorID, a.TargetUserID, a.Kind, a.TargetKind, a.TargetID, a.Reason,
		duration, formatTimePtr(a.ExpiresAt), nullString(a.ReportID), a.InternalNotes,
		boolInt(a.NotificationSent), formatTime(a.CreatedAt),
		formatTimePtr(a.RevokedAt), nullString(a.RevokedBy), nullString(a.ReversalReason), string(payload))
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (s *ModerationStore) GetAction(ctx context.Context, id string) (*moderation.ModerationAction, error) {
	a, err := scanAction(s.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM moderation_actions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, moderation.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get action", err)
	}
	return a, nil
}

func (s *ModerationStore) ListActions(ctx context.Context, filter moderation.ActionFilter) ([]moderation.ModerationAction, error) {
	var where []string
	var args []any
	if filter.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.TargetUserID != "" {
		where = append(where, "target_user_id = ?")
		args = append(args, filter.TargetUserID)
	}

	query := `SELECT ` + actionColumns + ` FROM moderation_actions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.Limit > 0 {
		// newest N, returned oldest first
		query = `SELECT * FROM (` + query + ` ORDER BY id DESC LIMIT ?) ORDER BY id`
		args = append(args, filter.Limit)
	} else {
		query += " ORDER BY id"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list actions", err)
	}
	defer rows.Close()

	var actions []moderation.ModerationAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, storeErr("list actions", err)
		}
		actions = append(actions, *a)
	}
	return actions, storeErr("list actions", rows.Err())
}

// RevokeAction writes the revocation fields only while revoked_at is still
// NULL, so a second revocation affects no rows and fails.
func (s *ModerationStore) RevokeAction(ctx context.Context, actionID string, revoke moderation.RevokeFunc) (*moderation.Revocation, error) {
	var rev *moderation.Revocation
	err := s.inTx(ctx, "revoke_action", func(tx *sql.Tx) error {
		action, err := scanAction(tx.QueryRowContext(ctx,
			`SELECT `+actionColumns+` FROM moderation_actions WHERE id = ?`, actionID))
		if errors.Is(err, sql.ErrNoRows) {
			return moderation.ErrNotFound
		}
		if err != nil {
			return err
		}

		var restriction *moderation.UserRestriction
		if rid := action.Payload.RestrictionID(); rid != "" {
			found, err := queryRestrictions(ctx, tx, `WHERE id = ?`, rid)
			if err != nil {
				return err
			}
			if len(found) == 1 {
				restriction = &found[0]
			}
		}

		rev, err = revoke(*action, restriction, activeLookup(ctx, tx))
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE moderation_actions SET revoked_at = ?, revoked_by = ?, reversal_reason = ?
			WHERE id = ? AND revoked_at IS NULL
		`, formatTime(rev.RevokedAt), rev.RevokedBy, rev.Reason, actionID)
		if err != nil {
			return fmt.Errorf("revoke action: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return moderation.ErrAlreadyReversed
		}

		revokedAt := rev.RevokedAt.UTC()
		revokedBy := rev.RevokedBy
		reason := rev.Reason
		action.RevokedAt = &revokedAt
		action.RevokedBy = &revokedBy
		action.ReversalReason = &reason

		if restriction != nil && restriction.Active {
			if err := deactivate(ctx, tx, restriction, revokedBy, revokedAt); err != nil {
				return err
			}
		}

		rev.Action = action
		rev.Restriction = restriction
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

func (s *ModerationStore) MarkNotificationSent(ctx context.Context, actionID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE moderation_actions SET notification_sent = 1 WHERE id = ? AND notification_sent = 0`, actionID)
	if err != nil {
		return storeErr("mark notification sent", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 1 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM moderation_actions WHERE id = ?`, actionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return moderation.ErrNotFound
	}
	return storeErr("mark notification sent", err)
}

// ========== Restrictions ==========

const restrictionColumns = `id, user_id, kind, expires_at, active, reason, applied_by, action_id,
	created_at, updated_at, deactivated_at, deactivated_by`

func scanRestriction(row scanner) (*moderation.UserRestriction, error) {
	var r moderation.UserRestriction
	var expiresAt, deactivatedAt sql.NullString
	var active int
	var createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.UserID, &r.Kind, &expiresAt, &active, &r.Reason, &r.AppliedBy, &r.ActionID,
		&createdAt, &updatedAt, &deactivatedAt, &r.DeactivatedBy)
	if err != nil {
		return nil, err
	}
	r.ExpiresAt = parseTimePtr(expiresAt)
	r.Active = active == 1
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	r.DeactivatedAt = parseTimePtr(deactivatedAt)
	return &r, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryRestrictions(ctx context.Context, q querier, clause string, args ...any) ([]moderation.UserRestriction, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+restrictionColumns+` FROM moderation_restrictions `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []moderation.UserRestriction
	for rows.Next() {
		r, err := scanRestriction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

func deactivate(ctx context.Context, tx *sql.Tx, r *moderation.UserRestriction, by string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE moderation_restrictions SET active = 0, deactivated_at = ?, deactivated_by = ?, updated_at = ?
		WHERE id = ? AND active = 1
	`, formatTime(at), by, formatTime(at), r.ID)
	if err != nil {
		return fmt.Errorf("deactivate restriction: %w", err)
	}
	deactivatedAt := at.UTC()
	r.Active = false
	r.DeactivatedAt = &deactivatedAt
	r.DeactivatedBy = by
	r.UpdatedAt = deactivatedAt
	return nil
}

// insertRestriction inserts r unless a restriction of the same user and kind
// is in force (ErrAlreadyRestricted). An active row past its expiry is
// deactivated as SystemExpiry first. The partial unique index rejects a second
// active row should the two ever disagree.
func insertRestriction(ctx context.Context, tx *sql.Tx, r *moderation.UserRestriction) (*moderation.UserRestriction, error) {
	existing, err := queryRestrictions(ctx, tx, `WHERE user_id = ? AND kind = ? AND active = 1`, r.UserID, r.Kind)
	if err != nil {
		return nil, err
	}
	var lapsed *moderation.UserRestriction
	if len(existing) > 0 {
		if existing[0].InForce(r.CreatedAt) {
			return nil, moderation.ErrAlreadyRestricted
		}
		lapsed = &existing[0]
		if err := deactivate(ctx, tx, lapsed, moderation.SystemExpiry, r.CreatedAt); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO moderation_restrictions (`+restrictionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.UserID, r.Kind, formatTimePtr(r.ExpiresAt), boolInt(r.Active), r.Reason, r.AppliedBy,
		r.ActionID, formatTime(r.CreatedAt), formatTime(r.UpdatedAt), formatTimePtr(r.DeactivatedAt), r.DeactivatedBy)
	if err != nil {
		return nil, fmt.Errorf("insert restriction: %w", err)
	}
	return lapsed, nil
}

func (s *ModerationStore) GetRestriction(ctx context.Context, id string) (*moderation.UserRestriction, error) {
	r, err := scanRestriction(s.db.QueryRowContext(ctx,
		`SELECT `+restrictionColumns+` FROM moderation_restrictions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, moderation.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get restriction", err)
	}
	return r, nil
}

func (s *ModerationStore) ListRestrictions(ctx context.Context, userID string, activeOnly bool) ([]moderation.UserRestriction, error) {
	var where []string
	var args []any
	if userID != "" {
		where = append(where, "user_id = ?")
		args = append(args, userID)
	}
	if activeOnly {
		where = append(where, "active = 1")
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	result, err := queryRestrictions(ctx, s.db, clause+" ORDER BY id", args...)
	return result, storeErr("list restrictions", err)
}

// ExpireRestrictions deactivates due restrictions with one conditional UPDATE;
// rows already deactivated by a concurrent sweep are not matched again.
func (s *ModerationStore) ExpireRestrictions(ctx context.Context, now time.Time) ([]moderation.UserRestriction, error) {
	stamp := formatTime(now)
	rows, err := s.db.QueryContext(ctx, `
		UPDATE moderation_restrictions
		SET active = 0, deactivated_at = ?, deactivated_by = ?, updated_at = ?
		WHERE active = 1 AND expires_at IS NOT NULL AND expires_at <= ?
		RETURNING `+restrictionColumns,
		stamp, moderation.SystemExpiry, stamp, stamp)
	if err != nil {
		return nil, storeErr("expire restrictions", err)
	}
	defer rows.Close()

	var expired []moderation.UserRestriction
	for rows.Next() {
		r, err := scanRestriction(rows)
		if err != nil {
			return nil, storeErr("expire restrictions", err)
		}
		expired = append(expired, *r)
	}
	return expired, storeErr("expire restrictions", rows.Err())
}

func (s *ModerationStore) Ping(ctx context.Context) error {
	return storeErr("ping", s.db.PingContext(ctx))
}
