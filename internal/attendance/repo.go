package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/model"
)

// Repository persists attendance data in Postgres. It is the ledger of
// record: the attendance_records table carries a unique key on
// (user_id, meeting_id, attendance_day) which enforces the one-record-per-day
// invariant under concurrent commits.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// dayString is the single source of the attendance_day key. Every insert and
// lookup derives the day from the timestamp's own location through this
// function, so the day key never depends on the database session timezone.
func dayString(t time.Time) string {
	return t.Format("2006-01-02")
}

const recordColumns = `
	id, user_id, role, student_id, meeting_id, status, origin, verification,
	recorded_at, scan_log_id, original_status, overridden_by, override_reason,
	notes, created_at`

// InsertScanLog appends a scan-attempt row. Every physical tap produces
// exactly one, whether or not the badge resolved.
func (r *Repository) InsertScanLog(ctx context.Context, sl model.ScanLog) (model.ScanLog, error) {
	if sl.ID == "" {
		sl.ID = uuid.NewString()
	}
	if sl.Timestamp.IsZero() {
		sl.Timestamp = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO scan_logs (id, badge_id, reader_id, user_id, outcome, location, device_info, scanned_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, sl.ID, sl.BadgeID, sl.ReaderID, sl.UserID, sl.Outcome, sl.Location, sl.DeviceInfo, sl.Timestamp)
	if err := row.Scan(&sl.CreatedAt); err != nil {
		return model.ScanLog{}, err
	}
	return sl, nil
}

// RecentRecord returns the newest record for (user, meeting) whose timestamp
// falls within the window before at, or nil when none exists.
func (r *Repository) RecentRecord(ctx context.Context, userID, meetingID int64, at time.Time, window time.Duration) (*model.AttendanceRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE user_id = $1 AND meeting_id = $2
		  AND recorded_at > $3::timestamptz - ($4 * interval '1 second')
		  AND recorded_at <= $3::timestamptz
		ORDER BY recorded_at DESC
		LIMIT 1
	`, userID, meetingID, at, window.Seconds())
	return scanRecord(row)
}

// RecordForDay returns the record for (user, meeting) on the calendar day of
// day, or nil.
func (r *Repository) RecordForDay(ctx context.Context, userID, meetingID int64, day time.Time) (*model.AttendanceRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE user_id = $1 AND meeting_id = $2 AND attendance_day = $3::date
	`, userID, meetingID, dayString(day))
	return scanRecord(row)
}

// CommitInput is one ledger write. Verification defaults to PENDING; the
// override path sets it together with the override metadata when it creates
// a record for a day that had none.
type CommitInput struct {
	UserID         int64
	Role           model.IdentityRole
	StudentID      *int64
	MeetingID      *int64
	Status         model.AttendanceStatus
	Origin         model.Origin
	Verification   model.Verification
	Timestamp      time.Time
	ScanLogID      *string
	OverriddenBy   *int64
	OverrideReason string
	Notes          string
}

// Commit inserts an attendance record, relying on the unique day key to sort
// out concurrent commits: the loser of the race observes the winner's row and
// reports created=false.
func (r *Repository) Commit(ctx context.Context, in CommitInput) (model.AttendanceRecord, bool, error) {
	if in.Verification == "" {
		in.Verification = model.VerificationPending
	}
	// attendance_day is derived in Go, never by a timestamptz cast: a cast
	// would use the database session's TimeZone and could key the row to a
	// different calendar day than the lookups below.
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(user_id, role, student_id, meeting_id, status, origin, verification, recorded_at, attendance_day, scan_log_id, overridden_by, override_reason, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::date,$10,$11,$12,$13)
		ON CONFLICT (user_id, meeting_id, attendance_day) DO NOTHING
		RETURNING `+recordColumns+`
	`, in.UserID, in.Role, in.StudentID, in.MeetingID, in.Status, in.Origin, in.Verification,
		in.Timestamp, dayString(in.Timestamp), in.ScanLogID, in.OverriddenBy, in.OverrideReason, in.Notes)

	rec, err := scanRecord(row)
	if err != nil {
		return model.AttendanceRecord{}, false, err
	}
	if rec != nil {
		return *rec, true, nil
	}

	// Conflict: a concurrent commit won. Surface its row instead.
	if in.MeetingID == nil {
		return model.AttendanceRecord{}, false, errors.New("commit conflict without meeting")
	}
	existing, err := r.RecordForDay(ctx, in.UserID, *in.MeetingID, in.Timestamp)
	if err != nil {
		return model.AttendanceRecord{}, false, err
	}
	if existing == nil {
		return model.AttendanceRecord{}, false, errors.New("commit conflict but no existing record")
	}
	return *existing, false, nil
}

// ApplyOverride updates the day's record in place. original_status is stamped
// with the pre-override status only when not already set, so the first
// override's "before" survives later ones. Returns nil when no record exists
// for the day.
func (r *Repository) ApplyOverride(ctx context.Context, userID, meetingID int64, day time.Time, status model.AttendanceStatus, actor int64, reason, notes string) (*model.AttendanceRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records
		SET original_status = COALESCE(original_status, status),
		    status = $4,
		    verification = 'VERIFIED',
		    overridden_by = $5,
		    override_reason = $6,
		    notes = COALESCE(NULLIF($7, ''), notes)
		WHERE user_id = $1 AND meeting_id = $2 AND attendance_day = $3::date
		RETURNING `+recordColumns+`
	`, userID, meetingID, dayString(day), status, actor, reason, notes)
	return scanRecord(row)
}

// ListRecords returns recent records with basic filters.
func (r *Repository) ListRecords(ctx context.Context, userID, meetingID int64, limit, offset int) ([]model.AttendanceRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if userID != 0 {
		args = append(args, userID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if meetingID != 0 {
		args = append(args, meetingID)
		clauses = append(clauses, fmt.Sprintf("meeting_id = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY recorded_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// ListScanLogs returns recent scan attempts, optionally filtered by badge.
func (r *Repository) ListScanLogs(ctx context.Context, badgeID string, limit, offset int) ([]model.ScanLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT id, badge_id, reader_id, user_id, outcome, location, device_info, scanned_at, created_at
		FROM scan_logs`
	args := []any{}
	if badgeID != "" {
		query += " WHERE badge_id = $1"
		args = append(args, badgeID)
	}
	query += fmt.Sprintf(" ORDER BY scanned_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.ScanLog
	for rows.Next() {
		var sl model.ScanLog
		if err := rows.Scan(&sl.ID, &sl.BadgeID, &sl.ReaderID, &sl.UserID, &sl.Outcome,
			&sl.Location, &sl.DeviceInfo, &sl.Timestamp, &sl.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, sl)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (*model.AttendanceRecord, error) {
	rec, err := scanInto(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func scanRecordRows(rows *sql.Rows) (model.AttendanceRecord, error) {
	return scanInto(rows)
}

func scanInto(s rowScanner) (model.AttendanceRecord, error) {
	var rec model.AttendanceRecord
	var origStatus sql.NullString
	var scanLogID sql.NullString
	var overriddenBy sql.NullInt64
	var reason, notes sql.NullString
	err := s.Scan(&rec.ID, &rec.UserID, &rec.Role, &rec.StudentID, &rec.MeetingID,
		&rec.Status, &rec.Origin, &rec.Verification, &rec.Timestamp, &scanLogID,
		&origStatus, &overriddenBy, &reason, &notes, &rec.CreatedAt)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	if origStatus.Valid {
		st := model.AttendanceStatus(origStatus.String)
		rec.OriginalStatus = &st
	}
	if scanLogID.Valid {
		rec.ScanLogID = &scanLogID.String
	}
	if overriddenBy.Valid {
		rec.OverriddenBy = &overriddenBy.Int64
	}
	rec.OverrideReason = reason.String
	rec.Notes = notes.String
	return rec, nil
}
