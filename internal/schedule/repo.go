package schedule

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/model"
)

// Repository reads the weekly schedule from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const meetingColumns = `
	m.id, m.subject_id, sub.name, m.section_id, sec.name, m.instructor_id,
	m.room_name, m.day_of_week, m.start_min, m.end_min, m.status, m.term_id`

// MeetingsInSession returns the ACTIVE current-term meetings containing the
// given weekday/minute for the identity: enrolled sections for students,
// assigned sections for instructors. Ordered by start time so callers can
// tie-break overlaps deterministically.
func (r *Repository) MeetingsInSession(ctx context.Context, identity *model.Identity, day time.Weekday, minuteOfDay int) ([]model.ScheduleMeeting, error) {
	var query string
	switch identity.Role {
	case model.RoleInstructor:
		query = `
			SELECT ` + meetingColumns + `
			FROM schedule_meetings m
			JOIN subjects sub ON sub.id = m.subject_id
			JOIN sections sec ON sec.id = m.section_id
			JOIN academic_terms t ON t.id = m.term_id AND t.is_current
			WHERE m.instructor_id = $1
			  AND m.status = 'ACTIVE'
			  AND m.day_of_week = $2
			  AND m.start_min <= $3 AND m.end_min >= $3
			ORDER BY m.start_min ASC`
	default:
		query = `
			SELECT ` + meetingColumns + `
			FROM schedule_meetings m
			JOIN subjects sub ON sub.id = m.subject_id
			JOIN sections sec ON sec.id = m.section_id
			JOIN academic_terms t ON t.id = m.term_id AND t.is_current
			JOIN section_enrollments e ON e.section_id = m.section_id
			WHERE e.student_id = $1
			  AND e.status = 'ACTIVE'
			  AND m.status = 'ACTIVE'
			  AND m.day_of_week = $2
			  AND m.start_min <= $3 AND m.end_min >= $3
			ORDER BY m.start_min ASC`
	}

	rows, err := r.db.QueryContext(ctx, query, identity.ID, int(day), minuteOfDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.ScheduleMeeting
	for rows.Next() {
		var m model.ScheduleMeeting
		var dow int
		if err := rows.Scan(&m.ID, &m.SubjectID, &m.SubjectName, &m.SectionID, &m.SectionName,
			&m.InstructorID, &m.RoomName, &dow, &m.StartMin, &m.EndMin, &m.Status, &m.TermID); err != nil {
			return nil, err
		}
		m.Day = time.Weekday(dow)
		res = append(res, m)
	}
	return res, rows.Err()
}

// IsEnrolled reports whether a student has an active enrollment in the
// section a meeting belongs to. Used by the manual-override path.
func (r *Repository) IsEnrolled(ctx context.Context, studentID, meetingID int64) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM schedule_meetings m
			JOIN section_enrollments e ON e.section_id = m.section_id
			WHERE m.id = $1 AND e.student_id = $2 AND e.status = 'ACTIVE'
		)
	`, meetingID, studentID)
	var enrolled bool
	if err := row.Scan(&enrolled); err != nil {
		return false, err
	}
	return enrolled, nil
}

// MeetingByID fetches a single meeting regardless of session window. The
// override endpoint targets a meeting directly rather than by wall clock.
func (r *Repository) MeetingByID(ctx context.Context, id int64) (*model.ScheduleMeeting, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+meetingColumns+`
		FROM schedule_meetings m
		JOIN subjects sub ON sub.id = m.subject_id
		JOIN sections sec ON sec.id = m.section_id
		WHERE m.id = $1
	`, id)
	var m model.ScheduleMeeting
	var dow int
	if err := row.Scan(&m.ID, &m.SubjectID, &m.SubjectName, &m.SectionID, &m.SectionName,
		&m.InstructorID, &m.RoomName, &dow, &m.StartMin, &m.EndMin, &m.Status, &m.TermID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	m.Day = time.Weekday(dow)
	return &m, nil
}
