package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// IdentityRole distinguishes who a badge belongs to.
type IdentityRole string

const (
	RoleStudent    IdentityRole = "STUDENT"
	RoleInstructor IdentityRole = "INSTRUCTOR"
)

// IdentityStatus is the directory-side lifecycle state.
type IdentityStatus string

const (
	IdentityActive   IdentityStatus = "ACTIVE"
	IdentityInactive IdentityStatus = "INACTIVE"
)

// AttendanceStatus is the classified outcome stored on a record.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "PRESENT"
	StatusLate    AttendanceStatus = "LATE"
	StatusAbsent  AttendanceStatus = "ABSENT"
	StatusExcused AttendanceStatus = "EXCUSED"
)

// Origin says how a record entered the ledger.
type Origin string

const (
	OriginRFIDScan    Origin = "RFID_SCAN"
	OriginManualEntry Origin = "MANUAL_ENTRY"
)

// Verification is the review state of a record.
type Verification string

const (
	VerificationPending  Verification = "PENDING"
	VerificationVerified Verification = "VERIFIED"
	VerificationRejected Verification = "REJECTED"
)

// ScanOutcome marks whether a scan resolved to a known identity.
type ScanOutcome string

const (
	ScanSuccess ScanOutcome = "SUCCESS"
	ScanFailed  ScanOutcome = "FAILED"
)

// MeetingStatus is the schedule-side lifecycle state of a meeting slot.
type MeetingStatus string

const (
	MeetingActive    MeetingStatus = "ACTIVE"
	MeetingCancelled MeetingStatus = "CANCELLED"
)

// ScanEvent is the raw inbound badge tap as delivered by the transport.
// Immutable; it only ever persists as part of a ScanLog.
type ScanEvent struct {
	BadgeID    string          `json:"badgeId" validate:"required"`
	ReaderID   int             `json:"readerId,omitempty"`
	Location   string          `json:"location,omitempty"`
	DeviceInfo json.RawMessage `json:"deviceInfo,omitempty"`
	At         time.Time       `json:"at"`
}

// ScanLog is the append-only record of a scan attempt, successful or not.
type ScanLog struct {
	ID         string          `json:"id"`
	BadgeID    string          `json:"badge_id"`
	ReaderID   *int            `json:"reader_id,omitempty"`
	UserID     *int64          `json:"user_id,omitempty"`
	Outcome    ScanOutcome     `json:"outcome"`
	Location   string          `json:"location,omitempty"`
	DeviceInfo json.RawMessage `json:"device_info,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Identity is a student or instructor resolved from a badge. Read-only here;
// badge (re)assignment happens outside this core.
type Identity struct {
	ID           int64          `json:"id"`
	UserID       int64          `json:"user_id"`
	Name         string         `json:"name"`
	Role         IdentityRole   `json:"role"`
	Status       IdentityStatus `json:"status"`
	DepartmentID int64          `json:"department_id,omitempty"`
	BadgeID      string         `json:"badge_id"`
}

// ScheduleMeeting is one recurring class-session slot. Start and end are
// minutes from midnight in the campus timezone.
type ScheduleMeeting struct {
	ID           int64         `json:"id"`
	SubjectID    int64         `json:"subject_id"`
	SubjectName  string        `json:"subject_name"`
	SectionID    int64         `json:"section_id"`
	SectionName  string        `json:"section_name"`
	InstructorID int64         `json:"instructor_id"`
	RoomName     string        `json:"room_name"`
	Day          time.Weekday  `json:"day"`
	StartMin     int           `json:"start_min"`
	EndMin       int           `json:"end_min"`
	Status       MeetingStatus `json:"status"`
	TermID       int64         `json:"term_id"`
}

// StartAt anchors the meeting's start time on the calendar day of t.
func (m ScheduleMeeting) StartAt(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, m.StartMin/60, m.StartMin%60, 0, 0, t.Location())
}

// Room is the live-feed room name for this meeting's section.
func (m ScheduleMeeting) Room() string {
	return fmt.Sprintf("section:%d", m.SectionID)
}

// AttendanceRecord is the canonical ledger row. At most one exists per
// (identity, meeting, calendar day); overrides update in place.
type AttendanceRecord struct {
	ID             int64             `json:"id"`
	UserID         int64             `json:"user_id"`
	Role           IdentityRole      `json:"role"`
	StudentID      *int64            `json:"student_id,omitempty"`
	MeetingID      *int64            `json:"meeting_id,omitempty"`
	Status         AttendanceStatus  `json:"status"`
	Origin         Origin            `json:"origin"`
	Verification   Verification      `json:"verification"`
	Timestamp      time.Time         `json:"timestamp"`
	ScanLogID      *string           `json:"scan_log_id,omitempty"`
	OriginalStatus *AttendanceStatus `json:"original_status,omitempty"`
	OverriddenBy   *int64            `json:"overridden_by,omitempty"`
	OverrideReason string            `json:"override_reason,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// AuditEvent is one append-only trail entry. Failures to write one are
// logged and swallowed; they never roll back the attendance commit.
type AuditEvent struct {
	Actor    string         `json:"actor"`
	Action   string         `json:"action"`
	Severity string         `json:"severity"`
	Detail   map[string]any `json:"detail,omitempty"`
	At       time.Time      `json:"at"`
}

// Audit action and severity values.
const (
	ActionScanIngested  = "SCAN_INGESTED"
	ActionScanDuplicate = "SCAN_DUPLICATE"
	ActionScanRejected  = "SCAN_REJECTED"
	ActionOverride      = "ATTENDANCE_OVERRIDE"

	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
)

// SystemActor is the audit actor for transport-driven ingestion.
const SystemActor = "system"
