package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/model"
)

var validate = validator.New()

// Directory resolves badges to identities. A miss is (nil, nil), not an error.
type Directory interface {
	Resolve(ctx context.Context, badgeID string) (*model.Identity, error)
}

// Students fetches a student identity by its primary key, for overrides.
type Students interface {
	StudentByID(ctx context.Context, id int64) (*model.Identity, error)
}

// Schedules finds the meeting in session for an identity at a timestamp.
type Schedules interface {
	CurrentMeeting(ctx context.Context, identity *model.Identity, at time.Time) (*model.ScheduleMeeting, error)
}

// Roster answers meeting and enrollment lookups for the override path.
type Roster interface {
	MeetingByID(ctx context.Context, id int64) (*model.ScheduleMeeting, error)
	IsEnrolled(ctx context.Context, studentID, meetingID int64) (bool, error)
}

// Ledger is the attendance store of record.
type Ledger interface {
	InsertScanLog(ctx context.Context, sl model.ScanLog) (model.ScanLog, error)
	RecentRecord(ctx context.Context, userID, meetingID int64, at time.Time, window time.Duration) (*model.AttendanceRecord, error)
	RecordForDay(ctx context.Context, userID, meetingID int64, day time.Time) (*model.AttendanceRecord, error)
	Commit(ctx context.Context, in CommitInput) (model.AttendanceRecord, bool, error)
	ApplyOverride(ctx context.Context, userID, meetingID int64, day time.Time, status model.AttendanceStatus, actor int64, reason, notes string) (*model.AttendanceRecord, error)
}

// Auditor appends trail entries; implementations must never fail the caller.
type Auditor interface {
	Record(ctx context.Context, ev model.AuditEvent)
}

// Broadcaster pushes a typed event to a live-feed room.
type Broadcaster interface {
	Event(room, msgType string, data any)
}

// Deps are the pipeline's collaborators.
type Deps struct {
	Directory Directory
	Students  Students
	Schedules Schedules
	Roster    Roster
	Ledger    Ledger
	Audit     Auditor
	Hub       Broadcaster
}

// Options tune the pipeline. Location is the campus timezone: meeting
// windows are minutes from campus midnight, so schedule matching and day
// keying both happen on the campus clock, not on whatever zone the transport
// stamped the scan with.
type Options struct {
	LateThreshold time.Duration
	DedupWindow   time.Duration
	StoreTimeout  time.Duration
	Location      *time.Location
}

// Service runs the ingestion pipeline: resolve badge, resolve meeting,
// classify, dedup, commit, then fan out to audit and the live feed. It is
// invoked once per inbound scan; concurrent invocations for the same badge
// are safe, the dedup window and the ledger's unique day key being the
// correctness boundary.
type Service struct {
	deps Deps
	opts Options
}

// NewService creates a pipeline service.
func NewService(deps Deps, opts Options) *Service {
	if opts.LateThreshold <= 0 {
		opts.LateThreshold = DefaultLateThreshold
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 60 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{deps: deps, opts: opts}
}

// Result is the outcome of one ingested scan. Identity and Meeting are set
// as far as the pipeline got, so error acks can still name the badge holder.
type Result struct {
	Duplicate bool
	Record    model.AttendanceRecord
	Identity  *model.Identity
	Meeting   *model.ScheduleMeeting
}

// LiveUpdate is the normalized payload broadcast to a section's live feed.
type LiveUpdate struct {
	Name      string                 `json:"name"`
	Status    model.AttendanceStatus `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Subject   string                 `json:"subject"`
	Section   string                 `json:"section"`
	Room      string                 `json:"room"`
	Origin    model.Origin           `json:"origin"`
}

// Ingest processes one scan through the full pipeline.
func (s *Service) Ingest(ctx context.Context, scan model.ScanEvent) (Result, error) {
	var res Result

	if err := validate.Struct(scan); err != nil {
		scansTotal.WithLabelValues("invalid").Inc()
		return res, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if scan.At.IsZero() {
		scan.At = time.Now()
	}
	// Normalize once: everything downstream (weekday/minute matching,
	// classification, the calendar-day key) reads the campus clock.
	scan.At = scan.At.In(s.opts.Location)

	identity, err := s.resolveIdentity(ctx, scan.BadgeID)
	if err != nil {
		scansTotal.WithLabelValues("store_error").Inc()
		return res, err
	}
	res.Identity = identity

	if identity == nil {
		if _, lerr := s.logScan(ctx, scan, nil, model.ScanFailed); lerr != nil {
			log.Printf("pipeline: failed-scan log write failed for badge %s: %v", scan.BadgeID, lerr)
		}
		s.audit(ctx, model.ActionScanRejected, model.SeverityWarning, map[string]any{
			"badge_id": scan.BadgeID, "reason": "card not found",
		})
		scansTotal.WithLabelValues("card_not_found").Inc()
		return res, ErrIdentityNotFound
	}
	if identity.Status != model.IdentityActive {
		if _, lerr := s.logScan(ctx, scan, identity, model.ScanFailed); lerr != nil {
			log.Printf("pipeline: failed-scan log write failed for badge %s: %v", scan.BadgeID, lerr)
		}
		s.audit(ctx, model.ActionScanRejected, model.SeverityWarning, map[string]any{
			"badge_id": scan.BadgeID, "user_id": identity.UserID, "reason": "identity inactive",
		})
		scansTotal.WithLabelValues("inactive").Inc()
		return res, fmt.Errorf("%s: %w", identity.Name, ErrIdentityInactive)
	}

	// Identity resolved: the raw scan is durable from here on, whatever the
	// schedule lookup says.
	scanLog, err := s.logScan(ctx, scan, identity, model.ScanSuccess)
	if err != nil {
		scansTotal.WithLabelValues("store_error").Inc()
		return res, wrapStore("insert scan log", err)
	}

	meeting, err := s.resolveMeeting(ctx, identity, scan.At)
	if err != nil {
		scansTotal.WithLabelValues("store_error").Inc()
		return res, err
	}
	if meeting == nil {
		s.audit(ctx, model.ActionScanRejected, model.SeverityInfo, map[string]any{
			"badge_id": scan.BadgeID, "user_id": identity.UserID, "reason": "not on schedule",
		})
		scansTotal.WithLabelValues("not_on_schedule").Inc()
		return res, ErrNotOnSchedule
	}
	res.Meeting = meeting

	// Physical readers emit multiple reads per tap; an existing record inside
	// the window makes this scan an idempotent duplicate.
	existing, err := s.recentRecord(ctx, identity.UserID, meeting.ID, scan.At)
	if err != nil {
		scansTotal.WithLabelValues("store_error").Inc()
		return res, err
	}
	if existing != nil {
		res.Duplicate = true
		res.Record = *existing
		s.audit(ctx, model.ActionScanDuplicate, model.SeverityInfo, map[string]any{
			"badge_id": scan.BadgeID, "user_id": identity.UserID, "meeting_id": meeting.ID,
			"record_id": existing.ID,
		})
		scansTotal.WithLabelValues("duplicate").Inc()
		return res, nil
	}

	status := Classify(meeting.StartAt(scan.At), scan.At, s.opts.LateThreshold)

	in := CommitInput{
		UserID:    identity.UserID,
		Role:      identity.Role,
		MeetingID: &meeting.ID,
		Status:    status,
		Origin:    model.OriginRFIDScan,
		Timestamp: scan.At,
		ScanLogID: &scanLog.ID,
	}
	if identity.Role == model.RoleStudent {
		in.StudentID = &identity.ID
	}
	rec, created, err := s.commit(ctx, in)
	if err != nil {
		scansTotal.WithLabelValues("store_error").Inc()
		return res, err
	}
	res.Record = rec
	if !created {
		// A concurrent scan for the same day committed first.
		res.Duplicate = true
		s.audit(ctx, model.ActionScanDuplicate, model.SeverityInfo, map[string]any{
			"badge_id": scan.BadgeID, "user_id": identity.UserID, "meeting_id": meeting.ID,
			"record_id": rec.ID,
		})
		scansTotal.WithLabelValues("duplicate").Inc()
		return res, nil
	}

	s.audit(ctx, model.ActionScanIngested, model.SeverityInfo, map[string]any{
		"badge_id": scan.BadgeID, "user_id": identity.UserID, "meeting_id": meeting.ID,
		"record_id": rec.ID, "status": rec.Status,
	})
	s.broadcast(identity, meeting, rec)
	scansTotal.WithLabelValues(statusLabel(status)).Inc()
	return res, nil
}

// OverrideRequest is an authenticated manual correction.
type OverrideRequest struct {
	StudentID int64                  `json:"studentId" validate:"required"`
	MeetingID int64                  `json:"subjectSchedId" validate:"required"`
	Status    model.AttendanceStatus `json:"status" validate:"required,oneof=PRESENT LATE ABSENT EXCUSED"`
	Reason    string                 `json:"reason"`
	Timestamp *time.Time             `json:"timestamp"`
	Notes     string                 `json:"notes"`
}

// Override corrects (or creates) the day's record for a student and meeting.
// The first override stamps the pre-override status into original_status;
// later overrides leave that stamp alone.
func (s *Service) Override(ctx context.Context, req OverrideRequest, actorID int64) (model.AttendanceRecord, error) {
	if err := validate.Struct(req); err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	at := time.Now()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		at = *req.Timestamp
	}
	at = at.In(s.opts.Location)

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	student, err := s.deps.Students.StudentByID(sctx, req.StudentID)
	if err != nil {
		return model.AttendanceRecord{}, wrapStore("student lookup", err)
	}
	if student == nil {
		return model.AttendanceRecord{}, ErrIdentityNotFound
	}
	meeting, err := s.deps.Roster.MeetingByID(sctx, req.MeetingID)
	if err != nil {
		return model.AttendanceRecord{}, wrapStore("meeting lookup", err)
	}
	if meeting == nil {
		return model.AttendanceRecord{}, ErrMeetingNotFound
	}
	enrolled, err := s.deps.Roster.IsEnrolled(sctx, req.StudentID, req.MeetingID)
	if err != nil {
		return model.AttendanceRecord{}, wrapStore("enrollment check", err)
	}
	if !enrolled {
		return model.AttendanceRecord{}, ErrNotEnrolled
	}

	before, err := s.deps.Ledger.RecordForDay(sctx, student.UserID, meeting.ID, at)
	if err != nil {
		return model.AttendanceRecord{}, wrapStore("record lookup", err)
	}

	var rec model.AttendanceRecord
	if before != nil {
		updated, err := s.deps.Ledger.ApplyOverride(sctx, student.UserID, meeting.ID, at, req.Status, actorID, req.Reason, req.Notes)
		if err != nil {
			return model.AttendanceRecord{}, wrapStore("apply override", err)
		}
		if updated == nil {
			return model.AttendanceRecord{}, wrapStore("apply override", errors.New("record vanished mid-override"))
		}
		rec = *updated
	} else {
		created, ok, err := s.deps.Ledger.Commit(sctx, CommitInput{
			UserID:         student.UserID,
			Role:           model.RoleStudent,
			StudentID:      &student.ID,
			MeetingID:      &meeting.ID,
			Status:         req.Status,
			Origin:         model.OriginManualEntry,
			Verification:   model.VerificationVerified,
			Timestamp:      at,
			OverriddenBy:   &actorID,
			OverrideReason: req.Reason,
			Notes:          req.Notes,
		})
		if err != nil {
			return model.AttendanceRecord{}, wrapStore("create override record", err)
		}
		if !ok {
			// Lost a race with a concurrent scan; apply on top of its row.
			updated, err := s.deps.Ledger.ApplyOverride(sctx, student.UserID, meeting.ID, at, req.Status, actorID, req.Reason, req.Notes)
			if err != nil || updated == nil {
				return model.AttendanceRecord{}, wrapStore("apply override after race", err)
			}
			rec = *updated
		} else {
			rec = created
		}
	}

	detail := map[string]any{
		"student_id": student.ID, "user_id": student.UserID, "meeting_id": meeting.ID,
		"after": rec.Status, "reason": req.Reason,
	}
	if before != nil {
		detail["before"] = before.Status
	}
	if s.deps.Audit != nil {
		s.deps.Audit.Record(ctx, model.AuditEvent{
			Actor:    fmt.Sprintf("%d", actorID),
			Action:   model.ActionOverride,
			Severity: model.SeverityInfo,
			Detail:   detail,
		})
	}
	s.broadcast(student, meeting, rec)
	return rec, nil
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.StoreTimeout)
}

func (s *Service) resolveIdentity(ctx context.Context, badgeID string) (*model.Identity, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	identity, err := s.deps.Directory.Resolve(sctx, badgeID)
	if err != nil {
		return nil, wrapStore("badge lookup", err)
	}
	return identity, nil
}

func (s *Service) resolveMeeting(ctx context.Context, identity *model.Identity, at time.Time) (*model.ScheduleMeeting, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	meeting, err := s.deps.Schedules.CurrentMeeting(sctx, identity, at)
	if err != nil {
		return nil, wrapStore("schedule lookup", err)
	}
	return meeting, nil
}

func (s *Service) recentRecord(ctx context.Context, userID, meetingID int64, at time.Time) (*model.AttendanceRecord, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	rec, err := s.deps.Ledger.RecentRecord(sctx, userID, meetingID, at, s.opts.DedupWindow)
	if err != nil {
		return nil, wrapStore("dedup lookup", err)
	}
	return rec, nil
}

func (s *Service) commit(ctx context.Context, in CommitInput) (model.AttendanceRecord, bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	rec, created, err := s.deps.Ledger.Commit(sctx, in)
	if err != nil {
		return model.AttendanceRecord{}, false, wrapStore("commit", err)
	}
	return rec, created, nil
}

func (s *Service) logScan(ctx context.Context, scan model.ScanEvent, identity *model.Identity, outcome model.ScanOutcome) (model.ScanLog, error) {
	sl := model.ScanLog{
		BadgeID:    scan.BadgeID,
		Outcome:    outcome,
		Location:   scan.Location,
		DeviceInfo: scan.DeviceInfo,
		Timestamp:  scan.At,
	}
	if scan.ReaderID != 0 {
		rid := scan.ReaderID
		sl.ReaderID = &rid
	}
	if identity != nil {
		uid := identity.UserID
		sl.UserID = &uid
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.deps.Ledger.InsertScanLog(sctx, sl)
}

func (s *Service) audit(ctx context.Context, action, severity string, detail map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	s.deps.Audit.Record(ctx, model.AuditEvent{
		Actor:    model.SystemActor,
		Action:   action,
		Severity: severity,
		Detail:   detail,
	})
}

func (s *Service) broadcast(identity *model.Identity, meeting *model.ScheduleMeeting, rec model.AttendanceRecord) {
	if s.deps.Hub == nil {
		return
	}
	s.deps.Hub.Event(meeting.Room(), "attendance-updated", LiveUpdate{
		Name:      identity.Name,
		Status:    rec.Status,
		Timestamp: rec.Timestamp,
		Subject:   meeting.SubjectName,
		Section:   meeting.SectionName,
		Room:      meeting.RoomName,
		Origin:    rec.Origin,
	})
}

func statusLabel(st model.AttendanceStatus) string {
	if st == model.StatusLate {
		return "late"
	}
	return "present"
}
