package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/model"
)

// fakeStore implements Directory, Students, Schedules, Roster and Ledger in
// memory, enforcing the one-record-per-(user, meeting, day) key the way the
// database does.
type fakeStore struct {
	mu         sync.Mutex
	identities map[string]*model.Identity
	students   map[int64]*model.Identity
	meetings   map[int64]*model.ScheduleMeeting
	inSession  []model.ScheduleMeeting
	enrolled   map[[2]int64]bool
	scanLogs   []model.ScanLog
	records    map[string]*model.AttendanceRecord
	nextID     int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		identities: make(map[string]*model.Identity),
		students:   make(map[int64]*model.Identity),
		meetings:   make(map[int64]*model.ScheduleMeeting),
		enrolled:   make(map[[2]int64]bool),
		records:    make(map[string]*model.AttendanceRecord),
	}
}

func dayKey(userID, meetingID int64, at time.Time) string {
	return fmt.Sprintf("%s/%d/%d", at.Format("2006-01-02"), userID, meetingID)
}

func (f *fakeStore) Resolve(_ context.Context, badgeID string) (*model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identities[badgeID], nil
}

func (f *fakeStore) StudentByID(_ context.Context, id int64) (*model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.students[id], nil
}

func (f *fakeStore) CurrentMeeting(_ context.Context, identity *model.Identity, at time.Time) (*model.ScheduleMeeting, error) {
	minute := at.Hour()*60 + at.Minute()
	for i := range f.inSession {
		m := f.inSession[i]
		if m.Day == at.Weekday() && m.StartMin <= minute && minute <= m.EndMin {
			return &m, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) MeetingByID(_ context.Context, id int64) (*model.ScheduleMeeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meetings[id], nil
}

func (f *fakeStore) IsEnrolled(_ context.Context, studentID, meetingID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enrolled[[2]int64{studentID, meetingID}], nil
}

func (f *fakeStore) InsertScanLog(_ context.Context, sl model.ScanLog) (model.ScanLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sl.ID == "" {
		f.nextID++
		sl.ID = fmt.Sprintf("scanlog-%d", f.nextID)
	}
	sl.CreatedAt = time.Now()
	f.scanLogs = append(f.scanLogs, sl)
	return sl, nil
}

func (f *fakeStore) RecentRecord(_ context.Context, userID, meetingID int64, at time.Time, window time.Duration) (*model.AttendanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.UserID != userID || rec.MeetingID == nil || *rec.MeetingID != meetingID {
			continue
		}
		if rec.Timestamp.After(at.Add(-window)) && !rec.Timestamp.After(at) {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) RecordForDay(_ context.Context, userID, meetingID int64, day time.Time) (*model.AttendanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[dayKey(userID, meetingID, day)]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) Commit(_ context.Context, in CommitInput) (model.AttendanceRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := dayKey(in.UserID, deref(in.MeetingID), in.Timestamp)
	if existing, ok := f.records[key]; ok {
		return *existing, false, nil
	}
	f.nextID++
	if in.Verification == "" {
		in.Verification = model.VerificationPending
	}
	rec := model.AttendanceRecord{
		ID:             f.nextID,
		UserID:         in.UserID,
		Role:           in.Role,
		StudentID:      in.StudentID,
		MeetingID:      in.MeetingID,
		Status:         in.Status,
		Origin:         in.Origin,
		Verification:   in.Verification,
		Timestamp:      in.Timestamp,
		ScanLogID:      in.ScanLogID,
		OverriddenBy:   in.OverriddenBy,
		OverrideReason: in.OverrideReason,
		Notes:          in.Notes,
		CreatedAt:      time.Now(),
	}
	f.records[key] = &rec
	return rec, true, nil
}

func (f *fakeStore) ApplyOverride(_ context.Context, userID, meetingID int64, day time.Time, status model.AttendanceStatus, actor int64, reason, notes string) (*model.AttendanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[dayKey(userID, meetingID, day)]
	if !ok {
		return nil, nil
	}
	if rec.OriginalStatus == nil {
		prev := rec.Status
		rec.OriginalStatus = &prev
	}
	rec.Status = status
	rec.Verification = model.VerificationVerified
	rec.OverriddenBy = &actor
	rec.OverrideReason = reason
	if notes != "" {
		rec.Notes = notes
	}
	cp := *rec
	return &cp, nil
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (a *fakeAuditor) Record(_ context.Context, ev model.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *fakeAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, ev := range a.events {
		out[i] = ev.Action
	}
	return out
}

type fakeHub struct {
	mu     sync.Mutex
	events []broadcastEvent
}

type broadcastEvent struct {
	Room string
	Type string
	Data any
}

func (h *fakeHub) Event(room, msgType string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, broadcastEvent{Room: room, Type: msgType, Data: data})
}

// monday returns a fixed Monday 2026-03-02 at the given clock time.
func monday(hour, min, sec int) time.Time {
	return time.Date(2026, 3, 2, hour, min, sec, 0, time.UTC)
}

func newTestService(store *fakeStore, auditor *fakeAuditor, h *fakeHub) *Service {
	return NewService(Deps{
		Directory: store,
		Students:  store,
		Schedules: store,
		Roster:    store,
		Ledger:    store,
		Audit:     auditor,
		Hub:       h,
	}, Options{
		LateThreshold: 15 * time.Minute,
		DedupWindow:   60 * time.Second,
		StoreTimeout:  time.Second,
	})
}

func seedStudent(store *fakeStore) (*model.Identity, *model.ScheduleMeeting) {
	student := &model.Identity{
		ID: 7, UserID: 70, Name: "Dana Reyes",
		Role: model.RoleStudent, Status: model.IdentityActive, BadgeID: "BADGE-X",
	}
	meeting := &model.ScheduleMeeting{
		ID: 300, SubjectID: 30, SubjectName: "Data Structures",
		SectionID: 55, SectionName: "BSIT-2A", InstructorID: 9,
		RoomName: "Room 204", Day: time.Monday, StartMin: 9 * 60, EndMin: 10 * 60,
		Status: model.MeetingActive, TermID: 1,
	}
	store.identities["BADGE-X"] = student
	store.students[student.ID] = student
	store.meetings[meeting.ID] = meeting
	store.inSession = []model.ScheduleMeeting{*meeting}
	store.enrolled[[2]int64{student.ID, meeting.ID}] = true
	return student, meeting
}

func TestIngestUnknownBadge(t *testing.T) {
	store := newFakeStore()
	auditor := &fakeAuditor{}
	svc := newTestService(store, auditor, &fakeHub{})

	_, err := svc.Ingest(context.Background(), model.ScanEvent{BadgeID: "NOPE", At: monday(9, 5, 0)})
	if !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
	if len(store.scanLogs) != 1 {
		t.Fatalf("expected 1 scan log, got %d", len(store.scanLogs))
	}
	if store.scanLogs[0].Outcome != model.ScanFailed {
		t.Fatalf("expected FAILED scan log, got %s", store.scanLogs[0].Outcome)
	}
	if store.scanLogs[0].UserID != nil {
		t.Fatal("failed scan log should carry no user reference")
	}
	if len(store.records) != 0 {
		t.Fatalf("no attendance record should exist, got %d", len(store.records))
	}
}

func TestIngestInactiveIdentity(t *testing.T) {
	store := newFakeStore()
	student, _ := seedStudent(store)
	student.Status = model.IdentityInactive
	svc := newTestService(store, &fakeAuditor{}, &fakeHub{})

	_, err := svc.Ingest(context.Background(), model.ScanEvent{BadgeID: "BADGE-X", At: monday(9, 5, 0)})
	if !errors.Is(err, ErrIdentityInactive) {
		t.Fatalf("expected ErrIdentityInactive, got %v", err)
	}
	if len(store.scanLogs) != 1 || store.scanLogs[0].Outcome != model.ScanFailed {
		t.Fatal("inactive identity must still produce a FAILED scan log")
	}
	if store.scanLogs[0].UserID == nil || *store.scanLogs[0].UserID != student.UserID {
		t.Fatal("inactive scan log should reference the resolved user")
	}
	if len(store.records) != 0 {
		t.Fatal("no attendance record should be created for an inactive identity")
	}
}

func TestIngestNotOnSchedule(t *testing.T) {
	store := newFakeStore()
	seedStudent(store)
	svc := newTestService(store, &fakeAuditor{}, &fakeHub{})

	// Monday 14:00 is outside the 09:00-10:00 window.
	_, err := svc.Ingest(context.Background(), model.ScanEvent{BadgeID: "BADGE-X", At: monday(14, 0, 0)})
	if !errors.Is(err, ErrNotOnSchedule) {
		t.Fatalf("expected ErrNotOnSchedule, got %v", err)
	}
	if len(store.scanLogs) != 1 || store.scanLogs[0].Outcome != model.ScanSuccess {
		t.Fatal("a resolved identity off schedule still gets a SUCCESS scan log")
	}
	if len(store.records) != 0 {
		t.Fatal("no record should be fabricated off schedule")
	}
}

func TestIngestPresent(t *testing.T) {
	store := newFakeStore()
	_, meeting := seedStudent(store)
	auditor := &fakeAuditor{}
	h := &fakeHub{}
	svc := newTestService(store, auditor, h)

	res, err := svc.Ingest(context.Background(), model.ScanEvent{BadgeID: "BADGE-X", At: monday(9, 5, 0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Duplicate {
		t.Fatal("first scan must not be a duplicate")
	}
	if res.Record.Status != model.StatusPresent {
		t.Fatalf("09:05 scan should be PRESENT, got %s", res.Record.Status)
	}
	if res.Record.Origin != model.OriginRFIDScan {
		t.Fatalf("origin should be RFID_SCAN, got %s", res.Record.Origin)
	}
	if res.Record.ScanLogID == nil {
		t.Fatal("record must reference its scan log")
	}

	if len(h.events) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(h.events))
	}
	if h.events[0].Room != meeting.Room() {
		t.Fatalf("broadcast to room %s, want %s", h.events[0].Room, meeting.Room())
	}
	update, ok := h.events[0].Data.(LiveUpdate)
	if !ok {
		t.Fatalf("broadcast payload is %T, want LiveUpdate", h.events[0].Data)
	}
	if update.Name != "Dana Reyes" || update.Section != "BSIT-2A" || update.Status != model.StatusPresent {
		t.Fatalf("unexpected live update: %+v", update)
	}

	actions := auditor.actions()
	if len(actions) != 1 || actions[0] != model.ActionScanIngested {
		t.Fatalf("expected one SCAN_INGESTED audit entry, got %v", actions)
	}
}

func TestIngestLate(t *testing.T) {
	store := newFakeStore()
	seedStudent(store)
	svc := newTestService(store, &fakeAuditor{}, &fakeHub{})

	res, err := svc.Ingest(context.Background(), model.ScanEvent{BadgeID: "BADGE-X", At: monday(9, 20, 0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Record.Status != model.StatusLate {
		t.Fatalf("09:20 scan should be LATE, got %s", res.Record.Status)
	}
}

func TestIngestDuplicateWithinWindow(t *testing.T) {
	store := newFakeStore()
	seedStudent(store)
	auditor := &fakeAuditor{}
	h := &fakeHub{}
	svc := newTestService(store, auditor, h)

	first, err := svc.Ingest(context.Background(), model.ScanEvent{BadgeID: "BADGE-X", At: monday(9, 5, 0)})
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}

	// Reader double-fire 10 seconds later.
	second, err := svc.Ingest(context.Background(), model.ScanEvent{BadgeID: "BADGE-X", At: monday(9, 5, 10)})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("second scan within the window must be a duplicate")
	}
	if second.Record.ID != first.Record.ID {
		t.Fatal("duplicate must return the existing record")
	}
	if len(store.records) != 1 {
		t.Fatalf("exactly one record must exist, got %d", len(store.records))
	}
	// Raw scan still logged both times.
	if len(store.scanLogs) != 2 {
		t.Fatalf("expected 2 scan logs, got %d", len(store.scanLogs))
	}
	// Only the first commit broadcasts.
	if len(h.events) != 1 {
		t.Fatalf("duplicate must not re-broadcast, got %d events", len(h.events))
	}
}

func TestIngestConcurrentSameBadge(t *testing.T) {
	store := newFakeStore()
	seedStudent(store)
	svc := newTestService(store, &fakeAuditor{}, &fakeHub{})

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Ingest(context.Background(), model.ScanEvent{BadgeID: "BADGE-X", At: monday(9, 5, i)})
			if err != nil {
				t.Errorf("scan %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	if len(store.records) != 1 {
		t.Fatalf("concurrent scans must produce exactly one record, got %d", len(store.records))
	}
	created := 0
	for _, res := range results {
		if !res.Duplicate {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("exactly one scan should report a fresh record, got %d", created)
	}
}

func TestOverrideStampsOriginalStatusOnce(t *testing.T) {
	store := newFakeStore()
	seedStudent(store)
	auditor := &fakeAuditor{}
	svc := newTestService(store, auditor, &fakeHub{})

	at := monday(9, 5, 0)
	if _, err := svc.Ingest(context.Background(), model.ScanEvent{BadgeID: "BADGE-X", At: at}); err != nil {
		t.Fatalf("seed scan: %v", err)
	}

	// First override: PRESENT -> ABSENT.
	rec, err := svc.Override(context.Background(), OverrideRequest{
		StudentID: 7, MeetingID: 300, Status: model.StatusAbsent,
		Reason: "left early", Timestamp: &at,
	}, 42)
	if err != nil {
		t.Fatalf("first override: %v", err)
	}
	if rec.Status != model.StatusAbsent {
		t.Fatalf("status should be ABSENT, got %s", rec.Status)
	}
	if rec.OriginalStatus == nil || *rec.OriginalStatus != model.StatusPresent {
		t.Fatalf("original status should be PRESENT, got %v", rec.OriginalStatus)
	}

	// Second override: ABSENT -> EXCUSED; stamp untouched.
	rec, err = svc.Override(context.Background(), OverrideRequest{
		StudentID: 7, MeetingID: 300, Status: model.StatusExcused,
		Reason: "medical note", Timestamp: &at,
	}, 42)
	if err != nil {
		t.Fatalf("second override: %v", err)
	}
	if rec.Status != model.StatusExcused {
		t.Fatalf("status should be EXCUSED, got %s", rec.Status)
	}
	if rec.OriginalStatus == nil || *rec.OriginalStatus != model.StatusPresent {
		t.Fatalf("original status must stay PRESENT, got %v", rec.OriginalStatus)
	}

	actions := auditor.actions()
	overrides := 0
	for _, a := range actions {
		if a == model.ActionOverride {
			overrides++
		}
	}
	if overrides != 2 {
		t.Fatalf("expected 2 override audit entries, got %d", overrides)
	}
}

func TestOverrideCreatesRecordWhenNoneExists(t *testing.T) {
	store := newFakeStore()
	seedStudent(store)
	svc := newTestService(store, &fakeAuditor{}, &fakeHub{})

	at := monday(9, 30, 0)
	rec, err := svc.Override(context.Background(), OverrideRequest{
		StudentID: 7, MeetingID: 300, Status: model.StatusExcused, Reason: "field trip", Timestamp: &at,
	}, 42)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if rec.Origin != model.OriginManualEntry {
		t.Fatalf("created record origin should be MANUAL_ENTRY, got %s", rec.Origin)
	}
	if rec.OriginalStatus != nil {
		t.Fatal("a directly-created override record has no original status")
	}
	if rec.Verification != model.VerificationVerified {
		t.Fatalf("override record should be VERIFIED, got %s", rec.Verification)
	}
}

func TestOverrideRejectsUnenrolledStudent(t *testing.T) {
	store := newFakeStore()
	student, meeting := seedStudent(store)
	store.enrolled[[2]int64{student.ID, meeting.ID}] = false
	svc := newTestService(store, &fakeAuditor{}, &fakeHub{})

	_, err := svc.Override(context.Background(), OverrideRequest{
		StudentID: 7, MeetingID: 300, Status: model.StatusAbsent,
	}, 42)
	if !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}
}

func TestOverrideUnknownMeeting(t *testing.T) {
	store := newFakeStore()
	seedStudent(store)
	svc := newTestService(store, &fakeAuditor{}, &fakeHub{})

	_, err := svc.Override(context.Background(), OverrideRequest{
		StudentID: 7, MeetingID: 9999, Status: model.StatusAbsent,
	}, 42)
	if !errors.Is(err, ErrMeetingNotFound) {
		t.Fatalf("expected ErrMeetingNotFound, got %v", err)
	}
}

func newCampusService(store *fakeStore, auditor *fakeAuditor, h *fakeHub, loc *time.Location) *Service {
	return NewService(Deps{
		Directory: store,
		Students:  store,
		Schedules: store,
		Roster:    store,
		Ledger:    store,
		Audit:     auditor,
		Hub:       h,
	}, Options{
		LateThreshold: 15 * time.Minute,
		DedupWindow:   60 * time.Second,
		StoreTimeout:  time.Second,
		Location:      loc,
	})
}

func TestIngestMatchesScheduleOnCampusClock(t *testing.T) {
	campus := time.FixedZone("UTC+8", 8*3600)
	store := newFakeStore()
	student := &model.Identity{
		ID: 7, UserID: 70, Name: "Dana Reyes",
		Role: model.RoleStudent, Status: model.IdentityActive, BadgeID: "BADGE-X",
	}
	// Early Monday meeting on the campus clock; in UTC the scan below still
	// reads Sunday evening.
	meeting := &model.ScheduleMeeting{
		ID: 301, SubjectID: 30, SubjectName: "Data Structures",
		SectionID: 55, SectionName: "BSIT-2A", InstructorID: 9,
		RoomName: "Room 204", Day: time.Monday, StartMin: 30, EndMin: 90,
		Status: model.MeetingActive, TermID: 1,
	}
	store.identities["BADGE-X"] = student
	store.inSession = []model.ScheduleMeeting{*meeting}
	svc := newCampusService(store, &fakeAuditor{}, &fakeHub{}, campus)

	// 2026-03-01T16:35Z is Monday 00:35 on campus, inside the 00:30-01:30 slot.
	res, err := svc.Ingest(context.Background(), model.ScanEvent{
		BadgeID: "BADGE-X", At: time.Date(2026, 3, 1, 16, 35, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("scan inside the campus-local window must resolve: %v", err)
	}
	if res.Record.Status != model.StatusPresent {
		t.Fatalf("00:35 campus scan should be PRESENT, got %s", res.Record.Status)
	}

	// 2026-03-01T16:50Z is Monday 00:50 on campus, past start+15m.
	store2 := newFakeStore()
	store2.identities["BADGE-X"] = student
	store2.inSession = []model.ScheduleMeeting{*meeting}
	svc2 := newCampusService(store2, &fakeAuditor{}, &fakeHub{}, campus)
	res, err = svc2.Ingest(context.Background(), model.ScanEvent{
		BadgeID: "BADGE-X", At: time.Date(2026, 3, 1, 16, 50, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("late scan must still resolve: %v", err)
	}
	if res.Record.Status != model.StatusLate {
		t.Fatalf("00:50 campus scan should be LATE, got %s", res.Record.Status)
	}
}

func TestOverrideFindsRecordAcrossUTCDayBoundary(t *testing.T) {
	campus := time.FixedZone("UTC+8", 8*3600)
	store := newFakeStore()
	student := &model.Identity{
		ID: 7, UserID: 70, Name: "Dana Reyes",
		Role: model.RoleStudent, Status: model.IdentityActive, BadgeID: "BADGE-X",
	}
	meeting := &model.ScheduleMeeting{
		ID: 302, SubjectID: 30, SubjectName: "Data Structures",
		SectionID: 55, SectionName: "BSIT-2A", InstructorID: 9,
		RoomName: "Room 204", Day: time.Tuesday, StartMin: 0, EndMin: 120,
		Status: model.MeetingActive, TermID: 1,
	}
	store.identities["BADGE-X"] = student
	store.students[student.ID] = student
	store.meetings[meeting.ID] = meeting
	store.inSession = []model.ScheduleMeeting{*meeting}
	store.enrolled[[2]int64{student.ID, meeting.ID}] = true
	svc := newCampusService(store, &fakeAuditor{}, &fakeHub{}, campus)

	// 2026-03-02T16:30Z is already Tuesday 00:30 on campus: the record keys
	// to the campus day, not the UTC one.
	scanAt := time.Date(2026, 3, 2, 16, 30, 0, 0, time.UTC)
	if _, err := svc.Ingest(context.Background(), model.ScanEvent{BadgeID: "BADGE-X", At: scanAt}); err != nil {
		t.Fatalf("seed scan: %v", err)
	}

	rec, err := svc.Override(context.Background(), OverrideRequest{
		StudentID: 7, MeetingID: 302, Status: model.StatusAbsent,
		Reason: "left early", Timestamp: &scanAt,
	}, 42)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if rec.OriginalStatus == nil || *rec.OriginalStatus != model.StatusPresent {
		t.Fatalf("override must update the scan's record, got original %v", rec.OriginalStatus)
	}
	if len(store.records) != 1 {
		t.Fatalf("override must not create a second record, got %d", len(store.records))
	}
}

func TestIngestSameDayRescanAuditsDuplicate(t *testing.T) {
	store := newFakeStore()
	seedStudent(store)
	auditor := &fakeAuditor{}
	svc := newTestService(store, auditor, &fakeHub{})

	if _, err := svc.Ingest(context.Background(), model.ScanEvent{BadgeID: "BADGE-X", At: monday(9, 5, 0)}); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	// 25 minutes later: outside the dedup window, but the day key already has
	// a row, so the commit observes it instead of creating one.
	res, err := svc.Ingest(context.Background(), model.ScanEvent{BadgeID: "BADGE-X", At: monday(9, 30, 0)})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if !res.Duplicate {
		t.Fatal("same-day rescan must report duplicate")
	}
	if len(store.records) != 1 {
		t.Fatalf("exactly one record must exist, got %d", len(store.records))
	}

	ingested, duplicates := 0, 0
	for _, a := range auditor.actions() {
		switch a {
		case model.ActionScanIngested:
			ingested++
		case model.ActionScanDuplicate:
			duplicates++
		}
	}
	if ingested != 1 || duplicates != 1 {
		t.Fatalf("expected 1 ingest and 1 duplicate audit entry, got %d and %d", ingested, duplicates)
	}
}

func TestIngestValidation(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeAuditor{}, &fakeHub{})
	_, err := svc.Ingest(context.Background(), model.ScanEvent{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty badge, got %v", err)
	}
}
