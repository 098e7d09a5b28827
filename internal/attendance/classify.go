package attendance

import (
	"time"

	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/model"
)

// DefaultLateThreshold is how far past a meeting's start a scan may arrive
// and still count as PRESENT.
const DefaultLateThreshold = 15 * time.Minute

// Classify returns PRESENT or LATE for a scan against a meeting start time.
// Exactly at the threshold is still PRESENT; one second past is LATE.
func Classify(meetingStart, scanTime time.Time, lateThreshold time.Duration) model.AttendanceStatus {
	if lateThreshold <= 0 {
		lateThreshold = DefaultLateThreshold
	}
	if scanTime.After(meetingStart.Add(lateThreshold)) {
		return model.StatusLate
	}
	return model.StatusPresent
}
