// Package schedule finds the class meeting in session for an identity at a
// point in time.
package schedule

import (
	"context"
	"log"
	"time"

	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/model"
)

// MeetingSource lists ACTIVE current-term meetings for an identity that are
// in session at the given weekday and minute-of-day, ordered by start time.
type MeetingSource interface {
	MeetingsInSession(ctx context.Context, identity *model.Identity, day time.Weekday, minuteOfDay int) ([]model.ScheduleMeeting, error)
}

// Resolver picks the current meeting for an identity. A well-formed schedule
// yields at most one match; overlaps resolve to the earliest-starting meeting
// and are logged as a warning, never treated as an error.
type Resolver struct {
	src MeetingSource
}

// NewResolver creates a resolver over a meeting source.
func NewResolver(src MeetingSource) *Resolver {
	return &Resolver{src: src}
}

// CurrentMeeting returns the meeting in session at at, or (nil, nil) when the
// identity is not currently in any session. at must already be on the campus
// clock; meeting windows are minutes from campus midnight.
func (r *Resolver) CurrentMeeting(ctx context.Context, identity *model.Identity, at time.Time) (*model.ScheduleMeeting, error) {
	minute := at.Hour()*60 + at.Minute()
	meetings, err := r.src.MeetingsInSession(ctx, identity, at.Weekday(), minute)
	if err != nil {
		return nil, err
	}
	if len(meetings) == 0 {
		return nil, nil
	}
	if len(meetings) > 1 {
		log.Printf("schedule: %d overlapping meetings for user %d at %s, using earliest start (meeting %d)",
			len(meetings), identity.UserID, at.Format(time.RFC3339), meetings[0].ID)
	}
	m := meetings[0]
	return &m, nil
}
