package model

import "time"

// Calendar reports which GTFS service IDs run on a given calendar day.
// Implemented by the schedule model; injected wherever service-day reasoning
// is needed instead of being reached through global state.
type Calendar interface {
	ServiceIDsForDay(t time.Time) []string
}

// ServiceTime converts between wall-clock instants and GTFS time-of-day
// seconds in the agency's timezone. Schedule times may be negative or exceed
// 24h to express trips spanning midnight, so conversions are always relative
// to a reference instant.
type ServiceTime struct {
	Location *time.Location
}

// NewServiceTime returns a ServiceTime for the given timezone. A nil location
// means UTC.
func NewServiceTime(loc *time.Location) ServiceTime {
	if loc == nil {
		loc = time.UTC
	}
	return ServiceTime{Location: loc}
}

// StartOfDay returns midnight of t's calendar day in the agency timezone.
func (st ServiceTime) StartOfDay(t time.Time) time.Time {
	local := t.In(st.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, st.Location)
}

// SecondsIntoDay returns how many seconds past midnight t is in the agency
// timezone.
func (st ServiceTime) SecondsIntoDay(t time.Time) int {
	return int(t.Sub(st.StartOfDay(t)) / time.Second)
}

// EpochTime maps a time-of-day value to the epoch instant closest to the
// reference time. A block active past midnight reports times >24h for its
// day, so the naive "midnight plus seconds" answer can be a day off; picking
// the candidate nearest the reference resolves that.
func (st ServiceTime) EpochTime(secondsIntoDay int, reference time.Time) time.Time {
	candidate := st.StartOfDay(reference).Add(time.Duration(secondsIntoDay) * time.Second)

	if diff := candidate.Sub(reference); diff > 12*time.Hour {
		candidate = candidate.Add(-24 * time.Hour)
	} else if diff < -12*time.Hour {
		candidate = candidate.Add(24 * time.Hour)
	}
	return candidate
}

// Day truncates t to its calendar day in the agency timezone, for use as a
// historical-data key.
func (st ServiceTime) Day(t time.Time) time.Time {
	return st.StartOfDay(t)
}
