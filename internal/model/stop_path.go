package model

import "time"

// ScheduleTime is the scheduled arrival and/or departure for a timed stop,
// expressed in seconds into the service day. Either side may be absent;
// untimed stops have no ScheduleTime at all.
type ScheduleTime struct {
	ArrivalSecs   *int
	DepartureSecs *int
}

// Time returns the departure time when present, otherwise the arrival time.
// ok is false when neither is set.
func (s *ScheduleTime) Time() (secs int, ok bool) {
	if s == nil {
		return 0, false
	}
	if s.DepartureSecs != nil {
		return *s.DepartureSecs, true
	}
	if s.ArrivalSecs != nil {
		return *s.ArrivalSecs, true
	}
	return 0, false
}

// HasDeparture reports whether a scheduled departure time exists.
func (s *ScheduleTime) HasDeparture() bool {
	return s != nil && s.DepartureSecs != nil
}

// StopPath is one hop of a trip's route: the path ending at a stop.
type StopPath struct {
	StopID   string
	StopName string
	// Length is the path length in meters. May be zero for degenerate
	// schedule data; consumers must not divide by it unchecked.
	Length float64
	// WaitStop marks a layover where the driver holds until the scheduled
	// departure time instead of leaving on arrival.
	WaitStop bool
	// ScheduleTime is nil for untimed stops.
	ScheduleTime *ScheduleTime
	StopLat      float64
	StopLon      float64
	// ExpectedDwell is the expected stop duration derived from historical
	// travel-time processing, used when projecting departure-based schedule
	// adherence.
	ExpectedDwell time.Duration
}
