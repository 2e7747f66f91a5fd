// Package history provides access to historical arrival/departure data used
// for travel-time statistics: the Store interface consumed by the prediction
// pipeline and a SQLite-backed implementation that also records the events
// and matches the pipeline produces.
package history

import (
	"context"
	"time"

	"pulse.opentransit.org/internal/model"
)

// Store serves historical arrival/departure events. Both queries return
// events sorted by time ascending; an empty result is data absence, not an
// error.
type Store interface {
	// StopHistory returns the events at a stop for a calendar day.
	StopHistory(ctx context.Context, stopID string, day time.Time) ([]*model.ArrivalDeparture, error)
	// TripHistory returns the events of one trip run, identified by trip ID,
	// calendar day, and the trip's scheduled start time.
	TripHistory(ctx context.Context, tripID string, day time.Time, startTimeSecs int) ([]*model.ArrivalDeparture, error)
}

// TravelTimeEstimator predicts how long a vehicle will take to get from one
// match position to another. ok is false when no estimate is available and
// the caller should fall back to schedule-only reasoning.
type TravelTimeEstimator interface {
	ExpectedTravelTime(vehicleID string, now time.Time, from, to *model.Match) (time.Duration, bool)
}

// ScheduleTravelTimeEstimator estimates travel time from the schedule alone:
// the difference between the target stop's scheduled time and the schedule
// time interpolated at the vehicle's current position. Used when no
// historical model is plugged in.
type ScheduleTravelTimeEstimator struct {
	ServiceTime model.ServiceTime
}

func (e ScheduleTravelTimeEstimator) ExpectedTravelTime(vehicleID string, now time.Time, from, to *model.Match) (time.Duration, bool) {
	toSP := to.StopPath()
	if toSP == nil {
		return 0, false
	}
	toSecs, ok := toSP.ScheduleTime.Time()
	if !ok {
		return 0, false
	}

	fromSecs, ok := from.InterpolatedScheduleSecs()
	if !ok {
		// Before the first timed stop of the trip: measure from the trip
		// start.
		trip := from.Trip()
		if trip == nil {
			return 0, false
		}
		fromSecs = trip.StartTimeSecs
	}

	expected := time.Duration(toSecs-fromSecs) * time.Second
	if expected < 0 {
		expected = 0
	}
	return expected, true
}
