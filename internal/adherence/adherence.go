// Package adherence computes real-time schedule adherence for predictable
// vehicles: how early or late a vehicle is relative to its schedule, both
// for the next timed stop and as an "effective" position on the schedule.
package adherence

import (
	"log/slog"
	"time"

	"pulse.opentransit.org/internal/history"
	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/vehicle"
)

// Processor derives schedule adherence from a vehicle's current match.
type Processor struct {
	st        model.ServiceTime
	estimator history.TravelTimeEstimator
	logger    *slog.Logger
}

func NewProcessor(st model.ServiceTime, estimator history.TravelTimeEstimator, logger *slog.Logger) *Processor {
	return &Processor{
		st:        st,
		estimator: estimator,
		logger:    logger.With(slog.String("component", "sched_adherence")),
	}
}

// Generate returns the vehicle's current schedule adherence, positive when
// early and negative when late. ok is false when the vehicle is not
// predictable, has no match, or no upcoming stop has a schedule time.
//
// A vehicle at a stop with a scheduled departure gets the adherence for that
// stop directly; a wait stop reads as exactly on time until the departure
// time passes, since the driver holds there. Otherwise the adherence is
// projected onto the next timed stop using the expected travel time, which
// keeps the value moving while the vehicle is between stops.
func (p *Processor) Generate(state *vehicle.State) (time.Duration, bool) {
	if !state.Predictable || state.Match == nil || state.AvlReport == nil {
		return 0, false
	}
	match := state.Match
	avlTime := state.AvlReport.Time

	if stopInfo := match.AtStopInfo; stopInfo != nil {
		schedTime := stopInfo.ScheduleTime()
		if schedTime != nil && schedTime.HasDeparture() {
			departure := p.st.EpochTime(*schedTime.DepartureSecs, avlTime)
			if stopInfo.IsWaitStop() && avlTime.Before(departure) {
				// Holding for the scheduled departure counts as on time.
				return 0, true
			}
			return departure.Sub(avlTime), true
		}
	}

	// Not at a timed stop; project onto the next stop that has a schedule
	// time.
	target := match.MatchAtNextStopWithScheduleTime()
	if target == nil {
		return 0, false
	}
	targetSP := target.StopPath()
	schedSecs, ok := targetSP.ScheduleTime.Time()
	if !ok {
		return 0, false
	}

	travelTime, ok := p.estimator.ExpectedTravelTime(state.VehicleID, avlTime, match, target)
	if !ok {
		return 0, false
	}
	// A departure-based schedule time includes the stop's dwell.
	if targetSP.ScheduleTime.HasDeparture() {
		travelTime += targetSP.ExpectedDwell
	}

	expectedArrival := avlTime.Add(travelTime)
	departure := p.st.EpochTime(schedSecs, avlTime)
	diff := departure.Sub(expectedArrival)
	p.logger.Debug("projected schedule adherence",
		slog.String("vehicle_id", state.VehicleID),
		slog.String("stop_id", targetSP.StopID),
		slog.Duration("adherence", diff))
	return diff, true
}

// EffectiveScheduleDifference reports where the vehicle's position falls on
// the schedule, positive when behind (late) and negative when ahead. Unlike
// Generate it is defined by position rather than by the next stop, which is
// what fleet-wide views want.
//
// Before the first stop of a trip the difference is zero, except when the
// previous trip of the block has already ended, in which case the vehicle is
// counted as ahead by the gap since that trip's end. At a stop it is simply
// the time since the stop's scheduled time. Between stops the scheduled time
// is interpolated by distance along the stop path, since schedule times only
// exist at stops.
func (p *Processor) EffectiveScheduleDifference(state *vehicle.State) (time.Duration, bool) {
	match := state.Match
	if match == nil {
		return 0, false
	}
	trip := match.Trip()
	if trip == nil {
		return 0, false
	}
	avlTime := match.AvlTime

	// The first stop path covers both "before the trip" and a layover at
	// the first stop.
	if match.StopPathIndex == 0 {
		schedTime := trip.ScheduleTime(0)
		if schedTime == nil {
			return 0, false
		}
		secs, ok := schedTime.Time()
		if !ok {
			return 0, false
		}
		departure := p.st.EpochTime(secs, avlTime)
		diff := avlTime.Sub(departure)
		if diff < 0 {
			// Trip not started yet. On time, unless the previous trip of
			// the block already ended and the vehicle is running ahead.
			diff = 0
			if match.TripIndex > 0 {
				prevTrip := match.Block.Trip(match.TripIndex - 1)
				prevEnd := p.st.EpochTime(prevTrip.EndTimeSecs, avlTime)
				if ahead := avlTime.Sub(prevEnd); ahead < 0 {
					diff = ahead
				}
			}
		}
		return diff, true
	}

	if match.IsAtStop() {
		schedTime := match.AtStopInfo.ScheduleTime()
		if schedTime == nil {
			return 0, false
		}
		secs, ok := schedTime.Time()
		if !ok {
			return 0, false
		}
		return avlTime.Sub(p.st.EpochTime(secs, avlTime)), true
	}

	secs, ok := match.InterpolatedScheduleSecs()
	if !ok {
		return 0, false
	}
	return avlTime.Sub(p.st.EpochTime(secs, avlTime)), true
}
