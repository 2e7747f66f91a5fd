package prediction

import (
	"context"
	"log/slog"
	"time"

	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/vehicle"
)

// DefaultGenerator is the stock prediction strategy: it walks the block
// forward from the vehicle's match, estimating each stop-to-stop leg from
// recent history (multi-day samples first, then the last vehicle through)
// and falling back to scheduled times, emitting an arrival and a departure
// prediction per stop until the lead-time horizon.
type DefaultGenerator struct {
	*Core
}

func NewDefaultGenerator(deps Deps) *DefaultGenerator {
	return &DefaultGenerator{Core: NewCore(deps)}
}

func (g *DefaultGenerator) Generate(ctx context.Context, state *vehicle.State) []model.Prediction {
	match := state.Match
	if !state.Predictable || match == nil || match.Trip() == nil {
		return nil
	}
	avlTime := match.AvlTime
	indices := match.Indices()

	// Remaining portion of the current stop path.
	leg, ok := g.legTravelTime(ctx, state, indices, avlTime)
	if !ok {
		g.deps.Logger.Debug("no travel time for current stop path",
			slog.String("vehicle_id", state.VehicleID))
		return nil
	}
	fraction := 1.0
	if sp := indices.StopPath(); sp.Length > 0 {
		fraction = 1 - match.DistanceAlongPath/sp.Length
		if fraction < 0 {
			fraction = 0
		} else if fraction > 1 {
			fraction = 1
		}
	}
	predTime := avlTime.Add(time.Duration(fraction * float64(leg)))

	horizon := avlTime.Add(g.deps.Config.MaxPredictionLeadTime)
	affectedByWaitStop := false
	var preds []model.Prediction

	for {
		if predTime.After(horizon) {
			break
		}
		sp := indices.StopPath()
		trip := indices.Trip()
		preds = append(preds, model.Prediction{
			VehicleID:          state.VehicleID,
			RouteID:            trip.RouteID,
			StopID:             sp.StopID,
			TripID:             trip.ID,
			BlockID:            match.Block.ID,
			StopSequence:       indices.StopPathIndex,
			Time:               predTime,
			AvlTime:            avlTime,
			IsArrival:          true,
			AffectedByWaitStop: affectedByWaitStop,
			SchedBasedPred:     state.ForSchedBasedPreds,
		})

		departTime := predTime.Add(sp.ExpectedDwell)
		if sp.WaitStop {
			// The driver holds at a wait stop until the scheduled departure.
			if sp.ScheduleTime != nil && sp.ScheduleTime.HasDeparture() {
				scheduled := g.deps.ServiceTime.EpochTime(*sp.ScheduleTime.DepartureSecs, avlTime)
				if scheduled.After(departTime) {
					departTime = scheduled
				}
			}
			affectedByWaitStop = true
		}

		next, hasNext := indices.Next()
		if !hasNext {
			// Terminal stop of the block; nothing departs from it.
			break
		}
		preds = append(preds, model.Prediction{
			VehicleID:          state.VehicleID,
			RouteID:            trip.RouteID,
			StopID:             sp.StopID,
			TripID:             trip.ID,
			BlockID:            match.Block.ID,
			StopSequence:       indices.StopPathIndex,
			Time:               departTime,
			AvlTime:            avlTime,
			IsArrival:          false,
			AffectedByWaitStop: affectedByWaitStop,
			SchedBasedPred:     state.ForSchedBasedPreds,
		})

		indices = next
		leg, ok = g.legTravelTime(ctx, state, indices, avlTime)
		if !ok {
			break
		}
		predTime = departTime.Add(leg)
	}
	return preds
}

// legTravelTime estimates how long the vehicle takes to traverse the stop
// path at indices: averaged multi-day history if available, else the last
// vehicle through, else the scheduled time difference. ok is false when no
// source can provide an estimate.
func (g *DefaultGenerator) legTravelTime(ctx context.Context, state *vehicle.State, indices model.Indices, avlTime time.Time) (time.Duration, bool) {
	trip := indices.Trip()
	if trip == nil {
		return 0, false
	}

	samples := g.LastDaysTimes(ctx, trip.ID, indices.StopPathIndex, avlTime,
		trip.StartTimeSecs, g.deps.Config.LookbackDays, g.deps.Config.DesiredSamples)
	if len(samples) > 0 {
		var totalMs int64
		for _, s := range samples {
			totalMs += s.TravelTime()
		}
		return time.Duration(totalMs/int64(len(samples))) * time.Millisecond, true
	}

	if details := g.LastVehicleTravelTime(ctx, state, indices); details != nil {
		return time.Duration(details.TravelTime()) * time.Millisecond, true
	}

	return scheduledLegTime(indices, trip)
}

// scheduledLegTime derives the leg time from the schedule: the difference
// between this stop's time and the previous timed stop's (or the trip start
// on the first stop path). No-schedule trips have neither, so ok is false.
func scheduledLegTime(indices model.Indices, trip *model.Trip) (time.Duration, bool) {
	sp := indices.StopPath()
	if sp == nil || sp.ScheduleTime == nil {
		return 0, false
	}
	toSecs, ok := sp.ScheduleTime.Time()
	if !ok {
		return 0, false
	}

	fromSecs := trip.StartTimeSecs
	if prev := indices.PreviousStopPath(); prev != nil {
		if prevSecs, ok := prev.ScheduleTime.Time(); ok {
			fromSecs = prevSecs
		}
	}

	secs := toSecs - fromSecs
	if secs < 0 {
		secs = 0
	}
	return time.Duration(secs) * time.Second, true
}
