package matchproc

import (
	"log/slog"
	"time"

	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/vehicle"
)

// ArrivalDepartureGenerator derives arrival/departure events from the
// vehicle's progress between its previous and current match.
type ArrivalDepartureGenerator interface {
	Generate(state *vehicle.State) []*model.ArrivalDeparture
}

// TransitionGenerator is the stock ArrivalDepartureGenerator: every stop the
// vehicle passed between the previous match and the current one produces an
// arrival and a departure, with times interpolated between the two AVL
// timestamps. A match that moves backwards in the schedule is logged and
// discarded.
type TransitionGenerator struct {
	logger *slog.Logger
}

func NewTransitionGenerator(logger *slog.Logger) *TransitionGenerator {
	return &TransitionGenerator{logger: logger.With(slog.String("component", "arrivals_departures"))}
}

func (g *TransitionGenerator) Generate(state *vehicle.State) []*model.ArrivalDeparture {
	match := state.Match
	if match == nil || match.Trip() == nil {
		return nil
	}
	prev := state.PreviousMatch

	// First match for this assignment: only a stop arrival can be known.
	if prev == nil || prev.Block != match.Block {
		if match.IsAtStop() {
			return []*model.ArrivalDeparture{event(match.Indices(), state, true, match.AvlTime)}
		}
		return nil
	}

	prevIdx := prev.Indices()
	curIdx := match.Indices()

	if curIdx.TripIndex < prevIdx.TripIndex ||
		(curIdx.TripIndex == prevIdx.TripIndex && curIdx.StopPathIndex < prevIdx.StopPathIndex) {
		g.logger.Warn("match went backwards in schedule, discarding transition",
			slog.String("vehicle_id", state.VehicleID),
			slog.Int("prev_trip_index", prevIdx.TripIndex),
			slog.Int("prev_stop_path_index", prevIdx.StopPathIndex),
			slog.Int("trip_index", curIdx.TripIndex),
			slog.Int("stop_path_index", curIdx.StopPathIndex))
		return nil
	}

	// Every advance from one stop path to the next means the stop at the
	// end of the left-behind path was passed.
	var crossed []model.Indices
	for idx := prevIdx; idx != curIdx; {
		crossed = append(crossed, idx)
		next, ok := idx.Next()
		if !ok {
			break
		}
		idx = next
	}

	var events []*model.ArrivalDeparture
	span := match.AvlTime.Sub(prev.AvlTime)
	for i, idx := range crossed {
		fraction := float64(i+1) / float64(len(crossed)+1)
		at := prev.AvlTime.Add(time.Duration(fraction * float64(span)))
		if !(i == 0 && prev.IsAtStop()) {
			// Arrival was already recorded when the vehicle got there.
			events = append(events, event(idx, state, true, at))
		}
		events = append(events, event(idx, state, false, at))
	}

	if match.IsAtStop() && !(curIdx == prevIdx && prev.IsAtStop()) {
		events = append(events, event(curIdx, state, true, match.AvlTime))
	}
	return events
}

func event(idx model.Indices, state *vehicle.State, arrival bool, at time.Time) *model.ArrivalDeparture {
	trip := idx.Trip()
	sp := idx.StopPath()
	return &model.ArrivalDeparture{
		VehicleID:     state.VehicleID,
		StopID:        sp.StopID,
		TripID:        trip.ID,
		BlockID:       idx.Block.ID,
		ServiceID:     idx.Block.ServiceID,
		RouteID:       trip.RouteID,
		DirectionID:   trip.DirectionID,
		TripIndex:     idx.TripIndex,
		StopPathIndex: idx.StopPathIndex,
		Arrival:       arrival,
		Time:          at,
	}
}
