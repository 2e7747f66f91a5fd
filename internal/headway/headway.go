// Package headway measures the gap between a vehicle and the vehicle ahead
// of it on the same route. The default implementation compares departure
// times at the stop the vehicle most recently left.
package headway

import (
	"context"
	"log/slog"
	"time"

	"pulse.opentransit.org/internal/history"
	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/vehicle"
)

// Generator computes the headway for a vehicle's current position. A nil
// result means no headway could be determined, which callers treat as "do
// not persist anything".
type Generator interface {
	Generate(ctx context.Context, state *vehicle.State) *model.Headway
}

// NoOp never produces a headway. The default when headway generation is not
// wanted.
type NoOp struct{}

func (NoOp) Generate(context.Context, *vehicle.State) *model.Headway { return nil }

// LastDeparture derives the headway from when this vehicle and the vehicle
// ahead each departed the stop the vehicle most recently passed.
type LastDeparture struct {
	store  history.Store
	st     model.ServiceTime
	logger *slog.Logger

	// MaxDepartureAge rejects headways whose own departure is too stale to
	// mean anything.
	MaxDepartureAge time.Duration
	// MaxEventsBack rejects headways when this vehicle's departure sits too
	// deep in the stop history, which indicates stale or duplicated data.
	MaxEventsBack int
}

func NewLastDeparture(store history.Store, st model.ServiceTime, logger *slog.Logger) *LastDeparture {
	return &LastDeparture{
		store:           store,
		st:              st,
		logger:          logger.With(slog.String("component", "headway")),
		MaxDepartureAge: 20 * time.Minute,
		MaxEventsBack:   5,
	}
}

func (g *LastDeparture) Generate(ctx context.Context, state *vehicle.State) *model.Headway {
	match := state.Match
	trip := state.Trip()
	if match == nil || trip == nil {
		return nil
	}
	prevSP := match.Indices().PreviousStopPath()
	if prevSP == nil {
		// Still on the first stop path; no stop has been departed yet.
		return nil
	}
	stopID := prevSP.StopID
	avlTime := match.AvlTime

	events, err := g.store.StopHistory(ctx, stopID, g.st.Day(avlTime))
	if err != nil {
		g.logger.Warn("stop history lookup failed",
			slog.String("stop_id", stopID), slog.Any("error", err))
		return nil
	}

	// Walk the history newest first: this vehicle's most recent departure,
	// then the preceding departure by a different vehicle in the same
	// direction, which is the vehicle ahead.
	eventsBack := 0
	var own, ahead *model.ArrivalDeparture
	for i := len(events) - 1; i >= 0 && ahead == nil; i-- {
		event := events[i]
		if !event.IsDeparture() || event.StopID != stopID {
			continue
		}
		if trip.DirectionID != "" && trip.DirectionID != event.DirectionID {
			continue
		}
		if event.VehicleID == state.VehicleID {
			if own == nil {
				own = event
				eventsBack = len(events) - 1 - i
			}
			continue
		}
		if own != nil {
			ahead = event
		}
	}
	if own == nil || ahead == nil {
		return nil
	}

	gap := own.Time.Sub(ahead.Time)
	if gap < 0 {
		gap = -gap
	}

	// Junk guard: a departure long before the report, or one buried deep in
	// the stop history, is stale data rather than a live headway.
	if avlTime.Sub(own.Time) > g.MaxDepartureAge || eventsBack > g.MaxEventsBack {
		return nil
	}

	headway := &model.Headway{
		VehicleID:       state.VehicleID,
		AheadVehicleID:  ahead.VehicleID,
		Gap:             gap,
		CreationTime:    avlTime,
		StopID:          stopID,
		TripID:          trip.ID,
		RouteID:         trip.RouteID,
		FirstDeparture:  ahead.Time,
		SecondDeparture: own.Time,
	}
	// Unchanged headway is not re-reported.
	if prev := state.Headway; prev != nil &&
		prev.AheadVehicleID == headway.AheadVehicleID &&
		prev.StopID == headway.StopID &&
		prev.Gap == headway.Gap {
		return nil
	}
	return headway
}
