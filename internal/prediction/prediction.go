// Package prediction generates arrival and departure predictions for
// predictable vehicles. The concrete strategy is pluggable through the
// Generator interface and a startup-time registry keyed by configuration
// name; the package also provides the historical-lookup algorithms any
// strategy needs.
package prediction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"pulse.opentransit.org/internal/history"
	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/sched"
	"pulse.opentransit.org/internal/vehicle"
)

// Generator produces the full prediction set for a vehicle's current match.
// Returning an empty slice means no predictions could be made; that is data
// absence, not an error.
type Generator interface {
	Generate(ctx context.Context, state *vehicle.State) []model.Prediction
}

// EventRecorder receives diagnostic records for anomalous historical data
// encountered while generating predictions.
type EventRecorder interface {
	RecordPredictionEvent(event model.PredictionEvent)
}

// Config is the tuning surface for prediction generation.
type Config struct {
	// MaxTravelTime bounds how long a historical stop-to-stop travel time
	// can be before it is discarded as a data error.
	MaxTravelTime time.Duration
	// MaxDwellTime bounds historical dwell times the same way.
	MaxDwellTime time.Duration
	// LookbackDays is how many days back historical sampling may walk.
	LookbackDays int
	// DesiredSamples stops the historical walk early once this many valid
	// samples are collected.
	DesiredSamples int
	// ClosestVehicleStopsAhead is the minimum number of stops a vehicle
	// ahead must be separated by to qualify for the closest-vehicle
	// heuristic.
	ClosestVehicleStopsAhead int
	// MaxPredictionLeadTime is how far into the future predictions are
	// generated.
	MaxPredictionLeadTime time.Duration
}

// DefaultConfig mirrors the customary operational settings.
func DefaultConfig() Config {
	return Config{
		MaxTravelTime:            10 * time.Minute,
		MaxDwellTime:             10 * time.Minute,
		LookbackDays:             14,
		DesiredSamples:           5,
		ClosestVehicleStopsAhead: 2,
		MaxPredictionLeadTime:    45 * time.Minute,
	}
}

// Deps are the collaborators a Generator constructor receives. Everything is
// passed explicitly; generators must not reach for ambient state.
type Deps struct {
	History     history.Store
	Sched       sched.Model
	ServiceTime model.ServiceTime
	Filter      TravelTimeDataFilter
	Events      EventRecorder
	Config      Config
	Logger      *slog.Logger
}

// Constructor builds a Generator from its dependencies.
type Constructor func(Deps) Generator

var registry = map[string]Constructor{}

// Register makes a generator available under the given configuration name.
// Call from package init or during startup wiring, before New.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// New instantiates the generator registered under name.
func New(name string, deps Deps) (Generator, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("prediction: no generator registered as %q", name)
	}
	return ctor(deps), nil
}

func init() {
	Register("default", func(d Deps) Generator { return NewDefaultGenerator(d) })
}

// Core implements the supporting algorithms shared by prediction
// strategies: last-vehicle travel-time lookup, multi-day historical
// sampling, and the closest-vehicle-ahead heuristic.
type Core struct {
	deps Deps
}

func NewCore(deps Deps) *Core {
	if deps.Filter == nil {
		deps.Filter = BoundsFilter{Max: deps.Config.MaxTravelTime}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Core{deps: deps}
}

// LastVehicleTravelTime looks for another vehicle that recently departed the
// stop behind the given position and later arrived at its stop, and returns
// the observed travel time between them. The stop histories are pre-sorted
// by time, so the first qualifying departure is the most relevant one. A
// pair implying a non-positive travel time is recorded as a PredictionEvent
// and discarded. Returns nil when no usable pair exists.
func (c *Core) LastVehicleTravelTime(ctx context.Context, state *vehicle.State, indices model.Indices) *model.TravelTimeDetails {
	departure, arrival := c.lastVehiclePair(ctx, state, indices)
	if departure == nil || arrival == nil {
		return nil
	}

	details := &model.TravelTimeDetails{
		Departure:     departure,
		Arrival:       arrival,
		MaxTravelTime: c.deps.Config.MaxTravelTime,
	}
	if details.TravelTime() > 0 {
		return details
	}

	if c.deps.Events != nil {
		c.deps.Events.RecordPredictionEvent(model.PredictionEvent{
			VehicleID: state.VehicleID,
			Time:      state.Match.AvlTime,
			AvlTime:   state.Match.AvlTime,
			EventType: model.PredictionEventTravelTime,
			Description: fmt.Sprintf("vehicle %s departed %s at %s and arrived %s at %s",
				departure.VehicleID, departure.StopID, departure.Time.Format(time.RFC3339),
				arrival.StopID, arrival.Time.Format(time.RFC3339)),
			ArrivalStopID:      arrival.StopID,
			DepartureStopID:    departure.StopID,
			ReferenceVehicleID: arrival.VehicleID,
			ArrivalTime:        arrival.Time,
			DepartureTime:      departure.Time,
		})
	}
	return nil
}

// LastVehicleIndices resolves the position of the vehicle found by the
// last-vehicle lookup, so a strategy can continue reasoning from where that
// vehicle got to. ok is false when there is no usable pair or the pair's
// block cannot be resolved.
func (c *Core) LastVehicleIndices(ctx context.Context, state *vehicle.State, indices model.Indices) (model.Indices, bool) {
	departure, arrival := c.lastVehiclePair(ctx, state, indices)
	if departure == nil || arrival == nil {
		return model.Indices{}, false
	}
	if !arrival.Time.After(departure.Time) {
		// Going backwards in time; junk data.
		return model.Indices{}, false
	}
	block, ok := c.deps.Sched.Block(departure.ServiceID, departure.BlockID)
	if !ok {
		return model.Indices{}, false
	}
	return model.Indices{
		Block:         block,
		TripIndex:     departure.TripIndex,
		StopPathIndex: arrival.StopPathIndex,
	}, true
}

// lastVehiclePair scans the stop histories for the departure/arrival pair
// the last-vehicle algorithms share. Both results are nil when no pair
// qualifies.
func (c *Core) lastVehiclePair(ctx context.Context, state *vehicle.State, indices model.Indices) (departure, arrival *model.ArrivalDeparture) {
	if indices.AtBeginningOfTrip() {
		// No previous stop to measure from on the first stop path.
		return nil, nil
	}
	match := state.Match
	trip := state.Trip()
	if match == nil || trip == nil {
		return nil, nil
	}
	day := c.deps.ServiceTime.Day(match.AvlTime)

	prevStopID := indices.PreviousStopPath().StopID
	currentStopList, err := c.deps.History.StopHistory(ctx, prevStopID, day)
	if err != nil {
		c.deps.Logger.Warn("stop history lookup failed",
			slog.String("stop_id", prevStopID), slog.Any("error", err))
		return nil, nil
	}
	nextStopID := indices.StopPath().StopID
	nextStopList, err := c.deps.History.StopHistory(ctx, nextStopID, day)
	if err != nil {
		c.deps.Logger.Warn("stop history lookup failed",
			slog.String("stop_id", nextStopID), slog.Any("error", err))
		return nil, nil
	}

	for _, event := range currentStopList {
		if !event.IsDeparture() || event.VehicleID == state.VehicleID {
			continue
		}
		if trip.DirectionID != "" && trip.DirectionID != event.DirectionID {
			continue
		}
		// First qualifying departure decides; if its vehicle never arrived
		// at the target stop there is no usable pair.
		if found := findArrival(nextStopList, event); found != nil {
			return event, found
		}
		return nil, nil
	}
	return nil, nil
}

// findArrival returns the arrival by the same vehicle on the same trip as
// the given departure, or nil.
func findArrival(events []*model.ArrivalDeparture, departure *model.ArrivalDeparture) *model.ArrivalDeparture {
	for _, event := range events {
		if event.IsArrival() &&
			event.VehicleID == departure.VehicleID &&
			event.TripID == departure.TripID {
			return event
		}
	}
	return nil
}

// LastDaysTimes samples the travel time into the given stop path from prior
// runs of the trip, walking backward day by day. The walk is bounded by
// lookbackDays and stops early once numDays valid samples are found. A
// sample is valid when the arrival at the stop path has a preceding
// departure, the travel time passes the sanity bound, and the injected
// filter does not reject the pair.
func (c *Core) LastDaysTimes(ctx context.Context, tripID string, stopPathIndex int, startDate time.Time, startTimeSecs, lookbackDays, numDays int) []model.TravelTimeDetails {
	var times []model.TravelTimeDetails
	for i := 0; i < lookbackDays && len(times) < numDays; i++ {
		day := c.deps.ServiceTime.Day(startDate.AddDate(0, 0, -(i + 1)))

		events, err := c.deps.History.TripHistory(ctx, tripID, day, startTimeSecs)
		if err != nil {
			c.deps.Logger.Warn("trip history lookup failed",
				slog.String("trip_id", tripID), slog.Any("error", err))
			continue
		}
		arrival := arrivalAt(events, stopPathIndex)
		if arrival == nil {
			continue
		}
		departure := previousDeparture(events, arrival)
		if departure == nil {
			continue
		}

		details := model.TravelTimeDetails{
			Departure:     departure,
			Arrival:       arrival,
			MaxTravelTime: c.deps.Config.MaxTravelTime,
		}
		if details.TravelTime() == model.TravelTimeSentinel {
			continue
		}
		if c.deps.Filter.Filter(departure, arrival) {
			continue
		}
		times = append(times, details)
	}
	return times
}

func arrivalAt(events []*model.ArrivalDeparture, stopPathIndex int) *model.ArrivalDeparture {
	for _, event := range events {
		if event.IsArrival() && event.StopPathIndex == stopPathIndex {
			return event
		}
	}
	return nil
}

// previousDeparture finds the departure from the stop path just before the
// given arrival's, by the same run.
func previousDeparture(events []*model.ArrivalDeparture, arrival *model.ArrivalDeparture) *model.ArrivalDeparture {
	sorted := make([]*model.ArrivalDeparture, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	for _, event := range sorted {
		if event.IsDeparture() && event.StopPathIndex == arrival.StopPathIndex-1 {
			return event
		}
	}
	return nil
}

// ClosestVehicleAhead picks, from the candidate vehicles on the route, the
// one nearest ahead of the current vehicle by stop count along orderedStops
// (the route's stops for the trip's direction). Vehicles closer than the
// configured minimum stop gap are excluded; nil when none qualifies.
func (c *Core) ClosestVehicleAhead(candidates []*vehicle.State, current *vehicle.State, orderedStops []string) *vehicle.State {
	currentSP := current.Match.StopPath()
	if currentSP == nil {
		return nil
	}

	const farAway = 100
	closest := farAway
	var result *vehicle.State
	for _, candidate := range candidates {
		if candidate.VehicleID == current.VehicleID || candidate.Match == nil {
			continue
		}
		candidateSP := candidate.Match.StopPath()
		if candidateSP == nil {
			continue
		}
		gap, ok := stopsApart(orderedStops, candidateSP.StopID, currentSP.StopID)
		if !ok {
			continue
		}
		if gap > c.deps.Config.ClosestVehicleStopsAhead && gap < closest {
			closest = gap
			result = candidate
		}
	}
	return result
}

// stopsApart returns how many route-ordered stops stop1 is beyond stop2.
// ok is false when either stop is not on the route.
func stopsApart(stops []string, stop1, stop2 string) (int, bool) {
	i1, i2 := -1, -1
	for i, s := range stops {
		if s == stop1 {
			i1 = i
		}
		if s == stop2 {
			i2 = i
		}
	}
	if i1 < 0 || i2 < 0 {
		return 0, false
	}
	return i1 - i2, true
}

// OrderedStopsForTrip returns the trip's stop IDs in travel order, for use
// with ClosestVehicleAhead.
func OrderedStopsForTrip(trip *model.Trip) []string {
	stops := make([]string, 0, len(trip.StopPaths))
	for _, sp := range trip.StopPaths {
		stops = append(stops, sp.StopID)
	}
	return stops
}
