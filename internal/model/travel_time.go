package model

import (
	"log/slog"
	"time"
)

// TravelTimeSentinel is returned by TravelTime and DwellTime when the event
// pair is missing, mis-typed, or fails the sanity bound. Callers treat it as
// "no value available", never as an error.
const TravelTimeSentinel = int64(-1)

// TravelTimeDetails pairs a departure from one stop with a later arrival at
// another, defining an observed travel time between them.
type TravelTimeDetails struct {
	Departure *ArrivalDeparture
	Arrival   *ArrivalDeparture
	// MaxTravelTime bounds how long a sane travel time can be; longer pairs
	// are treated as data errors. Zero means no bound.
	MaxTravelTime time.Duration
}

// TravelTime returns the elapsed time in milliseconds between the departure
// and the arrival, or TravelTimeSentinel when either event is nil, the event
// types are swapped, or the elapsed time exceeds MaxTravelTime.
func (d TravelTimeDetails) TravelTime() int64 {
	if !d.Departure.IsDeparture() || !d.Arrival.IsArrival() {
		return TravelTimeSentinel
	}
	elapsed := d.Arrival.Time.Sub(d.Departure.Time)
	if d.MaxTravelTime > 0 && elapsed > d.MaxTravelTime {
		slog.Warn("travel time outside bounds",
			slog.String("vehicle_id", d.Departure.VehicleID),
			slog.String("from_stop", d.Departure.StopID),
			slog.String("to_stop", d.Arrival.StopID),
			slog.Duration("elapsed", elapsed),
			slog.Duration("max", d.MaxTravelTime))
		return TravelTimeSentinel
	}
	return elapsed.Milliseconds()
}

// DwellTimeDetails pairs an arrival at a stop with the following departure
// from the same stop, defining an observed dwell time.
type DwellTimeDetails struct {
	Arrival   *ArrivalDeparture
	Departure *ArrivalDeparture
	// MaxDwellTime bounds how long a sane dwell can be. Zero means no bound.
	MaxDwellTime time.Duration
}

// DwellTime returns the time in milliseconds spent at the stop, or
// TravelTimeSentinel when either event is nil, mis-typed, the departure
// precedes the arrival, or the dwell exceeds MaxDwellTime.
func (d DwellTimeDetails) DwellTime() int64 {
	if !d.Arrival.IsArrival() || !d.Departure.IsDeparture() {
		return TravelTimeSentinel
	}
	dwell := d.Departure.Time.Sub(d.Arrival.Time)
	if dwell < 0 {
		slog.Warn("dwell time implies departure before arrival",
			slog.String("vehicle_id", d.Arrival.VehicleID),
			slog.String("stop", d.Arrival.StopID))
		return TravelTimeSentinel
	}
	if d.MaxDwellTime > 0 && dwell > d.MaxDwellTime {
		slog.Warn("dwell time outside bounds",
			slog.String("vehicle_id", d.Arrival.VehicleID),
			slog.String("stop", d.Arrival.StopID),
			slog.Duration("dwell", dwell),
			slog.Duration("max", d.MaxDwellTime))
		return TravelTimeSentinel
	}
	return dwell.Milliseconds()
}
