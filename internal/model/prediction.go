package model

import "time"

// Prediction is a single predicted arrival or departure at a stop. Immutable
// once generated; a new match supersedes, never mutates, prior predictions.
type Prediction struct {
	VehicleID    string
	RouteID      string
	StopID       string
	TripID       string
	BlockID      string
	StopSequence int
	// Time is the predicted arrival/departure instant.
	Time time.Time
	// AvlTime is the timestamp of the AVL report the prediction is based on.
	AvlTime   time.Time
	IsArrival bool
	// AffectedByWaitStop is set when a layover between here and the vehicle
	// makes the prediction departure-time bound rather than travel bound.
	AffectedByWaitStop bool
	// SchedBasedPred marks predictions from a synthetic schedule-based
	// vehicle.
	SchedBasedPred bool
}

// LeadTime returns how far ahead of the AVL report the prediction points.
func (p Prediction) LeadTime() time.Duration {
	return p.Time.Sub(p.AvlTime)
}

// Headway is the computed gap between a vehicle and the vehicle ahead of it
// on the same route and direction.
type Headway struct {
	VehicleID string
	// AheadVehicleID is the vehicle in front that the gap is measured to.
	AheadVehicleID string
	Gap            time.Duration
	CreationTime   time.Time
	StopID         string
	TripID         string
	RouteID        string
	// FirstDeparture is when the ahead vehicle left the stop;
	// SecondDeparture is when this vehicle did.
	FirstDeparture  time.Time
	SecondDeparture time.Time
}
