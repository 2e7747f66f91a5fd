package model

import "time"

// Vehicle event types.
const (
	VehicleEventTimeout       = "Timeout"
	VehicleEventUnpredictable = "Unpredictable"
	VehicleEventPredictable   = "Predictable"
	VehicleEventNoAssignment  = "No assignment"
	VehicleEventTripCanceled  = "Trip canceled"
)

// Prediction event types.
const (
	PredictionEventTravelTime = "Travel time anomaly"
	PredictionEventDwellTime  = "Dwell time anomaly"
)

// VehicleEvent is an append-only diagnostic record describing a noteworthy
// change for a vehicle, such as a timeout transition. Never updated or
// deleted.
type VehicleEvent struct {
	VehicleID string
	Time      time.Time
	AvlTime   time.Time
	EventType string
	// Cause is a stable machine-readable category for the event, suitable
	// as a metric label. Description carries the human-readable detail.
	Cause       string
	Description string
	Predictable bool
	BlockID     string
	TripID      string
	RouteID     string
	StopID      string
	Lat         float64
	Lon         float64
}

// PredictionEvent is an append-only diagnostic record describing anomalous
// historical data encountered while generating predictions, e.g. a pair of
// events implying a negative travel time.
type PredictionEvent struct {
	VehicleID   string
	Time        time.Time
	AvlTime     time.Time
	EventType   string
	Description string
	// ArrivalStopID/DepartureStopID identify the offending event pair.
	ArrivalStopID   string
	DepartureStopID string
	// ReferenceVehicleID is the other vehicle whose history was being read.
	ReferenceVehicleID string
	ArrivalTime        time.Time
	DepartureTime      time.Time
}
