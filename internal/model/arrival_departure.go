package model

import "time"

// ArrivalDeparture is one historical arrival or departure event at a stop.
type ArrivalDeparture struct {
	VehicleID     string
	StopID        string
	TripID        string
	BlockID       string
	ServiceID     string
	RouteID       string
	DirectionID   string
	TripIndex     int
	StopPathIndex int
	// Arrival is true for arrivals, false for departures.
	Arrival bool
	Time    time.Time
}

func (ad *ArrivalDeparture) IsArrival() bool {
	return ad != nil && ad.Arrival
}

func (ad *ArrivalDeparture) IsDeparture() bool {
	return ad != nil && !ad.Arrival
}
