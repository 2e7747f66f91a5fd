package prediction

import (
	"time"

	"pulse.opentransit.org/internal/model"
)

// TravelTimeDataFilter decides whether a historical departure/arrival pair
// is an anomaly to exclude from travel-time sampling. Filter returns true
// to reject the pair.
type TravelTimeDataFilter interface {
	Filter(departure, arrival *model.ArrivalDeparture) bool
}

// BoundsFilter rejects pairs whose travel time falls outside [Min, Max].
// A zero Max means no upper bound.
type BoundsFilter struct {
	Min time.Duration
	Max time.Duration
}

func (f BoundsFilter) Filter(departure, arrival *model.ArrivalDeparture) bool {
	if departure == nil || arrival == nil {
		return true
	}
	elapsed := arrival.Time.Sub(departure.Time)
	if elapsed < f.Min {
		return true
	}
	return f.Max > 0 && elapsed > f.Max
}
