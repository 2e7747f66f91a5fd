package model

import "time"

// Block is a vehicle's full-day assignment: an ordered sequence of trips
// under one service ID. Immutable per configuration revision.
//
// Start and end times are seconds into the service day and may be negative
// or exceed 24h, so "is this block active now" must consider the block's
// service ID being valid today, yesterday, or tomorrow relative to the
// query instant.
type Block struct {
	ID        string
	ServiceID string
	// StartTimeSecs and EndTimeSecs span the whole block, first trip start
	// to last trip end.
	StartTimeSecs int
	EndTimeSecs   int
	// Trips are ordered by time.
	Trips []*Trip

	routeIDs map[string]struct{}
}

// NewBlock builds a Block and derives its route-id set from the trips.
func NewBlock(id, serviceID string, startTimeSecs, endTimeSecs int, trips []*Trip) *Block {
	routeIDs := make(map[string]struct{})
	for _, trip := range trips {
		if trip.RouteID != "" {
			routeIDs[trip.RouteID] = struct{}{}
		}
	}
	return &Block{
		ID:            id,
		ServiceID:     serviceID,
		StartTimeSecs: startTimeSecs,
		EndTimeSecs:   endTimeSecs,
		Trips:         trips,
		routeIDs:      routeIDs,
	}
}

// NumTrips returns how many trips the block has.
func (b *Block) NumTrips() int {
	return len(b.Trips)
}

// Trip returns the trip at the given index, or nil if out of range.
func (b *Block) Trip(tripIndex int) *Trip {
	if tripIndex < 0 || tripIndex >= len(b.Trips) {
		return nil
	}
	return b.Trips[tripIndex]
}

// NumStopPaths returns how many stop paths the trip at tripIndex has.
func (b *Block) NumStopPaths(tripIndex int) int {
	trip := b.Trip(tripIndex)
	if trip == nil {
		return 0
	}
	return trip.NumStopPaths()
}

// ServesRoute reports whether any trip of the block runs on the route.
func (b *Block) ServesRoute(routeID string) bool {
	_, ok := b.routeIDs[routeID]
	return ok
}

// RouteIDs returns the set of route IDs the block serves.
func (b *Block) RouteIDs() []string {
	ids := make([]string, 0, len(b.routeIDs))
	for id := range b.routeIDs {
		ids = append(ids, id)
	}
	return ids
}

// IsNoSchedule reports whether the block is frequency based, without
// per-stop schedule times.
func (b *Block) IsNoSchedule() bool {
	return len(b.Trips) > 0 && b.Trips[0].NoSchedule
}

// StartLocation returns the location of the first stop of the first trip.
// ok is false when the block has no stops.
func (b *Block) StartLocation() (lat, lon float64, ok bool) {
	if len(b.Trips) == 0 || len(b.Trips[0].StopPaths) == 0 {
		return 0, 0, false
	}
	first := b.Trips[0].StopPaths[0]
	return first.StopLat, first.StopLon, true
}

// serviceValidForDay reports whether the block's service ID runs on the
// calendar day at now+offset.
func (b *Block) serviceValidForDay(cal Calendar, now time.Time, offset time.Duration) bool {
	for _, id := range cal.ServiceIDsForDay(now.Add(offset)) {
		if id == b.ServiceID {
			return true
		}
	}
	return false
}

// IsActive reports whether the block is active at now. The block is
// considered active from beforeStartSecs before its start time until its end
// time, or, when afterStartSecs >= 0, until only that many seconds past the
// start time.
//
// A block whose service ran yesterday can still be active past midnight, and
// one whose service starts tomorrow can be active just before midnight, so
// the time-of-day window is also checked shifted by a day in each direction,
// gated on the service ID being valid for that day.
func (b *Block) IsActive(cal Calendar, st ServiceTime, now time.Time, beforeStartSecs, afterStartSecs int) bool {
	secsInDay := st.SecondsIntoDay(now)

	allowableStart := b.StartTimeSecs - beforeStartSecs
	allowableEnd := b.EndTimeSecs
	if afterStartSecs >= 0 {
		allowableEnd = b.StartTimeSecs + afterStartSecs
	}

	if b.serviceValidForDay(cal, now, 0) {
		if secsInDay > allowableStart && secsInDay < allowableEnd {
			return true
		}
	}

	if b.serviceValidForDay(cal, now, -24*time.Hour) {
		shifted := secsInDay + secondsPerDay
		if shifted > allowableStart && shifted < allowableEnd {
			return true
		}
	}

	if b.serviceValidForDay(cal, now, 24*time.Hour) {
		shifted := secsInDay - secondsPerDay
		if shifted > allowableStart && shifted < allowableEnd {
			return true
		}
	}

	return false
}

// IsBeforeStartTime reports whether now is within beforeStartSecs before the
// block's start time, including the case where now is just before midnight
// and the start time is just after.
func (b *Block) IsBeforeStartTime(st ServiceTime, now time.Time, beforeStartSecs int) bool {
	secsInDay := st.SecondsIntoDay(now)

	return (secsInDay > b.StartTimeSecs-beforeStartSecs && secsInDay < b.StartTimeSecs) ||
		(secsInDay > b.StartTimeSecs+secondsPerDay-beforeStartSecs && secsInDay < b.StartTimeSecs+secondsPerDay)
}

const secondsPerDay = 24 * 60 * 60
