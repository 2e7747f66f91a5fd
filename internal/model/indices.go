package model

import "time"

// Indices addresses a point along a block's route as a
// (tripIndex, stopPathIndex, segmentIndex) triple.
type Indices struct {
	Block         *Block
	TripIndex     int
	StopPathIndex int
	SegmentIndex  int
}

// Trip returns the trip the indices point into.
func (i Indices) Trip() *Trip {
	return i.Block.Trip(i.TripIndex)
}

// StopPath returns the stop path the indices point at, or nil when the
// indices are out of range.
func (i Indices) StopPath() *StopPath {
	trip := i.Trip()
	if trip == nil {
		return nil
	}
	return trip.StopPath(i.StopPathIndex)
}

// PreviousStopPath returns the stop path before the current one, crossing
// into the previous trip when at the beginning of a trip. Returns nil at the
// very start of the block.
func (i Indices) PreviousStopPath() *StopPath {
	prev, ok := i.Previous()
	if !ok {
		return nil
	}
	return prev.StopPath()
}

// Previous returns the indices one stop path back, or ok=false at the start
// of the block.
func (i Indices) Previous() (Indices, bool) {
	if i.StopPathIndex > 0 {
		return Indices{Block: i.Block, TripIndex: i.TripIndex, StopPathIndex: i.StopPathIndex - 1}, true
	}
	if i.TripIndex > 0 {
		prevTrip := i.TripIndex - 1
		return Indices{
			Block:         i.Block,
			TripIndex:     prevTrip,
			StopPathIndex: i.Block.NumStopPaths(prevTrip) - 1,
		}, true
	}
	return Indices{}, false
}

// Next returns the indices one stop path forward, rolling into the next trip
// as needed, or ok=false past the end of the block.
func (i Indices) Next() (Indices, bool) {
	if i.StopPathIndex+1 < i.Block.NumStopPaths(i.TripIndex) {
		return Indices{Block: i.Block, TripIndex: i.TripIndex, StopPathIndex: i.StopPathIndex + 1}, true
	}
	if i.TripIndex+1 < i.Block.NumTrips() {
		return Indices{Block: i.Block, TripIndex: i.TripIndex + 1, StopPathIndex: 0}, true
	}
	return Indices{}, false
}

// AtBeginningOfTrip reports whether the indices point at a trip's first stop
// path.
func (i Indices) AtBeginningOfTrip() bool {
	return i.StopPathIndex == 0
}

// AtEndOfBlock reports whether the indices point at the last stop path of
// the last trip.
func (i Indices) AtEndOfBlock() bool {
	return i.TripIndex == i.Block.NumTrips()-1 &&
		i.StopPathIndex == i.Block.NumStopPaths(i.TripIndex)-1
}

// VehicleAtStopInfo is an Indices specialized to "vehicle is at a stop".
// The segment index is always zero.
type VehicleAtStopInfo struct {
	Indices
}

// AtStop creates a VehicleAtStopInfo for the given position.
func AtStop(block *Block, tripIndex, stopPathIndex int) *VehicleAtStopInfo {
	return &VehicleAtStopInfo{Indices{Block: block, TripIndex: tripIndex, StopPathIndex: stopPathIndex}}
}

// StopID returns the ID of the stop the vehicle is at.
func (v *VehicleAtStopInfo) StopID() string {
	sp := v.StopPath()
	if sp == nil {
		return ""
	}
	return sp.StopID
}

// ScheduleTime returns the schedule time at the stop, or nil for untimed
// stops.
func (v *VehicleAtStopInfo) ScheduleTime() *ScheduleTime {
	sp := v.StopPath()
	if sp == nil {
		return nil
	}
	return sp.ScheduleTime
}

// IsWaitStop reports whether the stop is a layover where the driver holds
// until the scheduled departure.
func (v *VehicleAtStopInfo) IsWaitStop() bool {
	sp := v.StopPath()
	return sp != nil && sp.WaitStop
}

// AtEndOfBlock reports whether the vehicle has reached the end of its block.
// For scheduled blocks this is simply the last stop of the last trip. A
// frequency-based block loops, so its vehicle is often at the "last" stop;
// for those the block is instead considered done once it is no longer active
// within a window extended by one extra trip's duration.
func (v *VehicleAtStopInfo) AtEndOfBlock(cal Calendar, st ServiceTime, now time.Time, earlySecs, lateSecs int) bool {
	block := v.Block
	if !block.IsNoSchedule() {
		return v.Indices.AtEndOfBlock()
	}

	trip := v.Trip()
	if trip == nil {
		return true
	}
	tripDuration := trip.EndTimeSecs - trip.StartTimeSecs
	blockDuration := block.EndTimeSecs - block.StartTimeSecs
	return !block.IsActive(cal, st, now, earlySecs, blockDuration+tripDuration+lateSecs)
}
