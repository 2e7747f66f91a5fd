package model

import "time"

// Match is a vehicle's resolved position along its block at a point in time:
// trip, stop path, and distance along the path. Produced by the external
// spatial matcher; owned by the vehicle state and replaced wholesale on each
// new AVL report.
type Match struct {
	Block         *Block
	TripIndex     int
	StopPathIndex int
	// DistanceAlongPath is meters traveled along the current stop path.
	DistanceAlongPath float64
	// AtStopInfo is non-nil when the vehicle is matched to a stop.
	AtStopInfo *VehicleAtStopInfo
	// AvlTime is the timestamp of the AVL report the match was derived from.
	AvlTime time.Time
}

// Trip returns the matched trip.
func (m *Match) Trip() *Trip {
	return m.Block.Trip(m.TripIndex)
}

// StopPath returns the matched stop path.
func (m *Match) StopPath() *StopPath {
	trip := m.Trip()
	if trip == nil {
		return nil
	}
	return trip.StopPath(m.StopPathIndex)
}

// Indices returns the match position as Indices.
func (m *Match) Indices() Indices {
	return Indices{Block: m.Block, TripIndex: m.TripIndex, StopPathIndex: m.StopPathIndex}
}

// IsAtStop reports whether the vehicle is matched to a stop.
func (m *Match) IsAtStop() bool {
	return m.AtStopInfo != nil
}

// MatchAtNextStopWithScheduleTime returns a match positioned at the next
// upcoming stop that has a schedule time, starting with the current stop
// path's stop. Returns nil when no remaining stop is timed.
func (m *Match) MatchAtNextStopWithScheduleTime() *Match {
	indices := m.Indices()
	for {
		sp := indices.StopPath()
		if sp == nil {
			return nil
		}
		if _, ok := sp.ScheduleTime.Time(); ok {
			return &Match{
				Block:             m.Block,
				TripIndex:         indices.TripIndex,
				StopPathIndex:     indices.StopPathIndex,
				DistanceAlongPath: sp.Length,
				AtStopInfo:        AtStop(m.Block, indices.TripIndex, indices.StopPathIndex),
				AvlTime:           m.AvlTime,
			}
		}
		next, ok := indices.Next()
		if !ok {
			return nil
		}
		indices = next
	}
}

// InterpolatedScheduleSecs returns the schedule time-of-day the vehicle's
// position corresponds to, interpolating linearly between the previous and
// next timed stops by distance along the stop path. Schedule times only
// exist at stops, so in-between positions are prorated by
// distanceAlongPath/pathLength, not by stop count. A zero-length stop path
// yields the previous stop's scheduled time. ok is false when either
// bounding schedule time is missing.
func (m *Match) InterpolatedScheduleSecs() (int, bool) {
	indices := m.Indices()
	sp := indices.StopPath()
	if sp == nil {
		return 0, false
	}
	toSecs, ok := sp.ScheduleTime.Time()
	if !ok {
		return 0, false
	}
	prev := indices.PreviousStopPath()
	if prev == nil {
		return 0, false
	}
	fromSecs, ok := prev.ScheduleTime.Time()
	if !ok {
		return 0, false
	}

	ratio := 0.0
	if sp.Length > 0 {
		ratio = m.DistanceAlongPath / sp.Length
		if ratio < 0 {
			ratio = 0
		} else if ratio > 1 {
			ratio = 1
		}
	}
	return fromSecs + int(float64(toSecs-fromSecs)*ratio), true
}

// ScheduledWaitStopTime returns the scheduled departure instant for the wait
// stop the vehicle is currently at. ok is false when the vehicle is not at a
// wait stop or the stop has no scheduled departure.
func (m *Match) ScheduledWaitStopTime(st ServiceTime, reference time.Time) (time.Time, bool) {
	if m.AtStopInfo == nil || !m.AtStopInfo.IsWaitStop() {
		return time.Time{}, false
	}
	schedTime := m.AtStopInfo.ScheduleTime()
	if !schedTime.HasDeparture() {
		return time.Time{}, false
	}
	return st.EpochTime(*schedTime.DepartureSecs, reference), true
}
