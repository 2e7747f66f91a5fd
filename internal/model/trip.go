package model

// Trip is one scheduled run of a route. A trip belongs to exactly one block.
type Trip struct {
	ID          string
	ShortName   string
	DirectionID string
	RouteID     string
	BlockID     string
	ServiceID   string
	Headsign    string
	// NoSchedule marks frequency-based trips that have a start/end window
	// but no per-stop schedule times.
	NoSchedule bool
	// StartTimeSecs and EndTimeSecs are seconds into the service day.
	StartTimeSecs int
	EndTimeSecs   int
	StopPaths     []*StopPath
}

// NumStopPaths returns how many stop paths the trip has.
func (t *Trip) NumStopPaths() int {
	return len(t.StopPaths)
}

// StopPath returns the stop path at the given index, or nil if out of range.
func (t *Trip) StopPath(stopPathIndex int) *StopPath {
	if stopPathIndex < 0 || stopPathIndex >= len(t.StopPaths) {
		return nil
	}
	return t.StopPaths[stopPathIndex]
}

// ScheduleTime returns the schedule time for the stop at stopPathIndex, or
// nil when the stop is untimed or the index is out of range.
func (t *Trip) ScheduleTime(stopPathIndex int) *ScheduleTime {
	sp := t.StopPath(stopPathIndex)
	if sp == nil {
		return nil
	}
	return sp.ScheduleTime
}
