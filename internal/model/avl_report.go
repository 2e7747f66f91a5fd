// Package model holds the immutable transit domain structures: AVL reports,
// blocks, trips, stop paths, spatial matches, predictions, and the derived
// travel/dwell time values computed from arrival/departure pairs.
package model

import "time"

// AssignmentType describes what kind of assignment reference an AVL report
// carries, if any.
type AssignmentType int

const (
	AssignmentUnset AssignmentType = iota
	AssignmentBlock
	AssignmentRoute
	AssignmentTrip
	AssignmentTripShortName
	// AssignmentBlockForSchedBasedPreds marks synthetic reports created for
	// blocks with no real vehicle, so predictions exist in advance.
	AssignmentBlockForSchedBasedPreds
)

func (t AssignmentType) String() string {
	switch t {
	case AssignmentBlock:
		return "BLOCK"
	case AssignmentRoute:
		return "ROUTE"
	case AssignmentTrip:
		return "TRIP"
	case AssignmentTripShortName:
		return "TRIP_SHORT_NAME"
	case AssignmentBlockForSchedBasedPreds:
		return "BLOCK_FOR_SCHED_BASED_PREDS"
	default:
		return "UNSET"
	}
}

// AvlReport is a single vehicle location update. Created once per received
// update and never mutated.
type AvlReport struct {
	VehicleID string
	Time      time.Time
	Lat       float64
	Lon       float64
	// Speed is in m/s and Heading in degrees; the Valid flags distinguish
	// zero values from "not reported".
	Speed        float32
	SpeedValid   bool
	Heading      float32
	HeadingValid bool
	// Source tags where the report came from, e.g. "GTFSRT" or "Schedule".
	Source string

	AssignmentID   string
	AssignmentType AssignmentType

	// LeadVehicleID is set for non-lead members of a multi-vehicle consist.
	// Results (predictions, headways, arrivals/departures) are produced by
	// the lead vehicle only.
	LeadVehicleID string
}

// HasAssignment reports whether the report carries any assignment reference.
func (r *AvlReport) HasAssignment() bool {
	return r.AssignmentType != AssignmentUnset && r.AssignmentID != ""
}

// HasBlockAssignment reports whether the assignment reference names a block,
// either from a real feed or synthesized for schedule based predictions.
func (r *AvlReport) HasBlockAssignment() bool {
	return r.HasAssignment() &&
		(r.AssignmentType == AssignmentBlock || r.AssignmentType == AssignmentBlockForSchedBasedPreds)
}

func (r *AvlReport) HasTripAssignment() bool {
	return r.HasAssignment() && r.AssignmentType == AssignmentTrip
}

func (r *AvlReport) HasTripShortNameAssignment() bool {
	return r.HasAssignment() && r.AssignmentType == AssignmentTripShortName
}

func (r *AvlReport) HasRouteAssignment() bool {
	return r.HasAssignment() && r.AssignmentType == AssignmentRoute
}

// ForSchedBasedPreds reports whether this is a synthetic schedule-based report.
func (r *AvlReport) ForSchedBasedPreds() bool {
	return r.AssignmentType == AssignmentBlockForSchedBasedPreds
}

// IgnoreBecauseInConsist reports whether the vehicle is a trailing member of
// a consist and should not generate results itself.
func (r *AvlReport) IgnoreBecauseInConsist() bool {
	return r.LeadVehicleID != "" && r.LeadVehicleID != r.VehicleID
}

// Age returns how long ago the report was generated relative to now.
func (r *AvlReport) Age(now time.Time) time.Duration {
	return now.Sub(r.Time)
}
