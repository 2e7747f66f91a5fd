// Package vehicle tracks per-vehicle state: the latest AVL report and match,
// current predictions, headway, and predictability lifecycle flags. The
// Manager makes the "one writer at a time per vehicle" rule structural by
// funneling every read-modify-write through a per-vehicle lock.
package vehicle

import (
	"time"

	"pulse.opentransit.org/internal/model"
)

// State is the mutable per-vehicle aggregate. All access must go through
// Manager.WithVehicle so that concurrent AVL processing, timeout sweeps, and
// synthesis never interleave on the same vehicle.
type State struct {
	VehicleID string

	// AvlReport is the most recent report received for the vehicle.
	AvlReport *model.AvlReport
	// Match is the latest spatial/temporal match, replaced wholesale per
	// report.
	Match *model.Match
	// PreviousMatch is the match from the report before, used to derive
	// arrivals and departures from stop transitions.
	PreviousMatch *model.Match
	Block         *model.Block
	// RouteID is set for route-level assignments where no block could be
	// resolved.
	RouteID string

	Predictions []model.Prediction
	Headway     *model.Headway

	// SchedAdherence is the latest schedule adherence, positive when early.
	// Valid only when SchedAdherenceValid is set; a vehicle between timed
	// stops on a frequency-based block has none.
	SchedAdherence      time.Duration
	SchedAdherenceValid bool

	Predictable        bool
	ForSchedBasedPreds bool
	Canceled           bool

	// UnpredictableReason records why the vehicle was last made
	// unpredictable, for audit.
	UnpredictableReason string
	// UnpredictableSince is when that transition happened.
	UnpredictableSince time.Time
}

// Trip returns the currently matched trip, or nil when there is no match.
func (s *State) Trip() *model.Trip {
	if s.Match == nil {
		return nil
	}
	return s.Match.Trip()
}

// BlockID returns the assigned block's ID, or "" when unassigned.
func (s *State) BlockID() string {
	if s.Block == nil {
		return ""
	}
	return s.Block.ID
}

// IsAtStop reports whether the latest match has the vehicle at a stop.
func (s *State) IsAtStop() bool {
	return s.Match != nil && s.Match.IsAtStop()
}

// IsWaitStop reports whether the vehicle is currently held at a layover.
func (s *State) IsWaitStop() bool {
	return s.Match != nil && s.Match.AtStopInfo != nil && s.Match.AtStopInfo.IsWaitStop()
}

// SetMatch installs a new match and marks the vehicle predictable.
func (s *State) SetMatch(match *model.Match, block *model.Block) {
	s.PreviousMatch = s.Match
	s.Match = match
	s.Block = block
	s.Predictable = true
	s.UnpredictableReason = ""
}

// MakeUnpredictable demotes the vehicle, recording the reason. Predictions
// are cleared by the caller via the prediction cache so consumers see the
// removal.
func (s *State) MakeUnpredictable(reason string, at time.Time) {
	s.Predictable = false
	s.UnpredictableReason = reason
	s.UnpredictableSince = at
	s.Predictions = nil
	s.Headway = nil
	s.SchedAdherenceValid = false
}

// Snapshot is an immutable copy of the externally interesting parts of a
// State, safe to hand to consumers outside the per-vehicle lock.
type Snapshot struct {
	VehicleID          string
	Predictable        bool
	ForSchedBasedPreds bool
	Canceled           bool
	BlockID            string
	TripID             string
	RouteID            string
	AvlTime            time.Time
	Lat                float64
	Lon                float64
	PredictionCount    int

	SchedAdherence      time.Duration
	SchedAdherenceValid bool
}

// Snapshot copies the state's consumer-visible fields.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		VehicleID:           s.VehicleID,
		Predictable:         s.Predictable,
		ForSchedBasedPreds:  s.ForSchedBasedPreds,
		Canceled:            s.Canceled,
		BlockID:             s.BlockID(),
		RouteID:             s.RouteID,
		PredictionCount:     len(s.Predictions),
		SchedAdherence:      s.SchedAdherence,
		SchedAdherenceValid: s.SchedAdherenceValid,
	}
	if trip := s.Trip(); trip != nil {
		snap.TripID = trip.ID
		if snap.RouteID == "" {
			snap.RouteID = trip.RouteID
		}
	}
	if s.AvlReport != nil {
		snap.AvlTime = s.AvlReport.Time
		snap.Lat = s.AvlReport.Lat
		snap.Lon = s.AvlReport.Lon
	}
	return snap
}
