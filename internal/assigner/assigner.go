// Package assigner resolves the raw assignment carried by an AVL report
// into schedule-model objects, and answers "which blocks are running right
// now" queries across service-day boundaries.
package assigner

import (
	"log/slog"
	"time"

	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/sched"
)

// blockOverrideBeforeStart is the before-start window used when deciding
// whether a later service's block should override one already found for the
// same block ID.
const blockOverrideBeforeStart = 90 * 60

// Assignment is the outcome of resolving an AVL report's assignment. Block
// is nil for route-level assignments and when nothing matched; RouteID is
// set only for route-level assignments.
type Assignment struct {
	Block   *model.Block
	RouteID string
}

// HasBlock reports whether resolution produced a concrete block.
func (a Assignment) HasBlock() bool { return a.Block != nil }

// BlockResolver turns AVL assignments into blocks using the schedule model.
type BlockResolver struct {
	model  sched.Model
	st     model.ServiceTime
	logger *slog.Logger
}

func NewBlockResolver(m sched.Model, st model.ServiceTime, logger *slog.Logger) *BlockResolver {
	return &BlockResolver{model: m, st: st, logger: logger.With(slog.String("component", "block_resolver"))}
}

// Resolve determines the assignment for a report. A report without any
// usable assignment, or whose assignment does not match the schedule,
// yields an empty Assignment; whether that makes the vehicle unpredictable
// is the caller's decision.
func (r *BlockResolver) Resolve(report *model.AvlReport) Assignment {
	switch {
	case report.HasBlockAssignment():
		if block := r.blockForID(report.AssignmentID, report.Time); block != nil {
			return Assignment{Block: block}
		}
	case report.HasTripAssignment():
		if trip, ok := r.model.Trip(report.AssignmentID); ok {
			if block, ok := r.model.BlockForTrip(trip); ok {
				return Assignment{Block: block}
			}
		}
		r.logger.Warn("no block for trip assignment",
			slog.String("vehicle_id", report.VehicleID),
			slog.String("trip_id", report.AssignmentID))
	case report.HasTripShortNameAssignment():
		if trip, ok := r.model.TripByShortName(report.AssignmentID); ok {
			if block, ok := r.model.BlockForTrip(trip); ok {
				return Assignment{Block: block}
			}
		}
		r.logger.Warn("no block for trip short name assignment",
			slog.String("vehicle_id", report.VehicleID),
			slog.String("trip_short_name", report.AssignmentID))
	case report.HasRouteAssignment():
		// Route assignments are dispatched at the route level by the
		// caller; no block lookup happens here.
		return Assignment{RouteID: report.AssignmentID}
	}
	if report.HasBlockAssignment() {
		r.logger.Warn("no active block for assignment",
			slog.String("vehicle_id", report.VehicleID),
			slog.String("block_id", report.AssignmentID))
	}
	return Assignment{}
}

// blockForID finds the block with the given ID among all services valid for
// the report's calendar day. The first match wins; a block found under a
// later service replaces it only when that block is actually active at the
// report time, so that e.g. a Saturday-service block does not shadow the
// weekday block a vehicle is really running.
func (r *BlockResolver) blockForID(blockID string, reportTime time.Time) *model.Block {
	var found *model.Block
	for _, serviceID := range r.model.ServiceIDsForDay(reportTime) {
		block, ok := r.model.Block(serviceID, blockID)
		if !ok {
			continue
		}
		if found == nil {
			found = block
			continue
		}
		if block.IsActive(r.model, r.st, reportTime, blockOverrideBeforeStart, -1) {
			found = block
		}
	}
	return found
}

// ActiveBlockFinder scans the schedule model for blocks currently running
// or about to start.
type ActiveBlockFinder struct {
	model sched.Model
	st    model.ServiceTime
}

func NewActiveBlockFinder(m sched.Model, st model.ServiceTime) *ActiveBlockFinder {
	return &ActiveBlockFinder{model: m, st: st}
}

// secsPostMidnightYesterday is how long after midnight yesterday's service
// IDs are still consulted, to catch blocks running past midnight.
const secsPostMidnightYesterday = 4 * 60 * 60

// CurrentlyActiveBlocks returns the blocks active at now. routeFilter
// limits results to blocks serving one of the given routes (empty = all);
// ignoreBlockIDs are skipped entirely. afterStartSecs < 0 means a block
// stays active until its end time; >= 0 limits it to that many seconds past
// its scheduled start.
func (f *ActiveBlockFinder) CurrentlyActiveBlocks(now time.Time, routeFilter []string, ignoreBlockIDs map[string]bool, beforeStartSecs, afterStartSecs int) []*model.Block {
	serviceIDs := f.serviceIDsForNow(now, beforeStartSecs)

	var active []*model.Block
	seen := make(map[string]bool)
	for _, serviceID := range serviceIDs {
		for _, block := range f.model.BlocksForService(serviceID) {
			if ignoreBlockIDs[block.ID] || seen[block.ServiceID+"|"+block.ID] {
				continue
			}
			seen[block.ServiceID+"|"+block.ID] = true
			if !servesAnyRoute(block, routeFilter) {
				continue
			}
			if block.IsActive(f.model, f.st, now, beforeStartSecs, afterStartSecs) {
				active = append(active, block)
			}
		}
	}
	return active
}

// BlocksAboutToStart returns blocks whose scheduled start is within window
// of now, across all routes.
func (f *ActiveBlockFinder) BlocksAboutToStart(now time.Time, window time.Duration) []*model.Block {
	beforeStartSecs := int(window / time.Second)
	serviceIDs := f.serviceIDsForNow(now, beforeStartSecs)

	var upcoming []*model.Block
	seen := make(map[string]bool)
	for _, serviceID := range serviceIDs {
		for _, block := range f.model.BlocksForService(serviceID) {
			if seen[block.ServiceID+"|"+block.ID] {
				continue
			}
			seen[block.ServiceID+"|"+block.ID] = true
			if block.IsBeforeStartTime(f.st, now, beforeStartSecs) {
				upcoming = append(upcoming, block)
			}
		}
	}
	return upcoming
}

// serviceIDsForNow is the service IDs for today, widened to yesterday's
// shortly after midnight (blocks can still be running) and to tomorrow's
// shortly before midnight (blocks can be about to start).
func (f *ActiveBlockFinder) serviceIDsForNow(now time.Time, beforeStartSecs int) []string {
	ids := f.model.ServiceIDsForDay(now)

	secsIntoDay := f.st.SecondsIntoDay(now)
	if secsIntoDay < secsPostMidnightYesterday {
		ids = append(ids, f.model.ServiceIDsForDay(now.Add(-24*time.Hour))...)
	}
	if beforeStartSecs > 0 && secsIntoDay > 24*60*60-beforeStartSecs {
		ids = append(ids, f.model.ServiceIDsForDay(now.Add(24*time.Hour))...)
	}
	return dedup(ids)
}

func servesAnyRoute(block *model.Block, routeFilter []string) bool {
	if len(routeFilter) == 0 {
		return true
	}
	for _, routeID := range routeFilter {
		if block.ServesRoute(routeID) {
			return true
		}
	}
	return false
}

// dedup keeps first occurrences. The input may come straight from the
// schedule model, so it is never modified.
func dedup(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
