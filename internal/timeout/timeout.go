// Package timeout demotes vehicles that have gone silent. A periodic sweep
// classifies each tracked vehicle by its current state and applies the
// matching silence policy: plain silence for normal vehicles, a second
// allowance past the scheduled departure for vehicles held at wait stops,
// block-lifecycle rules for schedule-based synthetic vehicles, and eviction
// for vehicles that are already unpredictable.
package timeout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pulse.opentransit.org/internal/clock"
	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/sched"
	"pulse.opentransit.org/internal/vehicle"
)

// EventRecorder receives the diagnostic record produced by every timeout
// transition.
type EventRecorder interface {
	RecordVehicleEvent(event model.VehicleEvent)
}

// Stable cause categories, one per sweep policy. Recorded on every event so
// metric labels stay bounded while Description carries the detail.
const (
	CauseNoAvl              = "no_avl"
	CauseWaitStopDeparture  = "wait_stop_departure"
	CauseSchedBlockInactive = "sched_block_inactive"
	CauseSchedNoVehicle     = "sched_no_vehicle"
	CauseTripCanceled       = "trip_canceled"
)

// Config is the timeout tuning surface.
type Config struct {
	// AllowableNoAvl is the silence threshold for normal predictable
	// vehicles.
	AllowableNoAvl time.Duration
	// AllowableNoAvlAfterSchedDepart is the extra allowance for wait-stop
	// vehicles, measured from the scheduled departure. Both this and
	// AllowableNoAvl must be exceeded for a wait-stop vehicle to time out.
	AllowableNoAvlAfterSchedDepart time.Duration
	// AllowableAfterStart is how long past its block's scheduled start a
	// schedule-based vehicle may wait for a corroborating real report.
	AllowableAfterStart time.Duration
	// BeforeStartWindow mirrors the synthesizer's before-start window when
	// checking whether a schedule-based vehicle's block is still active.
	BeforeStartWindow time.Duration
	// CancelTripOnTimeout marks the trip canceled and reprocesses once
	// instead of demoting a schedule-based vehicle immediately.
	CancelTripOnTimeout bool
	// Evict removes timed-out vehicles from the caches entirely.
	Evict bool
}

// DefaultConfig mirrors customary operational settings.
func DefaultConfig() Config {
	return Config{
		AllowableNoAvl:                 6 * time.Minute,
		AllowableNoAvlAfterSchedDepart: 20 * time.Minute,
		AllowableAfterStart:            15 * time.Minute,
		BeforeStartWindow:              5 * time.Minute,
	}
}

// Handler runs the timeout sweep.
type Handler struct {
	manager   *vehicle.Manager
	cache     vehicle.Cache
	predCache vehicle.PredictionCache
	sched     sched.Model
	st        model.ServiceTime
	clk       clock.Clock
	events    EventRecorder
	// reprocess receives AVL reports whose vehicles need one extra
	// processing pass after a cancel-trip transition. Drained outside the
	// sweep so the per-vehicle lock is not held across AVL processing.
	reprocess chan<- *model.AvlReport
	cfg       Config
	logger    *slog.Logger

	// OnSweepDuration, when set, observes how long each sweep took.
	OnSweepDuration func(time.Duration)
}

func NewHandler(
	manager *vehicle.Manager,
	cache vehicle.Cache,
	predCache vehicle.PredictionCache,
	schedModel sched.Model,
	st model.ServiceTime,
	clk clock.Clock,
	events EventRecorder,
	reprocess chan<- *model.AvlReport,
	cfg Config,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		manager:   manager,
		cache:     cache,
		predCache: predCache,
		sched:     schedModel,
		st:        st,
		clk:       clk,
		events:    events,
		reprocess: reprocess,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "timeout")),
	}
}

// Run executes the sweep on a fixed period until the context ends. A panic
// in one sweep is logged and does not stop the schedule.
func (h *Handler) Run(ctx context.Context, initialDelay, period time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(initialDelay):
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		h.safeSweep()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Handler) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("timeout sweep panicked", slog.Any("panic", r))
		}
	}()
	start := time.Now()
	h.Sweep()
	if h.OnSweepDuration != nil {
		h.OnSweepDuration(time.Since(start))
	}
}

// Sweep checks every tracked vehicle once. The ID list is snapshotted up
// front so vehicles can be removed while iterating.
func (h *Handler) Sweep() {
	now := h.clk.Now()
	for _, id := range h.manager.VehicleIDs() {
		h.manager.WithVehicle(id, func(state *vehicle.State) {
			h.checkVehicle(state, now)
		})
	}
}

func (h *Handler) checkVehicle(state *vehicle.State, now time.Time) {
	if state.AvlReport == nil {
		return
	}
	silence := now.Sub(state.AvlReport.Time)

	if !state.Predictable {
		if h.cfg.Evict && silence > h.cfg.AllowableNoAvl {
			h.evict(state)
		}
		return
	}

	switch {
	case state.ForSchedBasedPreds:
		h.checkScheduleBased(state, now, silence)
	case state.IsWaitStop():
		h.checkWaitStop(state, now, silence)
	default:
		if silence > h.cfg.AllowableNoAvl {
			h.timeOut(state, now, CauseNoAvl, fmt.Sprintf(
				"no AVL report for %v, more than the %v allowed",
				silence.Round(time.Second), h.cfg.AllowableNoAvl))
		}
	}
}

// checkScheduleBased handles synthetic schedule-based vehicles: they expire
// when their block runs its course, and when no real vehicle has shown up
// well past the scheduled start they are either demoted or, per
// configuration, their trip is marked canceled and the report is reprocessed
// once so downstream consumers see the cancellation.
func (h *Handler) checkScheduleBased(state *vehicle.State, now time.Time, silence time.Duration) {
	block := state.Block
	if block == nil {
		return
	}
	beforeSecs := int(h.cfg.BeforeStartWindow / time.Second)
	if !block.IsActive(h.sched, h.st, now, beforeSecs, -1) {
		h.timeOut(state, now, CauseSchedBlockInactive, fmt.Sprintf(
			"block %s no longer active for schedule-based vehicle", block.ID))
		return
	}

	start := h.st.EpochTime(block.StartTimeSecs, now)
	if now.Sub(start) <= h.cfg.AllowableAfterStart {
		return
	}

	if h.cfg.CancelTripOnTimeout && !state.Canceled {
		state.Canceled = true
		h.recordEvent(state, now, model.VehicleEventTripCanceled, CauseTripCanceled, fmt.Sprintf(
			"no vehicle reported on block %s within %v of scheduled start, marking trip canceled",
			block.ID, h.cfg.AllowableAfterStart))
		select {
		case h.reprocess <- state.AvlReport:
		default:
			h.logger.Warn("reprocess queue full, dropping cancel-trip reprocessing",
				slog.String("vehicle_id", state.VehicleID))
		}
		return
	}
	if !h.cfg.CancelTripOnTimeout {
		h.timeOut(state, now, CauseSchedNoVehicle, fmt.Sprintf(
			"no vehicle reported on block %s within %v of scheduled start",
			block.ID, h.cfg.AllowableAfterStart))
	}
}

// checkWaitStop requires both thresholds: silence past the normal allowance
// and the scheduled departure exceeded by its own allowance. Frequency-based
// blocks have no meaningful wait-stop departure and are exempt.
func (h *Handler) checkWaitStop(state *vehicle.State, now time.Time, silence time.Duration) {
	if state.Block != nil && state.Block.IsNoSchedule() {
		return
	}
	if silence <= h.cfg.AllowableNoAvl {
		return
	}
	departure, ok := state.Match.ScheduledWaitStopTime(h.st, now)
	if !ok {
		return
	}
	if past := now.Sub(departure); past > h.cfg.AllowableNoAvlAfterSchedDepart {
		h.timeOut(state, now, CauseWaitStopDeparture, fmt.Sprintf(
			"silent for %v at wait stop and %v past scheduled departure, more than the %v allowed",
			silence.Round(time.Second), past.Round(time.Second),
			h.cfg.AllowableNoAvlAfterSchedDepart))
	}
}

func (h *Handler) timeOut(state *vehicle.State, now time.Time, cause, reason string) {
	h.logger.Info("vehicle timed out",
		slog.String("vehicle_id", state.VehicleID),
		slog.String("reason", reason))

	oldPreds := state.Predictions
	state.MakeUnpredictable(reason, now)
	h.predCache.UpdatePredictions(oldPreds, nil)
	h.recordEvent(state, now, model.VehicleEventTimeout, cause, reason)

	if h.cfg.Evict {
		h.evict(state)
		return
	}
	h.cache.UpdateVehicle(state.Snapshot())
}

func (h *Handler) evict(state *vehicle.State) {
	h.cache.Remove(state.VehicleID)
	h.manager.Remove(state.VehicleID)
}

func (h *Handler) recordEvent(state *vehicle.State, now time.Time, eventType, cause, description string) {
	if h.events == nil {
		return
	}
	event := model.VehicleEvent{
		VehicleID:   state.VehicleID,
		Time:        now,
		EventType:   eventType,
		Cause:       cause,
		Description: description,
		Predictable: state.Predictable,
		BlockID:     state.BlockID(),
		RouteID:     state.RouteID,
	}
	if trip := state.Trip(); trip != nil {
		event.TripID = trip.ID
		if event.RouteID == "" {
			event.RouteID = trip.RouteID
		}
	}
	if state.AvlReport != nil {
		event.AvlTime = state.AvlReport.Time
		event.Lat = state.AvlReport.Lat
		event.Lon = state.AvlReport.Lon
	}
	h.events.RecordVehicleEvent(event)
}
