// Package schedvehicle synthesizes schedule-based vehicles for active
// blocks no real vehicle has claimed, so riders still get schedule-derived
// predictions for service that is supposed to be running.
package schedvehicle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pulse.opentransit.org/internal/assigner"
	"pulse.opentransit.org/internal/clock"
	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/vehicle"
)

// SourceSchedule marks AVL reports fabricated from the schedule.
const SourceSchedule = "Schedule"

// ReportProcessor is the normal AVL-processing entry point synthetic
// reports are fed through, so they receive a real match and predictions
// like any other vehicle.
type ReportProcessor interface {
	ProcessReport(ctx context.Context, report *model.AvlReport)
}

// Config bounds which blocks get a synthetic vehicle.
type Config struct {
	// BeforeStartWindow makes blocks eligible this long before their
	// scheduled start.
	BeforeStartWindow time.Duration
	// AfterStartWindow keeps blocks eligible only this long past their
	// start; negative means until the block's end time.
	AfterStartWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		BeforeStartWindow: 5 * time.Minute,
		AfterStartWindow:  -1,
	}
}

// Synthesizer is the periodic job creating schedule-based vehicles.
type Synthesizer struct {
	finder    *assigner.ActiveBlockFinder
	cache     vehicle.Cache
	processor ReportProcessor
	st        model.ServiceTime
	clk       clock.Clock
	cfg       Config
	logger    *slog.Logger
}

func NewSynthesizer(
	finder *assigner.ActiveBlockFinder,
	cache vehicle.Cache,
	processor ReportProcessor,
	st model.ServiceTime,
	clk clock.Clock,
	cfg Config,
	logger *slog.Logger,
) *Synthesizer {
	return &Synthesizer{
		finder:    finder,
		cache:     cache,
		processor: processor,
		st:        st,
		clk:       clk,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "sched_vehicle")),
	}
}

// VehicleID returns the synthetic vehicle ID for a block.
func VehicleID(blockID string) string {
	return fmt.Sprintf("block_%s_schedBasedVehicle", blockID)
}

// Run executes Synthesize on a fixed period until the context ends.
func (s *Synthesizer) Run(ctx context.Context, initialDelay, period time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(initialDelay):
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		s.safeSynthesize(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Synthesizer) safeSynthesize(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("synthesis run panicked", slog.Any("panic", r))
		}
	}()
	s.Synthesize(ctx)
}

// Synthesize creates a schedule-based vehicle for every active or
// about-to-start block without one. Blocks already claimed by any vehicle,
// real or synthetic, are skipped, so repeated runs are idempotent.
func (s *Synthesizer) Synthesize(ctx context.Context) {
	now := s.clk.Now()

	claimed := make(map[string]bool)
	for _, snap := range s.cache.VehiclesIncludingSynthetic() {
		if snap.BlockID != "" {
			claimed[snap.BlockID] = true
		}
	}

	beforeSecs := int(s.cfg.BeforeStartWindow / time.Second)
	afterSecs := -1
	if s.cfg.AfterStartWindow >= 0 {
		afterSecs = int(s.cfg.AfterStartWindow / time.Second)
	}

	for _, block := range s.finder.CurrentlyActiveBlocks(now, nil, claimed, beforeSecs, afterSecs) {
		lat, lon, ok := block.StartLocation()
		if !ok {
			s.logger.Warn("block has no start location, skipping synthesis",
				slog.String("block_id", block.ID))
			continue
		}
		report := &model.AvlReport{
			VehicleID:      VehicleID(block.ID),
			Time:           s.st.EpochTime(block.StartTimeSecs, now),
			Lat:            lat,
			Lon:            lon,
			Source:         SourceSchedule,
			AssignmentID:   block.ID,
			AssignmentType: model.AssignmentBlockForSchedBasedPreds,
		}
		s.logger.Info("synthesizing schedule-based vehicle",
			slog.String("vehicle_id", report.VehicleID),
			slog.String("block_id", block.ID))
		s.processor.ProcessReport(ctx, report)
	}
}
