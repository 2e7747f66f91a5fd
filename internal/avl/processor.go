// Package avl is the entry point of the processing pipeline: every AVL
// report, live or synthetic, comes through here to be assigned, matched,
// and turned into predictions.
package avl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pulse.opentransit.org/internal/adherence"
	"pulse.opentransit.org/internal/assigner"
	"pulse.opentransit.org/internal/matchproc"
	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/vehicle"
)

// Matcher is the external spatial matcher: given a report and its resolved
// block, it places the vehicle on the block. ok is false when no plausible
// match exists, which makes the vehicle unpredictable.
type Matcher interface {
	Match(ctx context.Context, report *model.AvlReport, block *model.Block, previous *model.Match) (*model.Match, bool)
}

// EventRecorder receives vehicle lifecycle diagnostics.
type EventRecorder interface {
	RecordVehicleEvent(event model.VehicleEvent)
}

// Config tunes report intake.
type Config struct {
	// MinTimeBetweenReports drops reports arriving faster than this per
	// vehicle; many feeds repeat positions every few seconds.
	MinTimeBetweenReports time.Duration
}

// Processor drives the per-report pipeline: rate limit, resolve the
// assignment, match, update state under the per-vehicle lock, then produce
// the results of the match.
type Processor struct {
	manager   *vehicle.Manager
	cache     vehicle.Cache
	predCache vehicle.PredictionCache
	resolver  *assigner.BlockResolver
	matcher   Matcher
	adherence *adherence.Processor
	results   *matchproc.Processor
	events    EventRecorder
	cfg       Config
	logger    *slog.Logger

	// OnDrop, when set, is called with the reason each time a report is
	// discarded before entering the pipeline.
	OnDrop func(reason string)

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewProcessor(
	manager *vehicle.Manager,
	cache vehicle.Cache,
	predCache vehicle.PredictionCache,
	resolver *assigner.BlockResolver,
	matcher Matcher,
	adherenceProc *adherence.Processor,
	results *matchproc.Processor,
	events EventRecorder,
	cfg Config,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		manager:   manager,
		cache:     cache,
		predCache: predCache,
		resolver:  resolver,
		matcher:   matcher,
		adherence: adherenceProc,
		results:   results,
		events:    events,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "avl_processor")),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// ProcessReport runs one AVL report through the pipeline. Safe for
// concurrent use; reports for different vehicles proceed in parallel.
func (p *Processor) ProcessReport(ctx context.Context, report *model.AvlReport) {
	if report.VehicleID == "" {
		p.logger.Warn("dropping AVL report without vehicle ID",
			slog.String("source", report.Source))
		p.drop("no_vehicle_id")
		return
	}
	if !p.allow(report) {
		p.logger.Debug("dropping AVL report inside rate limit",
			slog.String("vehicle_id", report.VehicleID))
		p.drop("rate_limited")
		return
	}

	assignment := p.resolver.Resolve(report)

	p.manager.WithVehicle(report.VehicleID, func(state *vehicle.State) {
		state.AvlReport = report
		state.ForSchedBasedPreds = report.ForSchedBasedPreds()

		if !assignment.HasBlock() {
			state.RouteID = assignment.RouteID
			p.demote(state, report, fmt.Sprintf(
				"no block could be resolved for assignment %q (%s)",
				report.AssignmentID, report.AssignmentType))
			p.cache.UpdateVehicle(state.Snapshot())
			return
		}

		match, ok := p.matcher.Match(ctx, report, assignment.Block, state.Match)
		if !ok {
			p.demote(state, report, fmt.Sprintf(
				"vehicle could not be matched to block %s", assignment.Block.ID))
			p.cache.UpdateVehicle(state.Snapshot())
			return
		}

		state.SetMatch(match, assignment.Block)
		state.RouteID = ""
		if diff, ok := p.adherence.Generate(state); ok {
			state.SchedAdherence = diff
			state.SchedAdherenceValid = true
		} else {
			state.SchedAdherenceValid = false
		}

		p.results.GenerateResultsOfMatch(ctx, state)
		p.cache.UpdateVehicle(state.Snapshot())
	})
}

// DrainReprocess feeds reports enqueued by the timeout handler's
// cancel-trip transition back through the pipeline until the context ends.
func (p *Processor) DrainReprocess(ctx context.Context, reports <-chan *model.AvlReport) {
	for {
		select {
		case <-ctx.Done():
			return
		case report, ok := <-reports:
			if !ok {
				return
			}
			p.ProcessReport(ctx, report)
		}
	}
}

// demote makes the vehicle unpredictable, retiring its predictions so cache
// consumers see the removal, and records the reason.
func (p *Processor) demote(state *vehicle.State, report *model.AvlReport, reason string) {
	wasPredictable := state.Predictable
	oldPreds := state.Predictions
	state.MakeUnpredictable(reason, report.Time)
	p.predCache.UpdatePredictions(oldPreds, nil)

	if wasPredictable {
		p.logger.Info("vehicle became unpredictable",
			slog.String("vehicle_id", state.VehicleID),
			slog.String("reason", reason))
	}
	if p.events != nil && wasPredictable {
		event := model.VehicleEvent{
			VehicleID:   state.VehicleID,
			Time:        report.Time,
			AvlTime:     report.Time,
			EventType:   model.VehicleEventNoAssignment,
			Cause:       "no_assignment",
			Description: reason,
			BlockID:     state.BlockID(),
			RouteID:     state.RouteID,
			Lat:         report.Lat,
			Lon:         report.Lon,
		}
		p.events.RecordVehicleEvent(event)
	}
}

func (p *Processor) drop(reason string) {
	if p.OnDrop != nil {
		p.OnDrop(reason)
	}
}

// allow applies the per-vehicle rate limit. Schedule-sourced reports bypass
// it; the synthesizer already runs on its own period.
func (p *Processor) allow(report *model.AvlReport) bool {
	if p.cfg.MinTimeBetweenReports <= 0 || report.ForSchedBasedPreds() {
		return true
	}
	p.mu.Lock()
	limiter, ok := p.limiters[report.VehicleID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(p.cfg.MinTimeBetweenReports), 1)
		p.limiters[report.VehicleID] = limiter
	}
	p.mu.Unlock()
	return limiter.Allow()
}
