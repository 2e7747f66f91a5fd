// Package matchproc turns a successfully matched AVL report into the
// pipeline's outputs: predictions, headway, persisted match, and
// arrival/departure records.
package matchproc

import (
	"context"
	"log/slog"
	"time"

	"pulse.opentransit.org/internal/headway"
	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/prediction"
	"pulse.opentransit.org/internal/vehicle"
)

// Recorder persists matches and arrival/departure events, typically to the
// historical store so future predictions can sample them.
type Recorder interface {
	RecordMatch(ctx context.Context, m *model.Match, vehicleID string) error
	RecordArrivalDeparture(ctx context.Context, ad *model.ArrivalDeparture, tripStartSecs int) error
}

// Archiver receives predictions and headways bound for long-term storage.
type Archiver interface {
	ArchivePrediction(p model.Prediction)
	ArchiveHeadway(h *model.Headway)
}

// Config controls which outputs a match produces.
type Config struct {
	// OnlyArrivalsDepartures disables prediction, headway, and match output
	// while keeping arrival/departure generation, for deployments that only
	// harvest history.
	OnlyArrivalsDepartures bool
	// MaxPredictionArchiveLeadTime bounds which predictions are worth
	// persisting; far-future ones get superseded before anyone reads them.
	MaxPredictionArchiveLeadTime time.Duration
}

// Processor produces the results of a match. Callers must hold the
// per-vehicle lock, since it reads and mutates the vehicle state.
type Processor struct {
	predictions prediction.Generator
	headways    headway.Generator
	arrivals    ArrivalDepartureGenerator
	predCache   vehicle.PredictionCache
	recorder    Recorder
	archiver    Archiver
	cfg         Config
	logger      *slog.Logger
}

func NewProcessor(
	predictions prediction.Generator,
	headways headway.Generator,
	arrivals ArrivalDepartureGenerator,
	predCache vehicle.PredictionCache,
	recorder Recorder,
	archiver Archiver,
	cfg Config,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		predictions: predictions,
		headways:    headways,
		arrivals:    arrivals,
		predCache:   predCache,
		recorder:    recorder,
		archiver:    archiver,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "match_processor")),
	}
}

// GenerateResultsOfMatch runs the full output pass for the vehicle's current
// match. Arrival/departure records are always produced; predictions,
// headway, and the persisted match are skipped when configuration asks for
// arrivals/departures only. The match itself is only persisted when the
// vehicle is between stops, since matches at stops measure dwell rather
// than travel.
func (p *Processor) GenerateResultsOfMatch(ctx context.Context, state *vehicle.State) {
	if !state.Predictable || state.Match == nil {
		p.logger.Error("results requested for unpredictable vehicle",
			slog.String("vehicle_id", state.VehicleID))
		return
	}
	if state.AvlReport != nil && state.AvlReport.IgnoreBecauseInConsist() {
		// Trailing vehicles of a consist produce nothing; the lead vehicle
		// carries the results.
		return
	}

	p.recordArrivalsDepartures(ctx, state)

	if p.cfg.OnlyArrivalsDepartures {
		return
	}

	newPreds := p.predictions.Generate(ctx, state)
	p.predCache.UpdatePredictions(state.Predictions, newPreds)
	state.Predictions = newPreds
	if p.archiver != nil {
		for _, pred := range newPreds {
			if p.cfg.MaxPredictionArchiveLeadTime > 0 && pred.LeadTime() > p.cfg.MaxPredictionArchiveLeadTime {
				continue
			}
			p.archiver.ArchivePrediction(pred)
		}
	}

	if hw := p.headways.Generate(ctx, state); hw != nil {
		state.Headway = hw
		if p.archiver != nil {
			p.archiver.ArchiveHeadway(hw)
		}
	}

	if !state.IsAtStop() {
		if err := p.recorder.RecordMatch(ctx, state.Match, state.VehicleID); err != nil {
			p.logger.Warn("persisting match failed",
				slog.String("vehicle_id", state.VehicleID), slog.Any("error", err))
		}
	}
}

func (p *Processor) recordArrivalsDepartures(ctx context.Context, state *vehicle.State) {
	tripStartSecs := 0
	if trip := state.Trip(); trip != nil {
		tripStartSecs = trip.StartTimeSecs
	}
	for _, ad := range p.arrivals.Generate(state) {
		if err := p.recorder.RecordArrivalDeparture(ctx, ad, tripStartSecs); err != nil {
			p.logger.Warn("persisting arrival/departure failed",
				slog.String("vehicle_id", state.VehicleID),
				slog.String("stop_id", ad.StopID),
				slog.Any("error", err))
		}
	}
}
