package matchproc

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse.opentransit.org/internal/headway"
	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/vehicle"
)

func secsPtr(v int) *int { return &v }

type fakePredictionGen struct {
	preds []model.Prediction
}

func (g *fakePredictionGen) Generate(context.Context, *vehicle.State) []model.Prediction {
	return g.preds
}

type capturingRecorder struct {
	matches    []string
	arrivals   []*model.ArrivalDeparture
	departures []*model.ArrivalDeparture
}

func (r *capturingRecorder) RecordMatch(_ context.Context, _ *model.Match, vehicleID string) error {
	r.matches = append(r.matches, vehicleID)
	return nil
}

func (r *capturingRecorder) RecordArrivalDeparture(_ context.Context, ad *model.ArrivalDeparture, _ int) error {
	if ad.Arrival {
		r.arrivals = append(r.arrivals, ad)
	} else {
		r.departures = append(r.departures, ad)
	}
	return nil
}

type capturingArchiver struct {
	preds    []model.Prediction
	headways []*model.Headway
}

func (a *capturingArchiver) ArchivePrediction(p model.Prediction) { a.preds = append(a.preds, p) }
func (a *capturingArchiver) ArchiveHeadway(h *model.Headway)      { a.headways = append(a.headways, h) }

func threeStopBlock() *model.Block {
	trip := &model.Trip{
		ID:            "t1",
		RouteID:       "r1",
		BlockID:       "b1",
		ServiceID:     "weekday",
		DirectionID:   "0",
		StartTimeSecs: 8 * 3600,
		EndTimeSecs:   8*3600 + 600,
		StopPaths: []*model.StopPath{
			{StopID: "s1", ScheduleTime: &model.ScheduleTime{DepartureSecs: secsPtr(8 * 3600)}},
			{StopID: "s2", Length: 600, ScheduleTime: &model.ScheduleTime{ArrivalSecs: secsPtr(8*3600 + 300)}},
			{StopID: "s3", Length: 600, ScheduleTime: &model.ScheduleTime{ArrivalSecs: secsPtr(8*3600 + 600)}},
		},
	}
	return model.NewBlock("b1", "weekday", trip.StartTimeSecs, trip.EndTimeSecs, []*model.Trip{trip})
}

func matchedState(block *model.Block, stopPathIndex int, atStop bool, avlTime time.Time) *vehicle.State {
	match := &model.Match{
		Block:         block,
		StopPathIndex: stopPathIndex,
		AvlTime:       avlTime,
	}
	if atStop {
		match.AtStopInfo = model.AtStop(block, 0, stopPathIndex)
	}
	return &vehicle.State{
		VehicleID:   "v1",
		AvlReport:   &model.AvlReport{VehicleID: "v1", Time: avlTime},
		Match:       match,
		Block:       block,
		Predictable: true,
	}
}

func newTestProcessor(gen *fakePredictionGen, rec *capturingRecorder, arch *capturingArchiver, cfg Config) (*Processor, *vehicle.MapPredictionCache) {
	cache := vehicle.NewMapPredictionCache()
	p := NewProcessor(gen, headway.NoOp{}, NewTransitionGenerator(slog.Default()),
		cache, rec, arch, cfg, slog.Default())
	return p, cache
}

func TestResultsForUnpredictableVehicleNoop(t *testing.T) {
	rec := &capturingRecorder{}
	p, _ := newTestProcessor(&fakePredictionGen{}, rec, &capturingArchiver{}, Config{})

	state := matchedState(threeStopBlock(), 1, false, time.Now())
	state.Predictable = false
	p.GenerateResultsOfMatch(context.Background(), state)

	assert.Empty(t, rec.matches)
	assert.Empty(t, rec.arrivals)
}

func TestResultsForConsistMemberNoop(t *testing.T) {
	rec := &capturingRecorder{}
	p, _ := newTestProcessor(&fakePredictionGen{}, rec, &capturingArchiver{}, Config{})

	state := matchedState(threeStopBlock(), 1, false, time.Now())
	state.AvlReport.LeadVehicleID = "v9"
	p.GenerateResultsOfMatch(context.Background(), state)

	assert.Empty(t, rec.matches)
}

func TestResultsSwapPredictionCache(t *testing.T) {
	block := threeStopBlock()
	now := time.Date(2025, 3, 10, 8, 2, 0, 0, time.UTC)

	old := model.Prediction{VehicleID: "v1", RouteID: "r1", StopID: "s2", TripID: "t1", Time: now.Add(-time.Minute)}
	fresh := model.Prediction{VehicleID: "v1", RouteID: "r1", StopID: "s2", TripID: "t1", Time: now.Add(2 * time.Minute), AvlTime: now}

	rec := &capturingRecorder{}
	arch := &capturingArchiver{}
	p, cache := newTestProcessor(&fakePredictionGen{preds: []model.Prediction{fresh}}, rec, arch, Config{})
	cache.UpdatePredictions(nil, []model.Prediction{old})

	state := matchedState(block, 1, false, now)
	state.Predictions = []model.Prediction{old}
	p.GenerateResultsOfMatch(context.Background(), state)

	got := cache.PredictionsForStop("r1", "s2")
	require.Len(t, got, 1)
	assert.Equal(t, fresh.Time, got[0].Time)
	assert.Equal(t, []model.Prediction{fresh}, state.Predictions)
	assert.Len(t, arch.preds, 1)
}

func TestResultsSkipFarFuturePredictionsInArchive(t *testing.T) {
	block := threeStopBlock()
	now := time.Date(2025, 3, 10, 8, 2, 0, 0, time.UTC)

	near := model.Prediction{VehicleID: "v1", RouteID: "r1", StopID: "s2", TripID: "t1", Time: now.Add(2 * time.Minute), AvlTime: now}
	far := model.Prediction{VehicleID: "v1", RouteID: "r1", StopID: "s3", TripID: "t1", Time: now.Add(40 * time.Minute), AvlTime: now}

	arch := &capturingArchiver{}
	p, _ := newTestProcessor(&fakePredictionGen{preds: []model.Prediction{near, far}},
		&capturingRecorder{}, arch, Config{MaxPredictionArchiveLeadTime: 15 * time.Minute})

	p.GenerateResultsOfMatch(context.Background(), matchedState(block, 1, false, now))
	require.Len(t, arch.preds, 1)
	assert.Equal(t, "s2", arch.preds[0].StopID)
}

func TestMatchNotPersistedAtStop(t *testing.T) {
	block := threeStopBlock()
	now := time.Date(2025, 3, 10, 8, 5, 0, 0, time.UTC)
	rec := &capturingRecorder{}
	p, _ := newTestProcessor(&fakePredictionGen{}, rec, &capturingArchiver{}, Config{})

	p.GenerateResultsOfMatch(context.Background(), matchedState(block, 1, true, now))
	assert.Empty(t, rec.matches)

	p.GenerateResultsOfMatch(context.Background(), matchedState(block, 1, false, now))
	assert.Equal(t, []string{"v1"}, rec.matches)
}

func TestOnlyArrivalsDeparturesFlag(t *testing.T) {
	block := threeStopBlock()
	now := time.Date(2025, 3, 10, 8, 5, 0, 0, time.UTC)

	rec := &capturingRecorder{}
	arch := &capturingArchiver{}
	fresh := model.Prediction{VehicleID: "v1", RouteID: "r1", StopID: "s2", Time: now.Add(time.Minute), AvlTime: now}
	p, cache := newTestProcessor(&fakePredictionGen{preds: []model.Prediction{fresh}}, rec, arch,
		Config{OnlyArrivalsDepartures: true})

	// Arriving at s2 after being mid-path must still record the arrival,
	// but predictions, headway, and the match are all suppressed.
	state := matchedState(block, 1, true, now)
	state.PreviousMatch = &model.Match{Block: block, StopPathIndex: 1, DistanceAlongPath: 100, AvlTime: now.Add(-time.Minute)}
	p.GenerateResultsOfMatch(context.Background(), state)

	assert.Len(t, rec.arrivals, 1)
	assert.Empty(t, rec.matches)
	assert.Empty(t, arch.preds)
	assert.Empty(t, cache.PredictionsForStop("r1", "s2"))
}

func TestFirstReportProducesNoEarlyPredictions(t *testing.T) {
	// A fresh vehicle with no history: nothing the processor outputs may
	// point earlier than the report time, and an at-stop match is not
	// persisted.
	block := threeStopBlock()
	now := time.Date(2025, 3, 10, 8, 5, 0, 0, time.UTC)

	fresh := model.Prediction{VehicleID: "v1", RouteID: "r1", StopID: "s3", Time: now.Add(5 * time.Minute), AvlTime: now}
	rec := &capturingRecorder{}
	p, cache := newTestProcessor(&fakePredictionGen{preds: []model.Prediction{fresh}}, rec, &capturingArchiver{}, Config{})

	state := matchedState(block, 1, true, now)
	p.GenerateResultsOfMatch(context.Background(), state)

	for _, pred := range cache.PredictionsForStop("r1", "s3") {
		assert.False(t, pred.Time.Before(now))
	}
	assert.Empty(t, rec.matches)
}

func TestTransitionGeneratorCrossingStops(t *testing.T) {
	block := threeStopBlock()
	gen := NewTransitionGenerator(slog.Default())
	t0 := time.Date(2025, 3, 10, 8, 1, 0, 0, time.UTC)
	t1 := t0.Add(2 * time.Minute)

	// Vehicle moved from mid-path-1 to mid-path-2, passing s2 on the way.
	state := matchedState(block, 2, false, t1)
	state.Match.DistanceAlongPath = 100
	state.PreviousMatch = &model.Match{Block: block, StopPathIndex: 1, DistanceAlongPath: 400, AvlTime: t0}

	events := gen.Generate(state)
	require.Len(t, events, 2)
	assert.True(t, events[0].IsArrival())
	assert.Equal(t, "s2", events[0].StopID)
	assert.True(t, events[1].IsDeparture())
	assert.Equal(t, "s2", events[1].StopID)
	assert.True(t, events[0].Time.After(t0) && events[0].Time.Before(t1))
}

func TestTransitionGeneratorBackwardsMatchDiscarded(t *testing.T) {
	block := threeStopBlock()
	gen := NewTransitionGenerator(slog.Default())
	now := time.Now()

	state := matchedState(block, 1, false, now)
	state.PreviousMatch = &model.Match{Block: block, StopPathIndex: 2, AvlTime: now.Add(-time.Minute)}

	assert.Empty(t, gen.Generate(state))
}

func TestTransitionGeneratorDepartureAfterDwell(t *testing.T) {
	block := threeStopBlock()
	gen := NewTransitionGenerator(slog.Default())
	t0 := time.Date(2025, 3, 10, 8, 5, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	// Previously at s2, now moved onto the next path: only a departure for
	// s2, the arrival was recorded on the earlier transition.
	prev := &model.Match{Block: block, StopPathIndex: 1, AtStopInfo: model.AtStop(block, 0, 1), AvlTime: t0}
	state := matchedState(block, 2, false, t1)
	state.Match.DistanceAlongPath = 50
	state.PreviousMatch = prev

	events := gen.Generate(state)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsDeparture())
	assert.Equal(t, "s2", events[0].StopID)
}
