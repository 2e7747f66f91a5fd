package main

import (
	"context"

	"pulse.opentransit.org/internal/archive"
	"pulse.opentransit.org/internal/avl"
	"pulse.opentransit.org/internal/history"
	"pulse.opentransit.org/internal/matchproc"
	"pulse.opentransit.org/internal/metrics"
	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/publish"
)

var (
	_ matchproc.Recorder = (*matchRecorder)(nil)
	_ matchproc.Archiver = (*resultSinks)(nil)
	_ avl.ReportSink     = countingSink{}
)

// eventSinks fans diagnostic events out to the archive (when enabled) and
// the metrics registry. Satisfies the event recorder interfaces of the avl,
// timeout, and prediction packages.
type eventSinks struct {
	arch       *archive.Writer
	appMetrics *metrics.Metrics
}

func newEventSinks(arch *archive.Writer, appMetrics *metrics.Metrics) *eventSinks {
	return &eventSinks{arch: arch, appMetrics: appMetrics}
}

func (s *eventSinks) RecordVehicleEvent(event model.VehicleEvent) {
	if s.arch != nil {
		s.arch.RecordVehicleEvent(event)
	}
	switch event.EventType {
	case model.VehicleEventTimeout, model.VehicleEventTripCanceled:
		s.appMetrics.TimeoutsTotal.WithLabelValues(event.Cause).Inc()
	}
}

func (s *eventSinks) RecordPredictionEvent(event model.PredictionEvent) {
	if s.arch != nil {
		s.arch.RecordPredictionEvent(event)
	}
}

// matchRecorder persists pipeline output to the history store and mirrors
// matches into the archive.
type matchRecorder struct {
	store *history.SQLiteStore
	arch  *archive.Writer
}

func (r *matchRecorder) RecordMatch(ctx context.Context, m *model.Match, vehicleID string) error {
	if r.arch != nil {
		r.arch.ArchiveMatch(m, vehicleID)
	}
	return r.store.RecordMatch(ctx, m, vehicleID)
}

func (r *matchRecorder) RecordArrivalDeparture(ctx context.Context, ad *model.ArrivalDeparture, tripStartSecs int) error {
	return r.store.RecordArrivalDeparture(ctx, ad, tripStartSecs)
}

// resultSinks receives near-term predictions and headways from the match
// processor and forwards them to the archive, NATS, and metrics.
type resultSinks struct {
	arch       *archive.Writer
	publisher  *publish.Publisher
	appMetrics *metrics.Metrics
}

func newResultSinks(arch *archive.Writer, publisher *publish.Publisher, appMetrics *metrics.Metrics) *resultSinks {
	return &resultSinks{arch: arch, publisher: publisher, appMetrics: appMetrics}
}

func (s *resultSinks) ArchivePrediction(p model.Prediction) {
	s.appMetrics.PredictionsGenerated.Inc()
	if s.arch != nil {
		s.arch.ArchivePrediction(p)
	}
	if s.publisher != nil {
		s.publisher.PublishPredictions([]model.Prediction{p})
	}
}

func (s *resultSinks) ArchiveHeadway(h *model.Headway) {
	if h == nil {
		return
	}
	if s.arch != nil {
		s.arch.ArchiveHeadway(*h)
	}
}

// countingSink wraps the processor so feed intake is counted per source.
type countingSink struct {
	inner      avl.ReportSink
	appMetrics *metrics.Metrics
}

func (c countingSink) ProcessReport(ctx context.Context, report *model.AvlReport) {
	c.appMetrics.AvlReportsTotal.WithLabelValues(report.Source).Inc()
	c.inner.ProcessReport(ctx, report)
}
