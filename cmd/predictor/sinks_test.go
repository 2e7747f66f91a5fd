package main

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse.opentransit.org/internal/matchproc"
	"pulse.opentransit.org/internal/metrics"
	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/timeout"
)

type capturingSink struct {
	reports []*model.AvlReport
}

func (c *capturingSink) ProcessReport(_ context.Context, report *model.AvlReport) {
	c.reports = append(c.reports, report)
}

func TestCountingSinkCountsPerSourceAndDelegates(t *testing.T) {
	inner := &capturingSink{}
	appMetrics := metrics.New()
	sink := countingSink{inner: inner, appMetrics: appMetrics}

	sink.ProcessReport(context.Background(), &model.AvlReport{VehicleID: "v1", Source: "gtfsrt"})
	sink.ProcessReport(context.Background(), &model.AvlReport{VehicleID: "v2", Source: "gtfsrt"})
	sink.ProcessReport(context.Background(), &model.AvlReport{VehicleID: "v3", Source: "nats"})

	require.Len(t, inner.reports, 3)
	assert.Equal(t, 2.0, testutil.ToFloat64(appMetrics.AvlReportsTotal.WithLabelValues("gtfsrt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(appMetrics.AvlReportsTotal.WithLabelValues("nats")))
}

func TestResultSinksHeadway(t *testing.T) {
	s := newResultSinks(nil, nil, metrics.New())

	// The match processor hands over a nil headway when none could be
	// generated; the sink must swallow it.
	var archiver matchproc.Archiver = s
	archiver.ArchiveHeadway(nil)
	archiver.ArchiveHeadway(&model.Headway{VehicleID: "v1", Gap: 5 * time.Minute})
}

func TestResultSinksCountsPredictions(t *testing.T) {
	appMetrics := metrics.New()
	s := newResultSinks(nil, nil, appMetrics)

	s.ArchivePrediction(model.Prediction{VehicleID: "v1", StopID: "s1"})
	s.ArchivePrediction(model.Prediction{VehicleID: "v1", StopID: "s2"})

	assert.Equal(t, 2.0, testutil.ToFloat64(appMetrics.PredictionsGenerated))
}

func TestEventSinksCountsTimeoutsByCause(t *testing.T) {
	appMetrics := metrics.New()
	s := newEventSinks(nil, appMetrics)

	s.RecordVehicleEvent(model.VehicleEvent{EventType: model.VehicleEventTimeout, Cause: timeout.CauseNoAvl})
	s.RecordVehicleEvent(model.VehicleEvent{EventType: model.VehicleEventTimeout, Cause: timeout.CauseNoAvl})
	s.RecordVehicleEvent(model.VehicleEvent{EventType: model.VehicleEventTripCanceled, Cause: timeout.CauseTripCanceled})
	s.RecordVehicleEvent(model.VehicleEvent{EventType: model.VehicleEventUnpredictable, Cause: "no_assignment"})

	assert.Equal(t, 2.0, testutil.ToFloat64(appMetrics.TimeoutsTotal.WithLabelValues(timeout.CauseNoAvl)))
	assert.Equal(t, 1.0, testutil.ToFloat64(appMetrics.TimeoutsTotal.WithLabelValues(timeout.CauseTripCanceled)))
	assert.Equal(t, 0.0, testutil.ToFloat64(appMetrics.TimeoutsTotal.WithLabelValues("no_assignment")))
}
