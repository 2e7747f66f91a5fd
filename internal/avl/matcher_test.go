package avl

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse.opentransit.org/internal/model"
)

// Three stops going north along a meridian, roughly 1.1km apart.
func matcherBlock() *model.Block {
	trip := &model.Trip{
		ID:            "t1",
		RouteID:       "r1",
		BlockID:       "b1",
		ServiceID:     "weekday",
		StartTimeSecs: 8 * 3600,
		EndTimeSecs:   9 * 3600,
		StopPaths: []*model.StopPath{
			{StopID: "s1", StopLat: 37.00, StopLon: -122.0, ScheduleTime: &model.ScheduleTime{DepartureSecs: secsPtr(8 * 3600)}},
			{StopID: "s2", StopLat: 37.01, StopLon: -122.0, Length: 1113, ScheduleTime: &model.ScheduleTime{ArrivalSecs: secsPtr(8*3600 + 1800)}},
			{StopID: "s3", StopLat: 37.02, StopLon: -122.0, Length: 1113, ScheduleTime: &model.ScheduleTime{ArrivalSecs: secsPtr(9 * 3600)}},
		},
	}
	return model.NewBlock("b1", "weekday", 8*3600, 9*3600, []*model.Trip{trip})
}

func newMatcher() *NearestPathMatcher {
	st := model.NewServiceTime(time.UTC)
	return NewNearestPathMatcher(st, DefaultMatcherConfig(), slog.Default())
}

func TestMatcherAtStop(t *testing.T) {
	m := newMatcher()
	report := &model.AvlReport{
		VehicleID: "v1",
		Time:      time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC),
		Lat:       37.01, Lon: -122.0,
	}

	match, ok := m.Match(context.Background(), report, matcherBlock(), nil)
	require.True(t, ok)
	assert.Equal(t, 1, match.StopPathIndex)
	assert.True(t, match.IsAtStop())
	assert.Equal(t, "s2", match.AtStopInfo.StopID())
}

func TestMatcherBetweenStops(t *testing.T) {
	m := newMatcher()
	// Halfway between s2 and s3, displaced 100m east of the segment.
	report := &model.AvlReport{
		VehicleID: "v1",
		Time:      time.Date(2025, 3, 10, 8, 45, 0, 0, time.UTC),
		Lat:       37.015, Lon: -121.9989,
	}

	match, ok := m.Match(context.Background(), report, matcherBlock(), nil)
	require.True(t, ok)
	assert.Equal(t, 2, match.StopPathIndex)
	assert.False(t, match.IsAtStop())
	assert.InDelta(t, 1113.0/2, match.DistanceAlongPath, 60)
}

func TestMatcherRejectsFarReport(t *testing.T) {
	m := newMatcher()
	report := &model.AvlReport{
		VehicleID: "v1",
		Time:      time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC),
		Lat:       37.10, Lon: -122.0,
	}

	_, ok := m.Match(context.Background(), report, matcherBlock(), nil)
	assert.False(t, ok)
}

func TestMatcherRejectsOutsideScheduleWindow(t *testing.T) {
	m := newMatcher()
	report := &model.AvlReport{
		VehicleID: "v1",
		Time:      time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC),
		Lat:       37.01, Lon: -122.0,
	}

	_, ok := m.Match(context.Background(), report, matcherBlock(), nil)
	assert.False(t, ok)
}

func TestMatcherNeverMovesBackwards(t *testing.T) {
	m := newMatcher()
	block := matcherBlock()
	previous := &model.Match{Block: block, TripIndex: 0, StopPathIndex: 2, DistanceAlongPath: 500}

	// A fix near s1, well behind the previous position.
	report := &model.AvlReport{
		VehicleID: "v1",
		Time:      time.Date(2025, 3, 10, 8, 50, 0, 0, time.UTC),
		Lat:       37.00, Lon: -122.0,
	}

	match, ok := m.Match(context.Background(), report, block, previous)
	require.True(t, ok)
	assert.Equal(t, 2, match.StopPathIndex)
	assert.Equal(t, 500.0, match.DistanceAlongPath)
}

func TestProjectOntoSegment(t *testing.T) {
	// Point exactly on the segment midpoint.
	fraction, dist := projectOntoSegment(37.005, -122.0, 37.00, -122.0, 37.01, -122.0)
	assert.InDelta(t, 0.5, fraction, 0.01)
	assert.InDelta(t, 0, dist, 1)

	// Point beyond the end clamps to 1.
	fraction, _ = projectOntoSegment(37.02, -122.0, 37.00, -122.0, 37.01, -122.0)
	assert.Equal(t, 1.0, fraction)

	// Degenerate zero-length segment.
	fraction, dist = projectOntoSegment(37.001, -122.0, 37.00, -122.0, 37.00, -122.0)
	assert.Equal(t, 0.0, fraction)
	assert.InDelta(t, 111.3, dist, 1)
}
