package sched

import (
	"testing"
	"time"

	"github.com/OneBusAway/go-gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func testStatic() *gtfs.Static {
	weekday := gtfs.Service{
		Id:        "weekday",
		Monday:    true,
		Tuesday:   true,
		Wednesday: true,
		Thursday:  true,
		Friday:    true,
		StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		RemovedDates: []time.Time{
			time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC),
		},
		AddedDates: []time.Time{
			time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		},
	}
	route := gtfs.Route{Id: "r1"}
	stops := []gtfs.Stop{
		{Id: "s1", Name: "First", Latitude: floatPtr(37.0), Longitude: floatPtr(-122.0)},
		{Id: "s2", Name: "Second", Latitude: floatPtr(37.01), Longitude: floatPtr(-122.0)},
		{Id: "s3", Name: "Third", Latitude: floatPtr(37.02), Longitude: floatPtr(-122.0)},
	}
	static := &gtfs.Static{
		Services: []gtfs.Service{weekday},
		Routes:   []gtfs.Route{route},
		Stops:    stops,
	}
	static.Trips = []gtfs.ScheduledTrip{
		{
			ID:      "t1",
			Route:   &static.Routes[0],
			Service: &static.Services[0],
			BlockID: "b1",
			StopTimes: []gtfs.ScheduledStopTime{
				{Stop: &static.Stops[0], ArrivalTime: 8 * time.Hour, DepartureTime: 8 * time.Hour},
				{Stop: &static.Stops[1], ArrivalTime: 8*time.Hour + 5*time.Minute, DepartureTime: 8*time.Hour + 10*time.Minute},
				{Stop: &static.Stops[2], ArrivalTime: 8*time.Hour + 20*time.Minute, DepartureTime: 8*time.Hour + 20*time.Minute},
			},
		},
		{
			ID:      "t2",
			Route:   &static.Routes[0],
			Service: &static.Services[0],
			BlockID: "b1",
			StopTimes: []gtfs.ScheduledStopTime{
				{Stop: &static.Stops[2], ArrivalTime: 9 * time.Hour, DepartureTime: 9 * time.Hour},
				{Stop: &static.Stops[0], ArrivalTime: 9*time.Hour + 20*time.Minute, DepartureTime: 9*time.Hour + 20*time.Minute},
			},
		},
		{
			ID:      "t3",
			Route:   &static.Routes[0],
			Service: &static.Services[0],
			StopTimes: []gtfs.ScheduledStopTime{
				{Stop: &static.Stops[0], ArrivalTime: 10 * time.Hour, DepartureTime: 10 * time.Hour},
				{Stop: &static.Stops[1], ArrivalTime: 10*time.Hour + 5*time.Minute, DepartureTime: 10*time.Hour + 5*time.Minute},
			},
		},
	}
	return static
}

func TestBuildModelGroupsTripsIntoBlocks(t *testing.T) {
	m := buildModel(testStatic())

	block, ok := m.Block("weekday", "b1")
	require.True(t, ok)
	require.Len(t, block.Trips, 2)
	assert.Equal(t, "t1", block.Trips[0].ID)
	assert.Equal(t, "t2", block.Trips[1].ID)
	assert.Equal(t, 8*3600, block.StartTimeSecs)
	assert.Equal(t, 9*3600+20*60, block.EndTimeSecs)

	// A trip with no block ID becomes its own block keyed by trip ID.
	solo, ok := m.Block("weekday", "t3")
	require.True(t, ok)
	require.Len(t, solo.Trips, 1)
}

func TestBuildModelStopPaths(t *testing.T) {
	m := buildModel(testStatic())
	trip, ok := m.Trip("t1")
	require.True(t, ok)
	require.Len(t, trip.StopPaths, 3)

	first := trip.StopPaths[0]
	assert.Equal(t, "s1", first.StopID)
	assert.Equal(t, "First", first.StopName)
	assert.Zero(t, first.Length)
	require.NotNil(t, first.ScheduleTime)
	assert.False(t, first.WaitStop)

	second := trip.StopPaths[1]
	// Scheduled dwell of 5 minutes marks a layover.
	assert.True(t, second.WaitStop)
	require.NotNil(t, second.ScheduleTime.ArrivalSecs)
	assert.Equal(t, 8*3600+5*60, *second.ScheduleTime.ArrivalSecs)
	require.NotNil(t, second.ScheduleTime.DepartureSecs)
	assert.Equal(t, 8*3600+10*60, *second.ScheduleTime.DepartureSecs)
	// ~1.1km between consecutive stops from coordinates.
	assert.InDelta(t, 1112, second.Length, 20)

	assert.Equal(t, 8*3600, trip.StartTimeSecs)
	assert.Equal(t, 8*3600+20*60, trip.EndTimeSecs)
}

func TestServiceCalendar(t *testing.T) {
	m := buildModel(testStatic())

	// A regular Monday.
	assert.Equal(t, []string{"weekday"}, m.ServiceIDsForDay(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)))
	// A Saturday, normally excluded, but listed in AddedDates.
	assert.Equal(t, []string{"weekday"}, m.ServiceIDsForDay(time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)))
	// July 4th is a Friday but removed.
	assert.Empty(t, m.ServiceIDsForDay(time.Date(2025, 7, 4, 12, 0, 0, 0, time.UTC)))
	// A Sunday outside the weekday pattern.
	assert.Empty(t, m.ServiceIDsForDay(time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)))
	// Outside the validity range.
	assert.Empty(t, m.ServiceIDsForDay(time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)))
}
