package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func untimedStop(stopID string) *StopPath {
	return &StopPath{StopID: stopID, Length: 300}
}

func TestMatchAtNextStopWithScheduleTime(t *testing.T) {
	block := NewBlock("b1", "svc", 8*3600, 10*3600, []*Trip{
		tripWithStops("t1", "r1", 8*3600, 10*3600,
			timedStop("s1", 8*3600),
			untimedStop("s2"),
			untimedStop("s3"),
			timedStop("s4", 9*3600),
		),
	})

	// Vehicle partway along the path to untimed stop s2: the next timed
	// stop is s4.
	match := &Match{Block: block, TripIndex: 0, StopPathIndex: 1, DistanceAlongPath: 120}
	next := match.MatchAtNextStopWithScheduleTime()
	require.NotNil(t, next)
	assert.Equal(t, 3, next.StopPathIndex)
	assert.True(t, next.IsAtStop())
	assert.Equal(t, "s4", next.AtStopInfo.StopID())

	// Past the last timed stop: no result.
	allUntimed := NewBlock("b2", "svc", 0, 3600, []*Trip{
		tripWithStops("t1", "r1", 0, 3600, untimedStop("s1"), untimedStop("s2")),
	})
	match = &Match{Block: allUntimed, TripIndex: 0, StopPathIndex: 0}
	assert.Nil(t, match.MatchAtNextStopWithScheduleTime())
}

func TestMatchScheduledWaitStopTime(t *testing.T) {
	st := NewServiceTime(time.UTC)
	departure := 9 * 3600

	waitStop := &StopPath{
		StopID:       "layover",
		WaitStop:     true,
		ScheduleTime: &ScheduleTime{DepartureSecs: &departure},
	}
	block := NewBlock("b1", "svc", 8*3600, 12*3600, []*Trip{
		tripWithStops("t1", "r1", 8*3600, 12*3600, waitStop),
	})

	ref := time.Date(2025, 6, 2, 8, 55, 0, 0, time.UTC)
	match := &Match{
		Block:      block,
		AtStopInfo: AtStop(block, 0, 0),
		AvlTime:    ref,
	}

	got, ok := match.ScheduledWaitStopTime(st, ref)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), got)

	// Not at a stop at all.
	notAtStop := &Match{Block: block, AvlTime: ref}
	_, ok = notAtStop.ScheduledWaitStopTime(st, ref)
	assert.False(t, ok)
}

func TestIndicesNavigation(t *testing.T) {
	block := NewBlock("b1", "svc", 0, 7200, []*Trip{
		tripWithStops("t1", "r1", 0, 3600, timedStop("a", 0), timedStop("b", 600)),
		tripWithStops("t2", "r1", 3600, 7200, timedStop("c", 3600), timedStop("d", 4200)),
	})

	i := Indices{Block: block, TripIndex: 0, StopPathIndex: 1}

	next, ok := i.Next()
	require.True(t, ok)
	assert.Equal(t, 1, next.TripIndex)
	assert.Equal(t, 0, next.StopPathIndex)

	prev, ok := next.Previous()
	require.True(t, ok)
	assert.Equal(t, 0, prev.TripIndex)
	assert.Equal(t, 1, prev.StopPathIndex)

	last := Indices{Block: block, TripIndex: 1, StopPathIndex: 1}
	assert.True(t, last.AtEndOfBlock())
	_, ok = last.Next()
	assert.False(t, ok)

	first := Indices{Block: block, TripIndex: 0, StopPathIndex: 0}
	assert.True(t, first.AtBeginningOfTrip())
	_, ok = first.Previous()
	assert.False(t, ok)
}

func TestVehicleAtStopInfoAtEndOfBlock_NoSchedule(t *testing.T) {
	st := NewServiceTime(time.UTC)
	cal := fixedCalendar{byDay: map[string][]string{
		"2025-06-02": {"freq"},
	}}

	trip := tripWithStops("loop", "r1", 8*3600, 9*3600, timedStop("s1", 8*3600), timedStop("s2", 9*3600))
	trip.NoSchedule = true
	block := NewBlock("fb", "freq", 8*3600, 11*3600, []*Trip{trip})

	// At the last stop mid-block: a frequency-based vehicle loops, so this
	// is not the end of the block while the block is still active.
	info := AtStop(block, 0, 1)
	nineAM := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	assert.False(t, info.AtEndOfBlock(cal, st, nineAM, 0, 0))

	// Hours after the extended window the block is done.
	nextDay := time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)
	assert.True(t, info.AtEndOfBlock(cal, st, nextDay, 0, 0))

	// Scheduled block: plain positional check.
	schedBlock := NewBlock("sb", "freq", 8*3600, 9*3600, []*Trip{
		tripWithStops("t1", "r1", 8*3600, 9*3600, timedStop("s1", 8*3600), timedStop("s2", 9*3600)),
	})
	assert.True(t, AtStop(schedBlock, 0, 1).AtEndOfBlock(cal, st, nineAM, 0, 0))
	assert.False(t, AtStop(schedBlock, 0, 0).AtEndOfBlock(cal, st, nineAM, 0, 0))
}
