package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock(t *testing.T) {
	c := RealClock{}

	before := time.Now()
	now := c.Now()
	after := time.Now()

	assert.False(t, now.Before(before))
	assert.False(t, now.After(after))
	assert.InDelta(t, time.Now().UnixMilli(), c.NowUnixMilli(), 1000)
}

func TestMockClock(t *testing.T) {
	start := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	c := NewMockClock(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.UnixMilli(), c.NowUnixMilli())

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())

	c.Advance(-time.Minute)
	assert.Equal(t, start.Add(30*time.Second), c.Now())

	later := start.Add(24 * time.Hour)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestOffsetClock(t *testing.T) {
	c := NewOffsetClock(-2 * time.Hour)

	got := c.Now()
	want := time.Now().Add(-2 * time.Hour)
	assert.InDelta(t, want.UnixMilli(), got.UnixMilli(), 1000)
}

func TestOffsetClockAt(t *testing.T) {
	playbackStart := time.Date(2024, 11, 2, 23, 45, 0, 0, time.UTC)
	c := NewOffsetClockAt(playbackStart)

	assert.InDelta(t, playbackStart.UnixMilli(), c.NowUnixMilli(), 1000)
}
