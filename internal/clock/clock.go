// Package clock provides time abstraction for testing and playback.
// Prediction and timeout logic never read the system clock directly;
// injecting a Clock lets tests pin time and lets operators replay
// recorded AVL data at an offset from real time.
package clock

import (
	"sync"
	"time"
)

// Clock provides an abstraction for time operations.
// Use RealClock in production and MockClock in tests.
type Clock interface {
	// Now returns the current time
	Now() time.Time
	// NowUnixMilli returns the current time as Unix milliseconds
	NowUnixMilli() int64
}

// RealClock implements Clock using actual system time.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// MockClock implements Clock with a controllable, thread-safe time for tests.
// Use NewMockClock to create instances.
type MockClock struct {
	currentTime time.Time
	mu          sync.Mutex
}

// NewMockClock creates a new MockClock set to the specified time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{currentTime: t}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *MockClock) NowUnixMilli() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime.UnixMilli()
}

// Set changes the mock clock's current time.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = t
}

// Advance moves the mock clock by the specified duration.
// Use positive durations to move forward, negative to move backward.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

// OffsetClock implements Clock as system time shifted by a fixed offset.
// Used when replaying a recorded AVL feed: the offset maps wall time onto
// the recording's time frame so schedule and timeout logic behave as they
// did when the data was captured.
type OffsetClock struct {
	offset time.Duration
}

// NewOffsetClock creates a clock whose Now() equals system time plus offset.
func NewOffsetClock(offset time.Duration) *OffsetClock {
	return &OffsetClock{offset: offset}
}

// NewOffsetClockAt creates a clock that reports playbackStart as the current
// time at the moment of the call, then advances in real time.
func NewOffsetClockAt(playbackStart time.Time) *OffsetClock {
	return &OffsetClock{offset: time.Until(playbackStart)}
}

func (c *OffsetClock) Now() time.Time {
	return time.Now().Add(c.offset)
}

func (c *OffsetClock) NowUnixMilli() int64 {
	return c.Now().UnixMilli()
}
