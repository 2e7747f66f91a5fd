package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceZero(t *testing.T) {
	assert.InDelta(t, 0, Distance(40.7128, -74.0060, 40.7128, -74.0060), 0.001)
}

func TestDistanceShortRange(t *testing.T) {
	// One degree of latitude is about 111.19 km on this sphere; 0.01
	// degrees stays on the equirectangular fast path.
	d := Distance(37.00, -122.00, 37.01, -122.00)
	assert.InDelta(t, 1112, d, 3)
}

func TestDistanceLongRange(t *testing.T) {
	// New York to Los Angeles, exact formula path.
	d := Distance(40.7128, -74.0060, 34.0522, -118.2437)
	assert.InDelta(t, 3935746, d, 1000)
}

func TestDistanceQuarterCircumference(t *testing.T) {
	d := Distance(0, 0, 0, 90)
	assert.InDelta(t, 10007543, d, 10000)
}

func TestDistancePathsAgreeNearCutover(t *testing.T) {
	// Just inside and just outside the 0.2 degree fast-path threshold
	// should not disagree by more than a few meters.
	near := Distance(45.0, 7.0, 45.19, 7.0)
	far := Distance(45.0, 7.0, 45.21, 7.0)
	assert.Greater(t, far, near)
	assert.InDelta(t, far-near, Distance(45.19, 7.0, 45.21, 7.0), 5)
}
