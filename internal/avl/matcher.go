package avl

import (
	"context"
	"log/slog"
	"math"
	"time"

	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/utils"
)

// MatcherConfig tunes the built-in geometric matcher.
type MatcherConfig struct {
	// MaxDistanceFromRoute rejects reports farther than this from every
	// candidate stop path.
	MaxDistanceFromRoute float64
	// AtStopDistance treats the vehicle as being at a stop when within
	// this many meters of it.
	AtStopDistance float64
	// TripActiveSlack widens each trip's scheduled window when selecting
	// candidate trips.
	TripActiveSlack time.Duration
}

func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		MaxDistanceFromRoute: 500,
		AtStopDistance:       50,
		TripActiveSlack:      30 * time.Minute,
	}
}

// NearestPathMatcher places a report on the block by projecting it onto the
// straight segments between consecutive stops of the trips active around the
// report time. It is deliberately simple: no shape geometry, no Kalman
// filtering, just the closest plausible position.
type NearestPathMatcher struct {
	st     model.ServiceTime
	cfg    MatcherConfig
	logger *slog.Logger
}

func NewNearestPathMatcher(st model.ServiceTime, cfg MatcherConfig, logger *slog.Logger) *NearestPathMatcher {
	return &NearestPathMatcher{
		st:     st,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "matcher")),
	}
}

func (nm *NearestPathMatcher) Match(_ context.Context, report *model.AvlReport, block *model.Block, previous *model.Match) (*model.Match, bool) {
	best := candidate{distance: math.MaxFloat64}

	for tripIndex, trip := range block.Trips {
		if !nm.tripActiveAround(trip, report.Time) {
			continue
		}
		for pathIndex := range trip.StopPaths {
			c := nm.projectOntoPath(report, trip, pathIndex)
			if c.distance < best.distance {
				c.tripIndex = tripIndex
				c.stopPathIndex = pathIndex
				best = c
			}
		}
	}

	if best.distance > nm.cfg.MaxDistanceFromRoute {
		nm.logger.Debug("report too far from block",
			slog.String("vehicle_id", report.VehicleID),
			slog.String("block_id", block.ID),
			slog.Float64("distance_m", best.distance))
		return nil, false
	}

	// Never match backwards relative to the previous position on the same
	// block; a noisy fix behind the vehicle stays at the previous spot.
	if previous != nil && previous.Block != nil && previous.Block.ID == block.ID {
		if best.tripIndex < previous.TripIndex ||
			(best.tripIndex == previous.TripIndex && best.stopPathIndex < previous.StopPathIndex) {
			best.tripIndex = previous.TripIndex
			best.stopPathIndex = previous.StopPathIndex
			best.alongPath = previous.DistanceAlongPath
			best.atStop = previous.AtStopInfo != nil
		}
	}

	match := &model.Match{
		Block:             block,
		TripIndex:         best.tripIndex,
		StopPathIndex:     best.stopPathIndex,
		DistanceAlongPath: best.alongPath,
		AvlTime:           report.Time,
	}
	if best.atStop {
		match.AtStopInfo = model.AtStop(block, best.tripIndex, best.stopPathIndex)
	}
	return match, true
}

type candidate struct {
	tripIndex     int
	stopPathIndex int
	alongPath     float64
	distance      float64
	atStop        bool
}

func (nm *NearestPathMatcher) tripActiveAround(trip *model.Trip, at time.Time) bool {
	start := nm.st.EpochTime(trip.StartTimeSecs, at).Add(-nm.cfg.TripActiveSlack)
	end := nm.st.EpochTime(trip.EndTimeSecs, at).Add(nm.cfg.TripActiveSlack)
	return !at.Before(start) && !at.After(end)
}

// projectOntoPath projects the report onto the segment from the previous
// stop to the path's stop. The first path of a trip has no previous stop,
// so it degenerates to the stop point itself.
func (nm *NearestPathMatcher) projectOntoPath(report *model.AvlReport, trip *model.Trip, pathIndex int) candidate {
	path := trip.StopPaths[pathIndex]

	if pathIndex == 0 {
		dist := utils.Distance(report.Lat, report.Lon, path.StopLat, path.StopLon)
		return candidate{
			alongPath: path.Length,
			distance:  dist,
			atStop:    dist <= nm.cfg.AtStopDistance,
		}
	}

	prev := trip.StopPaths[pathIndex-1]
	fraction, offRoute := projectOntoSegment(
		report.Lat, report.Lon,
		prev.StopLat, prev.StopLon,
		path.StopLat, path.StopLon)

	c := candidate{
		alongPath: fraction * path.Length,
		distance:  offRoute,
	}
	if utils.Distance(report.Lat, report.Lon, path.StopLat, path.StopLon) <= nm.cfg.AtStopDistance {
		c.atStop = true
		c.alongPath = path.Length
	}
	return c
}

// projectOntoSegment returns how far along the segment (0..1) the closest
// point to (lat, lon) lies, and the distance to that closest point in
// meters. Uses an equirectangular local plane, fine at stop-spacing scales.
func projectOntoSegment(lat, lon, lat1, lon1, lat2, lon2 float64) (fraction, distance float64) {
	const metersPerDegLat = 111320.0
	cosLat := math.Cos(lat1 * math.Pi / 180)

	px := (lon - lon1) * metersPerDegLat * cosLat
	py := (lat - lat1) * metersPerDegLat
	sx := (lon2 - lon1) * metersPerDegLat * cosLat
	sy := (lat2 - lat1) * metersPerDegLat

	segLenSq := sx*sx + sy*sy
	if segLenSq == 0 {
		return 0, math.Hypot(px, py)
	}

	fraction = (px*sx + py*sy) / segLenSq
	fraction = math.Max(0, math.Min(1, fraction))

	dx := px - fraction*sx
	dy := py - fraction*sy
	return fraction, math.Hypot(dx, dy)
}
