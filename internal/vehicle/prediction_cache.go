package vehicle

import (
	"sort"
	"sync"

	"pulse.opentransit.org/internal/model"
)

type stopKey struct {
	routeID string
	stopID  string
}

// MapPredictionCache is an in-memory PredictionCache keyed by route and stop.
type MapPredictionCache struct {
	mu     sync.RWMutex
	byStop map[stopKey][]model.Prediction
}

func NewMapPredictionCache() *MapPredictionCache {
	return &MapPredictionCache{byStop: make(map[stopKey][]model.Prediction)}
}

// UpdatePredictions retires every entry of old and inserts every entry of
// new under a single lock, so readers never see a partially swapped set.
func (c *MapPredictionCache) UpdatePredictions(oldPreds, newPreds []model.Prediction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range oldPreds {
		key := stopKey{routeID: p.RouteID, stopID: p.StopID}
		current := c.byStop[key]
		kept := current[:0]
		for _, existing := range current {
			if existing.VehicleID != p.VehicleID || !existing.Time.Equal(p.Time) || existing.TripID != p.TripID {
				kept = append(kept, existing)
			}
		}
		if len(kept) == 0 {
			delete(c.byStop, key)
		} else {
			c.byStop[key] = kept
		}
	}

	touched := make(map[stopKey]struct{})
	for _, p := range newPreds {
		key := stopKey{routeID: p.RouteID, stopID: p.StopID}
		c.byStop[key] = append(c.byStop[key], p)
		touched[key] = struct{}{}
	}
	for key := range touched {
		preds := c.byStop[key]
		sort.Slice(preds, func(i, j int) bool { return preds[i].Time.Before(preds[j].Time) })
	}
}

func (c *MapPredictionCache) PredictionsForStop(routeID, stopID string) []model.Prediction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	preds := c.byStop[stopKey{routeID: routeID, stopID: stopID}]
	out := make([]model.Prediction, len(preds))
	copy(out, preds)
	return out
}
