package vehicle

import (
	"sync"

	"pulse.opentransit.org/internal/model"
)

// Manager owns every tracked vehicle's State and serializes access per
// vehicle ID. Different vehicles never contend with each other.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu    sync.Mutex
	state *State
}

func NewManager() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

func (m *Manager) entryFor(vehicleID string) *entry {
	m.mu.RLock()
	e, ok := m.entries[vehicleID]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.entries[vehicleID]; ok {
		return e
	}
	e = &entry{state: &State{VehicleID: vehicleID}}
	m.entries[vehicleID] = e
	return e
}

// WithVehicle runs fn with exclusive access to the vehicle's state, creating
// the state on first sighting. Every read-modify-write sequence against a
// vehicle must go through here.
func (m *Manager) WithVehicle(vehicleID string, fn func(*State)) {
	e := m.entryFor(vehicleID)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
}

// Remove stops tracking the vehicle entirely.
func (m *Manager) Remove(vehicleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, vehicleID)
}

// VehicleIDs returns a snapshot of all tracked vehicle IDs. Safe to iterate
// while other goroutines add or remove vehicles.
func (m *Manager) VehicleIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns consumer-visible copies of all tracked vehicles, each
// taken under that vehicle's lock.
func (m *Manager) Snapshot() []Snapshot {
	ids := m.VehicleIDs()
	snaps := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		m.WithVehicle(id, func(s *State) {
			snaps = append(snaps, s.Snapshot())
		})
	}
	return snaps
}

// Cache is the active-vehicle cache consumed by the API layer. The core
// pushes updates into it and uses it to find which blocks already have a
// vehicle.
type Cache interface {
	// UpdateVehicle publishes the vehicle's latest snapshot.
	UpdateVehicle(snap Snapshot)
	// Remove evicts the vehicle from the cache.
	Remove(vehicleID string)
	// VehiclesByBlockID returns the IDs of vehicles assigned to the block.
	VehiclesByBlockID(blockID string) []string
	// VehiclesIncludingSynthetic returns snapshots of all cached vehicles,
	// schedule-based synthetic ones included.
	VehiclesIncludingSynthetic() []Snapshot
}

// MapCache is an in-memory Cache implementation.
type MapCache struct {
	mu      sync.RWMutex
	byID    map[string]Snapshot
	byBlock map[string]map[string]struct{}
}

func NewMapCache() *MapCache {
	return &MapCache{
		byID:    make(map[string]Snapshot),
		byBlock: make(map[string]map[string]struct{}),
	}
}

func (c *MapCache) UpdateVehicle(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.byID[snap.VehicleID]; ok && prev.BlockID != snap.BlockID {
		c.removeFromBlockLocked(prev.BlockID, snap.VehicleID)
	}
	c.byID[snap.VehicleID] = snap
	if snap.BlockID != "" {
		vehicles := c.byBlock[snap.BlockID]
		if vehicles == nil {
			vehicles = make(map[string]struct{})
			c.byBlock[snap.BlockID] = vehicles
		}
		vehicles[snap.VehicleID] = struct{}{}
	}
}

// Vehicle returns the cached snapshot for a vehicle.
func (c *MapCache) Vehicle(vehicleID string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.byID[vehicleID]
	return snap, ok
}

func (c *MapCache) Remove(vehicleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.byID[vehicleID]; ok {
		c.removeFromBlockLocked(prev.BlockID, vehicleID)
		delete(c.byID, vehicleID)
	}
}

func (c *MapCache) removeFromBlockLocked(blockID, vehicleID string) {
	if vehicles, ok := c.byBlock[blockID]; ok {
		delete(vehicles, vehicleID)
		if len(vehicles) == 0 {
			delete(c.byBlock, blockID)
		}
	}
}

func (c *MapCache) VehiclesByBlockID(blockID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vehicles := c.byBlock[blockID]
	ids := make([]string, 0, len(vehicles))
	for id := range vehicles {
		ids = append(ids, id)
	}
	return ids
}

func (c *MapCache) VehiclesIncludingSynthetic() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snaps := make([]Snapshot, 0, len(c.byID))
	for _, snap := range c.byID {
		snaps = append(snaps, snap)
	}
	return snaps
}

// PredictionCache is the shared prediction store the API layer reads.
// UpdatePredictions must receive both the old and the new list so stale
// entries are explicitly retired; consumers never observe a mixed state.
type PredictionCache interface {
	UpdatePredictions(oldPreds, newPreds []model.Prediction)
	// PredictionsForStop returns current predictions for a stop, soonest
	// first.
	PredictionsForStop(routeID, stopID string) []model.Prediction
}
