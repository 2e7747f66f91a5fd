// Package sched defines the read-only schedule model the prediction core
// queries: blocks and trips by ID per service, and the service calendar.
// Loading GTFS data into this model is an external concern; the in-memory
// implementation here is populated by whatever loader the deployment uses.
package sched

import (
	"time"

	"pulse.opentransit.org/internal/model"
)

// Model is the immutable per-revision schedule data, queried by ID and by
// service day.
type Model interface {
	// Block returns the block with the given ID under the given service, or
	// ok=false when that service has no such block.
	Block(serviceID, blockID string) (*model.Block, bool)
	// BlocksForService returns all blocks of a service.
	BlocksForService(serviceID string) []*model.Block
	// Trip returns the trip with the given ID.
	Trip(tripID string) (*model.Trip, bool)
	// TripByShortName returns the trip with the given short name.
	TripByShortName(shortName string) (*model.Trip, bool)
	// BlockForTrip returns the block owning the given trip.
	BlockForTrip(trip *model.Trip) (*model.Block, bool)

	model.Calendar
}

// InMemoryModel is a Model backed by maps, suitable for tests and for
// deployments that load the whole schedule up front.
type InMemoryModel struct {
	blocksByService map[string]map[string]*model.Block
	tripsByID       map[string]*model.Trip
	tripsByName     map[string]*model.Trip
	serviceIDs      func(t time.Time) []string
}

// NewInMemoryModel builds a model from blocks. serviceIDsForDay decides
// which service IDs run on a given day; a typical implementation consults
// the GTFS calendar and calendar_dates.
func NewInMemoryModel(blocks []*model.Block, serviceIDsForDay func(t time.Time) []string) *InMemoryModel {
	m := &InMemoryModel{
		blocksByService: make(map[string]map[string]*model.Block),
		tripsByID:       make(map[string]*model.Trip),
		tripsByName:     make(map[string]*model.Trip),
		serviceIDs:      serviceIDsForDay,
	}
	for _, block := range blocks {
		byID := m.blocksByService[block.ServiceID]
		if byID == nil {
			byID = make(map[string]*model.Block)
			m.blocksByService[block.ServiceID] = byID
		}
		byID[block.ID] = block

		for _, trip := range block.Trips {
			m.tripsByID[trip.ID] = trip
			if trip.ShortName != "" {
				m.tripsByName[trip.ShortName] = trip
			}
		}
	}
	return m
}

func (m *InMemoryModel) Block(serviceID, blockID string) (*model.Block, bool) {
	block, ok := m.blocksByService[serviceID][blockID]
	return block, ok
}

func (m *InMemoryModel) BlocksForService(serviceID string) []*model.Block {
	byID := m.blocksByService[serviceID]
	blocks := make([]*model.Block, 0, len(byID))
	for _, block := range byID {
		blocks = append(blocks, block)
	}
	return blocks
}

func (m *InMemoryModel) Trip(tripID string) (*model.Trip, bool) {
	trip, ok := m.tripsByID[tripID]
	return trip, ok
}

func (m *InMemoryModel) TripByShortName(shortName string) (*model.Trip, bool) {
	trip, ok := m.tripsByName[shortName]
	return trip, ok
}

func (m *InMemoryModel) BlockForTrip(trip *model.Trip) (*model.Block, bool) {
	return m.Block(trip.ServiceID, trip.BlockID)
}

func (m *InMemoryModel) ServiceIDsForDay(t time.Time) []string {
	if m.serviceIDs == nil {
		return nil
	}
	return m.serviceIDs(t)
}
