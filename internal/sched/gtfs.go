package sched

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/OneBusAway/go-gtfs"

	"pulse.opentransit.org/internal/logging"
	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/utils"
)

// LoadGTFS reads a static GTFS zip from a local path or URL and builds the
// in-memory schedule model from it.
func LoadGTFS(source string, logger *slog.Logger) (*InMemoryModel, error) {
	logger = logger.With(slog.String("component", "gtfs_loader"))

	b, err := rawStaticData(source, logger)
	if err != nil {
		return nil, err
	}

	staticData, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("parsing static GTFS data: %w", err)
	}
	logging.LogOperation(logger, "static_gtfs_parsed",
		slog.Int("trips", len(staticData.Trips)),
		slog.Int("services", len(staticData.Services)))

	return buildModel(staticData), nil
}

func rawStaticData(source string, logger *slog.Logger) ([]byte, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		b, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("reading local GTFS file: %w", err)
		}
		return b, nil
	}

	client := &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}
	resp, err := client.Get(source)
	if err != nil {
		return nil, fmt.Errorf("downloading GTFS data: %w", err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, logger, "http_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download GTFS data: received HTTP status %s", resp.Status)
	}
	const maxStaticSize = 200 * 1024 * 1024
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxStaticSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading GTFS data: %w", err)
	}
	if int64(len(b)) > maxStaticSize {
		return nil, fmt.Errorf("static GTFS response exceeds size limit of %d bytes", maxStaticSize)
	}
	return b, nil
}

type blockKey struct {
	serviceID string
	blockID   string
}

func buildModel(staticData *gtfs.Static) *InMemoryModel {
	grouped := make(map[blockKey][]*model.Trip)
	for i := range staticData.Trips {
		trip := convertTrip(&staticData.Trips[i])
		if trip == nil {
			continue
		}
		key := blockKey{serviceID: trip.ServiceID, blockID: trip.BlockID}
		grouped[key] = append(grouped[key], trip)
	}

	blocks := make([]*model.Block, 0, len(grouped))
	for key, trips := range grouped {
		sort.Slice(trips, func(i, j int) bool {
			return trips[i].StartTimeSecs < trips[j].StartTimeSecs
		})
		start := trips[0].StartTimeSecs
		end := trips[len(trips)-1].EndTimeSecs
		blocks = append(blocks, model.NewBlock(key.blockID, key.serviceID, start, end, trips))
	}

	services := make([]*gtfs.Service, len(staticData.Services))
	for i := range staticData.Services {
		services[i] = &staticData.Services[i]
	}
	return NewInMemoryModel(blocks, func(day time.Time) []string {
		return serviceIDsOn(services, day)
	})
}

func convertTrip(t *gtfs.ScheduledTrip) *model.Trip {
	if t.Route == nil || t.Service == nil || len(t.StopTimes) == 0 {
		return nil
	}

	// A trip without a block runs as its own single-trip block, keyed by
	// the trip ID.
	blockID := t.BlockID
	if blockID == "" {
		blockID = t.ID
	}

	trip := &model.Trip{
		ID:          t.ID,
		ShortName:   t.ShortName,
		DirectionID: strconv.Itoa(int(t.DirectionId)),
		RouteID:     t.Route.Id,
		BlockID:     blockID,
		ServiceID:   t.Service.Id,
		Headsign:    t.Headsign,
	}

	for i, st := range t.StopTimes {
		if st.Stop == nil {
			return nil
		}
		path := &model.StopPath{
			StopID:   st.Stop.Id,
			StopName: st.Stop.Name,
		}
		if st.Stop.Latitude != nil && st.Stop.Longitude != nil {
			path.StopLat = *st.Stop.Latitude
			path.StopLon = *st.Stop.Longitude
		}

		arrival := int(st.ArrivalTime / time.Second)
		departure := int(st.DepartureTime / time.Second)
		if arrival > 0 || departure > 0 {
			sched := &model.ScheduleTime{}
			if arrival > 0 {
				a := arrival
				sched.ArrivalSecs = &a
			}
			if departure > 0 {
				d := departure
				sched.DepartureSecs = &d
			}
			path.ScheduleTime = sched
			// Scheduled dwell means the driver holds for the departure
			// time; treat as a layover.
			path.WaitStop = arrival > 0 && departure > arrival
		}

		if i > 0 {
			prev := t.StopTimes[i-1]
			if st.ShapeDistanceTraveled != nil && prev.ShapeDistanceTraveled != nil &&
				*st.ShapeDistanceTraveled > *prev.ShapeDistanceTraveled {
				path.Length = *st.ShapeDistanceTraveled - *prev.ShapeDistanceTraveled
			} else if prev.Stop != nil && prev.Stop.Latitude != nil && st.Stop.Latitude != nil {
				path.Length = utils.Distance(
					*prev.Stop.Latitude, *prev.Stop.Longitude,
					*st.Stop.Latitude, *st.Stop.Longitude)
			}
		}
		trip.StopPaths = append(trip.StopPaths, path)
	}

	first := t.StopTimes[0]
	last := t.StopTimes[len(t.StopTimes)-1]
	trip.StartTimeSecs = int(first.DepartureTime / time.Second)
	if trip.StartTimeSecs == 0 {
		trip.StartTimeSecs = int(first.ArrivalTime / time.Second)
	}
	trip.EndTimeSecs = int(last.ArrivalTime / time.Second)
	if trip.EndTimeSecs == 0 {
		trip.EndTimeSecs = int(last.DepartureTime / time.Second)
	}
	return trip
}

// serviceIDsOn evaluates the GTFS calendar plus calendar_dates exceptions
// for one calendar day.
func serviceIDsOn(services []*gtfs.Service, day time.Time) []string {
	var ids []string
	for _, s := range services {
		if serviceRunsOn(s, day) {
			ids = append(ids, s.Id)
		}
	}
	return ids
}

func serviceRunsOn(s *gtfs.Service, day time.Time) bool {
	for _, removed := range s.RemovedDates {
		if sameDate(removed, day) {
			return false
		}
	}
	for _, added := range s.AddedDates {
		if sameDate(added, day) {
			return true
		}
	}
	if day.Before(s.StartDate) || day.After(s.EndDate.AddDate(0, 0, 1)) {
		return false
	}
	switch day.Weekday() {
	case time.Monday:
		return s.Monday
	case time.Tuesday:
		return s.Tuesday
	case time.Wednesday:
		return s.Wednesday
	case time.Thursday:
		return s.Thursday
	case time.Friday:
		return s.Friday
	case time.Saturday:
		return s.Saturday
	default:
		return s.Sunday
	}
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
