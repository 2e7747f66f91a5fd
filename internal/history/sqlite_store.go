package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver

	"pulse.opentransit.org/internal/model"
)

//go:embed schema.sql
var ddl string

// SQLiteStore is a Store backed by SQLite. It also records the matches the
// pipeline produces, which downstream travel-time processing reads back.
type SQLiteStore struct {
	db          *sql.DB
	serviceTime model.ServiceTime
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for tests.
func NewSQLiteStore(path string, st model.ServiceTime) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open history DB: %w", err)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error configuring history DB: %w", err)
	}

	// Split DDL into individual statements
	for _, stmt := range strings.Split(ddl, "-- migrate") {
		trimmed := strings.TrimSpace(stmt)
		if trimmed == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, trimmed); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("error executing DDL statement [%s]: %w", trimmed, err)
		}
	}

	return &SQLiteStore{db: db, serviceTime: st}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the connection pool, e.g. for stats collection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// RecordArrivalDeparture appends one historical event. tripStartSecs keys
// the event to a specific run of the trip; pass a negative value when
// unknown.
func (s *SQLiteStore) RecordArrivalDeparture(ctx context.Context, ad *model.ArrivalDeparture, tripStartSecs int) error {
	isArrival := 0
	if ad.Arrival {
		isArrival = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO arrivals_departures
		  (vehicle_id, stop_id, trip_id, block_id, service_id, route_id, direction_id,
		   trip_index, stop_path_index, is_arrival, event_time, service_day, trip_start_secs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ad.VehicleID, ad.StopID, ad.TripID, ad.BlockID, ad.ServiceID, ad.RouteID, ad.DirectionID,
		ad.TripIndex, ad.StopPathIndex, isArrival, ad.Time.UnixMilli(),
		s.serviceTime.Day(ad.Time).UnixMilli(), tripStartSecs)
	if err != nil {
		return fmt.Errorf("error recording arrival/departure: %w", err)
	}
	return nil
}

// RecordMatch appends one spatial match.
func (s *SQLiteStore) RecordMatch(ctx context.Context, m *model.Match, vehicleID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matches (vehicle_id, block_id, trip_index, stop_path_index, distance_along_path, avl_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		vehicleID, m.Block.ID, m.TripIndex, m.StopPathIndex, m.DistanceAlongPath, m.AvlTime.UnixMilli())
	if err != nil {
		return fmt.Errorf("error recording match: %w", err)
	}
	return nil
}

func (s *SQLiteStore) StopHistory(ctx context.Context, stopID string, day time.Time) ([]*model.ArrivalDeparture, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vehicle_id, stop_id, trip_id, block_id, service_id, route_id, direction_id,
		       trip_index, stop_path_index, is_arrival, event_time
		FROM arrivals_departures
		WHERE stop_id = ? AND service_day = ?
		ORDER BY event_time`,
		stopID, s.serviceTime.Day(day).UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("error querying stop history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanArrivalDepartures(rows)
}

func (s *SQLiteStore) TripHistory(ctx context.Context, tripID string, day time.Time, startTimeSecs int) ([]*model.ArrivalDeparture, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vehicle_id, stop_id, trip_id, block_id, service_id, route_id, direction_id,
		       trip_index, stop_path_index, is_arrival, event_time
		FROM arrivals_departures
		WHERE trip_id = ? AND service_day = ? AND trip_start_secs = ?
		ORDER BY event_time`,
		tripID, s.serviceTime.Day(day).UnixMilli(), startTimeSecs)
	if err != nil {
		return nil, fmt.Errorf("error querying trip history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanArrivalDepartures(rows)
}

func scanArrivalDepartures(rows *sql.Rows) ([]*model.ArrivalDeparture, error) {
	var events []*model.ArrivalDeparture
	for rows.Next() {
		var ad model.ArrivalDeparture
		var isArrival int
		var eventTime int64
		if err := rows.Scan(&ad.VehicleID, &ad.StopID, &ad.TripID, &ad.BlockID, &ad.ServiceID,
			&ad.RouteID, &ad.DirectionID, &ad.TripIndex, &ad.StopPathIndex, &isArrival, &eventTime); err != nil {
			return nil, fmt.Errorf("error scanning arrival/departure row: %w", err)
		}
		ad.Arrival = isArrival == 1
		ad.Time = time.UnixMilli(eventTime)
		events = append(events, &ad)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
