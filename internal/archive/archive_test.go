package archive

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse.opentransit.org/internal/model"
)

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	gz, err := gzip.NewReader(file)
	require.NoError(t, err)

	var records []map[string]any
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		var record map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		records = append(records, record)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestWriterArchivesPredictions(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, slog.Default())
	require.NoError(t, err)
	at := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return at }

	w.ArchivePrediction(model.Prediction{
		VehicleID: "v1", RouteID: "r1", StopID: "s2",
		Time: at.Add(5 * time.Minute), IsArrival: true,
	})
	w.ArchivePrediction(model.Prediction{
		VehicleID: "v1", RouteID: "r1", StopID: "s2",
		Time: at.Add(6 * time.Minute),
	})
	w.Close()

	records := readRecords(t, filepath.Join(dir, "predictions-2025-03-10.ndjson.gz"))
	require.Len(t, records, 2)
	assert.Equal(t, "v1", records[0]["VehicleID"])
	assert.Equal(t, "s2", records[0]["StopID"])
	assert.Equal(t, true, records[0]["IsArrival"])
}

func TestWriterSeparatesRecordKinds(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, slog.Default())
	require.NoError(t, err)
	at := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return at }

	w.ArchiveHeadway(model.Headway{VehicleID: "v1", AheadVehicleID: "v2", Gap: 5 * time.Minute})
	w.RecordVehicleEvent(model.VehicleEvent{VehicleID: "v1", EventType: model.VehicleEventTimeout})
	w.RecordPredictionEvent(model.PredictionEvent{VehicleID: "v1", EventType: model.PredictionEventTravelTime})
	w.Close()

	headways := readRecords(t, filepath.Join(dir, "headways-2025-03-10.ndjson.gz"))
	require.Len(t, headways, 1)
	assert.Equal(t, "v2", headways[0]["AheadVehicleID"])

	events := readRecords(t, filepath.Join(dir, "vehicle_events-2025-03-10.ndjson.gz"))
	require.Len(t, events, 1)
	assert.Equal(t, model.VehicleEventTimeout, events[0]["EventType"])

	predEvents := readRecords(t, filepath.Join(dir, "prediction_events-2025-03-10.ndjson.gz"))
	require.Len(t, predEvents, 1)
}

func TestWriterArchivesMatches(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, slog.Default())
	require.NoError(t, err)
	at := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return at }

	w.ArchiveMatch(&model.Match{StopPathIndex: 2, DistanceAlongPath: 42.5, AvlTime: at}, "v1")
	w.Close()

	records := readRecords(t, filepath.Join(dir, "matches-2025-03-10.ndjson.gz"))
	require.Len(t, records, 1)
	assert.Equal(t, "v1", records[0]["VehicleID"])
	assert.Equal(t, float64(2), records[0]["StopPathIndex"])
	assert.Equal(t, 42.5, records[0]["DistanceAlongPath"])
}

func TestWriterRotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, slog.Default())
	require.NoError(t, err)

	day1 := time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return day1 }
	w.ArchivePrediction(model.Prediction{VehicleID: "v1"})

	day2 := day1.Add(2 * time.Minute)
	w.now = func() time.Time { return day2 }
	w.ArchivePrediction(model.Prediction{VehicleID: "v1"})
	w.Close()

	assert.Len(t, readRecords(t, filepath.Join(dir, "predictions-2025-03-10.ndjson.gz")), 1)
	assert.Len(t, readRecords(t, filepath.Join(dir, "predictions-2025-03-11.ndjson.gz")), 1)
}
