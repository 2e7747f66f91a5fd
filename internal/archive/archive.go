// Package archive persists the append-only output streams of the engine
// (predictions, headways, diagnostic events) as gzip-compressed NDJSON
// files, one file per record type per service day.
package archive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"pulse.opentransit.org/internal/logging"
	"pulse.opentransit.org/internal/model"
)

// Writer appends records to per-day NDJSON files under a base directory.
// Safe for concurrent use. Files rotate when the date changes; records are
// never updated or deleted.
type Writer struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	streams map[string]*stream
}

type stream struct {
	date string
	file *os.File
	gz   *gzip.Writer
	enc  *json.Encoder
}

func NewWriter(dir string, logger *slog.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}
	return &Writer{
		dir:     dir,
		logger:  logger.With(slog.String("component", "archive")),
		now:     time.Now,
		streams: make(map[string]*stream),
	}, nil
}

// ArchivePrediction appends one prediction record.
func (w *Writer) ArchivePrediction(p model.Prediction) {
	w.append("predictions", p)
}

// ArchiveHeadway appends one headway record.
func (w *Writer) ArchiveHeadway(h model.Headway) {
	w.append("headways", h)
}

// matchRecord is the flattened on-disk form of a Match.
type matchRecord struct {
	VehicleID         string
	BlockID           string
	TripID            string
	StopPathIndex     int
	DistanceAlongPath float64
	AtStop            bool
	AvlTime           time.Time
}

// ArchiveMatch appends one spatial match record.
func (w *Writer) ArchiveMatch(m *model.Match, vehicleID string) {
	record := matchRecord{
		VehicleID:         vehicleID,
		StopPathIndex:     m.StopPathIndex,
		DistanceAlongPath: m.DistanceAlongPath,
		AtStop:            m.AtStopInfo != nil,
		AvlTime:           m.AvlTime,
	}
	if m.Block != nil {
		record.BlockID = m.Block.ID
	}
	if trip := m.Trip(); trip != nil {
		record.TripID = trip.ID
	}
	w.append("matches", record)
}

// RecordVehicleEvent appends one vehicle lifecycle event.
func (w *Writer) RecordVehicleEvent(e model.VehicleEvent) {
	w.append("vehicle_events", e)
}

// RecordPredictionEvent appends one prediction diagnostic event.
func (w *Writer) RecordPredictionEvent(e model.PredictionEvent) {
	w.append("prediction_events", e)
}

func (w *Writer) append(kind string, record any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s, err := w.streamFor(kind)
	if err != nil {
		logging.LogError(w.logger, "opening archive stream failed", err,
			slog.String("kind", kind))
		return
	}
	if err := s.enc.Encode(record); err != nil {
		logging.LogError(w.logger, "archiving record failed", err,
			slog.String("kind", kind))
	}
}

func (w *Writer) streamFor(kind string) (*stream, error) {
	date := w.now().Format("2006-01-02")
	if s, ok := w.streams[kind]; ok {
		if s.date == date {
			return s, nil
		}
		w.closeStream(kind, s)
	}

	name := filepath.Join(w.dir, fmt.Sprintf("%s-%s.ndjson.gz", kind, date))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	gz := gzip.NewWriter(file)
	s := &stream{date: date, file: file, gz: gz, enc: json.NewEncoder(gz)}
	w.streams[kind] = s
	return s, nil
}

func (w *Writer) closeStream(kind string, s *stream) {
	if err := s.gz.Close(); err != nil {
		logging.LogError(w.logger, "closing archive gzip stream failed", err,
			slog.String("kind", kind))
	}
	logging.SafeCloseWithLogging(s.file, w.logger, "archive_file")
	delete(w.streams, kind)
}

// Flush forces buffered data of all open streams to disk.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for kind, s := range w.streams {
		if err := s.gz.Flush(); err != nil {
			logging.LogError(w.logger, "flushing archive stream failed", err,
				slog.String("kind", kind))
		}
	}
}

// Close flushes and closes all open streams. The writer is unusable after.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for kind, s := range w.streams {
		w.closeStream(kind, s)
	}
}
