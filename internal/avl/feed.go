package avl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/OneBusAway/go-gtfs"

	"pulse.opentransit.org/internal/logging"
	"pulse.opentransit.org/internal/model"
)

// feedHTTPClient is a dedicated HTTP client for GTFS-RT fetching, with
// explicit timeouts and transport limits instead of http.DefaultClient's
// unbounded defaults.
var feedHTTPClient = newFeedHTTPClient()

func newFeedHTTPClient() *http.Client {
	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.MaxIdleConns = 50
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.ExpectContinueTimeout = 1 * time.Second

	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: transport,
	}
}

// FeedConfig locates a GTFS-RT vehicle positions feed.
type FeedConfig struct {
	URL     string
	Headers map[string]string
	Period  time.Duration
	// Source labels reports from this feed, e.g. the agency name.
	Source string
}

// ReportSink consumes AVL reports. Implemented by Processor; wrappers can
// add counting or filtering in front of it.
type ReportSink interface {
	ProcessReport(ctx context.Context, report *model.AvlReport)
}

// Feed polls a GTFS-RT vehicle positions endpoint and feeds every position
// through the processor.
type Feed struct {
	cfg       FeedConfig
	processor ReportSink
	logger    *slog.Logger
}

func NewFeed(cfg FeedConfig, processor ReportSink, logger *slog.Logger) *Feed {
	if cfg.Period <= 0 {
		cfg.Period = 30 * time.Second
	}
	return &Feed{
		cfg:       cfg,
		processor: processor,
		logger:    logger.With(slog.String("component", "avl_feed"), slog.String("url", cfg.URL)),
	}
}

// Run polls until the context ends. Each poll gets its own timeout; a
// failed poll is logged and the schedule continues.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.LogOperation(f.logger, "shutting_down_avl_feed")
			return
		case <-ticker.C:
			pollCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			f.safePoll(pollCtx)
			cancel()
		}
	}
}

func (f *Feed) safePoll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("panic in AVL feed poll", slog.Any("panic", r))
		}
	}()
	f.poll(ctx)
}

func (f *Feed) poll(ctx context.Context) {
	realtime, err := f.fetch(ctx)
	if err != nil {
		logging.LogError(f.logger, "fetching GTFS-RT feed failed", err)
		return
	}
	count := 0
	for i := range realtime.Vehicles {
		report, ok := f.toReport(&realtime.Vehicles[i])
		if !ok {
			continue
		}
		f.processor.ProcessReport(ctx, report)
		count++
	}
	f.logger.Debug("processed GTFS-RT poll", slog.Int("vehicles", count))
}

func (f *Feed) fetch(ctx context.Context) (*gtfs.Realtime, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	for key, value := range f.cfg.Headers {
		req.Header.Add(key, value)
	}

	resp, err := feedHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute GTFS-RT request: %w", err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, f.logger, "http_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gtfs-rt fetch failed: %s returned %s", f.cfg.URL, resp.Status)
	}

	const maxBodySize = 25 * 1024 * 1024
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > maxBodySize {
		return nil, fmt.Errorf("GTFS-RT response exceeds size limit of %d bytes", maxBodySize)
	}

	return gtfs.ParseRealtime(body, &gtfs.ParseRealtimeOptions{})
}

// toReport converts a GTFS-RT vehicle entity to an AvlReport. Positions
// without an ID or coordinates are unusable.
func (f *Feed) toReport(v *gtfs.Vehicle) (*model.AvlReport, bool) {
	if v.ID == nil || v.ID.ID == "" {
		return nil, false
	}
	if v.Position == nil || v.Position.Latitude == nil || v.Position.Longitude == nil {
		return nil, false
	}

	report := &model.AvlReport{
		VehicleID: v.ID.ID,
		Lat:       float64(*v.Position.Latitude),
		Lon:       float64(*v.Position.Longitude),
		Source:    f.cfg.Source,
	}
	if v.Timestamp != nil {
		report.Time = *v.Timestamp
	} else {
		report.Time = time.Now()
	}
	if v.Position.Bearing != nil {
		report.Heading = *v.Position.Bearing
		report.HeadingValid = true
	}
	if v.Trip != nil && v.Trip.ID.ID != "" {
		report.AssignmentID = v.Trip.ID.ID
		report.AssignmentType = model.AssignmentTrip
	}
	return report, true
}
