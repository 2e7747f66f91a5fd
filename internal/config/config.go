// Package config loads the application configuration from a YAML file with
// environment variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"pulse.opentransit.org/internal/avl"
	"pulse.opentransit.org/internal/matchproc"
	"pulse.opentransit.org/internal/prediction"
	"pulse.opentransit.org/internal/schedvehicle"
	"pulse.opentransit.org/internal/timeout"
)

type ServerConfig struct {
	// Addr serves metrics and health endpoints, e.g. ":8080".
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type GTFSConfig struct {
	// StaticSource is a local path or URL of the static GTFS zip.
	StaticSource string `yaml:"staticSource" validate:"required"`
}

type FeedConfig struct {
	URL                       string            `yaml:"url" validate:"required,url"`
	Source                    string            `yaml:"source"`
	Headers                   map[string]string `yaml:"headers"`
	PeriodSecs                int               `yaml:"periodSecs" validate:"gte=0"`
	MinTimeBetweenReportsSecs int               `yaml:"minTimeBetweenReportsSecs" validate:"gte=0"`
}

type TimeoutConfig struct {
	PollPeriodSecs                     int  `yaml:"pollPeriodSecs" validate:"gte=0"`
	InitialDelaySecs                   int  `yaml:"initialDelaySecs" validate:"gte=0"`
	AllowableNoAvlSecs                 int  `yaml:"allowableNoAvlSecs" validate:"gte=0"`
	AllowableNoAvlAfterSchedDepartSecs int  `yaml:"allowableNoAvlAfterSchedDepartSecs" validate:"gte=0"`
	AllowableAfterStartSecs            int  `yaml:"allowableAfterStartSecs" validate:"gte=0"`
	BeforeStartSecs                    int  `yaml:"beforeStartSecs" validate:"gte=0"`
	CancelTripOnTimeout                bool `yaml:"cancelTripOnTimeout"`
	EvictUnpredictable                 bool `yaml:"evictUnpredictable"`
}

type PredictionConfig struct {
	// Generator selects a registered prediction generator by name.
	Generator                 string `yaml:"generator"`
	MaxTravelTimeSecs         int    `yaml:"maxTravelTimeSecs" validate:"gte=0"`
	MaxDwellTimeSecs          int    `yaml:"maxDwellTimeSecs" validate:"gte=0"`
	LookbackDays              int    `yaml:"lookbackDays" validate:"gte=0"`
	DesiredSamples            int    `yaml:"desiredSamples" validate:"gte=0"`
	ClosestVehicleStopsAhead  int    `yaml:"closestVehicleStopsAhead" validate:"gte=0"`
	MaxPredictionLeadTimeSecs int    `yaml:"maxPredictionLeadTimeSecs" validate:"gte=0"`
}

type HeadwayConfig struct {
	Enabled             bool `yaml:"enabled"`
	MaxDepartureAgeSecs int  `yaml:"maxDepartureAgeSecs" validate:"gte=0"`
	MaxEventsBack       int  `yaml:"maxEventsBack" validate:"gte=0"`
}

type MatchProcessingConfig struct {
	OnlyArrivalsDepartures           bool `yaml:"onlyArrivalsDepartures"`
	MaxPredictionArchiveLeadTimeSecs int  `yaml:"maxPredictionArchiveLeadTimeSecs" validate:"gte=0"`
}

type SynthesisConfig struct {
	Enabled         bool `yaml:"enabled"`
	PollPeriodSecs  int  `yaml:"pollPeriodSecs" validate:"gte=0"`
	BeforeStartSecs int  `yaml:"beforeStartSecs" validate:"gte=0"`
	// AfterStartSecs of -1 keeps the synthetic vehicle until the block ends.
	AfterStartSecs int `yaml:"afterStartSecs" validate:"gte=-1"`
}

type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url" validate:"omitempty,url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type AppConfig struct {
	// Timezone is the agency timezone service days are computed in.
	Timezone        string                `yaml:"timezone"`
	Server          ServerConfig          `yaml:"server"`
	Database        DatabaseConfig        `yaml:"database" validate:"required"`
	GTFS            GTFSConfig            `yaml:"gtfs" validate:"required"`
	Feed            FeedConfig            `yaml:"feed" validate:"required"`
	Timeouts        TimeoutConfig         `yaml:"timeouts"`
	Predictions     PredictionConfig      `yaml:"predictions"`
	Headway         HeadwayConfig         `yaml:"headway"`
	MatchProcessing MatchProcessingConfig `yaml:"matchProcessing"`
	Synthesis       SynthesisConfig       `yaml:"synthesis"`
	NATS            NATSConfig            `yaml:"nats"`
	Archive         ArchiveConfig         `yaml:"archive"`
}

// Load reads, validates, and defaults the configuration. Environment
// variables override deployment-specific values: PULSE_FEED_URL,
// PULSE_DB_PATH, PULSE_NATS_URL.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if url := os.Getenv("PULSE_FEED_URL"); url != "" {
		cfg.Feed.URL = url
	}
	if dbPath := os.Getenv("PULSE_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if static := os.Getenv("PULSE_GTFS_STATIC"); static != "" {
		cfg.GTFS.StaticSource = static
	}
	if natsURL := os.Getenv("PULSE_NATS_URL"); natsURL != "" {
		cfg.NATS.URL = natsURL
	}

	cfg.applyDefaults()

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Feed.Source == "" {
		c.Feed.Source = "GTFSRT"
	}
	if c.Feed.PeriodSecs == 0 {
		c.Feed.PeriodSecs = 30
	}
	if c.Timeouts.PollPeriodSecs == 0 {
		c.Timeouts.PollPeriodSecs = 30
	}
	if c.Timeouts.AllowableNoAvlSecs == 0 {
		c.Timeouts.AllowableNoAvlSecs = int(timeout.DefaultConfig().AllowableNoAvl / time.Second)
	}
	if c.Timeouts.AllowableNoAvlAfterSchedDepartSecs == 0 {
		c.Timeouts.AllowableNoAvlAfterSchedDepartSecs = int(timeout.DefaultConfig().AllowableNoAvlAfterSchedDepart / time.Second)
	}
	if c.Timeouts.AllowableAfterStartSecs == 0 {
		c.Timeouts.AllowableAfterStartSecs = int(timeout.DefaultConfig().AllowableAfterStart / time.Second)
	}
	if c.Timeouts.BeforeStartSecs == 0 {
		c.Timeouts.BeforeStartSecs = int(timeout.DefaultConfig().BeforeStartWindow / time.Second)
	}
	defaults := prediction.DefaultConfig()
	if c.Predictions.Generator == "" {
		c.Predictions.Generator = "default"
	}
	if c.Predictions.MaxTravelTimeSecs == 0 {
		c.Predictions.MaxTravelTimeSecs = int(defaults.MaxTravelTime / time.Second)
	}
	if c.Predictions.MaxDwellTimeSecs == 0 {
		c.Predictions.MaxDwellTimeSecs = int(defaults.MaxDwellTime / time.Second)
	}
	if c.Predictions.LookbackDays == 0 {
		c.Predictions.LookbackDays = defaults.LookbackDays
	}
	if c.Predictions.DesiredSamples == 0 {
		c.Predictions.DesiredSamples = defaults.DesiredSamples
	}
	if c.Predictions.ClosestVehicleStopsAhead == 0 {
		c.Predictions.ClosestVehicleStopsAhead = defaults.ClosestVehicleStopsAhead
	}
	if c.Predictions.MaxPredictionLeadTimeSecs == 0 {
		c.Predictions.MaxPredictionLeadTimeSecs = int(defaults.MaxPredictionLeadTime / time.Second)
	}
	if c.Headway.MaxDepartureAgeSecs == 0 {
		c.Headway.MaxDepartureAgeSecs = 20 * 60
	}
	if c.Headway.MaxEventsBack == 0 {
		c.Headway.MaxEventsBack = 5
	}
	if c.MatchProcessing.MaxPredictionArchiveLeadTimeSecs == 0 {
		c.MatchProcessing.MaxPredictionArchiveLeadTimeSecs = 15 * 60
	}
	if c.Synthesis.PollPeriodSecs == 0 {
		c.Synthesis.PollPeriodSecs = 60
	}
	if c.Synthesis.BeforeStartSecs == 0 {
		c.Synthesis.BeforeStartSecs = int(schedvehicle.DefaultConfig().BeforeStartWindow / time.Second)
	}
	if c.Synthesis.AfterStartSecs == 0 {
		c.Synthesis.AfterStartSecs = -1
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "pulse"
	}
}

// FeedPeriod returns the poll period of the vehicle positions feed.
func (c *AppConfig) FeedPeriod() time.Duration {
	return time.Duration(c.Feed.PeriodSecs) * time.Second
}

// AvlConfig maps the loaded values onto the AVL processor configuration.
func (c *AppConfig) AvlConfig() avl.Config {
	return avl.Config{
		MinTimeBetweenReports: time.Duration(c.Feed.MinTimeBetweenReportsSecs) * time.Second,
	}
}

// AvlFeedConfig maps the loaded values onto the feed configuration.
func (c *AppConfig) AvlFeedConfig() avl.FeedConfig {
	return avl.FeedConfig{
		URL:     c.Feed.URL,
		Headers: c.Feed.Headers,
		Period:  c.FeedPeriod(),
		Source:  c.Feed.Source,
	}
}

// TimeoutHandlerConfig maps the loaded values onto the timeout handler
// configuration.
func (c *AppConfig) TimeoutHandlerConfig() timeout.Config {
	return timeout.Config{
		AllowableNoAvl:                 time.Duration(c.Timeouts.AllowableNoAvlSecs) * time.Second,
		AllowableNoAvlAfterSchedDepart: time.Duration(c.Timeouts.AllowableNoAvlAfterSchedDepartSecs) * time.Second,
		AllowableAfterStart:            time.Duration(c.Timeouts.AllowableAfterStartSecs) * time.Second,
		BeforeStartWindow:              time.Duration(c.Timeouts.BeforeStartSecs) * time.Second,
		CancelTripOnTimeout:            c.Timeouts.CancelTripOnTimeout,
		Evict:                          c.Timeouts.EvictUnpredictable,
	}
}

// PredictionCoreConfig maps the loaded values onto the prediction core
// configuration.
func (c *AppConfig) PredictionCoreConfig() prediction.Config {
	return prediction.Config{
		MaxTravelTime:            time.Duration(c.Predictions.MaxTravelTimeSecs) * time.Second,
		MaxDwellTime:             time.Duration(c.Predictions.MaxDwellTimeSecs) * time.Second,
		LookbackDays:             c.Predictions.LookbackDays,
		DesiredSamples:           c.Predictions.DesiredSamples,
		ClosestVehicleStopsAhead: c.Predictions.ClosestVehicleStopsAhead,
		MaxPredictionLeadTime:    time.Duration(c.Predictions.MaxPredictionLeadTimeSecs) * time.Second,
	}
}

// MatchProcessorConfig maps the loaded values onto the match processor
// configuration.
func (c *AppConfig) MatchProcessorConfig() matchproc.Config {
	return matchproc.Config{
		OnlyArrivalsDepartures:       c.MatchProcessing.OnlyArrivalsDepartures,
		MaxPredictionArchiveLeadTime: time.Duration(c.MatchProcessing.MaxPredictionArchiveLeadTimeSecs) * time.Second,
	}
}

// SynthesizerConfig maps the loaded values onto the schedule-based vehicle
// synthesizer configuration.
func (c *AppConfig) SynthesizerConfig() schedvehicle.Config {
	return schedvehicle.Config{
		BeforeStartWindow: time.Duration(c.Synthesis.BeforeStartSecs) * time.Second,
		AfterStartWindow:  time.Duration(c.Synthesis.AfterStartSecs) * time.Second,
	}
}

// HeadwayMaxDepartureAge returns the oldest departure usable for headway.
func (c *AppConfig) HeadwayMaxDepartureAge() time.Duration {
	return time.Duration(c.Headway.MaxDepartureAgeSecs) * time.Second
}
