package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const minimalConfig = `
database:
  path: /var/lib/pulse/history.db
gtfs:
  staticSource: /var/lib/pulse/gtfs.zip
feed:
  url: https://feeds.example.com/vehicle-positions.pb
`

func TestLoadMinimalAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.FeedPeriod())
	assert.Equal(t, 6*time.Minute, cfg.TimeoutHandlerConfig().AllowableNoAvl)
	assert.Equal(t, 20*time.Minute, cfg.TimeoutHandlerConfig().AllowableNoAvlAfterSchedDepart)
	assert.Equal(t, 14, cfg.PredictionCoreConfig().LookbackDays)
	assert.Equal(t, 45*time.Minute, cfg.PredictionCoreConfig().MaxPredictionLeadTime)
	assert.Equal(t, "default", cfg.Predictions.Generator)
	assert.Equal(t, 5*time.Minute, cfg.SynthesizerConfig().BeforeStartWindow)
	assert.Negative(t, cfg.SynthesizerConfig().AfterStartWindow)
	assert.Equal(t, 20*time.Minute, cfg.HeadwayMaxDepartureAge())
	assert.Equal(t, "pulse", cfg.NATS.SubjectPrefix)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
timezone: America/Los_Angeles
database:
  path: /tmp/pulse.db
gtfs:
  staticSource: https://transit.example.com/gtfs.zip
feed:
  url: https://feeds.example.com/vp.pb
  periodSecs: 15
  minTimeBetweenReportsSecs: 5
timeouts:
  allowableNoAvlSecs: 300
  cancelTripOnTimeout: true
predictions:
  lookbackDays: 7
  desiredSamples: 3
synthesis:
  enabled: true
  beforeStartSecs: 600
`))
	require.NoError(t, err)

	assert.Equal(t, "America/Los_Angeles", cfg.Timezone)
	assert.Equal(t, 15*time.Second, cfg.FeedPeriod())
	assert.Equal(t, 5*time.Second, cfg.AvlConfig().MinTimeBetweenReports)
	assert.Equal(t, 5*time.Minute, cfg.TimeoutHandlerConfig().AllowableNoAvl)
	assert.True(t, cfg.TimeoutHandlerConfig().CancelTripOnTimeout)
	assert.Equal(t, 7, cfg.PredictionCoreConfig().LookbackDays)
	assert.Equal(t, 3, cfg.PredictionCoreConfig().DesiredSamples)
	assert.True(t, cfg.Synthesis.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.SynthesizerConfig().BeforeStartWindow)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PULSE_FEED_URL", "https://other.example.com/vp.pb")
	t.Setenv("PULSE_DB_PATH", "/data/override.db")
	t.Setenv("PULSE_GTFS_STATIC", "/data/gtfs.zip")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://other.example.com/vp.pb", cfg.Feed.URL)
	assert.Equal(t, "/data/override.db", cfg.Database.Path)
	assert.Equal(t, "/data/gtfs.zip", cfg.GTFS.StaticSource)
}

func TestLoadMissingDatabasePath(t *testing.T) {
	_, err := Load(writeConfig(t, `
gtfs:
  staticSource: /tmp/gtfs.zip
feed:
  url: https://feeds.example.com/vp.pb
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validating config")
}

func TestLoadBadFeedURL(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  path: /tmp/pulse.db
gtfs:
  staticSource: /tmp/gtfs.zip
feed:
  url: not-a-url
`))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}
