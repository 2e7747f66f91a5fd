// Package metrics provides Prometheus metrics for the prediction engine.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Registry is the Prometheus registry for this metrics instance
	Registry *prometheus.Registry

	// AVL pipeline metrics
	AvlReportsTotal      *prometheus.CounterVec
	AvlReportsDropped    *prometheus.CounterVec
	PredictionsGenerated prometheus.Counter
	VehiclesPredictable  prometheus.Gauge

	// Timeout and synthesis metrics
	TimeoutsTotal        *prometheus.CounterVec
	VehiclesSynthetic    prometheus.Gauge
	TimeoutSweepDuration prometheus.Histogram

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitSecondsTotal prometheus.Counter

	// logger for error reporting
	logger *slog.Logger

	// collectorStarted prevents spawning multiple collector goroutines
	collectorStarted atomic.Bool

	// cancel stops the DB stats collector goroutine
	cancel context.CancelFunc

	// wg tracks the DB stats collector goroutine for graceful shutdown
	wg sync.WaitGroup
}

// New creates and registers all application metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	avlReportsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_avl_reports_total",
			Help: "Total number of AVL reports processed",
		},
		[]string{"source"},
	)

	avlReportsDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_avl_reports_dropped_total",
			Help: "AVL reports dropped before processing",
		},
		[]string{"reason"},
	)

	predictionsGenerated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_predictions_generated_total",
		Help: "Total number of stop predictions generated",
	})

	vehiclesPredictable := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_vehicles_predictable",
		Help: "Number of vehicles currently predictable",
	})

	timeoutsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_timeouts_total",
			Help: "Vehicles timed out, by cause",
		},
		[]string{"cause"},
	)

	vehiclesSynthetic := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_vehicles_synthetic",
		Help: "Schedule-based synthetic vehicles currently active",
	})

	timeoutSweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulse_timeout_sweep_duration_seconds",
		Help:    "Timeout sweep latency distribution",
		Buckets: prometheus.DefBuckets,
	})

	dbConnectionsOpen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_db_connections_open",
		Help: "Number of open database connections",
	})

	dbConnectionsInUse := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_db_connections_in_use",
		Help: "Number of database connections currently in use",
	})

	dbConnectionsIdle := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_db_connections_idle",
		Help: "Number of idle database connections",
	})

	dbWaitSecondsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_db_wait_seconds_total",
		Help: "Total time blocked waiting for a database connection",
	})

	// Register all metrics with the custom registry
	registry.MustRegister(
		avlReportsTotal,
		avlReportsDropped,
		predictionsGenerated,
		vehiclesPredictable,
		timeoutsTotal,
		vehiclesSynthetic,
		timeoutSweepDuration,
		dbConnectionsOpen,
		dbConnectionsInUse,
		dbConnectionsIdle,
		dbWaitSecondsTotal,
	)

	return &Metrics{
		Registry:             registry,
		AvlReportsTotal:      avlReportsTotal,
		AvlReportsDropped:    avlReportsDropped,
		PredictionsGenerated: predictionsGenerated,
		VehiclesPredictable:  vehiclesPredictable,
		TimeoutsTotal:        timeoutsTotal,
		VehiclesSynthetic:    vehiclesSynthetic,
		TimeoutSweepDuration: timeoutSweepDuration,
		DBConnectionsOpen:    dbConnectionsOpen,
		DBConnectionsInUse:   dbConnectionsInUse,
		DBConnectionsIdle:    dbConnectionsIdle,
		DBWaitSecondsTotal:   dbWaitSecondsTotal,
		logger:               logger,
	}
}

// StartDBStatsCollector starts a goroutine that periodically collects database
// connection pool statistics and updates the corresponding metrics.
// The interval specifies how often to collect stats.
// This method is idempotent - calling it multiple times has no effect after the first call.
// Call Shutdown() to stop the collector.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}

	// Prevent spawning multiple collectors
	if !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	var lastWaitDuration time.Duration

	// Add to WaitGroup BEFORE exposing cancel to avoid race with Shutdown
	m.wg.Add(1)
	m.cancel = cancel

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				if m.logger != nil {
					m.logger.Error("panic in DB stats collector", "error", r)
				}
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
				m.DBConnectionsInUse.Set(float64(stats.InUse))
				m.DBConnectionsIdle.Set(float64(stats.Idle))

				// Add the delta of wait duration since last check
				waitDelta := stats.WaitDuration - lastWaitDuration
				if waitDelta > 0 {
					m.DBWaitSecondsTotal.Add(waitDelta.Seconds())
				}
				lastWaitDuration = stats.WaitDuration

			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the DB stats collector goroutine and waits for it to exit.
// This method is safe to call multiple times.
func (m *Metrics) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
