package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pulse.opentransit.org/internal/adherence"
	"pulse.opentransit.org/internal/archive"
	"pulse.opentransit.org/internal/assigner"
	"pulse.opentransit.org/internal/avl"
	"pulse.opentransit.org/internal/clock"
	"pulse.opentransit.org/internal/config"
	"pulse.opentransit.org/internal/headway"
	"pulse.opentransit.org/internal/history"
	"pulse.opentransit.org/internal/logging"
	"pulse.opentransit.org/internal/matchproc"
	"pulse.opentransit.org/internal/metrics"
	"pulse.opentransit.org/internal/model"
	"pulse.opentransit.org/internal/prediction"
	"pulse.opentransit.org/internal/publish"
	"pulse.opentransit.org/internal/sched"
	"pulse.opentransit.org/internal/schedvehicle"
	"pulse.opentransit.org/internal/timeout"
	"pulse.opentransit.org/internal/vehicle"
)

func main() {
	_ = godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", "config.yml", "path to the YAML configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(configPath, logger); err != nil {
		logging.LogError(logger, "predictor exited with error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
	}
	st := model.NewServiceTime(location)

	schedModel, err := sched.LoadGTFS(cfg.GTFS.StaticSource, logger)
	if err != nil {
		return fmt.Errorf("loading schedule: %w", err)
	}

	store, err := history.NewSQLiteStore(cfg.Database.Path, st)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.LogError(logger, "closing history store failed", err)
		}
	}()

	appMetrics := metrics.NewWithLogger(logger)
	appMetrics.StartDBStatsCollector(store.DB(), 15*time.Second)
	defer appMetrics.Shutdown()

	var arch *archive.Writer
	if cfg.Archive.Enabled {
		arch, err = archive.NewWriter(cfg.Archive.Dir, logger)
		if err != nil {
			return err
		}
		defer arch.Close()
	}

	var publisher *publish.Publisher
	if cfg.NATS.Enabled {
		publisher, err = publish.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
	}

	manager := vehicle.NewManager()
	var cache vehicle.Cache = vehicle.NewMapCache()
	if publisher != nil {
		cache = &publish.PublishingCache{Inner: cache, Publisher: publisher}
	}
	predCache := vehicle.NewMapPredictionCache()

	events := newEventSinks(arch, appMetrics)
	resolver := assigner.NewBlockResolver(schedModel, st, logger)
	finder := assigner.NewActiveBlockFinder(schedModel, st)

	predGen, err := prediction.New(cfg.Predictions.Generator, prediction.Deps{
		History:     store,
		Sched:       schedModel,
		ServiceTime: st,
		Events:      events,
		Config:      cfg.PredictionCoreConfig(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	var headwayGen headway.Generator = headway.NoOp{}
	if cfg.Headway.Enabled {
		lastDep := headway.NewLastDeparture(store, st, logger)
		lastDep.MaxDepartureAge = cfg.HeadwayMaxDepartureAge()
		lastDep.MaxEventsBack = cfg.Headway.MaxEventsBack
		headwayGen = lastDep
	}

	results := matchproc.NewProcessor(
		predGen,
		headwayGen,
		matchproc.NewTransitionGenerator(logger),
		predCache,
		&matchRecorder{store: store, arch: arch},
		newResultSinks(arch, publisher, appMetrics),
		cfg.MatchProcessorConfig(),
		logger,
	)

	adherenceProc := adherence.NewProcessor(
		st, history.ScheduleTravelTimeEstimator{ServiceTime: st}, logger)
	matcher := avl.NewNearestPathMatcher(st, avl.DefaultMatcherConfig(), logger)
	processor := avl.NewProcessor(
		manager, cache, predCache, resolver, matcher,
		adherenceProc, results, events, cfg.AvlConfig(), logger)
	processor.OnDrop = func(reason string) {
		appMetrics.AvlReportsDropped.WithLabelValues(reason).Inc()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	reprocess := make(chan *model.AvlReport, 64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		processor.DrainReprocess(ctx, reprocess)
	}()

	timeoutHandler := timeout.NewHandler(
		manager, cache, predCache, schedModel, st, clock.RealClock{},
		events, reprocess, cfg.TimeoutHandlerConfig(), logger)
	timeoutHandler.OnSweepDuration = func(d time.Duration) {
		appMetrics.TimeoutSweepDuration.Observe(d.Seconds())
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		timeoutHandler.Run(ctx,
			time.Duration(cfg.Timeouts.InitialDelaySecs)*time.Second,
			time.Duration(cfg.Timeouts.PollPeriodSecs)*time.Second)
	}()

	if cfg.Synthesis.Enabled {
		synthesizer := schedvehicle.NewSynthesizer(
			finder, cache, processor, st, clock.RealClock{},
			cfg.SynthesizerConfig(), logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			synthesizer.Run(ctx, 0, time.Duration(cfg.Synthesis.PollPeriodSecs)*time.Second)
		}()
	}

	feed := avl.NewFeed(cfg.AvlFeedConfig(), countingSink{inner: processor, appMetrics: appMetrics}, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		feed.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sampleFleetGauges(ctx, cache, appMetrics)
	}()

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: withRequestID(withRequestLogging(logger, newHTTPHandler(appMetrics))),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.LogError(logger, "http server shutdown failed", err)
		}
	}()

	logging.LogOperation(logger, "predictor_started",
		slog.String("addr", cfg.Server.Addr),
		slog.String("feed_url", cfg.Feed.URL))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		wg.Wait()
		return err
	}

	wg.Wait()
	logging.LogOperation(logger, "predictor_stopped")
	return nil
}

// sampleFleetGauges refreshes the fleet-size gauges from cache snapshots
// every 30 seconds until the context ends.
func sampleFleetGauges(ctx context.Context, cache vehicle.Cache, appMetrics *metrics.Metrics) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var predictable, synthetic int
			for _, snap := range cache.VehiclesIncludingSynthetic() {
				if snap.Predictable {
					predictable++
				}
				if snap.ForSchedBasedPreds {
					synthetic++
				}
			}
			appMetrics.VehiclesPredictable.Set(float64(predictable))
			appMetrics.VehiclesSynthetic.Set(float64(synthetic))
		}
	}
}

func newHTTPHandler(appMetrics *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(appMetrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
