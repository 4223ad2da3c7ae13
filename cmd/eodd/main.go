// Command eodd is the scheduled end-of-day daemon. It runs the valuation
// pipeline once per day at the configured wall-clock time and serves
// Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"cds-eod-engine/internal/app"
	"cds-eod-engine/internal/config"
	"cds-eod-engine/internal/marketdata"
	"cds-eod-engine/internal/marketfeed"
	"cds-eod-engine/internal/observability"
	"cds-eod-engine/internal/orchestrator"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	runNow := flag.Bool("run-now", false, "run a job for today immediately, then keep scheduling")
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := app.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("shutdown requested")
		cancel()
		<-sigCh
		log.Error().Msg("second signal, forcing exit")
		os.Exit(1)
	}()

	stores, cleanup, err := app.CreateStores(ctx, cfg, false, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer cleanup()

	if err := app.SeedFromConfig(ctx, cfg, stores); err != nil {
		log.Fatal().Err(err).Msg("failed to seed tolerance rules and risk limits")
	}

	metrics := observability.NewMetrics("cds_eod")

	source, closeFeed, err := createSource(ctx, cfg, metrics, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect market data feed")
	}
	defer closeFeed()

	orch := app.BuildOrchestrator(cfg, stores, source, metrics, log)

	if cfg.Metrics.Enabled {
		srv := startMetricsServer(cfg.Metrics.Addr, orch, log)
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Schedule.Timezone).Msg("invalid schedule timezone")
	}

	if *runNow {
		runScheduled(ctx, orch, stores, time.Now().In(loc), log)
	}

	log.Info().
		Str("run_at", cfg.Schedule.RunAt).
		Str("timezone", cfg.Schedule.Timezone).
		Msg("eod daemon started")

	for {
		next := nextRunTime(time.Now().In(loc), cfg.Schedule.RunAt)
		log.Info().Time("next_run", next).Msg("waiting for next scheduled run")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("eod daemon stopped")
			return
		case now := <-timer.C:
			runScheduled(ctx, orch, stores, now.In(loc), log)
		}
	}
}

// nextRunTime returns the next occurrence of the "HH:MM" trigger after now.
func nextRunTime(now time.Time, runAt string) time.Time {
	trigger, err := time.Parse("15:04", runAt)
	if err != nil {
		trigger, _ = time.Parse("15:04", "17:30")
	}

	next := time.Date(now.Year(), now.Month(), now.Day(),
		trigger.Hour(), trigger.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func runScheduled(ctx context.Context, orch *orchestrator.Orchestrator,
	stores *app.Stores, now time.Time, log zerolog.Logger) {

	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	job, err := orch.Run(ctx, date, "scheduler", false)
	if err != nil {
		if errors.Is(err, orchestrator.ErrDuplicateJob) {
			log.Warn().Time("date", date).Msg("job already exists for date, skipping")
			return
		}
		log.Error().Err(err).Time("date", date).Msg("scheduled eod job failed")
	}
	if job != nil {
		log.Info().
			Str("job_id", job.JobID).
			Str("status", string(job.Status)).
			Int("trades", job.TotalTradesProcessed).
			Msg("scheduled eod job finished")
	}

	if job != nil && err == nil {
		if mirrorErr := app.MirrorHistory(ctx, date, stores); mirrorErr != nil {
			log.Error().Err(mirrorErr).Msg("failed to mirror results to clickhouse")
		}
	}
}

// createSource picks the websocket feed when configured, otherwise a static
// empty source that will produce partial snapshots.
func createSource(ctx context.Context, cfg *config.Config,
	metrics *observability.Metrics, log zerolog.Logger) (marketdata.Source, func(), error) {

	if cfg.MarketData.Feed.URL == "" {
		log.Warn().Msg("no market feed configured, snapshots will be partial")
		return &marketdata.StaticSource{}, func() {}, nil
	}

	feedCfg := marketfeed.DefaultConfig()
	feedCfg.ReconnectDelay = cfg.MarketData.Feed.ReconnectDelay
	feedCfg.PingInterval = cfg.MarketData.Feed.PingInterval

	client, err := marketfeed.NewClient(ctx, cfg.MarketData.Feed.URL,
		cfg.MarketData.RequiredEntities, cfg.MarketData.RequiredCurrencies,
		&feedCfg, metrics, log)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

func startMetricsServer(addr string, orch *orchestrator.Orchestrator, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		jobs, err := orch.RecentJobs(r.Context(), 20)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jobs)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return srv
}
