package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/PascalThePundit/ArciumHyde-sub000/internal/api"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/cache"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/config"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/executor"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/history"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/maintenance"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/metrics"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/ondemand"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/scheduler"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/viewport"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "TOML config file path")
		addr    = flag.String("addr", "", "HTTP bind address (overrides config)")
		dbPath  = flag.String("db", "", "SQLite DB path for the operation journal (overrides config)")
		debug   = flag.Bool("debug", false, "enable pprof routes")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.API.Addr = *addr
	}
	if *dbPath != "" {
		cfg.History.Path = *dbPath
	}
	if *debug {
		cfg.API.Debug = true
	}

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	if lvl, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && cfg.Logging.Level != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.History.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := history.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	hist := history.NewSQLiteRepo(db)

	// Executor registry; real cryptographic backends replace these stand-ins.
	reg := executor.NewRegistry()
	reg.Register("encrypt", executor.Encrypt{})
	reg.Register("proof", executor.Proof{})
	reg.Register("aggregate", executor.Aggregate{})

	sched := scheduler.New(reg.Func(), scheduler.Config{
		MaxConcurrent:  cfg.Scheduler.MaxConcurrent,
		DefaultTimeout: cfg.Scheduler.DefaultTimeout(),
		OnSettle:       settleSink(hist),
	})

	var store ondemand.Cache
	var sweeper maintenance.Sweeper
	if cfg.Cache.MaxEntries > 0 {
		bounded, err := cache.NewBounded(cfg.Cache.MaxEntries, cfg.Cache.DefaultTTL())
		if err != nil {
			log.Fatal().Err(err).Msg("init cache")
		}
		store, sweeper = bounded, bounded
	} else {
		c := cache.New(cfg.Cache.DefaultTTL())
		store, sweeper = c, c
	}

	svc := ondemand.New(sched, store, ondemand.Config{
		DefaultKind:   cfg.OnDemand.DefaultKind,
		BatchSize:     cfg.OnDemand.BatchSize,
		PreemptiveTTL: cfg.OnDemand.PreemptiveTTL(),
	})

	vp := viewport.New(svc, viewport.Config{
		Kind:          cfg.Viewport.Kind,
		PreloadBuffer: cfg.Viewport.PreloadBuffer,
		PredictWidth:  cfg.Viewport.PredictWidth,
		ItemTTL:       cfg.Viewport.ItemTTL(),
		PredictTTL:    cfg.Viewport.PredictTTL(),
		ItemBytes:     cfg.Viewport.ItemBytes,
	})

	retention, err := cfg.History.RetentionDuration()
	if err != nil {
		log.Fatal().Err(err).Msg("parse history retention")
	}
	maint := maintenance.New(sweeper, hist, sched, maintenance.Config{
		SweepSpec: cfg.Cache.SweepEvery,
		PruneSpec: cfg.History.PruneEvery,
		Retention: retention,
	})
	if err := maint.Start(); err != nil {
		log.Fatal().Err(err).Msg("start maintenance")
	}

	srv := &http.Server{
		Addr:    cfg.API.Addr,
		Handler: api.NewServerWithDebug(sched, svc, vp, hist, cfg.API.Debug),
	}
	go func() {
		log.Info().Str("addr", cfg.API.Addr).Int("max_concurrent", cfg.Scheduler.MaxConcurrent).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	maint.Stop()
	sched.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// settleSink records every settled task in the journal and the Prometheus
// counters.
func settleSink(hist history.Repository) func(scheduler.Settlement) {
	return func(st scheduler.Settlement) {
		if st.Status == scheduler.StatusSucceeded {
			metrics.OperationsCompleted.WithLabelValues(st.Task.Kind).Inc()
		} else {
			metrics.OperationsFailed.WithLabelValues(st.Task.Kind, st.Status).Inc()
		}
		if st.Exec > 0 {
			metrics.WaitLatency.Observe(st.Wait.Seconds())
			metrics.ExecLatency.WithLabelValues(st.Task.Kind).Observe(st.Exec.Seconds())
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		errStr := ""
		if st.Err != nil {
			errStr = st.Err.Error()
		}
		rec := history.Record{
			ID:       st.Task.ID,
			Kind:     st.Task.Kind,
			Status:   st.Status,
			Priority: st.Task.Priority,
			Wait:     st.Wait,
			Exec:     st.Exec,
			Error:    errStr,
		}
		if err := hist.Insert(ctx, rec); err != nil {
			log.Error().Err(err).Str("task_id", st.Task.ID).Msg("record operation")
		}
	}
}
