// Package maintenance runs the periodic background jobs: result cache
// expiry sweeps, history pruning, and gauge refreshes. Jobs are scheduled
// with cron specs so hosts can tune cadence from config.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/PascalThePundit/ArciumHyde-sub000/internal/history"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/metrics"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/scheduler"
)

// Sweeper is the slice of the result cache maintenance needs.
type Sweeper interface {
	Sweep() int
	Len() int
}

type Config struct {
	SweepSpec  string        // cron spec for cache sweeps, e.g. "@every 1m"
	PruneSpec  string        // cron spec for history pruning
	Retention  time.Duration // history rows older than this are pruned
	GaugeEvery time.Duration // scheduler gauge refresh cadence
}

type Service struct {
	cron  *cron.Cron
	cache Sweeper
	hist  history.Repository
	sched *scheduler.Scheduler
	cfg   Config
	stop  chan struct{}
}

func New(cache Sweeper, hist history.Repository, sched *scheduler.Scheduler, cfg Config) *Service {
	if cfg.SweepSpec == "" {
		cfg.SweepSpec = "@every 1m"
	}
	if cfg.PruneSpec == "" {
		cfg.PruneSpec = "@every 10m"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.GaugeEvery <= 0 {
		cfg.GaugeEvery = 15 * time.Second
	}
	return &Service{
		cron:  cron.New(),
		cache: cache,
		hist:  hist,
		sched: sched,
		cfg:   cfg,
		stop:  make(chan struct{}),
	}
}

func (s *Service) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.SweepSpec, s.sweepCache); err != nil {
		return err
	}
	if s.hist != nil {
		if _, err := s.cron.AddFunc(s.cfg.PruneSpec, s.pruneHistory); err != nil {
			return err
		}
	}
	s.cron.Start()
	go s.refreshGauges()

	log.Info().
		Str("sweep", s.cfg.SweepSpec).
		Str("prune", s.cfg.PruneSpec).
		Dur("retention", s.cfg.Retention).
		Msg("maintenance started")
	return nil
}

func (s *Service) Stop() {
	close(s.stop)
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Service) sweepCache() {
	if n := s.cache.Sweep(); n > 0 {
		log.Debug().Int("removed", n).Msg("swept expired cache entries")
	}
	metrics.CacheEntries.Set(float64(s.cache.Len()))
}

func (s *Service) pruneHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cutoff := time.Now().Add(-s.cfg.Retention)
	n, err := s.hist.Prune(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to prune history")
		return
	}
	if n > 0 {
		log.Info().Int("pruned", n).Time("cutoff", cutoff).Msg("pruned operation history")
	}
}

func (s *Service) refreshGauges() {
	t := time.NewTicker(s.cfg.GaugeEvery)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			st := s.sched.Stats()
			metrics.SchedulerBacklog.Set(float64(st.Backlog))
			metrics.SchedulerInFlight.Set(float64(st.InFlight))
			metrics.CacheEntries.Set(float64(s.cache.Len()))
		}
	}
}
