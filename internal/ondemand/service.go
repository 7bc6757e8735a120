// Package ondemand fronts the scheduler with a result cache and request
// coalescing: at most one in-flight task exists per distinct key, and
// concurrent requests for the same key share that task's outcome.
package ondemand

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/PascalThePundit/ArciumHyde-sub000/internal/domain"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/metrics"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/scheduler"
)

// Cache is the subset of the result cache the service needs.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string) bool
	Clear()
}

// Options tunes a single request. Zero values take the service defaults:
// high priority for on-demand calls, low priority and the longer preemptive
// TTL for preemptive ones.
type Options struct {
	Kind string
	// Priority overrides the path default. Nil means default; zero is a
	// real priority, below the low band.
	Priority *int
	TTL      time.Duration
	Timeout  time.Duration
	// OnSettled is invoked after a preemptive item settles. Ignored by the
	// synchronous request paths, which report errors directly.
	OnSettled func(key string, err error)
}

// Item is one keyed unit of a batch or preemptive request.
type Item struct {
	Key     string
	Payload []byte
}

type Config struct {
	DefaultKind   string
	BatchSize     int           // sub-batch width for RequestBatch
	PreemptiveTTL time.Duration // longer TTL for speculative results
}

// Analytics is a snapshot of service counters.
type Analytics struct {
	TotalRequests uint64        `json:"total_requests"`
	CacheHits     uint64        `json:"cache_hits"`
	OnDemand      uint64        `json:"on_demand"`
	Preemptive    uint64        `json:"preemptive"`
	AvgLatency    time.Duration `json:"avg_latency"`
}

type Service struct {
	sched *scheduler.Scheduler
	cache Cache
	cfg   Config

	mu       sync.Mutex
	inFlight map[string]*scheduler.Outcome

	statsMu      sync.Mutex
	total        uint64
	hits         uint64
	onDemand     uint64
	preemptive   uint64
	totalLatency time.Duration
	latencyCount uint64
}

func New(sched *scheduler.Scheduler, cache Cache, cfg Config) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.PreemptiveTTL == 0 {
		cfg.PreemptiveTTL = 10 * time.Minute
	}
	return &Service{
		sched:    sched,
		cache:    cache,
		cfg:      cfg,
		inFlight: make(map[string]*scheduler.Outcome),
	}
}

// RequestOnDemand resolves key through the cache, an already in-flight task,
// or a newly enqueued one, in that order. Errors propagate to the caller and
// are never cached.
func (s *Service) RequestOnDemand(ctx context.Context, key string, payload []byte, opts Options) (any, error) {
	start := time.Now()
	s.countRequest(false)

	if v, ok := s.cache.Get(key); ok {
		s.countHit()
		s.recordLatency(time.Since(start))
		return v, nil
	}
	out := s.outcomeFor(key, payload, opts, domain.PriorityHigh, 0)
	v, err := out.Wait(ctx)
	if err != nil {
		return nil, err
	}
	s.cacheIfCurrent(key, out, v, opts.TTL)
	s.recordLatency(time.Since(start))
	return v, nil
}

// outcomeFor returns the shared outcome for key, enqueueing a new task only
// if none is pending. The coalescing map is consulted and updated under one
// lock, so two concurrent misses cannot both enqueue.
func (s *Service) outcomeFor(key string, payload []byte, opts Options, defPriority int, defTTL time.Duration) *scheduler.Outcome {
	kind := opts.Kind
	if kind == "" {
		kind = s.cfg.DefaultKind
	}
	priority := defPriority
	if opts.Priority != nil {
		priority = *opts.Priority
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = defTTL
	}

	s.mu.Lock()
	if out, ok := s.inFlight[key]; ok {
		s.mu.Unlock()
		return out
	}
	// Re-check under the lock: a settling task may have populated the cache
	// after our caller's miss.
	if v, ok := s.cache.Get(key); ok {
		s.mu.Unlock()
		return scheduler.NewSettled(v, nil)
	}
	_, out := s.sched.Enqueue(kind, payload, priority, opts.Timeout)
	s.inFlight[key] = out
	s.mu.Unlock()

	go s.finish(key, out, ttl)
	return out
}

// finish owns coalescing-map cleanup for one task. The result is cached only
// while the map entry is still this task's: a key invalidated mid-flight has
// its entry removed, and the late result is dropped instead of reused.
func (s *Service) finish(key string, out *scheduler.Outcome, ttl time.Duration) {
	v, err := out.Wait(context.Background())
	s.mu.Lock()
	if s.inFlight[key] == out {
		if err == nil {
			s.cache.Set(key, v, ttl)
		}
		delete(s.inFlight, key)
	}
	s.mu.Unlock()
}

// cacheIfCurrent stores a just-settled value on the caller's own goroutine,
// so the entry is visible before their request returns. Skipped when the key
// was invalidated while the task ran; harmless alongside finish doing the
// same store.
func (s *Service) cacheIfCurrent(key string, out *scheduler.Outcome, v any, ttl time.Duration) {
	s.mu.Lock()
	if s.inFlight[key] == out {
		s.cache.Set(key, v, ttl)
	}
	s.mu.Unlock()
}

// RequestBatch resolves items in bounded sub-batches. Each item fails or
// succeeds independently; the returned maps are disjoint by key.
func (s *Service) RequestBatch(ctx context.Context, items []Item, opts Options) (map[string]any, map[string]error) {
	values := make(map[string]any, len(items))
	errs := make(map[string]error)
	var mu sync.Mutex

	for start := 0; start < len(items); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(items) {
			end = len(items)
		}
		var wg sync.WaitGroup
		for _, it := range items[start:end] {
			wg.Add(1)
			go func(it Item) {
				defer wg.Done()
				v, err := s.RequestOnDemand(ctx, it.Key, it.Payload, opts)
				mu.Lock()
				if err != nil {
					errs[it.Key] = err
				} else {
					values[it.Key] = v
				}
				mu.Unlock()
			}(it)
		}
		wg.Wait()
	}
	return values, errs
}

// RequestPreemptive warms the cache for items at low priority and returns
// immediately. Failures are logged and reported through opts.OnSettled;
// nothing is surfaced to the caller.
func (s *Service) RequestPreemptive(ctx context.Context, items []Item, opts Options) {
	ttl := opts.TTL
	if ttl == 0 {
		ttl = s.cfg.PreemptiveTTL
	}
	for _, it := range items {
		s.countRequest(true)
		if _, ok := s.cache.Get(it.Key); ok {
			s.countHit()
			if opts.OnSettled != nil {
				opts.OnSettled(it.Key, nil)
			}
			continue
		}
		preOpts := opts
		preOpts.TTL = ttl
		out := s.outcomeFor(it.Key, it.Payload, preOpts, domain.PriorityLow, ttl)
		go func(key string) {
			_, err := out.Wait(ctx)
			if err != nil {
				log.Debug().Str("key", key).Err(err).Msg("preemptive request failed")
			}
			if opts.OnSettled != nil {
				opts.OnSettled(key, err)
			}
		}(it.Key)
	}
}

// Invalidate drops key from the cache and the coalescing map. An in-flight
// task is not cancelled; its eventual result is simply not reused.
func (s *Service) Invalidate(key string) bool {
	removed := s.cache.Delete(key)
	s.mu.Lock()
	if _, ok := s.inFlight[key]; ok {
		delete(s.inFlight, key)
		removed = true
	}
	s.mu.Unlock()
	return removed
}

// InFlight reports how many distinct keys currently have a pending task.
func (s *Service) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

func (s *Service) Analytics() Analytics {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	a := Analytics{
		TotalRequests: s.total,
		CacheHits:     s.hits,
		OnDemand:      s.onDemand,
		Preemptive:    s.preemptive,
	}
	if s.latencyCount > 0 {
		a.AvgLatency = s.totalLatency / time.Duration(s.latencyCount)
	}
	return a
}

func (s *Service) countRequest(preemptive bool) {
	s.statsMu.Lock()
	s.total++
	if preemptive {
		s.preemptive++
	} else {
		s.onDemand++
	}
	s.statsMu.Unlock()
}

func (s *Service) countHit() {
	metrics.CacheHits.Inc()
	s.statsMu.Lock()
	s.hits++
	s.statsMu.Unlock()
}

func (s *Service) recordLatency(latency time.Duration) {
	s.statsMu.Lock()
	s.totalLatency += latency
	s.latencyCount++
	s.statsMu.Unlock()
}
