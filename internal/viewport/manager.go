// Package viewport turns a visible window over an ordered item sequence into
// prioritized cache-warming requests: the window plus a preload buffer is
// resolved eagerly at high priority, and a band beyond it in the direction of
// travel is prefetched speculatively at low priority.
package viewport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/PascalThePundit/ArciumHyde-sub000/internal/domain"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/metrics"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/ondemand"
)

// Params describes one viewport pass. PreloadBuffer of zero takes the
// manager default.
type Params struct {
	VisibleStart  int `json:"visible_start"`
	VisibleEnd    int `json:"visible_end"`
	PreloadBuffer int `json:"preload_buffer,omitempty"`
}

type Config struct {
	Kind          string        // operation kind items resolve through
	PreloadBuffer int           // items beyond the window resolved eagerly
	PredictWidth  int           // items beyond the buffer prefetched speculatively
	ItemTTL       time.Duration // TTL for eagerly resolved items
	PredictTTL    time.Duration // longer TTL for prefetched items
	ItemBytes     int           // assumed per-item size for the memory heuristic
}

// Analytics is a snapshot of manager state. EstimatedMemorySaved is a
// heuristic for observability only.
type Analytics struct {
	TotalItems           int   `json:"total_items"`
	ResolvedCount        int   `json:"resolved_count"`
	PredictedCount       int   `json:"predicted_count"`
	EstimatedMemorySaved int64 `json:"estimated_memory_saved_bytes"`
}

// Manager holds a read-only snapshot of the caller's items plus the tracking
// sets that keep a viewport pass from re-submitting work it already routed.
type Manager struct {
	svc *ondemand.Service
	cfg Config

	mu        sync.Mutex
	items     []domain.ViewportItem
	index     map[string]int
	resolved  map[string]struct{}
	predicted map[string]struct{}
	lastStart int
}

func New(svc *ondemand.Service, cfg Config) *Manager {
	if cfg.PreloadBuffer <= 0 {
		cfg.PreloadBuffer = 5
	}
	if cfg.PredictWidth <= 0 {
		cfg.PredictWidth = 10
	}
	if cfg.ItemBytes <= 0 {
		cfg.ItemBytes = 2048
	}
	return &Manager{
		svc:       svc,
		cfg:       cfg,
		index:     make(map[string]int),
		resolved:  make(map[string]struct{}),
		predicted: make(map[string]struct{}),
	}
}

// SetItems replaces the item snapshot wholesale. Tracking sets survive; call
// ClearTracking for a hard reset when the dataset itself changed.
func (m *Manager) SetItems(items []domain.ViewportItem) {
	index := make(map[string]int, len(items))
	for i, it := range items {
		index[it.ID] = i
	}
	m.mu.Lock()
	m.items = items
	m.index = index
	m.mu.Unlock()
}

// ResolveVisible resolves [VisibleStart-buffer, VisibleEnd+buffer) at high
// priority and returns values for the visible subrange only. Items that fail
// stay untracked so a later pass retries them; their errors come back joined.
func (m *Manager) ResolveVisible(ctx context.Context, p Params) (map[string]any, error) {
	buffer := p.PreloadBuffer
	if buffer <= 0 {
		buffer = m.cfg.PreloadBuffer
	}

	m.mu.Lock()
	wide := m.slice(p.VisibleStart-buffer, p.VisibleEnd+buffer)
	visible := m.slice(p.VisibleStart, p.VisibleEnd)
	var toResolve []ondemand.Item
	for _, it := range wide {
		if _, ok := m.resolved[it.ID]; !ok {
			toResolve = append(toResolve, ondemand.Item{Key: it.ID, Payload: it.Payload})
		}
	}
	m.mu.Unlock()

	opts := ondemand.Options{Kind: m.cfg.Kind, TTL: m.cfg.ItemTTL}
	values, itemErrs := m.svc.RequestBatch(ctx, toResolve, opts)

	m.mu.Lock()
	for key := range values {
		m.resolved[key] = struct{}{}
		delete(m.predicted, key)
	}
	m.mu.Unlock()

	result := make(map[string]any, len(visible))
	var errs []error
	for _, it := range visible {
		if v, ok := values[it.ID]; ok {
			result[it.ID] = v
			continue
		}
		if err, ok := itemErrs[it.ID]; ok {
			errs = append(errs, err)
			continue
		}
		// Already resolved on a previous pass; the service answers from the
		// cache or an in-flight task.
		v, err := m.svc.RequestOnDemand(ctx, it.ID, it.Payload, opts)
		if err != nil {
			m.unmark(it.ID)
			errs = append(errs, err)
			continue
		}
		result[it.ID] = v
	}
	return result, errors.Join(errs...)
}

// PredictAhead prefetches the band just beyond the preload buffer, in the
// scroll direction, at low priority. Failed predictions are unmarked so a
// later ResolveVisible retries them. Returns how many items were scheduled.
func (m *Manager) PredictAhead(ctx context.Context, p Params) int {
	buffer := p.PreloadBuffer
	if buffer <= 0 {
		buffer = m.cfg.PreloadBuffer
	}

	m.mu.Lock()
	forward := p.VisibleStart >= m.lastStart
	m.lastStart = p.VisibleStart

	var band []domain.ViewportItem
	if forward {
		start := p.VisibleEnd + buffer
		band = m.slice(start, start+m.cfg.PredictWidth)
	} else {
		end := p.VisibleStart - buffer
		band = m.slice(end-m.cfg.PredictWidth, end)
	}

	var toPredict []ondemand.Item
	for _, it := range band {
		if _, ok := m.resolved[it.ID]; ok {
			continue
		}
		if _, ok := m.predicted[it.ID]; ok {
			continue
		}
		m.predicted[it.ID] = struct{}{}
		toPredict = append(toPredict, ondemand.Item{Key: it.ID, Payload: it.Payload})
	}
	m.mu.Unlock()

	if len(toPredict) == 0 {
		return 0
	}
	metrics.PredictionsScheduled.Add(float64(len(toPredict)))
	m.svc.RequestPreemptive(ctx, toPredict, ondemand.Options{
		Kind: m.cfg.Kind,
		TTL:  m.cfg.PredictTTL,
		OnSettled: func(key string, err error) {
			if err != nil {
				m.mu.Lock()
				delete(m.predicted, key)
				m.mu.Unlock()
				log.Debug().Str("item_id", key).Err(err).Msg("prediction failed")
			}
		},
	})
	return len(toPredict)
}

// OnViewportChange resolves the visible window, then schedules the predict
// band without blocking the returned result.
func (m *Manager) OnViewportChange(ctx context.Context, p Params) (map[string]any, error) {
	result, err := m.ResolveVisible(ctx, p)
	m.PredictAhead(ctx, p)
	return result, err
}

// Refresh drops an item's cached value and tracking state, then re-resolves
// it at high priority. A nil payload keeps the stored one.
func (m *Manager) Refresh(ctx context.Context, id string, payload []byte) (any, error) {
	m.mu.Lock()
	idx, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: item %s", domain.ErrNotFound, id)
	}
	if payload != nil {
		m.items[idx].Payload = payload
	}
	payload = m.items[idx].Payload
	delete(m.resolved, id)
	delete(m.predicted, id)
	m.mu.Unlock()

	m.svc.Invalidate(id)
	v, err := m.svc.RequestOnDemand(ctx, id, payload, ondemand.Options{
		Kind: m.cfg.Kind,
		TTL:  m.cfg.ItemTTL,
	})
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.resolved[id] = struct{}{}
	m.mu.Unlock()
	return v, nil
}

// ClearTracking empties the tracking sets and the item snapshot; used when
// the whole dataset is replaced.
func (m *Manager) ClearTracking() {
	m.mu.Lock()
	m.items = nil
	m.index = make(map[string]int)
	m.resolved = make(map[string]struct{})
	m.predicted = make(map[string]struct{})
	m.lastStart = 0
	m.mu.Unlock()
}

func (m *Manager) Analytics() Analytics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Analytics{
		TotalItems:           len(m.items),
		ResolvedCount:        len(m.resolved),
		PredictedCount:       len(m.predicted),
		EstimatedMemorySaved: int64(len(m.predicted)) * int64(m.cfg.ItemBytes),
	}
}

func (m *Manager) unmark(id string) {
	m.mu.Lock()
	delete(m.resolved, id)
	m.mu.Unlock()
}

// slice clamps [start, end) to the item snapshot. Callers hold m.mu.
func (m *Manager) slice(start, end int) []domain.ViewportItem {
	if start < 0 {
		start = 0
	}
	if end > len(m.items) {
		end = len(m.items)
	}
	if start >= end {
		return nil
	}
	return m.items[start:end]
}
