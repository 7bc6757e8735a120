// Package api exposes the JSON surface over the compute core: operation
// submission, viewport routing, scheduler control, and observability.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PascalThePundit/ArciumHyde-sub000/internal/domain"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/history"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/ondemand"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/scheduler"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/viewport"
)

type Server struct {
	r     *chi.Mux
	sched *scheduler.Scheduler
	svc   *ondemand.Service
	vp    *viewport.Manager
	hist  history.Repository
}

func NewServer(sched *scheduler.Scheduler, svc *ondemand.Service, vp *viewport.Manager, hist history.Repository) http.Handler {
	return NewServerWithDebug(sched, svc, vp, hist, false)
}

func NewServerWithDebug(sched *scheduler.Scheduler, svc *ondemand.Service, vp *viewport.Manager, hist history.Repository, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, sched: sched, svc: svc, vp: vp, hist: hist}

	r.Get("/health", s.health)
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Post("/api/operations", s.requestOperation)
	r.Post("/api/operations/batch", s.requestBatch)
	r.Get("/api/operations", s.listOperations)
	r.Get("/api/operations/{id}", s.getOperation)
	r.Delete("/api/cache/{key}", s.invalidate)

	r.Put("/api/viewport/items", s.setItems)
	r.Post("/api/viewport", s.viewportChange)
	r.Post("/api/viewport/refresh", s.refreshItem)
	r.Delete("/api/viewport/tracking", s.clearTracking)

	r.Post("/api/scheduler/pause", s.pause)
	r.Post("/api/scheduler/resume", s.resume)
	r.Post("/api/scheduler/clear", s.clearBacklog)
	r.Delete("/api/scheduler/tasks/{id}", s.cancelTask)

	r.Get("/api/stats", s.stats)
	r.Get("/api/analytics", s.analytics)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type operationReq struct {
	Key       string          `json:"key"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Priority  *int            `json:"priority"`
	TTLMs     int             `json:"ttl_ms"`
	TimeoutMs int             `json:"timeout_ms"`
}

func (q operationReq) options() ondemand.Options {
	return ondemand.Options{
		Kind:     q.Kind,
		Priority: q.Priority,
		TTL:      time.Duration(q.TTLMs) * time.Millisecond,
		Timeout:  time.Duration(q.TimeoutMs) * time.Millisecond,
	}
}

func (s *Server) requestOperation(w http.ResponseWriter, r *http.Request) {
	var req operationReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Key == "" {
		http.Error(w, "key is required", 400)
		return
	}
	v, err := s.svc.RequestOnDemand(r.Context(), req.Key, req.Payload, req.options())
	if err != nil {
		http.Error(w, err.Error(), statusCode(err))
		return
	}
	writeJSON(w, 200, map[string]any{"key": req.Key, "value": v})
}

type batchReq struct {
	Items []struct {
		Key     string          `json:"key"`
		Payload json.RawMessage `json:"payload"`
	} `json:"items"`
	Kind      string `json:"kind"`
	Priority  *int   `json:"priority"`
	TTLMs     int    `json:"ttl_ms"`
	TimeoutMs int    `json:"timeout_ms"`
}

func (s *Server) requestBatch(w http.ResponseWriter, r *http.Request) {
	var req batchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if len(req.Items) == 0 {
		http.Error(w, "items are required", 400)
		return
	}
	items := make([]ondemand.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, ondemand.Item{Key: it.Key, Payload: it.Payload})
	}
	opts := ondemand.Options{
		Kind:     req.Kind,
		Priority: req.Priority,
		TTL:      time.Duration(req.TTLMs) * time.Millisecond,
		Timeout:  time.Duration(req.TimeoutMs) * time.Millisecond,
	}
	values, itemErrs := s.svc.RequestBatch(r.Context(), items, opts)
	errStrs := make(map[string]string, len(itemErrs))
	for k, err := range itemErrs {
		errStrs[k] = err.Error()
	}
	writeJSON(w, 200, map[string]any{"values": values, "errors": errStrs})
}

func (s *Server) listOperations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	recs, err := s.hist.ListRecent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, recs)
}

func (s *Server) getOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.hist.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), statusCode(err))
		return
	}
	writeJSON(w, 200, rec)
}

func (s *Server) invalidate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	writeJSON(w, 200, map[string]bool{"removed": s.svc.Invalidate(key)})
}

type setItemsReq struct {
	Items []struct {
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	} `json:"items"`
}

func (s *Server) setItems(w http.ResponseWriter, r *http.Request) {
	var req setItemsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	items := make([]domain.ViewportItem, 0, len(req.Items))
	for i, it := range req.Items {
		items = append(items, domain.ViewportItem{ID: it.ID, Payload: it.Payload, Position: i})
	}
	s.vp.SetItems(items)
	writeJSON(w, 200, map[string]int{"total_items": len(items)})
}

func (s *Server) viewportChange(w http.ResponseWriter, r *http.Request) {
	var p viewport.Params
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if p.VisibleEnd < p.VisibleStart {
		http.Error(w, "visible_end must be >= visible_start", 400)
		return
	}
	values, err := s.vp.OnViewportChange(r.Context(), p)
	resp := map[string]any{"values": values}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, 200, resp)
}

type refreshReq struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) refreshItem(w http.ResponseWriter, r *http.Request) {
	var req refreshReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	v, err := s.vp.Refresh(r.Context(), req.ID, req.Payload)
	if err != nil {
		http.Error(w, err.Error(), statusCode(err))
		return
	}
	writeJSON(w, 200, map[string]any{"id": req.ID, "value": v})
}

func (s *Server) clearTracking(w http.ResponseWriter, r *http.Request) {
	s.vp.ClearTracking()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	s.sched.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	s.sched.Resume()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearBacklog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]int{"cleared": s.sched.Clear()})
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.sched.Cancel(id) {
		http.Error(w, "task not found", 404)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]any{
		"scheduler": s.sched.Stats(),
		"paused":    s.sched.Paused(),
		"in_flight": s.svc.InFlight(),
	})
}

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]any{
		"service":  s.svc.Analytics(),
		"viewport": s.vp.Analytics(),
	})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return 404
	case errors.Is(err, domain.ErrTimeout):
		return 504
	case errors.Is(err, domain.ErrCancelled), errors.Is(err, domain.ErrCleared):
		return 409
	default:
		return 500
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
