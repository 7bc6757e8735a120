// Package scheduler admits opaque tasks into a priority backlog and drives a
// bounded number of concurrent executor invocations. Backlog order is
// priority descending with FIFO tie-break; completion order of results is
// deliberately unspecified.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/PascalThePundit/ArciumHyde-sub000/internal/domain"
	"github.com/PascalThePundit/ArciumHyde-sub000/internal/executor"
)

// NoTimeout requests that a task run without a deadline even when the
// scheduler carries a default timeout.
const NoTimeout = time.Duration(-1)

// Task settlement statuses reported through OnSettle.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
	StatusCancelled = "cancelled"
	StatusCleared   = "cleared"
)

// Settlement describes one finished task, for observability sinks.
type Settlement struct {
	Task   domain.Task
	Status string
	Wait   time.Duration // backlog time; zero if never dispatched
	Exec   time.Duration // executor time; zero if never dispatched
	Err    error
}

type Config struct {
	MaxConcurrent  int
	DefaultTimeout time.Duration // zero means no default deadline
	OnSettle       func(Settlement)
}

// Stats is a snapshot of scheduler counters. Averages cover dispatched
// tasks only; cancelled or cleared backlog entries count toward Failed but
// not toward the averages.
type Stats struct {
	Backlog   int           `json:"backlog"`
	InFlight  int           `json:"in_flight"`
	Completed uint64        `json:"completed"`
	Failed    uint64        `json:"failed"`
	AvgWait   time.Duration `json:"avg_wait"`
	AvgExec   time.Duration `json:"avg_exec"`
}

// Scheduler owns the backlog and the in-flight set. All bookkeeping is
// serialized by mu; executor calls run outside it.
type Scheduler struct {
	exec executor.Func
	cfg  Config

	mu       sync.Mutex
	backlog  backlog
	byID     map[string]*task // backlogged tasks only
	inFlight map[string]*task
	paused   bool
	draining bool
	seq      uint64

	completed uint64
	failed    uint64
	execCount uint64
	totalWait time.Duration
	totalExec time.Duration
}

func New(exec executor.Func, cfg Config) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	return &Scheduler{
		exec:     exec,
		cfg:      cfg,
		byID:     make(map[string]*task),
		inFlight: make(map[string]*task),
	}
}

// Enqueue admits a task and returns its id and outcome handle. It never
// blocks on execution; the handle settles later. A timeout of zero takes the
// scheduler default, NoTimeout disables the deadline. The deadline is
// anchored at submission, so time spent waiting in the backlog counts
// against it.
func (s *Scheduler) Enqueue(kind string, payload []byte, priority int, timeout time.Duration) (string, *Outcome) {
	switch {
	case timeout == 0:
		timeout = s.cfg.DefaultTimeout
	case timeout == NoTimeout:
		timeout = 0
	}
	t := &task{
		Task: domain.Task{
			ID:          "op_" + uuid.NewString(),
			Kind:        kind,
			Payload:     payload,
			Priority:    priority,
			SubmittedAt: time.Now(),
			Timeout:     timeout,
		},
		outcome: newOutcome(),
	}
	if timeout > 0 {
		t.deadline = t.SubmittedAt.Add(timeout)
	}

	s.mu.Lock()
	s.seq++
	t.seq = s.seq
	heap.Push(&s.backlog, t)
	s.byID[t.ID] = t
	s.mu.Unlock()

	if timeout > 0 {
		time.AfterFunc(timeout, func() { s.expire(t) })
	}
	s.dispatch()
	return t.ID, t.outcome
}

// expire fails a task whose deadline passed while it was still backlogged.
// A dispatched task is expired through its executor context instead.
func (s *Scheduler) expire(t *task) {
	s.mu.Lock()
	if _, ok := s.byID[t.ID]; !ok {
		s.mu.Unlock()
		return
	}
	heap.Remove(&s.backlog, t.index)
	delete(s.byID, t.ID)
	s.failed++
	s.mu.Unlock()

	err := fmt.Errorf("%w: task %s after %s", domain.ErrTimeout, t.ID, t.Timeout)
	t.outcome.settle(nil, err)
	s.notify(Settlement{Task: t.Task, Status: StatusTimeout, Err: err})
}

// dispatch pops tasks while concurrency slots are free. A single drain pass
// owns the pop loop; concurrent triggers coalesce into it and return.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for !s.paused && len(s.inFlight) < s.cfg.MaxConcurrent && s.backlog.Len() > 0 {
		t := heap.Pop(&s.backlog).(*task)
		delete(s.byID, t.ID)
		s.inFlight[t.ID] = t
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		go s.run(ctx, t, time.Now())
	}
	s.draining = false
	s.mu.Unlock()
}

type execResult struct {
	value any
	err   error
}

// run races the executor against the task deadline, then frees the slot and
// triggers another drain before settling the outcome. The loser of the race
// is discarded by the settle-once contract.
func (s *Scheduler) run(ctx context.Context, t *task, started time.Time) {
	execCtx := ctx
	if !t.deadline.IsZero() {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithDeadline(ctx, t.deadline)
		defer cancel()
	}

	ch := make(chan execResult, 1)
	go func() {
		v, err := s.exec(execCtx, t.Kind, t.Payload)
		ch <- execResult{v, err}
	}()

	var value any
	var err error
	select {
	case r := <-ch:
		value, err = r.value, r.err
		err = s.classify(t, err)
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: task %s after %s", domain.ErrTimeout, t.ID, t.Timeout)
		} else {
			err = fmt.Errorf("%w: task %s", domain.ErrCancelled, t.ID)
		}
	}

	wait := started.Sub(t.SubmittedAt)
	exec := time.Since(started)

	s.mu.Lock()
	delete(s.inFlight, t.ID)
	s.execCount++
	s.totalWait += wait
	s.totalExec += exec
	if err == nil {
		s.completed++
	} else {
		s.failed++
	}
	s.mu.Unlock()

	s.dispatch()

	t.outcome.settle(value, err)
	if err != nil {
		log.Debug().Str("task_id", t.ID).Str("kind", t.Kind).Err(err).Msg("task failed")
	}
	s.notify(Settlement{Task: t.Task, Status: statusFor(err), Wait: wait, Exec: exec, Err: err})
}

// classify maps raw executor errors onto the core's error kinds.
func (s *Scheduler) classify(t *task, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: task %s after %s", domain.ErrTimeout, t.ID, t.Timeout)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: task %s", domain.ErrCancelled, t.ID)
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, domain.ErrCancelled):
		return err
	default:
		return &domain.ExecutionError{TaskID: t.ID, Kind: t.Kind, Err: err}
	}
}

// Cancel removes a backlogged task, failing its outcome with ErrCancelled.
// For an in-flight task the cancellation is advisory: the executor context
// is cancelled and the outcome fails now, but the call may keep running.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	if t, ok := s.byID[id]; ok {
		heap.Remove(&s.backlog, t.index)
		delete(s.byID, id)
		s.failed++
		s.mu.Unlock()
		err := fmt.Errorf("%w: task %s", domain.ErrCancelled, id)
		t.outcome.settle(nil, err)
		s.notify(Settlement{Task: t.Task, Status: StatusCancelled, Err: err})
		return true
	}
	if t, ok := s.inFlight[id]; ok {
		cancel := t.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		t.outcome.settle(nil, fmt.Errorf("%w: task %s", domain.ErrCancelled, id))
		return true
	}
	s.mu.Unlock()
	return false
}

// Pause stops new dispatch; in-flight tasks keep running.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume restarts dispatch from the backlog.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.dispatch()
}

func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Clear fails every backlogged task with ErrCleared and empties the backlog.
// In-flight tasks are untouched.
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	cleared := make([]*task, 0, s.backlog.Len())
	for s.backlog.Len() > 0 {
		t := heap.Pop(&s.backlog).(*task)
		delete(s.byID, t.ID)
		cleared = append(cleared, t)
	}
	s.failed += uint64(len(cleared))
	s.mu.Unlock()

	for _, t := range cleared {
		err := fmt.Errorf("%w: task %s", domain.ErrCleared, t.ID)
		t.outcome.settle(nil, err)
		s.notify(Settlement{Task: t.Task, Status: StatusCleared, Err: err})
	}
	return len(cleared)
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Backlog:   s.backlog.Len(),
		InFlight:  len(s.inFlight),
		Completed: s.completed,
		Failed:    s.failed,
	}
	if s.execCount > 0 {
		st.AvgWait = s.totalWait / time.Duration(s.execCount)
		st.AvgExec = s.totalExec / time.Duration(s.execCount)
	}
	return st
}

func (s *Scheduler) notify(st Settlement) {
	if s.cfg.OnSettle != nil {
		s.cfg.OnSettle(st)
	}
}

func statusFor(err error) string {
	switch {
	case err == nil:
		return StatusSucceeded
	case errors.Is(err, domain.ErrTimeout):
		return StatusTimeout
	case errors.Is(err, domain.ErrCancelled):
		return StatusCancelled
	case errors.Is(err, domain.ErrCleared):
		return StatusCleared
	default:
		return StatusFailed
	}
}
