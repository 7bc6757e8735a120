package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PascalThePundit/ArciumHyde-sub000/internal/domain"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestEnqueueRunsTask(t *testing.T) {
	exec := func(ctx context.Context, kind string, payload []byte) (any, error) {
		return string(payload) + "-done", nil
	}
	s := New(exec, Config{MaxConcurrent: 2})

	id, out := s.Enqueue("encrypt", []byte("p"), domain.PriorityHigh, NoTimeout)
	if id == "" {
		t.Fatal("Enqueue() returned empty id")
	}
	v, err := out.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if v != "p-done" {
		t.Fatalf("Wait() = %v, want p-done", v)
	}
}

func TestPriorityOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []string
	exec := func(ctx context.Context, kind string, payload []byte) (any, error) {
		mu.Lock()
		order = append(order, kind)
		mu.Unlock()
		return nil, nil
	}
	s := New(exec, Config{MaxConcurrent: 1})

	s.Pause()
	_, outA := s.Enqueue("A", nil, 1, NoTimeout)
	_, outB := s.Enqueue("B", nil, 5, NoTimeout)
	_, outC := s.Enqueue("C", nil, 1, NoTimeout)
	s.Resume()

	for _, out := range []*Outcome{outA, outB, outC} {
		if _, err := out.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"B", "A", "C"}
	if len(order) != len(want) {
		t.Fatalf("dispatched %d tasks, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", order, want)
		}
	}
}

func TestConcurrencyBound(t *testing.T) {
	const maxConc = 3
	var current, peak int64
	exec := func(ctx context.Context, kind string, payload []byte) (any, error) {
		n := atomic.AddInt64(&current, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return nil, nil
	}
	s := New(exec, Config{MaxConcurrent: maxConc})

	var outs []*Outcome
	for i := 0; i < 12; i++ {
		_, out := s.Enqueue("op", nil, 1, NoTimeout)
		outs = append(outs, out)
	}
	for _, out := range outs {
		if _, err := out.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
	}
	if p := atomic.LoadInt64(&peak); p > maxConc {
		t.Fatalf("peak concurrency = %d, want <= %d", p, maxConc)
	}
}

func TestTimeoutRace(t *testing.T) {
	done := make(chan struct{})
	exec := func(ctx context.Context, kind string, payload []byte) (any, error) {
		time.Sleep(200 * time.Millisecond)
		close(done)
		return "late", nil
	}
	s := New(exec, Config{MaxConcurrent: 1})

	start := time.Now()
	_, out := s.Enqueue("slow", nil, 1, 50*time.Millisecond)
	_, err := out.Wait(context.Background())
	elapsed := time.Since(start)

	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("Wait() error = %v, want ErrTimeout", err)
	}
	if elapsed > 150*time.Millisecond {
		t.Fatalf("timeout settled after %s, want ~50ms", elapsed)
	}

	// The executor's eventual completion must not alter the settled outcome.
	<-done
	v, err := out.Wait(context.Background())
	if !errors.Is(err, domain.ErrTimeout) || v != nil {
		t.Fatalf("outcome changed after late completion: v=%v err=%v", v, err)
	}
}

func TestBacklogTimeout(t *testing.T) {
	block := make(chan struct{})
	exec := func(ctx context.Context, kind string, payload []byte) (any, error) {
		<-block
		return nil, nil
	}
	s := New(exec, Config{MaxConcurrent: 1})

	_, first := s.Enqueue("slow", nil, 1, NoTimeout)
	waitFor(t, func() bool { return s.Stats().InFlight == 1 }, "slot to fill")

	// The deadline covers backlog wait, not just execution: a task that never
	// gets a slot still times out.
	start := time.Now()
	_, out := s.Enqueue("queued", nil, 1, 50*time.Millisecond)
	_, err := out.Wait(context.Background())
	elapsed := time.Since(start)

	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("Wait() error = %v, want ErrTimeout", err)
	}
	if elapsed > 250*time.Millisecond {
		t.Fatalf("backlogged task timed out after %s, want ~50ms", elapsed)
	}
	if st := s.Stats(); st.Backlog != 0 || st.Failed != 1 {
		t.Fatalf("Stats() = %+v, want empty backlog and one failure", st)
	}

	close(block)
	if _, err := first.Wait(context.Background()); err != nil {
		t.Fatalf("occupying task error: %v", err)
	}
}

func TestExecutorErrorWrapped(t *testing.T) {
	cause := fmt.Errorf("boom")
	exec := func(ctx context.Context, kind string, payload []byte) (any, error) {
		return nil, cause
	}
	s := New(exec, Config{MaxConcurrent: 1})

	id, out := s.Enqueue("proof", nil, 1, NoTimeout)
	_, err := out.Wait(context.Background())

	var execErr *domain.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Wait() error = %v, want ExecutionError", err)
	}
	if execErr.TaskID != id || execErr.Kind != "proof" {
		t.Fatalf("ExecutionError = %+v, want task %s kind proof", execErr, id)
	}
	if !errors.Is(err, cause) {
		t.Fatal("ExecutionError should wrap the executor's cause")
	}

	// A failure must not wedge the scheduler.
	_, out2 := s.Enqueue("proof", nil, 1, NoTimeout)
	if _, err := out2.Wait(context.Background()); err == nil {
		t.Fatal("second task should fail with the same executor")
	}
	if st := s.Stats(); st.Failed != 2 {
		t.Fatalf("Stats().Failed = %d, want 2", st.Failed)
	}
}

func TestCancelBacklogged(t *testing.T) {
	exec := func(ctx context.Context, kind string, payload []byte) (any, error) { return nil, nil }
	s := New(exec, Config{MaxConcurrent: 1})

	s.Pause()
	id, out := s.Enqueue("op", nil, 1, NoTimeout)

	if !s.Cancel(id) {
		t.Fatal("Cancel() = false for backlogged task")
	}
	_, err := out.Wait(context.Background())
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("Wait() error = %v, want ErrCancelled", err)
	}
	if st := s.Stats(); st.Backlog != 0 || st.Failed != 1 {
		t.Fatalf("Stats() = %+v, want empty backlog and one failure", st)
	}
	if s.Cancel("op_unknown") {
		t.Fatal("Cancel() = true for unknown id")
	}
}

func TestCancelInFlight(t *testing.T) {
	started := make(chan struct{})
	exec := func(ctx context.Context, kind string, payload []byte) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := New(exec, Config{MaxConcurrent: 1})

	id, out := s.Enqueue("op", nil, 1, NoTimeout)
	<-started

	if !s.Cancel(id) {
		t.Fatal("Cancel() = false for in-flight task")
	}
	_, err := out.Wait(context.Background())
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("Wait() error = %v, want ErrCancelled", err)
	}
	waitFor(t, func() bool { return s.Stats().InFlight == 0 }, "in-flight drain")
}

func TestPauseResume(t *testing.T) {
	var ran atomic.Int64
	exec := func(ctx context.Context, kind string, payload []byte) (any, error) {
		ran.Add(1)
		return nil, nil
	}
	s := New(exec, Config{MaxConcurrent: 2})

	s.Pause()
	_, out := s.Enqueue("op", nil, 1, NoTimeout)

	time.Sleep(30 * time.Millisecond)
	if n := ran.Load(); n != 0 {
		t.Fatalf("paused scheduler dispatched %d tasks", n)
	}
	if st := s.Stats(); st.Backlog != 1 {
		t.Fatalf("Stats().Backlog = %d, want 1", st.Backlog)
	}

	s.Resume()
	if _, err := out.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() after Resume error: %v", err)
	}
}

func TestClear(t *testing.T) {
	exec := func(ctx context.Context, kind string, payload []byte) (any, error) { return nil, nil }
	s := New(exec, Config{MaxConcurrent: 1})

	s.Pause()
	var outs []*Outcome
	for i := 0; i < 3; i++ {
		_, out := s.Enqueue("op", nil, i, NoTimeout)
		outs = append(outs, out)
	}

	if n := s.Clear(); n != 3 {
		t.Fatalf("Clear() = %d, want 3", n)
	}
	for _, out := range outs {
		_, err := out.Wait(context.Background())
		if !errors.Is(err, domain.ErrCleared) {
			t.Fatalf("Wait() error = %v, want ErrCleared", err)
		}
	}
	if st := s.Stats(); st.Backlog != 0 {
		t.Fatalf("Stats().Backlog = %d after Clear, want 0", st.Backlog)
	}
}

func TestStatsAverages(t *testing.T) {
	exec := func(ctx context.Context, kind string, payload []byte) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	}
	s := New(exec, Config{MaxConcurrent: 1})

	_, out1 := s.Enqueue("op", nil, 1, NoTimeout)
	_, out2 := s.Enqueue("op", nil, 1, NoTimeout)
	out1.Wait(context.Background())
	out2.Wait(context.Background())

	st := s.Stats()
	if st.Completed != 2 {
		t.Fatalf("Stats().Completed = %d, want 2", st.Completed)
	}
	if st.AvgExec < 5*time.Millisecond {
		t.Fatalf("Stats().AvgExec = %s, want >= 5ms", st.AvgExec)
	}
}

func TestOnSettleHook(t *testing.T) {
	var mu sync.Mutex
	var settlements []Settlement
	exec := func(ctx context.Context, kind string, payload []byte) (any, error) { return "v", nil }
	s := New(exec, Config{
		MaxConcurrent: 1,
		OnSettle: func(st Settlement) {
			mu.Lock()
			settlements = append(settlements, st)
			mu.Unlock()
		},
	})

	_, out := s.Enqueue("encrypt", nil, 1, NoTimeout)
	out.Wait(context.Background())

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(settlements) == 1
	}, "settlement hook")

	mu.Lock()
	defer mu.Unlock()
	if settlements[0].Status != StatusSucceeded || settlements[0].Task.Kind != "encrypt" {
		t.Fatalf("settlement = %+v, want succeeded encrypt", settlements[0])
	}
}

func TestOutcomeSettlesOnce(t *testing.T) {
	out := newOutcome()
	if !out.settle("first", nil) {
		t.Fatal("first settle should win")
	}
	if out.settle("second", nil) {
		t.Fatal("second settle should be discarded")
	}
	v, err := out.Wait(context.Background())
	if v != "first" || err != nil {
		t.Fatalf("Wait() = %v, %v; want first, nil", v, err)
	}
	if !out.Ready() {
		t.Fatal("Ready() = false after settle")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	out := newOutcome()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := out.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want DeadlineExceeded", err)
	}
}
