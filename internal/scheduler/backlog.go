package scheduler

import (
	"container/heap"
	"context"
	"time"

	"github.com/PascalThePundit/ArciumHyde-sub000/internal/domain"
)

type task struct {
	domain.Task
	outcome  *Outcome
	deadline time.Time // SubmittedAt+Timeout; zero when no deadline
	seq      uint64    // arrival order, breaks priority ties FIFO
	index    int       // heap index, -1 once popped
	cancel   context.CancelFunc
}

// backlog orders tasks by priority descending, arrival order ascending.
type backlog []*task

var _ heap.Interface = (*backlog)(nil)

func (b backlog) Len() int { return len(b) }

func (b backlog) Less(i, j int) bool {
	if b[i].Priority != b[j].Priority {
		return b[i].Priority > b[j].Priority
	}
	return b[i].seq < b[j].seq
}

func (b backlog) Swap(i, j int) {
	b[i], b[j] = b[j], b[i]
	b[i].index = i
	b[j].index = j
}

func (b *backlog) Push(x any) {
	t := x.(*task)
	t.index = len(*b)
	*b = append(*b, t)
}

func (b *backlog) Pop() any {
	old := *b
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*b = old[:n-1]
	return t
}
