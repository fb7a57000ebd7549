// Package tasks is an ordered queue of deferred follow-up work. Callers post
// mutations instead of applying them inline so related state settles first,
// then Drain applies them lowest priority value first, FIFO within a priority.
package tasks

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

type Priority int

const (
	// PriorityRestore runs before anything that could claim the timer.
	PriorityRestore Priority = 10
	// PriorityAutoStart runs after restoration reached a terminal state.
	PriorityAutoStart Priority = 20
)

type Func func(ctx context.Context) error

type task struct {
	name     string
	priority Priority
	seq      uint64
	fn       Func
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

type Queue struct {
	mu      sync.Mutex
	pending taskHeap
	seq     uint64
	logger  *slog.Logger

	// draining serializes Drain calls so tasks never run concurrently.
	draining sync.Mutex
}

func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{logger: logger}
}

func (q *Queue) Post(p Priority, name string, fn Func) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	heap.Push(&q.pending, &task{name: name, priority: p, seq: q.seq, fn: fn})
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain runs queued tasks in order until the queue is empty, including tasks
// posted by running tasks. A failing task does not stop the others; all
// failures are returned joined.
func (q *Queue) Drain(ctx context.Context) error {
	q.draining.Lock()
	defer q.draining.Unlock()

	var errs []error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}

		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return errors.Join(errs...)
		}
		t := heap.Pop(&q.pending).(*task)
		q.mu.Unlock()

		if err := t.fn(ctx); err != nil {
			q.logger.Warn("deferred task failed", "task", t.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
}
