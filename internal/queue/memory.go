package queue

import "context"

// MemoryQueue is an in-process buffered queue for dev and single-binary deployments.
type MemoryQueue struct {
	ch chan Task
}

// NewMemory builds a queue holding up to size pending tasks.
func NewMemory(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{ch: make(chan Task, size)}
}

// Send enqueues without blocking; a full buffer yields ErrQueueFull.
func (q *MemoryQueue) Send(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Tasks exposes the receive side to the in-process consumer.
func (q *MemoryQueue) Tasks() <-chan Task {
	return q.ch
}

// Len reports the number of pending tasks.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

var _ Client = (*MemoryQueue)(nil)
