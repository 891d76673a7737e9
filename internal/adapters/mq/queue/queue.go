// Package queue carries pipeline jobs from producers to the worker pool.
//
// The queue is bounded: Enqueue blocks while it is full, so a large batch
// applies back-pressure instead of dropping work.
package queue

import (
	"context"
	"sync"

	"github.com/okian/meshrsa/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Job is one unit of work. Done is called exactly once by whoever settles the
// job, with the error from Run or the reason it never ran.
type Job struct {
	ID   string
	Kind string
	Run  func(ctx context.Context) error
	Done func(err error)
}

// Finish settles the job.
func (j Job) Finish(err error) {
	if j.Done != nil {
		j.Done(err)
	}
}

// Queue provides blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a job, waiting for room. It fails with ErrClosed after
	// Close and with the context error when ctx ends first.
	Enqueue(ctx context.Context, j Job) error

	// Dequeue returns the channel jobs arrive on. The channel is closed when
	// the queue is closed and drained.
	Dequeue() <-chan Job

	// Len returns the current number of waiting jobs.
	Len() int

	// Close stops new jobs. Queued jobs remain readable.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	jobs     chan Job
	capacity int

	closing   chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan Job, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds a job to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) error {
	// Senders hold the read lock so Close cannot close the channel under
	// them; closing unblocks any sender waiting for room.
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}

	select {
	case q.jobs <- j:
		metrics.UpdateQueueSize(len(q.jobs))
		return nil
	case <-ctx.Done():
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return ctx.Err()
	case <-q.closing:
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}
}

// Dequeue returns the job channel.
func (q *InMemoryQueue) Dequeue() <-chan Job {
	return q.jobs
}

// Len returns the current number of queued jobs.
func (q *InMemoryQueue) Len() int {
	size := len(q.jobs)
	metrics.UpdateQueueSize(size)
	return size
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closing) })

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
