// Package worker runs queued pipeline jobs on a fixed pool of goroutines.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/meshrsa/internal/adapters/mq/queue"
	"github.com/okian/meshrsa/pkg/logger"
	"github.com/okian/meshrsa/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// Queue defines how the pool submits and workers receive jobs.
type Queue interface {
	Enqueue(ctx context.Context, j queue.Job) error
	Dequeue() <-chan queue.Job
}

// Worker processes jobs until its queue is closed.
type Worker interface {
	// Run consumes jobs until the queue is closed and drained. Once ctx is
	// canceled, remaining jobs are settled with the context error unrun.
	Run(ctx context.Context)

	// Shutdown waits for the worker to finish.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue Queue
	name  string
	done  chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:  q,
		name:   "worker",
		done:   make(chan struct{}),
		logger: logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	for j := range w.queue.Dequeue() {
		if err := ctx.Err(); err != nil {
			j.Finish(err)
			continue
		}
		j.Finish(w.process(ctx, j))
	}
}

// Shutdown waits for the worker loop to exit. The queue must be closed for
// that to happen.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, j queue.Job) (err error) {
	start := time.Now()
	metrics.IncWorkerActive()
	defer func() {
		metrics.DecWorkerActive()
		metrics.RecordJobLatency(j.Kind, float64(time.Since(start).Milliseconds()))
		if r := recover(); r != nil {
			metrics.RecordErrorByComponent("worker", "panic")
			w.logger.Error(ctx, "job panicked",
				logger.String("job", j.ID),
				logger.Any("panic", r),
			)
			err = fmt.Errorf("%w: %s: %v", ErrJobPanic, j.ID, r)
		}
	}()

	if j.Run == nil {
		return nil
	}
	if err := j.Run(ctx); err != nil {
		metrics.RecordErrorByComponent("worker", j.Kind)
		w.logger.Debug(ctx, "job failed", logger.String("job", j.ID), logger.Error(err))
		return err
	}
	return nil
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	stopOnce sync.Once
	logger   logger.Logger
}

// NewPool creates a new worker pool. A count below one uses one worker per
// CPU.
func NewPool(workerCount int, q Queue, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, wopts...)
	}
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// RunBatch submits jobs and blocks until every one is settled. The result
// has one error slot per job, in submission order. Jobs still waiting when
// ctx ends are settled with the context error without running.
//
// RunBatch must not be called from inside a job of the same pool.
func (p *Pool) RunBatch(ctx context.Context, kind string, jobs []queue.Job) []error {
	errs := make([]error, len(jobs))
	var wg sync.WaitGroup
	wg.Add(len(jobs))

	for i, j := range jobs {
		run, done := j.Run, j.Done
		j.Kind = kind
		j.Run = func(context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if run == nil {
				return nil
			}
			return run(ctx)
		}
		j.Done = func(err error) {
			errs[i] = err
			if done != nil {
				done(err)
			}
			wg.Done()
		}
		if err := p.queue.Enqueue(ctx, j); err != nil {
			j.Finish(err)
		}
	}

	wg.Wait()
	return errs
}

// Execute runs independent units as one batch.
func (p *Pool) Execute(ctx context.Context, kind string, units []func(context.Context) error) []error {
	jobs := make([]queue.Job, len(units))
	for i, u := range units {
		jobs[i] = queue.Job{ID: kind + "-" + strconv.Itoa(i), Run: u}
	}
	return p.RunBatch(ctx, kind, jobs)
}

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() {
		if closer, ok := p.queue.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				p.logger.Error(ctx, "error closing queue", logger.Error(err))
			}
		}
	})

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			timedOut = err
		}
	}
	return timedOut
}
