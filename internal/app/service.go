// Package app wires the pipeline stages onto the shared worker pool: the
// loader that builds per-subject source tensors and the fitter that runs the
// searchlight GLM over them.
package app

import (
	"bufio"
	"context"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/okian/meshrsa/internal/adapters/mq/queue"
	"github.com/okian/meshrsa/internal/adapters/mq/worker"
	"github.com/okian/meshrsa/internal/adapters/storage"
	"github.com/okian/meshrsa/internal/config"
	"github.com/okian/meshrsa/internal/domain/mesh"
	"github.com/okian/meshrsa/pkg/logger"
	"github.com/okian/meshrsa/pkg/metrics"
)

// TrialReader reads one raw trial.
type TrialReader interface {
	ReadTrial(path string) (*mesh.Recording, error)
}

type stcReader struct{}

func (stcReader) ReadTrial(path string) (*mesh.Recording, error) { return storage.ReadSTCFile(path) }

// Service runs load and fit batches for one configuration.
type Service struct {
	mu sync.Mutex

	cfg    *config.Config
	layout storage.Layout

	queue *queue.InMemoryQueue
	pool  *worker.Pool

	workerCount int
	queueSize   int
	trials      TrialReader
	prompt      *prompter

	started  bool
	progress tracker
	logger   logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the job queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTrialReader replaces the STC trial reader.
func WithTrialReader(r TrialReader) Option {
	return func(s *Service) {
		if r != nil {
			s.trials = r
		}
	}
}

// WithPrompt sets the terminal used by the ask overwrite policy.
func WithPrompt(in io.Reader, out io.Writer) Option {
	return func(s *Service) {
		if in != nil && out != nil {
			s.prompt = &prompter{in: bufio.NewReader(in), out: out}
		}
	}
}

// New constructs a Service for cfg.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:         cfg,
		layout:      storage.Layout{Root: cfg.RootPath, Analysis: cfg.AnalysisName},
		workerCount: runtime.NumCPU(),
		queueSize:   1024,
		trials:      stcReader{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prompt == nil {
		s.prompt = &prompter{in: bufio.NewReader(os.Stdin), out: os.Stderr}
	}
	return s
}

// Layout returns where the service reads and writes.
func (s *Service) Layout() storage.Layout { return s.layout }

// Start creates the queue and starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("pipeline")
	}

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue)
	s.pool.Start(ctx)
	s.started = true

	s.logger.Info(ctx, "pipeline started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.String("analysis", s.cfg.AnalysisName),
	)
	return nil
}

// Stop drains the pool.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false
	err := s.pool.Shutdown(ctx)
	s.logger.Info(ctx, "pipeline stopped")
	return err
}

// Progress reports the current or last batch.
func (s *Service) Progress() Progress { return s.progress.snapshot() }

// GetStats returns the batch progress together with pool state.
func (s *Service) GetStats() map[string]interface{} {
	p := s.progress.snapshot()
	stats := map[string]interface{}{
		"stage":   p.Stage,
		"runId":   p.RunID,
		"running": p.Running,
		"total":   p.Total,
		"done":    p.Done,
		"failed":  p.Failed,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stats["started"] = s.started
	if s.started {
		stats["workerCount"] = s.pool.Size()
		stats["queueLength"] = s.queue.Len()
	}
	return stats
}

func (s *Service) running() (*worker.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.pool, nil
}

// timedExecutor records the latency of every fit unit and settles it on the
// progress tracker.
type timedExecutor struct {
	pool     *worker.Pool
	progress *tracker
}

func (e timedExecutor) Execute(ctx context.Context, kind string, units []func(context.Context) error) []error {
	wrapped := make([]func(context.Context) error, len(units))
	for i, u := range units {
		wrapped[i] = func(ctx context.Context) error {
			start := time.Now()
			err := u(ctx)
			metrics.RecordTimepointLatency(float64(time.Since(start).Milliseconds()))
			e.progress.settle(err)
			return err
		}
	}
	e.progress.add(len(units))
	return e.pool.Execute(ctx, kind, wrapped)
}
