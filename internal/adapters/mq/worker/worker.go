// Package worker runs write jobs with per-key serialization.
//
// Each worker owns one lane. A job's key is hashed onto a lane, so all
// jobs for the same key run on the same goroutine in submission order,
// while different keys proceed in parallel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/tutorlog/internal/adapters/mq/queue"
	"github.com/okian/tutorlog/pkg/logger"
	"github.com/okian/tutorlog/pkg/metrics"
)

const (
	defaultWorkerMultiplier = 4
	metricsUpdateInterval   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

var (
	// ErrBackpressure is returned when the lane for a key is full.
	ErrBackpressure = errors.New("writer lane full")
	// ErrStopped is returned after Shutdown.
	ErrStopped = errors.New("worker pool stopped")
)

// Queue is the lane a worker drains.
type Queue interface {
	Dequeue() <-chan queue.Job
}

// InMemoryWorker runs the jobs of one lane sequentially.
type InMemoryWorker struct {
	queue  Queue
	name   string
	done   chan struct{}
	logger logger.Logger
}

// NewInMemoryWorker creates a worker draining q.
func NewInMemoryWorker(q Queue, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:  q,
		name:   "worker",
		done:   make(chan struct{}),
		logger: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run executes jobs until the lane is closed and drained. Jobs are run
// with ctx, so cancelling it makes pending jobs fail fast.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)
	for job := range w.queue.Dequeue() {
		job.Finish(w.process(ctx, job))
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) process(ctx context.Context, job queue.Job) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Key, r)
		}
		if err != nil {
			metrics.RecordWorkerError()
			w.logger.Debug(ctx, "job failed", logger.String("key", job.Key), logger.Error(err))
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return job.Run(ctx)
}

// Pool routes jobs by key onto a fixed set of single-worker lanes.
type Pool struct {
	lanes   []*queue.InMemoryQueue
	workers []*InMemoryWorker

	mu       sync.RWMutex
	stopped  bool
	shutdown chan struct{}

	logger logger.Logger
}

// NewPool creates workerCount lanes of laneCapacity jobs each. A
// workerCount below one defaults to a multiple of the CPU count.
func NewPool(workerCount, laneCapacity int, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}
	probe := &InMemoryWorker{logger: logger.NewNop()}
	for _, opt := range opts {
		opt(probe)
	}

	p := &Pool{
		lanes:    make([]*queue.InMemoryQueue, workerCount),
		workers:  make([]*InMemoryWorker, workerCount),
		shutdown: make(chan struct{}),
		logger:   probe.logger.Named("worker-pool"),
	}
	for i := range workerCount {
		name := "worker-" + strconv.Itoa(i)
		p.lanes[i] = queue.NewInMemoryQueue(queue.WithCapacity(laneCapacity), queue.WithName(name))
		p.workers[i] = NewInMemoryWorker(p.lanes[i], WithName(name), WithLogger(probe.logger))
	}

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateQueueCapacity(p.Capacity())
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return p
}

// Start launches every worker. Jobs run with ctx.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

func (p *Pool) lane(key string) *queue.InMemoryQueue {
	return p.lanes[xxhash.Sum64String(key)%uint64(len(p.lanes))]
}

// Submit runs fn on the lane owning key and waits for its result. It
// fails with ErrBackpressure when the lane is full and ErrStopped after
// Shutdown. If ctx ends first, Submit returns ctx.Err() while fn may
// still run.
func (p *Pool) Submit(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return ErrStopped
	}
	job := queue.NewJob(key, fn)
	err := p.lane(key).Enqueue(ctx, job)
	p.mu.RUnlock()

	switch {
	case errors.Is(err, queue.ErrFull):
		return fmt.Errorf("%w: %s", ErrBackpressure, key)
	case errors.Is(err, queue.ErrClosed):
		return ErrStopped
	case err != nil:
		return err
	}

	select {
	case err := <-job.Done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len is the number of waiting jobs across lanes.
func (p *Pool) Len() int {
	n := 0
	for _, l := range p.lanes {
		n += l.Len()
	}
	return n
}

// Capacity is the total number of jobs the lanes can hold.
func (p *Pool) Capacity() int {
	n := 0
	for _, l := range p.lanes {
		n += l.Cap()
	}
	return n
}

// Workers is the number of lanes.
func (p *Pool) Workers() int { return len(p.workers) }

func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.updateMetrics()
		}
	}
}

func (p *Pool) updateMetrics() {
	size, capacity := p.Len(), p.Capacity()
	metrics.UpdateQueueSize(size)
	if capacity > 0 {
		metrics.UpdateQueueUtilization(float64(size) / float64(capacity))
	}
}

// Shutdown stops accepting jobs, lets the workers drain their lanes and
// waits for them to exit.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.shutdown)
	for _, l := range p.lanes {
		if err := l.Close(); err != nil {
			p.logger.Error(ctx, "error closing lane", logger.Error(err))
		}
	}
	p.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.Done():
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("shutdown timed out: %w", shutdownCtx.Err())
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
