package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rendis/recipe-engine/pkg/schema"
)

// PoolMetrics tracks worker pool operational metrics.
type PoolMetrics struct {
	Workers   int   `json:"workers"`
	Active    int64 `json:"active"`
	Queued    int64 `json:"queued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// Task is a unit of background work. The context it receives is detached
// from the submitter's context.
type Task func(ctx context.Context) error

// WorkerPool runs tasks on a fixed set of workers fed by a bounded queue.
type WorkerPool struct {
	queue   chan Task
	workers int
	logger  *slog.Logger

	workerWG sync.WaitGroup
	tasksWG  sync.WaitGroup
	metrics  PoolMetrics

	// mu is held for reading by every in-flight Submit so Shutdown can wait
	// for them before its final drain.
	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
	doneOnce sync.Once
}

// NewWorkerPool starts workers goroutines reading from a queue of queueDepth
// slots. queueDepth 0 makes Submit hand tasks directly to an idle worker.
func NewWorkerPool(workers, queueDepth int, logger *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &WorkerPool{
		queue:   make(chan Task, queueDepth),
		workers: workers,
		logger:  logger,
		done:    make(chan struct{}),
	}
	p.workerWG.Add(workers)
	for range workers {
		go p.work()
	}
	return p
}

func (p *WorkerPool) work() {
	defer p.workerWG.Done()
	for {
		select {
		case t := <-p.queue:
			p.run(t)
		case <-p.done:
			for {
				select {
				case t := <-p.queue:
					p.run(t)
				default:
					return
				}
			}
		}
	}
}

func (p *WorkerPool) run(t Task) {
	atomic.AddInt64(&p.metrics.Queued, -1)
	atomic.AddInt64(&p.metrics.Active, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.metrics.Panics, 1)
			atomic.AddInt64(&p.metrics.Failed, 1)
			p.logger.Error("worker task panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
		atomic.AddInt64(&p.metrics.Active, -1)
		p.tasksWG.Done()
	}()

	if err := t(context.Background()); err != nil {
		atomic.AddInt64(&p.metrics.Failed, 1)
		return
	}
	atomic.AddInt64(&p.metrics.Completed, 1)
}

// Submit enqueues a task. It blocks while the queue is full (backpressure)
// until ctx ends, in which case it returns a QUEUE_FULL error. Returns
// ErrPoolShutdown once the pool has been shut down.
func (p *WorkerPool) Submit(ctx context.Context, t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolShutdown
	}
	select {
	case <-p.done:
		return ErrPoolShutdown
	default:
	}

	p.tasksWG.Add(1)
	atomic.AddInt64(&p.metrics.Queued, 1)
	select {
	case p.queue <- t:
		return nil
	case <-ctx.Done():
		atomic.AddInt64(&p.metrics.Queued, -1)
		p.tasksWG.Done()
		return schema.NewErrorf(schema.ErrCodeQueueFull,
			"run queue is full (%d workers busy, %d queued)", p.workers, cap(p.queue)).WithCause(ctx.Err())
	case <-p.done:
		atomic.AddInt64(&p.metrics.Queued, -1)
		p.tasksWG.Done()
		return ErrPoolShutdown
	}
}

// Wait blocks until every accepted task has finished.
func (p *WorkerPool) Wait() {
	p.tasksWG.Wait()
}

// Shutdown stops accepting tasks, lets queued tasks finish and waits for them.
func (p *WorkerPool) Shutdown() {
	p.doneOnce.Do(func() { close(p.done) })

	p.mu.Lock()
	already := p.closed
	p.closed = true
	p.mu.Unlock()
	if already {
		return
	}

	p.workerWG.Wait()
	// A Submit can win its send after the workers drained the queue.
	for {
		select {
		case t := <-p.queue:
			p.run(t)
		default:
			p.tasksWG.Wait()
			return
		}
	}
}

// Metrics returns a snapshot of the current pool metrics.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Workers:   p.workers,
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Queued:    atomic.LoadInt64(&p.metrics.Queued),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}
