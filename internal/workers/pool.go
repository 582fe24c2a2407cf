// Package workers provides a bounded goroutine pool for long-running
// simulation jobs.
package workers

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolStopped = errors.New("worker pool is stopped")
	ErrQueueFull   = errors.New("task queue is full")
)

// Task is a unit of work. The context is the pool's run context; tasks
// should return promptly once it is cancelled.
type Task func(ctx context.Context) error

// Pool runs submitted tasks on a fixed set of worker goroutines behind a
// bounded queue. Submission is non-blocking: a full queue is an error the
// caller surfaces, not silent backpressure.
type Pool struct {
	logger *zap.Logger
	queue  chan Task

	running   atomic.Bool
	completed atomic.Int64
	failed    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool. Non-positive workers defaults to NumCPU;
// non-positive queueSize defaults to 64.
func NewPool(logger *zap.Logger, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		logger: logger,
		queue:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	logger.Info("worker pool started",
		zap.Int("workers", workers),
		zap.Int("queue_size", queueSize),
	)
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("worker", id))
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.execute(log, task)
		}
	}
}

func (p *Pool) execute(log *zap.Logger, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			log.Error("task panicked", zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := task(p.ctx); err != nil {
		p.failed.Add(1)
		log.Warn("task failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	p.completed.Add(1)
}

// Submit enqueues a task without blocking.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels the run context and waits up to timeout for workers to drain.
func (p *Pool) Stop(timeout time.Duration) error {
	if !p.running.Swap(false) {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("worker pool stopped",
			zap.Int64("completed", p.completed.Load()),
			zap.Int64("failed", p.failed.Load()),
		)
		return nil
	case <-time.After(timeout):
		return errors.New("worker pool shutdown timed out")
	}
}

// QueueLength returns the number of queued tasks.
func (p *Pool) QueueLength() int { return len(p.queue) }

// Completed returns the number of tasks that finished without error.
func (p *Pool) Completed() int64 { return p.completed.Load() }

// Failed returns the number of tasks that failed or panicked.
func (p *Pool) Failed() int64 { return p.failed.Load() }
