// Package worker runs background jobs on a fixed set of goroutines
package worker

import (
	"context"
	"sync"

	"github.com/kekeling/kekeling/services/distribution/internal/logging"
)

// Job is a unit of background work. The context is cancelled when the pool
// is stopped.
type Job func(ctx context.Context)

// Pool is a bounded queue drained by a fixed number of workers.
type Pool struct {
	log     *logging.Logger
	size    int
	jobs    chan Job
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	started bool
	cancel  context.CancelFunc
}

func NewPool(log *logging.Logger, size, queueSize int) *Pool {
	if size < 1 {
		size = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		log:  log.Named("worker"),
		size: size,
		jobs: make(chan Job, queueSize),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.log.Info("worker pool started", logging.Int("workers", p.size), logging.Int("queue", cap(p.jobs)))
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.exec(ctx, job)
	}
}

func (p *Pool) exec(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("background job panicked", logging.Any("panic", r))
		}
	}()
	job(ctx)
}

// Submit queues job without blocking. It returns false when the queue is
// full or the pool is stopped.
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued jobs not yet picked up.
func (p *Pool) Pending() int {
	return len(p.jobs)
}

// Stop refuses new jobs and waits for queued ones to finish. Jobs still
// running when ctx expires see their context cancelled.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	started := p.started
	p.mu.Unlock()

	if !started {
		return
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.log.Warn("worker pool drain timed out, cancelling running jobs")
		p.cancel()
		<-done
	}
	p.cancel()
	p.log.Info("worker pool stopped")
}
