// Package pool runs render tasks on a fixed set of workers with a bounded
// queue.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
)

var (
	ErrPoolFull   = errors.New("pool: queue full")
	ErrPoolClosed = errors.New("pool: closed")
)

// Task is a unit of work. Tasks must not block forever.
type Task func()

// Pool is a fixed-size worker pool.
type Pool struct {
	tasks  chan Task
	quit   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex // held for reading while sending on tasks
	closed bool

	wg   sync.WaitGroup
	once sync.Once
}

// New starts workers goroutines sharing a queue of queueSize tasks.
// workers <= 0 means runtime.GOMAXPROCS(0).
func New(logger *slog.Logger, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		tasks:  make(chan Task, queueSize),
		quit:   make(chan struct{}),
		logger: logger,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil && p.logger != nil {
			p.logger.Error("pool: task panicked", slog.Any("panic", r))
		}
	}()
	task()
}

// Submit queues task, blocking while the queue is full. It returns
// ctx.Err() if ctx ends first and ErrPoolClosed once Shutdown has begun.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}
}

// TrySubmit queues task without blocking.
func (p *Pool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

// Shutdown stops accepting work and waits for queued and running tasks to
// finish, or for ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.once.Do(func() {
		// wake blocked submitters so they release the read lock
		close(p.quit)
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
