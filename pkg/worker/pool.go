// Package worker runs extraction work on a bounded set of goroutines so
// webhook handlers can acknowledge immediately.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
)

var (
	// ErrPoolStopped is returned when submitting to a pool that is not running
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrPoolSaturated is returned when the queue is full
	ErrPoolSaturated = errors.New("worker pool queue is full")
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

// Task is a unit of background work. The context is detached from the
// submitting request but keeps its values.
type Task func(ctx context.Context) error

// Config sizes the pool
type Config struct {
	Workers   int
	QueueSize int
	// Timeout bounds a single task; zero means no limit.
	Timeout time.Duration
}

type item struct {
	name string
	ctx  context.Context
	task Task
}

// Pool is a fixed set of goroutines draining a buffered queue.
type Pool struct {
	config Config
	logger ectologger.Logger

	queue    chan item
	wg       sync.WaitGroup
	detached sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// NewPool creates a worker pool. Call Start before submitting.
func NewPool(config Config, logger ectologger.Logger) *Pool {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	return &Pool{
		config: config,
		logger: logger,
	}
}

// Start launches the workers
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}

	p.queue = make(chan item, p.config.QueueSize)
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.running = true

	p.logger.WithContext(ctx).Infof("Started worker pool: workers=%d queue=%d", p.config.Workers, p.config.QueueSize)
	return nil
}

// Stop stops accepting work and waits for queued and running tasks to
// finish, or for ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.detached.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.WithContext(ctx).Info("Worker pool drained")
		return nil
	case <-ctx.Done():
		p.logger.WithContext(ctx).Warn("Worker pool shutdown timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the pool accepts work
func (p *Pool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Submit queues a task without blocking.
func (p *Pool) Submit(ctx context.Context, name string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrPoolStopped
	}

	select {
	case p.queue <- item{name: name, ctx: appctx.Detach(ctx), task: task}:
		metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		return ErrPoolSaturated
	}
}

// Go queues a task, falling back to a dedicated goroutine when the queue is
// full so accepted work is never dropped. Only a stopped pool rejects.
func (p *Pool) Go(ctx context.Context, name string, task Task) error {
	err := p.Submit(ctx, name, task)
	if !errors.Is(err, ErrPoolSaturated) {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrPoolStopped
	}

	p.logger.WithContext(ctx).Warnf("Worker queue full, running %s outside the pool", name)
	metrics.RecordWorkerTask("overflow")

	p.detached.Add(1)
	go func() {
		defer p.detached.Done()
		p.run(item{name: name, ctx: appctx.Detach(ctx), task: task})
	}()
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for it := range p.queue {
		metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
		p.run(it)
	}
	p.logger.Debugf("Worker %d stopped", id)
}

func (p *Pool) run(it item) {
	ctx := it.ctx
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := safeRun(ctx, it.task)
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"task":        it.name,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if err != nil {
		metrics.RecordWorkerTask("failed")
		log.WithError(err).Warnf("Task %s failed", it.name)
		return
	}
	metrics.RecordWorkerTask("succeeded")
	log.Debugf("Task %s completed", it.name)
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return task(ctx)
}
