// Package sched runs detached background work on a fixed set of workers.
// Tasks never inherit a request context; each gets its own deadline derived
// from the pool's lifetime.
package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pobbin/metrics"
	"pobbin/svc/util"
)

type Task func(ctx context.Context)

type Spawner interface {
	Spawn(name string, t Task) bool
}

type job struct {
	name string
	task Task
}

type Pool struct {
	queue       chan job
	timeout     time.Duration
	workerWg    sync.WaitGroup
	pending     sync.WaitGroup
	mu          sync.RWMutex
	shutdown    atomic.Bool
	shutdownCtx context.Context
	shutdownFn  context.CancelFunc
}

func New(workers, queueSize int, taskTimeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = workers * 64
	}
	if taskTimeout <= 0 {
		taskTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:       make(chan job, queueSize),
		timeout:     taskTimeout,
		shutdownCtx: ctx,
		shutdownFn:  cancel,
	}
	for i := 0; i < workers; i++ {
		p.workerWg.Add(1)
		go p.worker()
	}
	return p
}

// Spawn queues t without blocking. It reports false when the task was
// dropped because the queue is full or the pool is shutting down.
func (p *Pool) Spawn(name string, t Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.shutdown.Load() {
		util.Debug().Str("task", name).Msg("scheduler stopped, dropping task")
		metrics.SchedulerDropped.Inc()
		return false
	}
	p.pending.Add(1)
	select {
	case p.queue <- job{name: name, task: t}:
		metrics.SchedulerQueue.Inc()
		return true
	default:
		p.pending.Done()
		metrics.SchedulerDropped.Inc()
		util.Warn().Str("task", name).Msg("scheduler queue full, dropping task")
		return false
	}
}

func (p *Pool) worker() {
	defer p.workerWg.Done()
	for j := range p.queue {
		metrics.SchedulerQueue.Dec()
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			util.Error().Interface("panic", r).Str("task", j.name).Msg("background task panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(p.shutdownCtx, p.timeout)
	defer cancel()
	j.task(ctx)
}

// Wait blocks until every accepted task has finished.
func (p *Pool) Wait() {
	p.pending.Wait()
}

// Shutdown stops accepting tasks and drains the queue. If ctx ends first,
// running tasks are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.shutdown.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workerWg.Wait()
		close(done)
	}()
	defer p.shutdownFn()
	select {
	case <-done:
		util.Debug().Msg("scheduler drained")
		return nil
	case <-ctx.Done():
		util.Warn().Msg("scheduler did not drain in time, cancelling tasks")
		return ctx.Err()
	}
}
