// Package pool runs independent sub-explorations on a fixed set of workers.
//
// Workers pull tasks from one shared queue. The only shared state is the
// queue itself (guarded by a single mutex and condition variable), an atomic
// halt flag and an atomic count of tasks that were pushed but have not
// finished. A worker whose queue pop comes back empty returns; this happens
// when the pool is halted, or when the queue is empty and no task is still
// running that could push more work.
//
// There is no work stealing: Steal is a stub that never finds anything, so
// a worker that splits off work must push it explicitly.
package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Func processes one task. worker is the index of the calling worker.
type Func[T any] func(ctx context.Context, worker int, task T) error

// Pool is a queue of tasks and the workers that drain it.
type Pool[T any] struct {
	workers int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []T
	waiting int

	halted  atomic.Bool
	pending atomic.Int64
}

// New creates a pool with the given number of workers (at least one).
func New[T any](workers int) *Pool[T] {
	if workers < 1 {
		workers = 1
	}
	p := &Pool[T]{workers: workers}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Workers returns the number of workers.
func (p *Pool[T]) Workers() int {
	return p.workers
}

// Push adds a task. It may be called before Run and by running tasks.
func (p *Pool[T]) Push(task T) {
	p.pending.Add(1)
	p.mu.Lock()
	p.queue = append(p.queue, task)
	p.mu.Unlock()
	p.cond.Signal()
}

// Pending returns the number of tasks pushed and not yet finished.
func (p *Pool[T]) Pending() int64 {
	return p.pending.Load()
}

// Idle reports whether some worker is waiting for work that is not there.
// Running tasks use it to decide when to split.
func (p *Pool[T]) Idle() bool {
	if p.halted.Load() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting > 0 && len(p.queue) == 0
}

// Steal would take work from another worker. Work stealing is not
// implemented; it always reports nothing.
func (p *Pool[T]) Steal() (T, bool) {
	var zero T
	return zero, false
}

// Halt stops the pool: every worker returns at its next pop.
func (p *Pool[T]) Halt() {
	p.halted.Store(true)
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Halted reports whether Halt was called.
func (p *Pool[T]) Halted() bool {
	return p.halted.Load()
}

func (p *Pool[T]) pop() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.halted.Load() && p.pending.Load() > 0 {
		p.waiting++
		p.cond.Wait()
		p.waiting--
	}
	var zero T
	if p.halted.Load() || len(p.queue) == 0 {
		return zero, false
	}
	task := p.queue[0]
	p.queue[0] = zero
	p.queue = p.queue[1:]
	return task, true
}

func (p *Pool[T]) done() {
	if p.pending.Add(-1) == 0 {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

// Run starts the workers and blocks until the queue drains, the pool is
// halted or ctx is cancelled. The first error returned by fn halts the pool
// and is returned.
func (p *Pool[T]) Run(ctx context.Context, fn Func[T]) error {
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, p.Halt)
	defer stop()

	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			for {
				task, ok := p.pop()
				if !ok {
					return nil
				}
				err := fn(gctx, worker, task)
				p.done()
				if err != nil {
					p.Halt()
					return err
				}
			}
		})
	}
	return g.Wait()
}
