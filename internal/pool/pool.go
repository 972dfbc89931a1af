// Package pool runs tasks on a fixed set of worker goroutines fed from one shared,
// unbounded FIFO queue.
package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Task is a unit of work executed by exactly one worker.
type Task interface {
	Execute(ctx context.Context) error
	String() string
}

// Logger is the subset of structured logging the pool needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Pool dispatches scheduled tasks to its workers.
//
// Tasks may be scheduled before or after workers are spawned and before or after Run.
// Workers only start taking tasks once Run has been called.
type Pool struct {
	logger Logger

	// OnDone, if set, is called by the worker after each task finishes, with the error
	// the task returned or the error describing its panic.
	OnDone func(t Task, err error)

	mu      sync.Mutex
	work    *sync.Cond // queue gained a task, or the pool started or closed
	drained *sync.Cond // pending reached zero

	queue   []Task
	pending int // queued plus running
	ctx     context.Context
	stop    func() bool
	closed  bool

	completed int
	failed    int
	dropped   int

	workers sync.WaitGroup
	nextID  int
}

// New creates a Pool without workers.
func New(logger Logger) *Pool {
	p := &Pool{logger: logger}
	p.work = sync.NewCond(&p.mu)
	p.drained = sync.NewCond(&p.mu)
	return p
}

// Spawn starts n additional workers.
func (p *Pool) Spawn(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		id := p.nextID
		p.nextID++
		p.workers.Add(1)
		go p.worker(id)
	}
}

// Schedule appends t to the queue. Tasks scheduled after the Run context was cancelled,
// or after Close, are dropped.
func (p *Pool) Schedule(t Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || (p.ctx != nil && p.ctx.Err() != nil) {
		p.dropped++
		p.logger.Info("task dropped", "task", t.String())
		return
	}
	p.queue = append(p.queue, t)
	p.pending++
	p.work.Signal()
}

// Run lets workers start taking tasks. Tasks run with ctx; when ctx is cancelled the
// tasks still queued are dropped. Calling Run more than once has no effect.
func (p *Pool) Run(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx != nil {
		return
	}
	p.ctx = ctx
	p.stop = context.AfterFunc(ctx, p.dropQueued)
	p.work.Broadcast()
}

// Wait blocks until every scheduled task has finished or been dropped.
func (p *Pool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 {
		p.drained.Wait()
	}
}

// Close stops the workers once the queue is empty and waits for them to exit. Tasks that
// can no longer run because Run was never called are dropped.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	if p.ctx == nil {
		p.dropLocked()
	}
	p.work.Broadcast()
	p.mu.Unlock()

	p.workers.Wait()

	p.mu.Lock()
	if p.stop != nil {
		p.stop()
	}
	p.mu.Unlock()
}

// Completed returns the number of tasks that finished without error.
func (p *Pool) Completed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// Failed returns the number of tasks that returned an error or panicked.
func (p *Pool) Failed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// Dropped returns the number of tasks that were never executed.
func (p *Pool) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Pool) worker(id int) {
	defer p.workers.Done()
	for {
		t, ctx, ok := p.next()
		if !ok {
			return
		}
		err := p.execute(ctx, t)
		if err != nil {
			p.logger.Error("task failed", "worker", id, "task", t.String(), "error", err)
		}
		if p.OnDone != nil {
			p.OnDone(t, err)
		}
		p.finish(err)
	}
}

// next blocks until a task is available or the pool is closed.
func (p *Pool) next() (Task, context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.ctx != nil && p.ctx.Err() != nil {
			p.dropLocked()
		}
		if p.ctx != nil && len(p.queue) > 0 {
			t := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			return t, p.ctx, true
		}
		if p.closed {
			return nil, nil, false
		}
		p.work.Wait()
	}
}

func (p *Pool) execute(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v\n%s", t.String(), r, debug.Stack())
		}
	}()
	return t.Execute(ctx)
}

func (p *Pool) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.failed++
	} else {
		p.completed++
	}
	p.pending--
	if p.pending == 0 {
		p.drained.Broadcast()
	}
}

func (p *Pool) dropQueued() {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.queue)
	p.dropLocked()
	if n > 0 {
		p.logger.Info("run cancelled, queued tasks dropped", "dropped", n)
	}
}

func (p *Pool) dropLocked() {
	n := len(p.queue)
	p.queue = nil
	p.dropped += n
	p.pending -= n
	if p.pending == 0 {
		p.drained.Broadcast()
	}
}
