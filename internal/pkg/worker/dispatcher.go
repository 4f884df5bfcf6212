package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	ErrQueueFull = errors.New("worker queue full")
	ErrStopped   = errors.New("worker dispatcher stopped")
)

// Task is a unit of background work with its own failure path.
// Abort is called instead of (or after a panicking) Run so the task can
// record why it did not complete.
type Task interface {
	Run(ctx context.Context)
	Abort(ctx context.Context, reason string)
}

// Dispatcher runs tasks on a fixed pool of goroutines fed by a bounded queue.
// Tasks run under the dispatcher's own context, never the submitter's.
type Dispatcher struct {
	mu      sync.RWMutex
	stopped bool
	queue   chan Task
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewDispatcher starts workers goroutines reading from a queue of queueSize.
func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		queue:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.loop()
	}
	return d
}

// Submit enqueues t without blocking.
func (d *Dispatcher) Submit(t Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	select {
	case d.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish.
// When ctx ends first, running tasks see their context cancelled and the
// tasks still queued are aborted.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for t := range d.queue {
		if d.ctx.Err() != nil {
			d.abort(t, "service shutting down")
			continue
		}
		d.run(t)
	}
}

func (d *Dispatcher) run(t Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("background task panicked", "panic", fmt.Sprint(r))
			d.abort(t, "internal error")
		}
	}()
	t.Run(d.ctx)
}

func (d *Dispatcher) abort(t Task, reason string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("background task abort panicked", "panic", fmt.Sprint(r), "reason", reason)
		}
	}()
	t.Abort(context.WithoutCancel(d.ctx), reason)
}
