package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// task is one unit of background work, persistence or notification.
type task struct {
	name string
	fn   func(context.Context) error
}

// dispatcher runs persistence and notification off the decision path. The
// queue is bounded; when it is full the task is dropped and logged, never
// allowed to block a trading cycle. Task failures are logged, not
// escalated.
type dispatcher struct {
	logger *zap.Logger
	tasks  chan task
	done   chan struct{}
}

func newDispatcher(buffer int, logger *zap.Logger) *dispatcher {
	return &dispatcher{
		logger: logger.Named("background"),
		tasks:  make(chan task, buffer),
		done:   make(chan struct{}),
	}
}

// run drains the queue until close is called. Tasks get their own timeout
// context so a shutdown flush still delivers the final snapshot.
func (d *dispatcher) run() {
	defer close(d.done)
	for t := range d.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := t.fn(ctx); err != nil {
			d.logger.Warn("background task failed",
				zap.String("task", t.name), zap.Error(err))
		}
		cancel()
	}
}

// enqueue hands off a task without blocking.
func (d *dispatcher) enqueue(name string, fn func(context.Context) error) {
	select {
	case d.tasks <- task{name: name, fn: fn}:
	default:
		d.logger.Warn("background queue full, dropping task", zap.String("task", name))
	}
}

// close flushes queued tasks and waits for the worker to exit.
func (d *dispatcher) close() {
	close(d.tasks)
	<-d.done
}
