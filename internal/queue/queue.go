// Package queue serializes calls into a single-threaded resource.
//
// Tasks run one at a time in the order they were enqueued. Once enqueued a
// task always runs to completion and its caller always receives the result.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/puttlab/internal/groutine"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("queue closed")

type task struct {
	fn     func() error
	result chan error
}

// Queue is a FIFO serializer backed by a single worker goroutine.
// A disabled Queue runs every task directly on the caller's goroutine.
type Queue struct {
	enabled bool

	mu      sync.Mutex
	pending []task
	closed  bool
	wake    chan struct{}

	once    sync.Once
	workers groutine.Group
	logger  *logrus.Logger
}

// New creates a queue. When enabled is false, Do is a passthrough.
func New(enabled bool, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}

	q := &Queue{
		enabled: enabled,
		wake:    make(chan struct{}, 1),
		logger:  logger,
	}
	if enabled {
		q.workers.Go(context.Background(), "queue-worker", q.run)
	}
	return q
}

// next pops the oldest task. ok is false once the queue is closed and drained.
func (q *Queue) next() (t task, ok bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			t = q.pending[0]
			q.pending[0] = task{}
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return t, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return task{}, false
		}
		<-q.wake
	}
}

func (q *Queue) run(_ context.Context) {
	for {
		t, ok := q.next()
		if !ok {
			return
		}
		t.result <- q.exec(t.fn)
	}
}

func (q *Queue) exec(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.WithField("panic", r).Error("Queued task panicked")
			err = fmt.Errorf("queued task panicked: %v", r)
		}
	}()
	return fn()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Do enqueues fn and blocks until it has run after every earlier task.
//
// ctx is checked once, before enqueueing. An enqueued task is never dropped,
// so Do then waits for fn to return.
func (q *Queue) Do(ctx context.Context, fn func() error) error {
	if !q.enabled {
		return fn()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t := task{fn: fn, result: make(chan error, 1)}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pending = append(q.pending, t)
	q.mu.Unlock()
	q.signal()

	return <-t.result
}

// Close refuses new tasks, runs the ones already enqueued and stops the worker.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		q.signal()
	})
	q.workers.Wait()
}

// Run is Do for tasks that produce a value.
func Run[T any](ctx context.Context, q *Queue, fn func() (T, error)) (T, error) {
	var out T
	err := q.Do(ctx, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}
