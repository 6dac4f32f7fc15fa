package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, enabled bool) *Queue {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	q := New(enabled, logger)
	t.Cleanup(q.Close)
	return q
}

// GOAL: at most one task runs at a time
//
// TEST SCENARIO: many goroutines submit tasks concurrently → an in-flight counter never exceeds one
func TestDo_SerializesTasks(t *testing.T) {
	q := newTestQueue(t, true)

	var inFlight, maxInFlight int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Do(context.Background(), func() error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					m := atomic.LoadInt32(&maxInFlight)
					if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight), "MUST never run two tasks concurrently")
}

// GOAL: tasks submitted sequentially run in submission order
//
// TEST SCENARIO: a blocked task holds the worker → followers are enqueued in order → they complete in that order
func TestDo_FIFO(t *testing.T) {
	q := newTestQueue(t, true)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = q.Do(context.Background(), func() error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			})
		}(i)
		// let each submitter park on the queue before the next one
		time.Sleep(10 * time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order, "tasks MUST run in enqueue order")
}

func TestDo_PropagatesError(t *testing.T) {
	q := newTestQueue(t, true)
	boom := errors.New("boom")

	err := q.Do(context.Background(), func() error { return boom })

	assert.ErrorIs(t, err, boom)
}

func TestDo_RecoversPanic(t *testing.T) {
	q := newTestQueue(t, true)

	err := q.Do(context.Background(), func() error { panic("kaboom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	// the worker MUST survive the panic
	assert.NoError(t, q.Do(context.Background(), func() error { return nil }))
}

// GOAL: cancelling the caller's context does not drop a task waiting behind a running one
//
// TEST SCENARIO: worker busy → second task enqueued → its ctx is cancelled → worker released → second task still runs and Do returns its result
func TestDo_EnqueuedTaskSurvivesCancel(t *testing.T) {
	q := newTestQueue(t, true)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	done := make(chan error, 1)
	go func() {
		done <- q.Do(ctx, func() error {
			ran.Store(true)
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.pending) == 1
	}, time.Second, time.Millisecond, "second task MUST be enqueued")
	cancel()
	time.Sleep(10 * time.Millisecond)
	close(release)

	select {
	case err := <-done:
		assert.NoError(t, err, "enqueued task MUST report its own result")
	case <-time.After(time.Second):
		t.Fatal("Do MUST return once the task ran")
	}
	assert.True(t, ran.Load(), "enqueued task MUST run despite the cancelled context")
}

// GOAL: a context that is already done keeps the task out of the queue
func TestDo_CancelledBeforeEnqueue(t *testing.T) {
	q := newTestQueue(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	err := q.Do(ctx, func() error {
		ran.Store(true)
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran.Load(), "task MUST NOT run when its context was done before Do")
}

// GOAL: an enqueued task is not cancelled by its caller's context
func TestDo_AcceptedTaskIgnoresCancel(t *testing.T) {
	q := newTestQueue(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	err := q.Do(ctx, func() error {
		cancel()
		time.Sleep(5 * time.Millisecond)
		return nil
	})

	assert.NoError(t, err, "enqueued task MUST run to completion")
}

func TestDo_Disabled(t *testing.T) {
	q := newTestQueue(t, false)

	called := false
	err := q.Do(context.Background(), func() error {
		called = true
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, called, "disabled queue MUST run the task directly")
}

func TestDo_AfterClose(t *testing.T) {
	q := New(true, nil)
	q.Close()

	err := q.Do(context.Background(), func() error { return nil })

	assert.ErrorIs(t, err, ErrClosed)
}

// GOAL: Close runs every task enqueued before it
func TestClose_DrainsPending(t *testing.T) {
	q := New(true, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Do(context.Background(), func() error {
				ran.Add(1)
				return nil
			}))
		}()
	}
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.pending) == 3
	}, time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()
	close(release)
	<-closed
	wg.Wait()

	assert.Equal(t, int32(3), ran.Load(), "Close MUST NOT drop enqueued tasks")
}

func TestRun_ReturnsValue(t *testing.T) {
	q := newTestQueue(t, true)

	v, err := Run(context.Background(), q, func() (int, error) { return 42, nil })

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
