package relay

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestRelay() *Relay {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(logger)
}

// GOAL: every handler registered at emit time receives the payload, in registration order
//
// TEST SCENARIO: three handlers on one topic, one on another → emit → only the three run, in order
func TestEmit_DeliversInRegistrationOrder(t *testing.T) {
	r := newTestRelay()

	var got []string
	r.On("notification", func(p any) { got = append(got, "a:"+p.(string)) })
	r.On("notification", func(p any) { got = append(got, "b:"+p.(string)) })
	r.On("other", func(p any) { got = append(got, "x:"+p.(string)) })
	r.On("notification", func(p any) { got = append(got, "c:"+p.(string)) })

	n := r.Emit("notification", "v1")

	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a:v1", "b:v1", "c:v1"}, got)
}

// GOAL: no replay for late subscribers
//
// TEST SCENARIO: emit before registering → handler registered afterwards sees nothing until the next emit
func TestEmit_NoReplay(t *testing.T) {
	r := newTestRelay()

	assert.Equal(t, 0, r.Emit("notification", 1), "emit without handlers MUST reach nobody")

	var got []any
	r.On("notification", func(p any) { got = append(got, p) })
	assert.Empty(t, got, "late handler MUST NOT receive earlier payloads")

	r.Emit("notification", 2)
	assert.Equal(t, []any{2}, got)
}

// GOAL: a handler added during an emit does not receive that emit
func TestEmit_SnapshotAtEmitTime(t *testing.T) {
	r := newTestRelay()

	var lateCalls int
	r.On("t", func(any) {
		r.On("t", func(any) { lateCalls++ })
	})

	r.Emit("t", nil)

	assert.Equal(t, 0, lateCalls, "handler registered mid-emit MUST NOT be called for that emit")
	assert.Equal(t, 2, r.HandlerCount("t"))
}

func TestOn_Unsubscribe(t *testing.T) {
	r := newTestRelay()

	var a, b int
	offA := r.On("t", func(any) { a++ })
	r.On("t", func(any) { b++ })

	offA()
	offA() // idempotent
	r.Emit("t", nil)

	assert.Equal(t, 0, a, "unsubscribed handler MUST NOT be called")
	assert.Equal(t, 1, b)
	assert.Equal(t, 1, r.HandlerCount("t"))
}

func TestOn_UnsubscribeLastRemovesTopic(t *testing.T) {
	r := newTestRelay()

	off := r.On("t", func(any) {})
	off()

	assert.Equal(t, 0, r.HandlerCount("t"))
	r.mu.RLock()
	_, ok := r.topics["t"]
	r.mu.RUnlock()
	assert.False(t, ok, "empty topics MUST be dropped")
}

func TestClear(t *testing.T) {
	r := newTestRelay()
	r.On("t", func(any) {})
	r.On("t", func(any) {})

	r.Clear("t")

	assert.Equal(t, 0, r.Emit("t", nil))
}

// GOAL: a panicking handler does not prevent delivery to the rest
func TestEmit_RecoversPanic(t *testing.T) {
	r := newTestRelay()

	var delivered bool
	r.On("t", func(any) { panic("boom") })
	r.On("t", func(any) { delivered = true })

	assert.NotPanics(t, func() { r.Emit("t", nil) })
	assert.True(t, delivered, "handlers after a panicking one MUST still run")
}

func TestConcurrentOnEmit(t *testing.T) {
	r := newTestRelay()

	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			off := r.On("t", func(any) {
				mu.Lock()
				count++
				mu.Unlock()
			})
			off()
		}()
		go func() {
			defer wg.Done()
			r.Emit("t", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.HandlerCount("t"))
}
