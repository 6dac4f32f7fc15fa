// Package relay is an in-process publish/subscribe channel that moves peripheral
// notifications from the connection layer to their consumers.
package relay

import (
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Handler receives one emitted payload.
type Handler func(payload any)

// Relay delivers payloads to handlers by topic.
//
// Emit is synchronous: it returns after every handler registered on the topic
// at the time of the call has run, in registration order. Handlers registered
// later do not see earlier payloads.
type Relay struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string]*orderedmap.OrderedMap[uint64, Handler]
	logger *logrus.Logger
}

// New creates an empty relay.
func New(logger *logrus.Logger) *Relay {
	if logger == nil {
		logger = logrus.New()
	}
	return &Relay{
		topics: make(map[string]*orderedmap.OrderedMap[uint64, Handler]),
		logger: logger,
	}
}

// On registers handler for topic and returns a function that removes it.
// The returned function is idempotent.
func (r *Relay) On(topic string, handler Handler) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handlers, ok := r.topics[topic]
	if !ok {
		handlers = orderedmap.New[uint64, Handler]()
		r.topics[topic] = handlers
	}
	r.nextID++
	id := r.nextID
	handlers.Set(id, handler)

	var once sync.Once
	return func() {
		once.Do(func() { r.off(topic, id) })
	}
}

func (r *Relay) off(topic string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handlers, ok := r.topics[topic]
	if !ok {
		return
	}
	handlers.Delete(id)
	if handlers.Len() == 0 {
		delete(r.topics, topic)
	}
}

// Emit delivers payload to the handlers of topic and returns how many were
// called. A panicking handler is logged and does not stop the others.
func (r *Relay) Emit(topic string, payload any) int {
	r.mu.RLock()
	handlers, ok := r.topics[topic]
	var snapshot []Handler
	if ok {
		snapshot = make([]Handler, 0, handlers.Len())
		for pair := handlers.Oldest(); pair != nil; pair = pair.Next() {
			snapshot = append(snapshot, pair.Value)
		}
	}
	r.mu.RUnlock()

	for _, h := range snapshot {
		r.deliver(topic, h, payload)
	}
	return len(snapshot)
}

func (r *Relay) deliver(topic string, h Handler, payload any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(logrus.Fields{
				"topic": topic,
				"panic": rec,
			}).Error("Relay handler panicked")
		}
	}()
	h(payload)
}

// HandlerCount returns the number of handlers registered on topic.
func (r *Relay) HandlerCount(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if handlers, ok := r.topics[topic]; ok {
		return handlers.Len()
	}
	return 0
}

// Clear removes every handler of topic.
func (r *Relay) Clear(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.topics, topic)
}
