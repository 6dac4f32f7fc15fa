package device

import (
	"context"

	"github.com/srg/puttlab/internal/queue"
)

type serialCentral struct {
	inner Central
	q     *queue.Queue
}

// Serialize wraps c so that every call goes through q, one at a time, in
// submission order. Callbacks registered through the wrapper still run on the
// adapter's goroutines, outside the queue.
func Serialize(c Central, q *queue.Queue) Central {
	return &serialCentral{inner: c, q: q}
}

func (s *serialCentral) Initialize(ctx context.Context) error {
	return s.q.Do(ctx, func() error {
		return s.inner.Initialize(ctx)
	})
}

func (s *serialCentral) RequestDevice(ctx context.Context, opts *RequestDeviceOptions) (Descriptor, error) {
	return queue.Run(ctx, s.q, func() (Descriptor, error) {
		return s.inner.RequestDevice(ctx, opts)
	})
}

func (s *serialCentral) Connect(ctx context.Context, deviceID string, onDisconnect func(string)) error {
	return s.q.Do(ctx, func() error {
		return s.inner.Connect(ctx, deviceID, onDisconnect)
	})
}

func (s *serialCentral) GetServices(ctx context.Context, deviceID string) ([]Service, error) {
	return queue.Run(ctx, s.q, func() ([]Service, error) {
		return s.inner.GetServices(ctx, deviceID)
	})
}

func (s *serialCentral) Read(ctx context.Context, deviceID, service, characteristic string) ([]byte, error) {
	return queue.Run(ctx, s.q, func() ([]byte, error) {
		return s.inner.Read(ctx, deviceID, service, characteristic)
	})
}

func (s *serialCentral) StartNotifications(ctx context.Context, deviceID, service, characteristic string, cb func([]byte)) error {
	return s.q.Do(ctx, func() error {
		return s.inner.StartNotifications(ctx, deviceID, service, characteristic, cb)
	})
}

func (s *serialCentral) StopNotifications(ctx context.Context, deviceID, service, characteristic string) error {
	return s.q.Do(ctx, func() error {
		return s.inner.StopNotifications(ctx, deviceID, service, characteristic)
	})
}

func (s *serialCentral) Disconnect(ctx context.Context, deviceID string) error {
	return s.q.Do(ctx, func() error {
		return s.inner.Disconnect(ctx, deviceID)
	})
}
