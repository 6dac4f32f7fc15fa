package testutils

import (
	"context"
	"strings"
	"sync"

	"github.com/srg/puttlab/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockCentral is a testify mock of device.Central.
//
// Besides recording calls it captures the callbacks handed to Connect and
// StartNotifications, so tests can play the peripheral side:
//
//	central.On("Connect", mock.Anything, "AA:BB", mock.Anything).Return(nil)
//	...
//	central.Notify("AA:BB", device.StrokeServiceUUID, device.StrokeDataCharUUID, []byte{1})
//	central.TriggerDisconnect("AA:BB")
type MockCentral struct {
	mock.Mock

	mu           sync.Mutex
	onDisconnect map[string]func(string)
	subscribers  map[string]func([]byte)
	counts       map[string]int
}

var _ device.Central = (*MockCentral)(nil)

// NewMockCentral creates an empty MockCentral.
func NewMockCentral() *MockCentral {
	return &MockCentral{
		onDisconnect: make(map[string]func(string)),
		subscribers:  make(map[string]func([]byte)),
		counts:       make(map[string]int),
	}
}

func (m *MockCentral) count(method string) {
	m.mu.Lock()
	m.counts[method]++
	m.mu.Unlock()
}

// CallCount returns how many times method was invoked. Unlike AssertNumberOfCalls
// it is safe to poll while callbacks are still running.
func (m *MockCentral) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[method]
}

func subscriptionKey(deviceID, service, characteristic string) string {
	return deviceID + "/" + device.NormalizeUUID(service) + "/" + device.NormalizeUUID(characteristic)
}

func (m *MockCentral) Initialize(ctx context.Context) error {
	m.count("Initialize")
	return m.Called(ctx).Error(0)
}

func (m *MockCentral) RequestDevice(ctx context.Context, opts *device.RequestDeviceOptions) (device.Descriptor, error) {
	m.count("RequestDevice")
	args := m.Called(ctx, opts)
	return args.Get(0).(device.Descriptor), args.Error(1)
}

func (m *MockCentral) Connect(ctx context.Context, deviceID string, onDisconnect func(string)) error {
	m.count("Connect")
	err := m.Called(ctx, deviceID, onDisconnect).Error(0)
	if err == nil {
		m.mu.Lock()
		m.onDisconnect[deviceID] = onDisconnect
		m.mu.Unlock()
	}
	return err
}

func (m *MockCentral) GetServices(ctx context.Context, deviceID string) ([]device.Service, error) {
	m.count("GetServices")
	args := m.Called(ctx, deviceID)
	services, _ := args.Get(0).([]device.Service)
	return services, args.Error(1)
}

func (m *MockCentral) Read(ctx context.Context, deviceID, service, characteristic string) ([]byte, error) {
	m.count("Read")
	args := m.Called(ctx, deviceID, service, characteristic)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockCentral) StartNotifications(ctx context.Context, deviceID, service, characteristic string, cb func([]byte)) error {
	m.count("StartNotifications")
	err := m.Called(ctx, deviceID, service, characteristic, cb).Error(0)
	if err == nil {
		m.mu.Lock()
		m.subscribers[subscriptionKey(deviceID, service, characteristic)] = cb
		m.mu.Unlock()
	}
	return err
}

func (m *MockCentral) StopNotifications(ctx context.Context, deviceID, service, characteristic string) error {
	m.count("StopNotifications")
	err := m.Called(ctx, deviceID, service, characteristic).Error(0)
	m.mu.Lock()
	delete(m.subscribers, subscriptionKey(deviceID, service, characteristic))
	m.mu.Unlock()
	return err
}

func (m *MockCentral) Disconnect(ctx context.Context, deviceID string) error {
	m.count("Disconnect")
	err := m.Called(ctx, deviceID).Error(0)
	m.mu.Lock()
	m.dropSubscriptions(deviceID)
	m.mu.Unlock()
	return err
}

// dropSubscriptions must be called with mu held.
func (m *MockCentral) dropSubscriptions(deviceID string) {
	for k := range m.subscribers {
		if strings.HasPrefix(k, deviceID+"/") {
			delete(m.subscribers, k)
		}
	}
}

// Notify delivers data to the callback subscribed on the characteristic.
// It returns false when nothing is subscribed.
func (m *MockCentral) Notify(deviceID, service, characteristic string, data []byte) bool {
	m.mu.Lock()
	cb, ok := m.subscribers[subscriptionKey(deviceID, service, characteristic)]
	m.mu.Unlock()
	if !ok {
		return false
	}
	cb(data)
	return true
}

// TriggerDisconnect simulates the peripheral dropping the link: every
// subscription of the device is forgotten and the Connect callback is invoked.
// It returns false when the device was never connected.
func (m *MockCentral) TriggerDisconnect(deviceID string) bool {
	m.mu.Lock()
	cb, ok := m.onDisconnect[deviceID]
	delete(m.onDisconnect, deviceID)
	m.dropSubscriptions(deviceID)
	m.mu.Unlock()
	if !ok || cb == nil {
		return false
	}
	cb(deviceID)
	return true
}

// IsSubscribed reports whether a notification callback is registered.
func (m *MockCentral) IsSubscribed(deviceID, service, characteristic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subscribers[subscriptionKey(deviceID, service, characteristic)]
	return ok
}
