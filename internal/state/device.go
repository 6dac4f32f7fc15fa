package state

import (
	"sync"

	"github.com/srg/puttlab/internal/device"
)

// DeviceStore holds the currently bound peripheral, if any.
type DeviceStore struct {
	mu      sync.RWMutex
	current *device.Descriptor
}

func NewDeviceStore() *DeviceStore {
	return &DeviceStore{}
}

// Set replaces the current peripheral.
func (s *DeviceStore) Set(d device.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &d
}

func (s *DeviceStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// Current returns the bound peripheral and whether there is one.
func (s *DeviceStore) Current() (device.Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return device.Descriptor{}, false
	}
	return *s.current, true
}
