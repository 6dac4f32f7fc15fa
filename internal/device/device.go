package device

import (
	"context"
	"strings"
)

// Characteristic identifiers of the putting-stroke sensor. All values are
// in normalized form (see NormalizeUUID).
const (
	StrokeServiceUUID    = "19b10000e8f2537e4f6cd104768a1214"
	StrokeDataCharUUID   = "19b10001e8f2537e4f6cd104768a1214"
	PuttEventCharUUID    = "19b10002e8f2537e4f6cd104768a1214"
	BatteryServiceUUID   = "180f"
	BatteryLevelCharUUID = "2a19"
)

// Descriptor identifies a peripheral picked by RequestDevice.
type Descriptor struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
}

// RequestDeviceOptions filters device selection.
//
// A peripheral matches when it advertises at least one UUID from Services or
// OptionalServices (any peripheral when both are empty) and, if NamePrefix is
// set, its local name starts with it.
type RequestDeviceOptions struct {
	Services         []string
	OptionalServices []string
	NamePrefix       string
}

// Service is a discovered GATT service.
type Service struct {
	UUID            string           `json:"uuid"`
	Characteristics []Characteristic `json:"characteristics"`
}

// Characteristic is a discovered GATT characteristic.
type Characteristic struct {
	UUID       string   `json:"uuid"`
	Properties []string `json:"properties"`
}

// Central is the BLE plugin boundary.
//
// Every call may block on the radio; implementations are not required to be
// safe for concurrent use, wrap them with Serialize for that. Callbacks passed
// to Connect and StartNotifications are invoked from the implementation's own
// goroutines.
type Central interface {
	// Initialize prepares the platform adapter. It must be called first.
	Initialize(ctx context.Context) error

	// RequestDevice blocks until a matching peripheral is seen or ctx is done.
	RequestDevice(ctx context.Context, opts *RequestDeviceOptions) (Descriptor, error)

	// Connect opens a GATT connection and discovers its profile. onDisconnect
	// is called once when the link drops without a Disconnect call.
	Connect(ctx context.Context, deviceID string, onDisconnect func(deviceID string)) error

	GetServices(ctx context.Context, deviceID string) ([]Service, error)
	Read(ctx context.Context, deviceID, service, characteristic string) ([]byte, error)

	// StartNotifications subscribes to value changes. cb receives each value.
	StartNotifications(ctx context.Context, deviceID, service, characteristic string, cb func(value []byte)) error
	StopNotifications(ctx context.Context, deviceID, service, characteristic string) error

	Disconnect(ctx context.Context, deviceID string) error
}

// MatchesRequest reports whether an advertisement with the given local name and
// service UUIDs satisfies opts. UUIDs may be in any accepted notation.
func MatchesRequest(opts *RequestDeviceOptions, name string, advertised []string) bool {
	if opts == nil {
		return true
	}
	if opts.NamePrefix != "" && !hasPrefixFold(name, opts.NamePrefix) {
		return false
	}

	wanted := make(map[string]struct{}, len(opts.Services)+len(opts.OptionalServices))
	for _, u := range opts.Services {
		wanted[NormalizeUUID(u)] = struct{}{}
	}
	for _, u := range opts.OptionalServices {
		wanted[NormalizeUUID(u)] = struct{}{}
	}
	if len(wanted) == 0 {
		return true
	}

	for _, u := range advertised {
		if _, ok := wanted[NormalizeUUID(u)]; ok {
			return true
		}
	}
	return false
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
