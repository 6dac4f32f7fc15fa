package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource is not found on the peripheral
type NotFoundError struct {
	Resource string   // "device", "service", "characteristic"
	UUIDs    []string // one or more identifiers, outermost first
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-state problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Session errors. Each is wrapped with the underlying platform error via %w
// so callers can test the kind with errors.Is and still print the cause.
var (
	// ErrDeviceNotFound means device selection timed out or was cancelled.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrConnectionFailed means the GATT connection could not be established.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrNotificationSubscribeFailed means a characteristic subscription was refused.
	ErrNotificationSubscribeFailed = errors.New("notification subscribe failed")
	// ErrDisconnected means the peripheral dropped an established connection.
	ErrDisconnected = errors.New("device disconnected")
)

// Platform errors
var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Wrap attaches a taxonomy kind to a platform error, keeping both in the chain.
// A nil err yields nil.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// NormalizeError maps known platform error strings to the structured errors of
// this package. Errors it does not recognise are returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is Bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"):
		return Wrap(ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return Wrap(ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return Wrap(ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return Wrap(ErrNotInitialized, err)
	case containsIgnoreCase(msg, "disconnected"):
		return Wrap(ErrNotConnected, err)
	default:
		return err
	}
}
