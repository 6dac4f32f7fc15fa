package controller

import (
	"errors"
	"time"
)

// State is the lifecycle position of the controlled peripheral.
type State int32

const (
	Idle State = iota
	Scanning
	Connecting
	Subscribing
	Active
	Disconnected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	case Disconnected:
		return "disconnected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// NotificationTopic is the relay topic every notification is emitted on. The
// payload is the raw value as []byte.
const NotificationTopic = "notification"

// ErrReconnectExhausted ends a session whose reconnect attempts all failed.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

var (
	errSessionReplaced    = errors.New("session replaced by a new connection")
	errExplicitDisconnect = errors.New("disconnected by request")
	errControllerClosed   = errors.New("controller closed")
)

// Notification is one value pushed by the peripheral.
type Notification struct {
	DeviceID       string    `json:"deviceId"`
	Service        string    `json:"service"`
	Characteristic string    `json:"characteristic"`
	Data           []byte    `json:"data"`
	At             time.Time `json:"at"`
}

// Event is an item of the caller-visible stream: either a notification or an
// error. Terminal marks the last event of a session.
type Event struct {
	Notification *Notification
	Err          error
	Terminal     bool
}

// Target is a characteristic the controller subscribes to after connecting.
type Target struct {
	Service        string
	Characteristic string
}
