package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/puttlab/internal/apiclient"
	"github.com/srg/puttlab/internal/controller"
	"github.com/srg/puttlab/internal/device"
	"github.com/srg/puttlab/internal/session"
)

// ErrNotSignedIn is returned by commands that need a backend session.
var ErrNotSignedIn = errors.New("not signed in")

// FormatUserError turns an error chain into a one-line message for the terminal.
func FormatUserError(err error) string {
	var apiErr *apiclient.APIError
	var notFound *device.NotFoundError

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, device.ErrDeviceNotFound):
		return "No sensor found. Make sure it is powered on and in range."
	case errors.Is(err, controller.ErrReconnectExhausted):
		return "Lost the connection to the sensor and could not reconnect."
	case errors.Is(err, device.ErrNotificationSubscribeFailed):
		return fmt.Sprintf("Could not subscribe to sensor data: %v", err)
	case errors.Is(err, device.ErrConnectionFailed):
		return fmt.Sprintf("Could not connect to the sensor: %v", err)
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "Timed out."
	case errors.Is(err, ErrNotSignedIn):
		return "Not signed in. Run 'puttlab login' first."
	case errors.Is(err, session.ErrAlreadyRecording):
		return "A recording is already running."
	case errors.As(err, &apiErr):
		if apiErr.Status == 401 {
			return "Authentication failed: " + apiErr.Message
		}
		return apiErr.Error()
	default:
		return err.Error()
	}
}
