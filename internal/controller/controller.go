// Package controller owns the lifecycle of one BLE peripheral connection:
// scan, connect, subscribe, relay, disconnect and reconnect.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/srg/puttlab/internal/device"
	"github.com/srg/puttlab/internal/groutine"
	"github.com/srg/puttlab/internal/relay"
	"github.com/srg/puttlab/internal/ringchan"
	"github.com/srg/puttlab/internal/state"
	"github.com/srg/puttlab/pkg/config"
)

// DefaultEventBuffer is the capacity of the event stream. When the consumer
// falls behind, the oldest events are dropped.
const DefaultEventBuffer = 256

// Controller drives a single peripheral session.
//
// A session starts with ConnectToDevice and ends with DisconnectDevice, with
// exhaustion of the reconnect policy, or when the context passed to
// ConnectToDevice is cancelled. Unexpected disconnects inside a session are
// retried with exponential backoff; nothing is retried once the session ended.
type Controller struct {
	central device.Central
	relay   *relay.Relay
	devices *state.DeviceStore
	cfg     *config.Config
	logger  *logrus.Logger
	clock   state.Clock

	events  *ringchan.RingChannel[Event]
	state   atomic.Int32
	workers groutine.Group

	mu            sync.Mutex
	sessionCtx    context.Context
	sessionCancel context.CancelCauseFunc
	sessionDevice string
	linking       bool // a connect or reconnect is in flight
	closed        bool
}

// New creates a controller. central should already be serialized when the
// platform requires it (see device.Serialize).
func New(central device.Central, r *relay.Relay, devices *state.DeviceStore, cfg *config.Config, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if r == nil {
		r = relay.New(logger)
	}
	if devices == nil {
		devices = state.NewDeviceStore()
	}

	return &Controller{
		central: central,
		relay:   r,
		devices: devices,
		cfg:     cfg,
		logger:  logger,
		clock:   state.SystemClock{},
		events:  ringchan.New[Event](DefaultEventBuffer),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.WithFields(logrus.Fields{
			"from": prev.String(),
			"to":   s.String(),
		}).Debug("Controller state changed")
	}
}

// Events returns the caller-visible stream of notifications and errors.
// The channel is closed by Close.
func (c *Controller) Events() <-chan Event {
	return c.events.C()
}

// EventMetrics reports how many events were written and dropped.
func (c *Controller) EventMetrics() ringchan.Metrics {
	return c.events.GetMetrics()
}

func (c *Controller) publish(ev Event) {
	if dropped, ok := c.events.ForceSend(ev); !ok {
		c.logger.Debug("Event stream closed, dropping event")
	} else if dropped {
		c.logger.Debug("Event stream full, oldest event dropped")
	}
}

// Targets returns the characteristics subscribed after each connect.
func (c *Controller) Targets() []Target {
	p := c.cfg.Profile
	return []Target{
		{Service: p.StrokeService, Characteristic: p.StrokeDataChar},
		{Service: p.StrokeService, Characteristic: p.PuttEventChar},
	}
}

// Initialize prepares the platform adapter.
func (c *Controller) Initialize(ctx context.Context) error {
	if err := c.central.Initialize(ctx); err != nil {
		err = device.NormalizeError(err)
		c.logger.WithError(err).Error("Failed to initialize BLE adapter")
		return fmt.Errorf("initialize BLE adapter: %w", err)
	}
	return nil
}

type scanResult struct {
	desc device.Descriptor
	err  error
}

// ScanForDevices asks the platform for a peripheral that offers the profile's
// services. It races the request against Config.ScanTimeout (zero waits
// forever). Timeout, cancellation and platform errors all fail with
// device.ErrDeviceNotFound and leave the device store untouched.
func (c *Controller) ScanForDevices(ctx context.Context) (device.Descriptor, error) {
	c.setState(Scanning)

	scanCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.cfg.ScanTimeout > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, c.cfg.ScanTimeout)
	}
	defer cancel()

	p := c.cfg.Profile
	opts := &device.RequestDeviceOptions{
		OptionalServices: []string{p.BatteryService, p.StrokeService},
		NamePrefix:       p.NamePrefix,
	}

	c.logger.WithFields(logrus.Fields{
		"timeout":  c.cfg.ScanTimeout,
		"services": opts.OptionalServices,
	}).Info("Requesting device...")

	results := make(chan scanResult, 1)
	groutine.Go(scanCtx, "scan-request", func(ctx context.Context) {
		desc, err := c.central.RequestDevice(ctx, opts)
		results <- scanResult{desc: desc, err: err}
	})

	var res scanResult
	select {
	case res = <-results:
	case <-scanCtx.Done():
		res.err = context.Cause(scanCtx)
	}

	if res.err == nil && res.desc.DeviceID == "" {
		res.err = errors.New("platform returned an empty device id")
	}
	if res.err != nil {
		c.setState(Idle)
		err := device.Wrap(device.ErrDeviceNotFound, device.NormalizeError(res.err))
		c.logger.WithError(err).Warn("No device selected")
		return device.Descriptor{}, err
	}

	c.devices.Set(res.desc)
	c.setState(Idle)
	c.logger.WithFields(logrus.Fields{
		"device_id": res.desc.DeviceID,
		"name":      res.desc.Name,
	}).Info("Device found")
	return res.desc, nil
}

// ConnectToDevice starts a session: it connects, subscribes to every target
// and returns once notifications flow. The session lives until ctx is
// cancelled or DisconnectDevice is called. On failure the session is torn
// down and the error wraps device.ErrConnectionFailed or
// device.ErrNotificationSubscribeFailed.
func (c *Controller) ConnectToDevice(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errControllerClosed
	}
	if c.sessionCancel != nil {
		c.sessionCancel(errSessionReplaced)
	}
	sctx, cancel := context.WithCancelCause(ctx)
	c.sessionCtx, c.sessionCancel, c.sessionDevice = sctx, cancel, deviceID
	c.linking = true
	c.mu.Unlock()

	if err := c.connect(sctx, deviceID); err != nil {
		c.endSession(deviceID, err)
		c.setState(Idle)
		return err
	}
	return nil
}

// connect dials the device and subscribes to all targets. A subscribe failure
// drops the link again so the next attempt starts clean.
func (c *Controller) connect(ctx context.Context, deviceID string) error {
	c.setState(Connecting)
	log := c.logger.WithField("device_id", deviceID)
	log.Info("Connecting to device...")

	if err := c.central.Connect(ctx, deviceID, c.handleDisconnect); err != nil {
		err = device.Wrap(device.ErrConnectionFailed, device.NormalizeError(err))
		log.WithError(err).Error("Failed to connect")
		c.publish(Event{Err: err})
		return err
	}

	c.setState(Subscribing)
	for _, t := range c.Targets() {
		if err := c.StartNotifications(ctx, deviceID, t.Service, t.Characteristic); err != nil {
			if derr := c.central.Disconnect(context.WithoutCancel(ctx), deviceID); derr != nil {
				log.WithError(derr).Warn("Failed to drop link after subscribe failure")
			}
			return err
		}
	}

	c.mu.Lock()
	c.linking = false
	c.mu.Unlock()
	c.setState(Active)
	log.Info("Device connected, notifications active")
	return nil
}

// StartNotifications subscribes to one characteristic. Every value is emitted
// on the relay under NotificationTopic as a private []byte copy, and sent to
// the event stream as a Notification.
func (c *Controller) StartNotifications(ctx context.Context, deviceID, service, characteristic string) error {
	svc, char := device.NormalizeUUID(service), device.NormalizeUUID(characteristic)

	err := c.central.StartNotifications(ctx, deviceID, svc, char, func(value []byte) {
		c.deliver(deviceID, svc, char, value)
	})
	if err != nil {
		err = device.Wrap(device.ErrNotificationSubscribeFailed,
			fmt.Errorf("%s/%s: %w", device.ShortenUUID(svc), device.ShortenUUID(char), device.NormalizeError(err)))
		c.logger.WithFields(logrus.Fields{
			"device_id":      deviceID,
			"service":        svc,
			"characteristic": char,
		}).WithError(err).Error("Failed to subscribe to notifications")
		c.publish(Event{Err: err})
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"device_id":      deviceID,
		"service":        svc,
		"characteristic": char,
	}).Debug("Subscribed to notifications")
	return nil
}

func (c *Controller) deliver(deviceID, service, characteristic string, value []byte) {
	data := make([]byte, len(value))
	copy(data, value)

	n := Notification{
		DeviceID:       deviceID,
		Service:        service,
		Characteristic: characteristic,
		Data:           data,
		At:             c.clock.Now(),
	}
	c.relay.Emit(NotificationTopic, data)
	c.publish(Event{Notification: &n})
}

// handleDisconnect is the platform disconnect callback. Inside a live session
// it schedules reconnection; otherwise it is a no-op. Drops reported while a
// connect is in flight are left to that connect's own error path.
func (c *Controller) handleDisconnect(deviceID string) {
	log := c.logger.WithField("device_id", deviceID)

	c.mu.Lock()
	defer c.mu.Unlock()

	sctx := c.sessionCtx
	if c.closed || sctx == nil || sctx.Err() != nil || c.sessionDevice != deviceID {
		log.Debug("Disconnect outside a live session, ignoring")
		return
	}
	if c.linking {
		log.Debug("Connect in flight, ignoring disconnect")
		return
	}
	c.linking = true

	c.setState(Disconnected)
	log.Warn("Device disconnected unexpectedly")
	c.publish(Event{Err: device.Wrap(device.ErrDisconnected, fmt.Errorf("device %s", deviceID))})

	c.workers.Go(sctx, "reconnect-"+deviceID, func(ctx context.Context) {
		c.reconnect(ctx, deviceID)
	})
}

func (c *Controller) newBackOff(ctx context.Context) backoff.BackOff {
	p := c.cfg.Reconnect

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts)), ctx)
}

// reconnect waits out the backoff before every attempt and stops as soon as
// ctx ends or an attempt succeeds.
func (c *Controller) reconnect(ctx context.Context, deviceID string) {
	log := c.logger.WithFields(logrus.Fields{
		"device_id": deviceID,
		"worker":    groutine.GetName(ctx),
	})
	b := c.newBackOff(ctx)

	for attempt := 1; ; attempt++ {
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			break
		}

		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Info("Scheduling reconnect")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.WithField("cause", context.Cause(ctx)).Debug("Session ended, reconnect cancelled")
			return
		case <-timer.C:
		}

		c.setState(Reconnecting)
		err := c.connect(ctx, deviceID)
		if err == nil {
			log.WithField("attempt", attempt).Info("Reconnected")
			return
		}
		if ctx.Err() != nil {
			log.WithField("cause", context.Cause(ctx)).Debug("Session ended during reconnect")
			return
		}
		c.setState(Disconnected)
	}

	if ctx.Err() != nil {
		return
	}

	err := fmt.Errorf("%w: device %s after %d attempts", ErrReconnectExhausted, deviceID, c.cfg.Reconnect.MaxAttempts)
	log.WithError(err).Error("Giving up on device")
	c.endSession(deviceID, err)
	c.setState(Idle)
	c.publish(Event{Err: err, Terminal: true})
}

// endSession cancels the session of deviceID, if it is still the current one.
func (c *Controller) endSession(deviceID string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionDevice != deviceID || c.sessionCancel == nil {
		return
	}
	c.sessionCancel(cause)
	c.sessionCtx, c.sessionCancel, c.sessionDevice = nil, nil, ""
	c.linking = false
}

// DisconnectDevice ends the session: pending reconnects are cancelled, the
// link is torn down and the device store cleared.
func (c *Controller) DisconnectDevice(ctx context.Context, deviceID string) error {
	c.endSession(deviceID, errExplicitDisconnect)
	// wait for a reconnect attempt that is already dialing
	c.workers.Wait()

	err := c.central.Disconnect(ctx, deviceID)
	c.devices.Clear()
	c.setState(Idle)

	if err != nil {
		err = device.NormalizeError(err)
		if device.IsConnectionState(err, device.NotConnected) {
			c.logger.WithField("device_id", deviceID).Debug("Device was already disconnected")
			return nil
		}
		c.logger.WithField("device_id", deviceID).WithError(err).Error("Failed to disconnect")
		return fmt.Errorf("disconnect %s: %w", deviceID, err)
	}

	c.logger.WithField("device_id", deviceID).Info("Device disconnected")
	return nil
}

// ReadBatteryLevel reads the standard battery level characteristic (percent).
func (c *Controller) ReadBatteryLevel(ctx context.Context, deviceID string) (uint8, error) {
	p := c.cfg.Profile
	data, err := c.central.Read(ctx, deviceID, p.BatteryService, p.BatteryLevelChar)
	if err != nil {
		err = device.NormalizeError(err)
		c.logger.WithField("device_id", deviceID).WithError(err).Error("Failed to read battery level")
		return 0, fmt.Errorf("read battery level: %w", err)
	}
	if len(data) == 0 {
		return 0, errors.New("read battery level: empty value")
	}

	c.logger.WithFields(logrus.Fields{
		"device_id": deviceID,
		"level":     data[0],
	}).Debug("Battery level read")
	return data[0], nil
}

// Close ends any session without touching the link, waits for background
// work and closes the event stream. It is safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.sessionCancel != nil {
		c.sessionCancel(errControllerClosed)
	}
	c.sessionCtx, c.sessionCancel, c.sessionDevice = nil, nil, ""
	c.mu.Unlock()

	c.workers.Wait()
	c.events.Close()
}
