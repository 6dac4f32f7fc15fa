package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/puttlab/internal/device"
	"github.com/srg/puttlab/internal/groutine"
)

// DeviceFactory creates the platform HCI device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return newPlatformDevice()
}

var errExplicitDisconnect = errors.New("disconnect requested")

// Options tunes the adapter.
type Options struct {
	DialTimeout     time.Duration `default:"30s"`
	AllowDuplicates bool          `default:"false"`
}

type peripheral struct {
	id      string
	client  ble.Client
	profile *ble.Profile

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu   sync.Mutex
	subs map[string]*ble.Characteristic
}

// Central implements device.Central on top of go-ble.
type Central struct {
	opts   Options
	logger *logrus.Logger

	mu          sync.Mutex
	dev         ble.Device
	peripherals *hashmap.Map[string, *peripheral]
}

var _ device.Central = (*Central)(nil)

// NewCentral creates an adapter. A nil opts takes the defaults.
func NewCentral(opts *Options, logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.DialTimeout == 0 {
		defaults.SetDefaults(&o)
	}
	return &Central{
		opts:        o,
		logger:      logger,
		peripherals: hashmap.New[string, *peripheral](),
	}
}

func (c *Central) Initialize(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev != nil {
		return nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		c.logger.WithField("error", err).Error("Failed to create BLE device")
		return device.NormalizeError(fmt.Errorf("create BLE device: %w", err))
	}
	c.dev = dev
	c.logger.Debug("BLE device initialized")
	return nil
}

func (c *Central) hci() (ble.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return nil, device.ErrNotInitialized
	}
	return c.dev, nil
}

func (c *Central) RequestDevice(ctx context.Context, opts *device.RequestDeviceOptions) (device.Descriptor, error) {
	dev, err := c.hci()
	if err != nil {
		return device.Descriptor{}, err
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan device.Descriptor, 1)
	handler := func(adv ble.Advertisement) {
		if !device.MatchesRequest(opts, adv.LocalName(), advertisedServices(adv)) {
			return
		}
		select {
		case found <- device.Descriptor{DeviceID: adv.Addr().String(), Name: adv.LocalName()}:
			cancel()
		default:
		}
	}

	c.logger.Debug("Scanning for matching peripheral...")
	scanErr := dev.Scan(scanCtx, c.opts.AllowDuplicates, handler)

	select {
	case d := <-found:
		c.logger.WithFields(logrus.Fields{
			"device_id": d.DeviceID,
			"name":      d.Name,
		}).Info("Peripheral found")
		return d, nil
	default:
	}

	if ctx.Err() != nil {
		return device.Descriptor{}, ctx.Err()
	}
	if scanErr != nil && !errors.Is(scanErr, context.Canceled) {
		return device.Descriptor{}, device.NormalizeError(fmt.Errorf("scan: %w", scanErr))
	}
	return device.Descriptor{}, device.ErrDeviceNotFound
}

func (c *Central) Connect(ctx context.Context, deviceID string, onDisconnect func(string)) error {
	if strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("device address is empty")
	}
	dev, err := c.hci()
	if err != nil {
		return err
	}
	if _, ok := c.peripherals.Get(deviceID); ok {
		return device.ErrAlreadyConnected
	}

	log := c.logger.WithField("device_id", deviceID)

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	log.Debug("Dialing BLE device...")
	client, err := dev.Dial(dialCtx, ble.NewAddr(deviceID))
	if err != nil {
		log.WithField("error", err).Error("Failed to dial BLE device")
		return device.NormalizeError(fmt.Errorf("dial %q: %w", deviceID, err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		log.WithField("error", err).Error("Failed to discover profile")
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			log.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection after discovery failure")
		}
		return device.NormalizeError(fmt.Errorf("discover profile: %w", err))
	}

	pctx, pcancel := context.WithCancelCause(context.Background())
	p := &peripheral{
		id:      deviceID,
		client:  client,
		profile: profile,
		ctx:     pctx,
		cancel:  pcancel,
		subs:    make(map[string]*ble.Characteristic),
	}
	c.peripherals.Set(deviceID, p)

	groutine.Go(context.Background(), "ble-disconnect-monitor", func(context.Context) {
		c.monitor(p, onDisconnect)
	})

	log.WithField("services", len(profile.Services)).Info("BLE device connected")
	return nil
}

// monitor waits for the link to go away and reports unsolicited drops.
func (c *Central) monitor(p *peripheral, onDisconnect func(string)) {
	var dropped <-chan struct{}
	if dc, ok := p.client.(interface{ Disconnected() <-chan struct{} }); ok {
		dropped = dc.Disconnected()
	}

	select {
	case <-dropped:
		p.cancel(device.ErrDisconnected)
	case <-p.ctx.Done():
	}

	c.peripherals.Del(p.id)
	if errors.Is(context.Cause(p.ctx), errExplicitDisconnect) {
		return
	}

	c.logger.WithField("device_id", p.id).Warn("Peripheral disconnected")
	if onDisconnect != nil {
		onDisconnect(p.id)
	}
}

func (c *Central) connected(deviceID string) (*peripheral, error) {
	if _, err := c.hci(); err != nil {
		return nil, err
	}
	p, ok := c.peripherals.Get(deviceID)
	if !ok || p.ctx.Err() != nil {
		return nil, device.ErrNotConnected
	}
	return p, nil
}

func (c *Central) GetServices(_ context.Context, deviceID string) ([]device.Service, error) {
	p, err := c.connected(deviceID)
	if err != nil {
		return nil, err
	}

	services := make([]device.Service, 0, len(p.profile.Services))
	for _, s := range p.profile.Services {
		svc := device.Service{
			UUID:            device.NormalizeUUID(s.UUID.String()),
			Characteristics: make([]device.Characteristic, 0, len(s.Characteristics)),
		}
		for _, ch := range s.Characteristics {
			svc.Characteristics = append(svc.Characteristics, device.Characteristic{
				UUID:       device.NormalizeUUID(ch.UUID.String()),
				Properties: PropertyNames(ch.Property),
			})
		}
		services = append(services, svc)
	}
	return services, nil
}

// lookup finds a characteristic in the discovered profile.
func (p *peripheral) lookup(service, characteristic string) (*ble.Characteristic, error) {
	svcUUID := device.NormalizeUUID(service)
	charUUID := device.NormalizeUUID(characteristic)

	for _, s := range p.profile.Services {
		if device.NormalizeUUID(s.UUID.String()) != svcUUID {
			continue
		}
		for _, ch := range s.Characteristics {
			if device.NormalizeUUID(ch.UUID.String()) == charUUID {
				return ch, nil
			}
		}
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{charUUID}}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{svcUUID}}
}

func (c *Central) Read(ctx context.Context, deviceID, service, characteristic string) ([]byte, error) {
	p, err := c.connected(deviceID)
	if err != nil {
		return nil, err
	}
	ch, err := p.lookup(service, characteristic)
	if err != nil {
		return nil, err
	}
	if ch.Property&ble.CharRead == 0 {
		return nil, device.Wrap(device.ErrUnsupported, fmt.Errorf("characteristic %s is not readable", device.NormalizeUUID(characteristic)))
	}

	return withContext(ctx, func() ([]byte, error) {
		data, err := p.client.ReadCharacteristic(ch)
		return data, device.NormalizeError(err)
	})
}

func (c *Central) StartNotifications(_ context.Context, deviceID, service, characteristic string, cb func([]byte)) error {
	p, err := c.connected(deviceID)
	if err != nil {
		return err
	}
	ch, err := p.lookup(service, characteristic)
	if err != nil {
		return err
	}
	indicate, ok := subscriptionMode(ch.Property)
	if !ok {
		return device.Wrap(device.ErrUnsupported, fmt.Errorf("characteristic %s supports neither notify nor indicate", device.NormalizeUUID(characteristic)))
	}

	if err := p.client.Subscribe(ch, indicate, func(data []byte) { cb(data) }); err != nil {
		return device.NormalizeError(err)
	}

	p.mu.Lock()
	p.subs[device.NormalizeUUID(service)+"/"+device.NormalizeUUID(characteristic)] = ch
	p.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"device_id": deviceID,
		"char_uuid": device.NormalizeUUID(characteristic),
		"indicate":  indicate,
	}).Debug("Subscribed")
	return nil
}

func (c *Central) StopNotifications(_ context.Context, deviceID, service, characteristic string) error {
	p, err := c.connected(deviceID)
	if err != nil {
		return err
	}

	key := device.NormalizeUUID(service) + "/" + device.NormalizeUUID(characteristic)
	p.mu.Lock()
	ch, ok := p.subs[key]
	delete(p.subs, key)
	p.mu.Unlock()
	if !ok {
		return nil
	}

	indicate, _ := subscriptionMode(ch.Property)
	return device.NormalizeError(p.client.Unsubscribe(ch, indicate))
}

func (c *Central) Disconnect(_ context.Context, deviceID string) error {
	p, err := c.connected(deviceID)
	if err != nil {
		return err
	}
	log := c.logger.WithField("device_id", deviceID)

	p.mu.Lock()
	subs := len(p.subs)
	p.subs = make(map[string]*ble.Characteristic)
	p.mu.Unlock()
	if subs > 0 {
		if err := p.client.ClearSubscriptions(); err != nil {
			log.WithField("error", err).Warn("Failed to clear subscriptions")
		}
	}

	p.cancel(errExplicitDisconnect)
	c.peripherals.Del(deviceID)

	if err := p.client.CancelConnection(); err != nil {
		return device.NormalizeError(fmt.Errorf("cancel connection: %w", err))
	}
	log.Info("BLE device disconnected")
	return nil
}

// Close disconnects every peripheral and stops the HCI device.
func (c *Central) Close() error {
	ids := make([]string, 0, c.peripherals.Len())
	c.peripherals.Range(func(id string, _ *peripheral) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		if err := c.Disconnect(context.Background(), id); err != nil {
			c.logger.WithField("device_id", id).WithError(err).Debug("Disconnect on close failed")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return nil
	}
	err := c.dev.Stop()
	c.dev = nil
	return err
}

// withContext runs a blocking go-ble call and gives up when ctx ends. The call
// itself keeps running; its result is discarded.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	groutine.Go(ctx, "ble-call", func(context.Context) {
		v, err := fn()
		done <- result{v, err}
	})

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, device.Wrap(device.ErrTimeout, ctx.Err())
		}
		return zero, ctx.Err()
	}
}
