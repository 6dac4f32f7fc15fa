package controller_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/puttlab/internal/controller"
	"github.com/srg/puttlab/internal/device"
	"github.com/srg/puttlab/internal/testutils"
)

const deviceID = "AA:BB:CC:DD:EE:FF"

type ControllerSuite struct {
	testutils.MockCentralSuite

	ctrl *controller.Controller
}

func (s *ControllerSuite) SetupTest() {
	s.MockCentralSuite.SetupTest()
	s.ctrl = nil
}

func (s *ControllerSuite) TearDownTest() {
	if s.ctrl != nil {
		s.ctrl.Close()
	}
	s.MockCentralSuite.TearDownTest()
}

func (s *ControllerSuite) newController() *controller.Controller {
	s.ctrl = controller.New(s.Central, s.Relay, s.Devices, s.Config, s.Logger)
	return s.ctrl
}

// expectHappyConnect makes every Connect and StartNotifications succeed.
func (s *ControllerSuite) expectHappyConnect() {
	s.Central.On("Connect", mock.Anything, deviceID, mock.Anything).Return(nil)
	s.Central.On("StartNotifications", mock.Anything, deviceID, mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

// drainEvents collects events until pred matches or the suite timeout expires.
func (s *ControllerSuite) waitEvent(pred func(controller.Event) bool) controller.Event {
	timeout := time.After(s.TestTimeout)
	for {
		select {
		case ev, ok := <-s.ctrl.Events():
			s.Require().True(ok, "event stream MUST stay open")
			if pred(ev) {
				return ev
			}
		case <-timeout:
			s.FailNow("timed out waiting for event")
			return controller.Event{}
		}
	}
}

// GOAL: a successful scan binds the device
//
// TEST SCENARIO: platform returns a descriptor → ScanForDevices returns it → DeviceStore holds it
func (s *ControllerSuite) TestScanForDevices_Success() {
	want := device.Descriptor{DeviceID: deviceID, Name: "PuttSensor"}
	s.Central.On("RequestDevice", mock.Anything, mock.MatchedBy(func(o *device.RequestDeviceOptions) bool {
		return len(o.OptionalServices) == 2 &&
			o.OptionalServices[0] == device.BatteryServiceUUID &&
			o.OptionalServices[1] == device.StrokeServiceUUID
	})).Return(want, nil)

	got, err := s.newController().ScanForDevices(context.Background())

	s.Require().NoError(err)
	s.Equal(want, got)
	current, ok := s.Devices.Current()
	s.True(ok, "scan MUST bind the device")
	s.Equal(want, current)
	s.Equal(controller.Idle, s.ctrl.State())
}

// GOAL: scan timeout fails with DeviceNotFound and binds nothing
//
// TEST SCENARIO: platform never answers → ScanTimeout elapses → ErrDeviceNotFound, DeviceStore empty
func (s *ControllerSuite) TestScanForDevices_Timeout() {
	s.Config.ScanTimeout = 30 * time.Millisecond
	release := make(chan struct{})
	defer close(release)
	s.Central.On("RequestDevice", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(device.Descriptor{DeviceID: "late"}, nil)

	start := time.Now()
	_, err := s.newController().ScanForDevices(context.Background())

	s.Require().ErrorIs(err, device.ErrDeviceNotFound)
	s.ErrorIs(err, context.DeadlineExceeded)
	s.Less(time.Since(start), time.Second, "scan MUST give up at the timeout even if the platform hangs")
	_, ok := s.Devices.Current()
	s.False(ok, "timeout MUST NOT bind a device")
}

// GOAL: user cancel / platform error maps to DeviceNotFound
func (s *ControllerSuite) TestScanForDevices_PlatformError() {
	cause := errors.New("user cancelled the requestDevice() chooser")
	s.Central.On("RequestDevice", mock.Anything, mock.Anything).Return(device.Descriptor{}, cause)

	_, err := s.newController().ScanForDevices(context.Background())

	s.ErrorIs(err, device.ErrDeviceNotFound)
	s.ErrorIs(err, cause, "platform cause MUST stay in the chain")
	_, ok := s.Devices.Current()
	s.False(ok)
}

// GOAL: caller cancellation also ends the scan with DeviceNotFound
func (s *ControllerSuite) TestScanForDevices_CallerCancel() {
	s.Config.ScanTimeout = 0
	s.Central.On("RequestDevice", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(device.Descriptor{}, context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := s.newController().ScanForDevices(ctx)

	s.ErrorIs(err, device.ErrDeviceNotFound)
	s.ErrorIs(err, context.Canceled)
}

// GOAL: connect subscribes to every target and relays notifications
//
// TEST SCENARIO: connect → both characteristics subscribed → peripheral notifies → relay handler and event stream receive it
func (s *ControllerSuite) TestConnectToDevice_RelaysNotifications() {
	s.expectHappyConnect()
	ctrl := s.newController()

	var mu sync.Mutex
	var relayed [][]byte
	s.Relay.On(controller.NotificationTopic, func(p any) {
		data, ok := p.([]byte)
		s.True(ok, "relay payload MUST be the raw []byte, got %T", p)
		mu.Lock()
		relayed = append(relayed, data)
		mu.Unlock()
	})

	s.Require().NoError(ctrl.ConnectToDevice(context.Background(), deviceID))
	s.Equal(controller.Active, ctrl.State())
	s.True(s.Central.IsSubscribed(deviceID, device.StrokeServiceUUID, device.StrokeDataCharUUID))
	s.True(s.Central.IsSubscribed(deviceID, device.StrokeServiceUUID, device.PuttEventCharUUID))

	s.True(s.Central.Notify(deviceID, device.StrokeServiceUUID, device.StrokeDataCharUUID, []byte{1, 2}))
	s.True(s.Central.Notify(deviceID, device.StrokeServiceUUID, device.PuttEventCharUUID, []byte{9}))

	mu.Lock()
	s.Require().Len(relayed, 2, "relay delivery MUST be synchronous")
	s.Equal([]byte{1, 2}, relayed[0])
	s.Equal([]byte{9}, relayed[1])
	mu.Unlock()

	ev := s.waitEvent(func(e controller.Event) bool { return e.Notification != nil })
	s.Equal(deviceID, ev.Notification.DeviceID)
	s.Equal(device.StrokeDataCharUUID, ev.Notification.Characteristic)
	s.Equal([]byte{1, 2}, ev.Notification.Data)
}

// GOAL: the relayed payload is a private copy
func (s *ControllerSuite) TestConnectToDevice_CopiesPayload() {
	s.expectHappyConnect()
	ctrl := s.newController()

	var got []byte
	s.Relay.On(controller.NotificationTopic, func(p any) { got = p.([]byte) })
	s.Require().NoError(ctrl.ConnectToDevice(context.Background(), deviceID))

	buf := []byte{7, 7}
	s.Central.Notify(deviceID, device.StrokeServiceUUID, device.StrokeDataCharUUID, buf)
	buf[0] = 0

	s.Equal([]byte{7, 7}, got, "platform buffer reuse MUST NOT corrupt relayed data")
}

// GOAL: connect failures are surfaced, not swallowed
//
// TEST SCENARIO: platform connect fails → ErrConnectionFailed returned and published → nothing subscribed → Idle
func (s *ControllerSuite) TestConnectToDevice_ConnectFailure() {
	cause := errors.New("gatt error 133")
	s.Central.On("Connect", mock.Anything, deviceID, mock.Anything).Return(cause)
	ctrl := s.newController()

	err := ctrl.ConnectToDevice(context.Background(), deviceID)

	s.Require().ErrorIs(err, device.ErrConnectionFailed)
	s.ErrorIs(err, cause)
	s.Equal(0, s.Central.CallCount("StartNotifications"))
	s.Equal(controller.Idle, ctrl.State())

	ev := s.waitEvent(func(e controller.Event) bool { return e.Err != nil })
	s.ErrorIs(ev.Err, device.ErrConnectionFailed)
	s.False(ev.Terminal)
}

// GOAL: subscribe failures are surfaced and the link is dropped
//
// TEST SCENARIO: second subscription refused → ErrNotificationSubscribeFailed returned and published → Disconnect issued
func (s *ControllerSuite) TestConnectToDevice_SubscribeFailure() {
	s.Central.On("Connect", mock.Anything, deviceID, mock.Anything).Return(nil)
	s.Central.On("StartNotifications", mock.Anything, deviceID, device.StrokeServiceUUID, device.StrokeDataCharUUID, mock.Anything).Return(nil)
	s.Central.On("StartNotifications", mock.Anything, deviceID, device.StrokeServiceUUID, device.PuttEventCharUUID, mock.Anything).
		Return(errors.New("characteristic does not support notify"))
	s.Central.On("Disconnect", mock.Anything, deviceID).Return(nil)
	ctrl := s.newController()

	err := ctrl.ConnectToDevice(context.Background(), deviceID)

	s.Require().ErrorIs(err, device.ErrNotificationSubscribeFailed)
	s.Equal(1, s.Central.CallCount("Disconnect"), "half-subscribed link MUST be dropped")
	ev := s.waitEvent(func(e controller.Event) bool { return e.Err != nil })
	s.ErrorIs(ev.Err, device.ErrNotificationSubscribeFailed)

	// the drop we caused MUST NOT trigger a reconnect
	s.Central.TriggerDisconnect(deviceID)
	s.StaysFalse(func() bool { return s.Central.CallCount("Connect") > 1 }, 100*time.Millisecond)
}

// GOAL: an unexpected disconnect is followed by a reconnect after the configured delay
//
// TEST SCENARIO: active session → peripheral drops → Connect issued again no earlier than InitialDelay → Active again
func (s *ControllerSuite) TestReconnect_AfterDelay() {
	s.Config.Reconnect.InitialDelay = 60 * time.Millisecond
	s.Config.Reconnect.MaxDelay = 60 * time.Millisecond
	s.expectHappyConnect()
	ctrl := s.newController()
	s.Require().NoError(ctrl.ConnectToDevice(context.Background(), deviceID))

	dropped := time.Now()
	s.Require().True(s.Central.TriggerDisconnect(deviceID))
	s.Equal(controller.Disconnected, ctrl.State())

	ev := s.waitEvent(func(e controller.Event) bool { return e.Err != nil })
	s.ErrorIs(ev.Err, device.ErrDisconnected)

	s.WaitUntil(func() bool { return s.Central.CallCount("Connect") == 2 }, "reconnect MUST be attempted")
	s.GreaterOrEqual(time.Since(dropped), 60*time.Millisecond, "reconnect MUST wait the initial delay")
	s.WaitUntil(func() bool { return ctrl.State() == controller.Active })
	s.True(s.Central.IsSubscribed(deviceID, device.StrokeServiceUUID, device.StrokeDataCharUUID),
		"reconnect MUST resubscribe")
}

// GOAL: a discarded session leaks no reconnect attempts
//
// TEST SCENARIO: session ctx cancelled → peripheral drops → no Connect is ever issued again
func (s *ControllerSuite) TestReconnect_StopsWhenSessionCancelled() {
	s.expectHappyConnect()
	ctrl := s.newController()
	ctx, cancel := context.WithCancel(context.Background())
	s.Require().NoError(ctrl.ConnectToDevice(ctx, deviceID))

	cancel()
	s.Central.TriggerDisconnect(deviceID)

	s.StaysFalse(func() bool { return s.Central.CallCount("Connect") > 1 }, 150*time.Millisecond,
		"cancelled session MUST NOT reconnect")
}

// GOAL: cancelling the session while a reconnect is pending stops it
func (s *ControllerSuite) TestReconnect_CancelDuringDelay() {
	s.Config.Reconnect.InitialDelay = 100 * time.Millisecond
	s.Config.Reconnect.MaxDelay = 100 * time.Millisecond
	s.expectHappyConnect()
	ctrl := s.newController()
	ctx, cancel := context.WithCancel(context.Background())
	s.Require().NoError(ctrl.ConnectToDevice(ctx, deviceID))

	s.Central.TriggerDisconnect(deviceID)
	time.Sleep(20 * time.Millisecond)
	cancel()

	s.StaysFalse(func() bool { return s.Central.CallCount("Connect") > 1 }, 200*time.Millisecond)
}

// GOAL: explicit disconnect clears the device and never reconnects
func (s *ControllerSuite) TestDisconnectDevice() {
	s.expectHappyConnect()
	s.Central.On("Disconnect", mock.Anything, deviceID).Return(nil)
	s.Devices.Set(device.Descriptor{DeviceID: deviceID})
	ctrl := s.newController()
	s.Require().NoError(ctrl.ConnectToDevice(context.Background(), deviceID))

	s.Require().NoError(ctrl.DisconnectDevice(context.Background(), deviceID))
	s.Central.TriggerDisconnect(deviceID)

	_, ok := s.Devices.Current()
	s.False(ok, "explicit disconnect MUST clear the device")
	s.Equal(controller.Idle, ctrl.State())
	s.StaysFalse(func() bool { return s.Central.CallCount("Connect") > 1 }, 100*time.Millisecond)
}

// GOAL: disconnecting an already-dropped link is not an error
func (s *ControllerSuite) TestDisconnectDevice_NotConnected() {
	s.Central.On("Disconnect", mock.Anything, deviceID).Return(errors.New("device not connected"))

	err := s.newController().DisconnectDevice(context.Background(), deviceID)

	s.NoError(err)
}

// GOAL: reconnect is bounded
//
// TEST SCENARIO: every reconnect fails → MaxAttempts attempts → terminal ErrReconnectExhausted event → no more attempts
func (s *ControllerSuite) TestReconnect_Exhausted() {
	s.Config.Reconnect.MaxAttempts = 2
	s.Central.On("Connect", mock.Anything, deviceID, mock.Anything).Return(nil).Once()
	s.Central.On("Connect", mock.Anything, deviceID, mock.Anything).Return(errors.New("out of range"))
	s.Central.On("StartNotifications", mock.Anything, deviceID, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ctrl := s.newController()
	s.Require().NoError(ctrl.ConnectToDevice(context.Background(), deviceID))

	s.Central.TriggerDisconnect(deviceID)

	ev := s.waitEvent(func(e controller.Event) bool { return e.Terminal })
	s.ErrorIs(ev.Err, controller.ErrReconnectExhausted)
	s.Equal(3, s.Central.CallCount("Connect"), "initial connect plus MaxAttempts retries")
	s.Equal(controller.Idle, ctrl.State())
	s.StaysFalse(func() bool { return s.Central.CallCount("Connect") > 3 }, 150*time.Millisecond)
}

// GOAL: zero attempts disables reconnection
func (s *ControllerSuite) TestReconnect_Disabled() {
	s.Config.Reconnect.MaxAttempts = 0
	s.expectHappyConnect()
	ctrl := s.newController()
	s.Require().NoError(ctrl.ConnectToDevice(context.Background(), deviceID))

	s.Central.TriggerDisconnect(deviceID)

	ev := s.waitEvent(func(e controller.Event) bool { return e.Terminal })
	s.ErrorIs(ev.Err, controller.ErrReconnectExhausted)
	s.Equal(1, s.Central.CallCount("Connect"))
}

// GOAL: a later reconnect succeeds after failed attempts
func (s *ControllerSuite) TestReconnect_RecoversAfterFailures() {
	s.Config.Reconnect.MaxAttempts = 5
	s.Central.On("Connect", mock.Anything, deviceID, mock.Anything).Return(nil).Once()
	s.Central.On("Connect", mock.Anything, deviceID, mock.Anything).Return(errors.New("busy")).Twice()
	s.Central.On("Connect", mock.Anything, deviceID, mock.Anything).Return(nil)
	s.Central.On("StartNotifications", mock.Anything, deviceID, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ctrl := s.newController()
	s.Require().NoError(ctrl.ConnectToDevice(context.Background(), deviceID))

	s.Central.TriggerDisconnect(deviceID)

	s.WaitUntil(func() bool { return ctrl.State() == controller.Active && s.Central.CallCount("Connect") == 4 })
	s.StaysFalse(func() bool { return s.Central.CallCount("Connect") > 4 }, 100*time.Millisecond)
}

func (s *ControllerSuite) TestReadBatteryLevel() {
	s.Central.On("Read", mock.Anything, deviceID, device.BatteryServiceUUID, device.BatteryLevelCharUUID).Return([]byte{85}, nil)

	level, err := s.newController().ReadBatteryLevel(context.Background(), deviceID)

	s.Require().NoError(err)
	s.Equal(uint8(85), level)
}

func (s *ControllerSuite) TestReadBatteryLevel_Empty() {
	s.Central.On("Read", mock.Anything, deviceID, mock.Anything, mock.Anything).Return([]byte{}, nil)

	_, err := s.newController().ReadBatteryLevel(context.Background(), deviceID)

	s.Error(err)
}

func (s *ControllerSuite) TestClose_ClosesEvents() {
	ctrl := s.newController()

	ctrl.Close()
	ctrl.Close()

	_, ok := <-ctrl.Events()
	s.False(ok, "Close MUST close the event stream")
	s.Error(ctrl.ConnectToDevice(context.Background(), deviceID), "closed controller MUST refuse new sessions")
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}
