package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/puttlab/internal/device"
	"github.com/srg/puttlab/internal/session"
	"github.com/srg/puttlab/internal/state"
	"github.com/srg/puttlab/internal/testutils"
)

type CommandsSuite struct {
	CommandTestSuite
}

// GOAL: scan prints the picked sensor
func (s *CommandsSuite) TestScan() {
	s.expectBLE()
	s.Central.On("RequestDevice", mock.Anything, mock.Anything).
		Return(device.Descriptor{DeviceID: TestDeviceAddress, Name: "PuttSensor"}, nil)

	out, _, err := s.ExecuteCommand("", "scan")

	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(out, "PuttSensor (AA:BB:CC:DD:EE:FF)")
}

func (s *CommandsSuite) TestScan_JSON() {
	s.expectBLE()
	s.Central.On("RequestDevice", mock.Anything, mock.Anything).
		Return(device.Descriptor{DeviceID: TestDeviceAddress, Name: "PuttSensor"}, nil)

	out, _, err := s.ExecuteCommand("", "scan", "--json")

	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(out, `{"deviceId":"AA:BB:CC:DD:EE:FF","name":"PuttSensor"}`)
}

// GOAL: a failed scan surfaces as device-not-found with a friendly message
func (s *CommandsSuite) TestScan_NotFound() {
	s.expectBLE()
	s.Central.On("RequestDevice", mock.Anything, mock.Anything).
		Return(device.Descriptor{}, errors.New("no advertisement matched"))

	_, _, err := s.ExecuteCommand("", "scan")

	s.Require().ErrorIs(err, device.ErrDeviceNotFound)
	s.Equal("No sensor found. Make sure it is powered on and in range.", FormatUserError(err))
}

// GOAL: battery connects, reads the level and disconnects
func (s *CommandsSuite) TestBattery() {
	s.expectBLE()
	s.Central.On("Read", mock.Anything, TestDeviceAddress, device.BatteryServiceUUID, device.BatteryLevelCharUUID).
		Return([]byte{87}, nil)

	out, _, err := s.ExecuteCommand("", "battery", TestDeviceAddress)

	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(out, "87%")
	s.Equal(1, s.Central.CallCount("Disconnect"), "battery MUST disconnect after reading")
}

// GOAL: record streams notifications and writes the session file
//
// TEST SCENARIO: record for a short duration → two stroke notifications → CSV rows printed → JSON session holds both entries and the putts-made flag
func (s *CommandsSuite) TestRecord() {
	s.expectBLE()
	outPath := filepath.Join(s.dir, "session.json")

	go func() {
		subscribed := s.Helper.WaitFor(s.TestTimeout, func() bool {
			return s.Central.IsSubscribed(TestDeviceAddress, device.StrokeServiceUUID, device.StrokeDataCharUUID)
		})
		if !subscribed {
			return
		}
		s.Central.Notify(TestDeviceAddress, device.StrokeServiceUUID, device.StrokeDataCharUUID, []byte{0x01, 0x02})
		s.Central.Notify(TestDeviceAddress, device.StrokeServiceUUID, device.StrokeDataCharUUID, []byte{0x03})
	}()

	out, errOut, err := s.ExecuteCommand("", "record", TestDeviceAddress,
		"--duration", "500ms", "--format", "csv", "--out", outPath, "--putts-made", "3", "--speed", "9.5")

	s.Require().NoError(err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	s.Require().Len(lines, 3, "record MUST print a header and one row per notification: %q", out)
	s.Equal("index,time,characteristic,data", lines[0])
	s.True(strings.HasPrefix(lines[1], "1,"))
	s.True(strings.HasSuffix(lines[1], ",0102"))
	s.True(strings.HasSuffix(lines[2], ",03"))
	s.Contains(errOut, "Recorded 2 notifications")

	raw, err := os.ReadFile(outPath)
	s.Require().NoError(err)
	st, err := session.Decode(raw, session.FormatJSON)
	s.Require().NoError(err)
	s.Len(st.Fields["entries"].GetListValue().GetValues(), 2)
	s.Equal(3.0, st.Fields["puttsMadeCount"].GetNumberValue())
	s.Equal(9.5, st.Fields["speed"].GetNumberValue())
}

// GOAL: a lost link that cannot be re-established ends the recording with an error
func (s *CommandsSuite) TestRecord_ReconnectExhausted() {
	s.Central.On("Initialize", mock.Anything).Return(nil)
	s.Central.On("Connect", mock.Anything, TestDeviceAddress, mock.Anything).Return(nil).Once()
	s.Central.On("Connect", mock.Anything, TestDeviceAddress, mock.Anything).Return(errors.New("le-connection-abort-by-local"))
	s.Central.On("StartNotifications", mock.Anything, TestDeviceAddress, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	s.Central.On("StopNotifications", mock.Anything, TestDeviceAddress, mock.Anything, mock.Anything).Return(nil).Maybe()
	s.Central.On("Disconnect", mock.Anything, TestDeviceAddress).Return(nil).Maybe()

	go func() {
		if s.Helper.WaitFor(s.TestTimeout, func() bool {
			return s.Central.IsSubscribed(TestDeviceAddress, device.StrokeServiceUUID, device.PuttEventCharUUID)
		}) {
			// let the connect finish before the link drops
			time.Sleep(100 * time.Millisecond)
			s.Central.TriggerDisconnect(TestDeviceAddress)
		}
	}()

	_, _, err := s.ExecuteCommand("", "record", TestDeviceAddress, "--duration", "5s")

	s.Require().Error(err)
	s.Equal("Lost the connection to the sensor and could not reconnect.", FormatUserError(err))
}

func (s *CommandsSuite) TestRecord_UploadRequiresLogin() {
	_, _, err := s.ExecuteCommand("", "record", TestDeviceAddress, "--upload")

	s.Require().ErrorIs(err, ErrNotSignedIn)
	s.Zero(s.Central.CallCount("Connect"), "record MUST NOT touch the sensor before checking sign-in")
}

// GOAL: account commands persist credentials and drive the backend
//
// TEST SCENARIO: register → credentials saved → login with password on stdin → device register --qr → led toggle
func (s *CommandsSuite) TestAccountFlow() {
	out, _, err := s.ExecuteCommand("", "register",
		"--first-name", "Ada", "--last-name", "Lovelace", "--email", "ada@example.com", "--password", "secret1")
	s.Require().NoError(err)
	s.Contains(out, "Registered and signed in as ada@example.com")

	users := state.NewUserStore()
	s.Require().NoError(users.Load(s.credsPath))
	s.True(users.IsAuthenticated(), "register MUST persist the access token")

	s.resetFlags()
	out, _, err = s.ExecuteCommand("secret1\n", "login", "--email", "ada@example.com")
	s.Require().NoError(err)
	s.Contains(out, "Signed in as ada@example.com")

	s.resetFlags()
	out, _, err = s.ExecuteCommand("", "device", "register", "putter-1", "--qr")
	s.Require().NoError(err)
	s.NotEmpty(strings.TrimSpace(out), "--qr MUST print a QR code")
	s.Require().NoError(users.Load(s.credsPath))
	s.NotEmpty(users.DeviceToken(), "device register MUST persist the device token")

	s.resetFlags()
	out, _, err = s.ExecuteCommand("", "led", "toggle")
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(out, "LED is on")

	out, _, err = s.ExecuteCommand("", "led", "off")
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(out, "LED is off")
}

func (s *CommandsSuite) TestLogin_WrongPassword() {
	_, _, err := s.ExecuteCommand("", "register",
		"--first-name", "Ada", "--last-name", "Lovelace", "--email", "ada@example.com", "--password", "secret1")
	s.Require().NoError(err)

	s.resetFlags()
	_, _, err = s.ExecuteCommand("", "login", "--email", "ada@example.com", "--password", "nope")

	s.Require().Error(err)
	s.Equal("Authentication failed: Invalid username or password", FormatUserError(err))
}

func (s *CommandsSuite) TestDeviceRegister_RequiresLogin() {
	_, _, err := s.ExecuteCommand("", "device", "register", "putter-1")
	s.Require().ErrorIs(err, ErrNotSignedIn)
}

func TestCommandsSuite(t *testing.T) {
	suite.Run(t, new(CommandsSuite))
}

func TestExportFormat(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"session.pb", session.FormatProto, false},
		{"session.BIN", session.FormatProto, false},
		{"out/session.json", session.FormatJSON, false},
		{"session.txt", "", true},
		{"session", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := exportFormat(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("exportFormat(%q) MUST fail", tt.path)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("exportFormat(%q) = %q, %v; want %q", tt.path, got, err, tt.want)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"bluetooth off", device.Wrap(device.ErrBluetoothOff, errors.New("hci down")), "Bluetooth is turned off. Turn it on and try again."},
		{"deadline", context.DeadlineExceeded, "Timed out."},
		{"not signed in", ErrNotSignedIn, "Not signed in. Run 'puttlab login' first."},
		{"plain", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatUserError(tt.err); got != tt.want {
				t.Errorf("FormatUserError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNotificationPrinter_InvalidFormat(t *testing.T) {
	if _, err := newNotificationPrinter(os.Stdout, "xml"); err == nil {
		t.Fatal("newNotificationPrinter MUST reject unknown formats")
	}
}

func TestProgressPrinter_NonTerminal(t *testing.T) {
	var sb strings.Builder
	p := NewProgressPrinter(&sb, "Recording", "Connecting")
	p.Start()
	time.Sleep(2 * progressUpdateInterval)
	p.Stop()
	p.Stop()
	if sb.Len() != 0 {
		t.Fatalf("progress MUST stay silent on a non-terminal writer, got %q", sb.String())
	}
}
