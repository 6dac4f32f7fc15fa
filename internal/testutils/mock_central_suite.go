package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/puttlab/internal/relay"
	"github.com/srg/puttlab/internal/state"
	"github.com/srg/puttlab/pkg/config"
)

// MockCentralSuite provides a reusable test suite around a MockCentral.
//
// Every test gets a fresh mock, relay, stores and a Config with reconnect
// delays short enough for unit tests. Embed it and adjust Config in SetupTest
// before calling the parent:
//
//	type ControllerSuite struct {
//	    testutils.MockCentralSuite
//	}
//
//	func (s *ControllerSuite) SetupTest() {
//	    s.MockCentralSuite.SetupTest()
//	    s.Config.Reconnect.MaxAttempts = 2
//	}
//
//	func TestControllerSuite(t *testing.T) {
//	    suite.Run(t, new(ControllerSuite))
//	}
type MockCentralSuite struct {
	suite.Suite

	// Core test utilities
	Helper *TestHelper    // Test helper with logging and assertions
	Logger *logrus.Logger // Structured logger for test output

	Central  *MockCentral
	Relay    *relay.Relay
	Devices  *state.DeviceStore
	Sessions *state.SessionStore
	Config   *config.Config

	TestTimeout time.Duration // Default timeout for waiting on async behaviour
}

// SetupSuite initializes the helper and logger once per suite.
func (s *MockCentralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second
	s.Logger.Debug("Suite setup completed")
}

// SetupTest creates fresh collaborators before each test.
func (s *MockCentralSuite) SetupTest() {
	s.Central = NewMockCentral()
	s.Relay = relay.New(s.Logger)
	s.Devices = state.NewDeviceStore()
	s.Sessions = state.NewSessionStore(nil)

	s.Config = config.DefaultConfig()
	s.Config.ScanTimeout = 200 * time.Millisecond
	s.Config.DeviceTimeout = time.Second
	s.Config.Reconnect = config.ReconnectPolicy{
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     80 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  3,
	}

	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest releases per-test collaborators.
func (s *MockCentralSuite) TearDownTest() {
	s.Central = nil
}

// WaitUntil waits for cond using the suite timeout.
func (s *MockCentralSuite) WaitUntil(cond func() bool, msgAndArgs ...interface{}) {
	s.Require().Eventually(cond, s.TestTimeout, 5*time.Millisecond, msgAndArgs...)
}

// StaysFalse asserts cond stays false for the given window.
func (s *MockCentralSuite) StaysFalse(cond func() bool, window time.Duration, msgAndArgs ...interface{}) {
	s.Require().Never(cond, window, 5*time.Millisecond, msgAndArgs...)
}
