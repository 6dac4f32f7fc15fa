package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/mock"

	"github.com/srg/puttlab/internal/api"
	"github.com/srg/puttlab/internal/device"
	"github.com/srg/puttlab/internal/storage"
	"github.com/srg/puttlab/internal/testutils"
	"github.com/srg/puttlab/pkg/config"
)

const TestDeviceAddress = "AA:BB:CC:DD:EE:FF"

// CommandTestSuite runs cobra commands against a MockCentral and an
// in-process backend on a temp SQLite database.
type CommandTestSuite struct {
	testutils.MockCentralSuite

	store      *storage.Store
	srv        *httptest.Server
	dir        string
	configPath string
	credsPath  string

	origCentral func(*config.Config, *logrus.Logger) device.Central
}

func (s *CommandTestSuite) SetupTest() {
	s.MockCentralSuite.SetupTest()

	store, err := storage.Open(context.Background(), s.Helper.TempDBPath(), s.Logger)
	s.Require().NoError(err)
	s.store = store
	s.srv = httptest.NewServer(api.NewServer(store, config.DefaultConfig().Server, s.Logger))

	s.dir = s.T().TempDir()
	s.credsPath = filepath.Join(s.dir, "credentials.yaml")
	s.configPath = filepath.Join(s.dir, "config.yaml")
	cfg := fmt.Sprintf(`scan_timeout: 200ms
device_timeout: 1s
reconnect:
  initial_delay: 20ms
  max_delay: 80ms
  multiplier: 2
  max_attempts: 2
api:
  base_url: %s
  credentials_path: %s
`, s.srv.URL, s.credsPath)
	s.Require().NoError(os.WriteFile(s.configPath, []byte(cfg), 0o600))

	s.origCentral = newCentral
	central := s.Central
	newCentral = func(*config.Config, *logrus.Logger) device.Central { return central }

	s.resetFlags()
}

func (s *CommandTestSuite) TearDownTest() {
	newCentral = s.origCentral
	s.srv.Close()
	s.NoError(s.store.Close())
	s.MockCentralSuite.TearDownTest()
}

// resetFlags clears flag variables left over from a previous Execute.
func (s *CommandTestSuite) resetFlags() {
	scanJSON = false
	recordDuration, recordFormat, recordOut = 0, "", ""
	recordUpload, recordPuttsMade, recordSpeed = false, 0, 0
	accountEmail, accountFirstName, accountLastName, accountPassword = "", "", "", ""
	deviceQR = false
	resetChanged(rootCmd)
}

func resetChanged(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	for _, c := range cmd.Commands() {
		resetChanged(c)
	}
}

// expectBLE makes every platform call on TestDeviceAddress succeed.
func (s *CommandTestSuite) expectBLE() {
	s.Central.On("Initialize", mock.Anything).Return(nil).Maybe()
	s.Central.On("Connect", mock.Anything, TestDeviceAddress, mock.Anything).Return(nil).Maybe()
	s.Central.On("StartNotifications", mock.Anything, TestDeviceAddress, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	s.Central.On("StopNotifications", mock.Anything, TestDeviceAddress, mock.Anything, mock.Anything).Return(nil).Maybe()
	s.Central.On("Disconnect", mock.Anything, TestDeviceAddress).Return(nil).Maybe()
}

// ExecuteCommand runs the root command with args and the given stdin.
// It returns stdout and stderr separately.
func (s *CommandTestSuite) ExecuteCommand(stdin string, args ...string) (string, string, error) {
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append(args, "--config", s.configPath))
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}
