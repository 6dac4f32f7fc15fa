package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/puttlab/internal/apiclient"
	"github.com/srg/puttlab/internal/controller"
	"github.com/srg/puttlab/internal/device"
	goble "github.com/srg/puttlab/internal/device/go-ble"
	"github.com/srg/puttlab/internal/queue"
	"github.com/srg/puttlab/internal/relay"
	"github.com/srg/puttlab/internal/session"
	"github.com/srg/puttlab/internal/state"
	"github.com/srg/puttlab/pkg/config"
)

// newCentral creates the platform central. Tests swap it for a mock.
var newCentral = func(cfg *config.Config, logger *logrus.Logger) device.Central {
	return goble.NewCentral(&goble.Options{DialTimeout: cfg.DeviceTimeout}, logger)
}

// app holds the collaborators of one command invocation.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger

	central  device.Central
	queue    *queue.Queue
	relay    *relay.Relay
	devices  *state.DeviceStore
	sessions *state.SessionStore
	ctrl     *controller.Controller
	recorder *session.Recorder

	users     *state.UserStore
	client    *apiclient.Client
	credsPath string
}

// newApp loads the config and credentials and wires the stack. BLE
// collaborators are created lazily by bluetooth.
func newApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	credsPath := cfg.API.CredentialsPath
	if credsPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("locate config dir: %w", err)
		}
		credsPath = filepath.Join(dir, "puttlab", "credentials.yaml")
	}

	users := state.NewUserStore()
	if err := users.Load(credsPath); err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		users:     users,
		credsPath: credsPath,
	}
	a.client = apiclient.New(cfg.API, users, logger)
	a.client.OnUnauthorized = func() {
		logger.Warn("Session expired, signed out")
		if err := a.saveCredentials(); err != nil {
			logger.WithError(err).Warn("Failed to persist sign-out")
		}
	}
	return a, nil
}

// bluetooth initializes the BLE stack: platform central behind the FIFO
// queue, relay, stores, controller and recorder.
func (a *app) bluetooth(ctx context.Context) error {
	if a.ctrl != nil {
		return nil
	}

	a.central = newCentral(a.cfg, a.logger)
	a.queue = queue.New(true, a.logger)
	a.relay = relay.New(a.logger)
	a.devices = state.NewDeviceStore()
	a.sessions = state.NewSessionStore(nil)
	a.ctrl = controller.New(device.Serialize(a.central, a.queue), a.relay, a.devices, a.cfg, a.logger)
	a.recorder = session.NewRecorder(a.ctrl, a.relay, a.sessions, a.logger)

	return a.ctrl.Initialize(ctx)
}

// resolveDevice returns id, or scans for the sensor when id is empty.
func (a *app) resolveDevice(ctx context.Context, cmd *cobra.Command, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Scanning for the sensor...")
	desc, err := a.ctrl.ScanForDevices(ctx)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Found %s\n", describe(desc))
	return desc.DeviceID, nil
}

func (a *app) saveCredentials() error {
	return a.users.Save(a.credsPath)
}

// Close releases the BLE stack.
func (a *app) Close() {
	if a.ctrl != nil {
		a.ctrl.Close()
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if c, ok := a.central.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			a.logger.WithError(err).Debug("Central close failed")
		}
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func describe(d device.Descriptor) string {
	if d.Name == "" {
		return d.DeviceID
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.DeviceID)
}
