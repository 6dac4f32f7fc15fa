package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var batteryCmd = &cobra.Command{
	Use:   "battery [device-id]",
	Short: "Read the sensor's battery level",
	Long: `Connect to the sensor, read the standard battery level characteristic and
disconnect. Without a device id the sensor is found by scanning first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBattery,
}

func runBattery(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := a.bluetooth(ctx); err != nil {
		return err
	}

	var id string
	if len(args) > 0 {
		id = args[0]
	}
	if id, err = a.resolveDevice(ctx, cmd, id); err != nil {
		return err
	}

	if err := a.ctrl.ConnectToDevice(ctx, id); err != nil {
		return err
	}
	defer func() {
		if err := a.ctrl.DisconnectDevice(cmd.Context(), id); err != nil {
			a.logger.WithError(err).Warn("Disconnect failed")
		}
	}()

	level, err := a.ctrl.ReadBatteryLevel(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d%%\n", level)
	return nil
}
