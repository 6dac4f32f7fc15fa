package main

import (
	"fmt"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage sensors registered with the backend",
}

var deviceRegisterCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register a sensor and store its upload token",
	Long: `Register a sensor with the backend. The returned token lets the sensor
upload strokes on its own; it is saved with your credentials and can be shown
as a QR code for provisioning.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeviceRegister,
}

var deviceQR bool

func init() {
	deviceCmd.AddCommand(deviceRegisterCmd)
	deviceRegisterCmd.Flags().BoolVar(&deviceQR, "qr", false, "Print the token as a QR code")
}

func runDeviceRegister(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if !a.users.IsAuthenticated() {
		return ErrNotSignedIn
	}

	cmd.SilenceUsage = true
	token, err := a.client.RegisterDevice(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := a.saveCredentials(); err != nil {
		return err
	}

	if deviceQR {
		qr, err := qrcode.New(token, qrcode.Medium)
		if err != nil {
			return fmt.Errorf("encode QR code: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), qr.ToSmallString(false))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
