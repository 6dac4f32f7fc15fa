package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ledCmd = &cobra.Command{
	Use:       "led [on|off|toggle]",
	Short:     "Show or switch the sensor LED",
	Long:      `Without an argument the current LED state is printed.`,
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off", "toggle"},
	RunE:      runLED,
}

func runLED(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	var on bool
	if len(args) == 0 {
		on, err = a.client.LED(cmd.Context())
	} else {
		var want *bool
		switch args[0] {
		case "on":
			v := true
			want = &v
		case "off":
			v := false
			want = &v
		}
		on, err = a.client.SetLED(cmd.Context(), want)
	}
	if err != nil {
		return err
	}

	state := "off"
	if on {
		state = "on"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "LED is %s\n", state)
	return nil
}
