package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find the putting sensor",
	Long: `Scan for a sensor advertising the stroke or battery service and print
its identifier. The scan gives up after scan_timeout (config, default 3m).`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var scanJSON bool

func init() {
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print the device as JSON")
}

func runScan(cmd *cobra.Command, _ []string) error {
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

	desc, err := a.ctrl.ScanForDevices(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	if scanJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(desc)
	}
	fmt.Fprintln(cmd.OutOrStdout(), describe(desc))
	return nil
}
