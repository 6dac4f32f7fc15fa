package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/puttlab/internal/session"
	"github.com/srg/puttlab/internal/state"
)

var recordCmd = &cobra.Command{
	Use:   "record [device-id]",
	Short: "Record a putting session",
	Long: `Connect to the sensor, subscribe to its stroke data and record every
notification into a session until Ctrl+C, --duration, or a lost link that
could not be re-established.

Unexpected disconnects are retried with exponential backoff (see the
reconnect section of the config). Without a device id the sensor is found by
scanning first.

Examples:
  # Record for two minutes and save the session as protobuf
  puttlab record --duration 2m --out session.pb

  # Record, note the putts made, and upload the strokes
  puttlab record AA:BB:CC:DD:EE:FF --putts-made 7 --upload`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecord,
}

var (
	recordDuration  time.Duration
	recordFormat    string
	recordOut       string
	recordUpload    bool
	recordPuttsMade int
	recordSpeed     float64
)

func init() {
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "Stop after this long (0 records until Ctrl+C)")
	recordCmd.Flags().StringVarP(&recordFormat, "format", "f", "", "Live output format: table, json, or csv (default from config)")
	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "", "Write the session to a file (.pb for protobuf, .json for JSON)")
	recordCmd.Flags().BoolVar(&recordUpload, "upload", false, "Upload the recorded strokes to the backend")
	recordCmd.Flags().IntVar(&recordPuttsMade, "putts-made", 0, "Number of putts made during the session")
	recordCmd.Flags().Float64Var(&recordSpeed, "speed", 0, "Green speed (stimp) for the session")
}

// exportFormat picks the session encoding from the file extension.
func exportFormat(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pb", ".bin":
		return session.FormatProto, nil
	case ".json":
		return session.FormatJSON, nil
	default:
		return "", fmt.Errorf("cannot infer session format from %q (use .pb or .json)", path)
	}
}

func runRecord(cmd *cobra.Command, args []string) error {
	if recordPuttsMade < 0 {
		return fmt.Errorf("--putts-made must not be negative")
	}
	var outFormat string
	if recordOut != "" {
		f, err := exportFormat(recordOut)
		if err != nil {
			return err
		}
		outFormat = f
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if recordUpload && !a.users.IsAuthenticated() {
		return ErrNotSignedIn
	}

	format := recordFormat
	if format == "" {
		format = a.cfg.OutputFormat
	}
	printer, err := newNotificationPrinter(cmd.OutOrStdout(), format)
	if err != nil {
		return err
	}

	// Flags are validated; runtime errors should not print usage
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	if recordDuration > 0 {
		var cancelTimer context.CancelFunc
		ctx, cancelTimer = context.WithTimeout(ctx, recordDuration)
		defer cancelTimer()
	}

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

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Recording from "+id, "Connecting")
	progress.Start()
	err = a.recorder.Start(ctx, id)
	progress.Stop()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Recording. Press Ctrl+C to stop...")

	streamErr := consumeEvents(ctx, cmd, a, printer)

	// The caller's ctx may already be cancelled; give the disconnect its own budget
	stopCtx, stopCancel := context.WithTimeout(context.Background(), a.cfg.DeviceTimeout)
	defer stopCancel()

	for i := 0; i < recordPuttsMade; i++ {
		a.sessions.IncrementPuttsMade()
	}
	if cmd.Flags().Changed("speed") {
		a.sessions.UpdateSpeed(recordSpeed)
	}

	snap, stopErr := a.recorder.Stop(stopCtx)
	if stopErr != nil {
		a.logger.WithError(stopErr).Warn("Disconnect after recording failed")
	}
	a.sessions.Clear()

	fmt.Fprintf(cmd.ErrOrStderr(), "Recorded %d notifications\n", len(snap.Entries))

	if err := saveSession(cmd, a, snap, outFormat); err != nil {
		return err
	}
	return streamErr
}

// consumeEvents prints notifications until ctx ends or a terminal event
// arrives. Non-terminal errors are reported and recording continues.
func consumeEvents(ctx context.Context, cmd *cobra.Command, a *app, printer *notificationPrinter) error {
	events := a.ctrl.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Notification != nil {
				if err := printer.Print(ev.Notification); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
			}
			if ev.Err != nil {
				if ev.Terminal {
					return ev.Err
				}
				printWarning(cmd.ErrOrStderr(), ev.Err)
			}
		}
	}
}

// saveSession writes and uploads the snapshot as requested by flags. A
// recording with no entries is neither written nor uploaded.
func saveSession(cmd *cobra.Command, a *app, snap state.SessionSnapshot, outFormat string) error {
	if len(snap.Entries) == 0 {
		return nil
	}

	if recordOut != "" {
		raw, err := session.Encode(snap, outFormat)
		if err != nil {
			return err
		}
		if err := os.WriteFile(recordOut, raw, 0o644); err != nil {
			return fmt.Errorf("write session: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Session written to %s\n", recordOut)
	}

	if recordUpload {
		data, err := session.EntriesJSON(snap)
		if err != nil {
			return err
		}
		// ctx of the recording may be cancelled by Ctrl+C
		st, err := a.client.SaveStroke(context.Background(), data)
		if err != nil {
			return fmt.Errorf("upload strokes: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Uploaded as stroke %s\n", st.ID)
	}
	return nil
}
