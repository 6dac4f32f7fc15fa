package main

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"

	"github.com/srg/puttlab/internal/controller"
	"github.com/srg/puttlab/internal/device"
)

// notificationPrinter writes live notifications as table rows, JSON lines
// or CSV records.
type notificationPrinter struct {
	w       io.Writer
	format  string
	csv     *csv.Writer
	header  bool
	index   int
	colored bool
}

func newNotificationPrinter(w io.Writer, format string) (*notificationPrinter, error) {
	p := &notificationPrinter{w: w, format: format, colored: isTerminal(w)}
	switch format {
	case "table", "json":
	case "csv":
		p.csv = csv.NewWriter(w)
	default:
		return nil, fmt.Errorf("invalid output format %q (must be table, json, or csv)", format)
	}
	return p, nil
}

func (p *notificationPrinter) Print(n *controller.Notification) error {
	p.index++
	char := device.ShortenUUID(n.Characteristic)
	at := n.At.Format(time.RFC3339Nano)
	data := hex.EncodeToString(n.Data)

	switch p.format {
	case "json":
		return json.NewEncoder(p.w).Encode(n)
	case "csv":
		if !p.header {
			p.header = true
			if err := p.csv.Write([]string{"index", "time", "characteristic", "data"}); err != nil {
				return err
			}
		}
		if err := p.csv.Write([]string{strconv.Itoa(p.index), at, char, data}); err != nil {
			return err
		}
		p.csv.Flush()
		return p.csv.Error()
	default:
		if !p.header {
			p.header = true
			fmt.Fprintf(p.w, "%-6s %-32s %-6s %s\n", "#", "TIME", "CHAR", "DATA")
		}
		if p.colored {
			char = color.CyanString("%-6s", char)
			data = color.GreenString("%s", data)
		} else {
			char = fmt.Sprintf("%-6s", char)
		}
		_, err := fmt.Fprintf(p.w, "%-6d %-32s %s %s\n", p.index, at, char, data)
		return err
	}
}

// printWarning reports a non-terminal stream error.
func printWarning(w io.Writer, err error) {
	msg := "WARNING: " + FormatUserError(err)
	if isTerminal(w) {
		msg = color.YellowString("%s", msg)
	}
	fmt.Fprintln(w, msg)
}
