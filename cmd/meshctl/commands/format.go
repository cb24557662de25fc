package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatRoutes renders the routing table in the requested format.
func formatRoutes(routes []routeView, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(routes, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal routes to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		return formatRoutesTable(routes), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatRoutesTable(routes []routeView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tPARENT\tRSSI\tSTATUS\tLAST-SEEN\tBATTERY-MV")

	for _, r := range routes {
		battery := "-"
		if r.BatteryMV != nil {
			battery = fmt.Sprintf("%d", *r.BatteryMV)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.Device, r.Parent, r.RSSI, r.Status, r.LastSeen, battery)
	}

	w.Flush() //nolint:errcheck // writing to a strings.Builder never fails
	return buf.String()
}

// formatCounters renders engine counters in the requested format.
func formatCounters(c countersView, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal counters to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		return formatCountersTable(c), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatCountersTable(c countersView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "RX:\t%d\n", c.RX)
	fmt.Fprintf(w, "TX:\t%d\n", c.TX)
	for kind, n := range c.Drops {
		fmt.Fprintf(w, "drops[%s]:\t%d\n", kind, n)
	}
	w.Flush() //nolint:errcheck // writing to a strings.Builder never fails
	return buf.String()
}
