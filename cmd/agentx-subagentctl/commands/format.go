package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

// sessionView mirrors the admin API's GET /session response.
type sessionView struct {
	State                string                    `json:"state"`
	SessionID            uint32                    `json:"session_id"`
	RegistrationFailures []registrationFailureView `json:"registration_failures"`
}

type registrationFailureView struct {
	Root  string `json:"root"`
	Error string `json:"error"`
}

// regionView mirrors one entry of the admin API's GET /regions response.
type regionView struct {
	Root         string `json:"root"`
	Priority     uint8  `json:"priority"`
	RangeSubid   uint8  `json:"range_subid"`
	UpperBound   uint32 `json:"upper_bound"`
	Context      string `json:"context"`
	Writable     bool   `json:"writable"`
	SnapshotSize int    `json:"snapshot_size"`
}

// setTransactionView mirrors one entry of the admin API's
// GET /set-transactions response.
type setTransactionView struct {
	ID        uint32 `json:"id"`
	State     string `json:"state"`
	CreatedAt string `json:"created_at"`
}

func formatSession(v sessionView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(v)
	case formatTable:
		return formatSessionTable(v), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSessionTable(v sessionView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "State:\t%s\n", v.State)
	fmt.Fprintf(w, "Session ID:\t%d\n", v.SessionID)
	fmt.Fprintf(w, "Registration Failures:\t%d\n", len(v.RegistrationFailures))
	_ = w.Flush()

	for _, f := range v.RegistrationFailures {
		buf.WriteString(fmt.Sprintf("  %s: %s\n", f.Root, f.Error))
	}
	return buf.String()
}

func formatRegions(views []regionView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(views)
	case formatTable:
		return formatRegionsTable(views), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatRegionsTable(views []regionView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROOT\tPRIORITY\tRANGE-SUBID\tWRITABLE\tSNAPSHOT-SIZE")
	for _, r := range views {
		fmt.Fprintf(w, "%s\t%d\t%d\t%v\t%d\n", r.Root, r.Priority, r.RangeSubid, r.Writable, r.SnapshotSize)
	}
	_ = w.Flush()
	return buf.String()
}

func formatSetTransactions(views []setTransactionView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(views)
	case formatTable:
		return formatSetTransactionsTable(views), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSetTransactionsTable(views []setTransactionView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tCREATED-AT")
	for _, t := range views {
		fmt.Fprintf(w, "%d\t%s\t%s\n", t.ID, t.State, t.CreatedAt)
	}
	_ = w.Flush()
	return buf.String()
}

func marshalIndent(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data), nil
}
