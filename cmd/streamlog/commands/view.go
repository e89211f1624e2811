package commands

import (
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/walletsync/walletsync-go/pkg/log"
)

// RunView writes every event of path that matches filter to output.
func RunView(path string, filter log.Filter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] DIRECTION LAYER Type service
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s", ts, shortenConnID(event.ConnectionID),
		event.Direction, event.Layer, typeLabel(event))
	if event.Service != "" {
		fmt.Fprintf(w, " %s", event.Service)
	}
	fmt.Fprintln(w)

	if event.Key != "" {
		fmt.Fprintf(w, "  Key: %s\n", event.Key)
	}
	if event.URL != "" {
		fmt.Fprintf(w, "  URL: %s\n", event.URL)
	}

	switch {
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.Update != nil:
		formatUpdateDetails(w, event.Update)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Control != nil:
		if event.Control.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", event.Control.Reason)
		}
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

func typeLabel(event log.Event) string {
	switch {
	case event.Message != nil:
		return "Message"
	case event.Update != nil:
		return "Update"
	case event.StateChange != nil:
		return "State"
	case event.Control != nil:
		return event.Control.Type.String()
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	if msg.Event != "" {
		fmt.Fprintf(w, "  Event: %s\n", msg.Event)
	}
	if msg.ID != "" {
		fmt.Fprintf(w, "  ID: %s\n", msg.ID)
	}
	fmt.Fprintf(w, "  Size: %d bytes\n", msg.Size)
	if len(msg.Data) > 0 {
		if utf8.Valid(msg.Data) {
			fmt.Fprintf(w, "  Data: %s", msg.Data)
		} else {
			fmt.Fprintf(w, "  Data: %x", msg.Data)
		}
		if msg.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatUpdateDetails(w io.Writer, u *log.UpdateEvent) {
	fmt.Fprintf(w, "  %s -> %s", u.Source, u.Outcome)
	if u.Attempt > 0 {
		fmt.Fprintf(w, " (attempt %d)", u.Attempt)
	}
	fmt.Fprintln(w)
	if u.Duration != nil {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(*u.Duration))
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Kind != "" {
		fmt.Fprintf(w, "  Kind: %s\n", err.Kind)
	}
	if err.StatusCode != nil {
		fmt.Fprintf(w, "  Status: %d\n", *err.StatusCode)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}
