package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/walletsync/walletsync-go/pkg/log"
)

// Stats holds aggregate statistics about a capture file.
type Stats struct {
	TotalEvents      int
	EventsByLayer    map[log.Layer]int
	EventsByCategory map[log.Category]int
	EventsByService  map[string]int
	Updates          map[log.UpdateOutcome]int
	Connections      map[string]*ConnectionStats
	Errors           int
	Watchdogs        int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for one stream connection.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Messages  int
	Service   string
	URL       string
}

// RunStats analyzes the capture file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := collectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func collectStats(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:    make(map[log.Layer]int),
		EventsByCategory: make(map[log.Category]int),
		EventsByService:  make(map[string]int),
		Updates:          make(map[log.UpdateOutcome]int),
		Connections:      make(map[string]*ConnectionStats),
	}

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByCategory[event.Category]++
		if event.Service != "" {
			stats.EventsByService[event.Service]++
		}

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		if event.ConnectionID != "" {
			conn, ok := stats.Connections[event.ConnectionID]
			if !ok {
				conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
				stats.Connections[event.ConnectionID] = conn
			}
			conn.Events++
			if event.Message != nil {
				conn.Messages++
			}
			if event.Timestamp.After(conn.LastSeen) {
				conn.LastSeen = event.Timestamp
			}
			if conn.Service == "" {
				conn.Service = event.Service
			}
			if conn.URL == "" {
				conn.URL = event.URL
			}
		}

		switch {
		case event.Update != nil:
			stats.Updates[event.Update.Outcome]++
		case event.Control != nil && event.Control.Type == log.ControlWatchdog:
			stats.Watchdogs++
		case event.Error != nil:
			stats.Errors++
		}
	}
	return stats, nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Stream Capture Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerStream, log.LayerPoller} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.EventsByService) > 0 {
		services := make([]string, 0, len(stats.EventsByService))
		for s := range stats.EventsByService {
			services = append(services, s)
		}
		sort.Strings(services)
		fmt.Fprintln(w, "Events by Service:")
		for _, s := range services {
			fmt.Fprintf(w, "  %-12s %d\n", s+":", stats.EventsByService[s])
		}
		fmt.Fprintln(w)
	}

	if len(stats.Updates) > 0 {
		fmt.Fprintln(w, "Poller Updates:")
		for _, o := range []log.UpdateOutcome{log.UpdateApplied, log.UpdateStale, log.UpdateEmpty, log.UpdateDuplicate} {
			if count := stats.Updates[o]; count > 0 {
				fmt.Fprintf(w, "  %-12s %d\n", o.String()+":", count)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %s %d events, %d messages, duration %s\n",
				shortenConnID(c.id), c.stats.Service, c.stats.Events, c.stats.Messages, duration)
			if c.stats.URL != "" {
				fmt.Fprintf(w, "           URL: %s\n", c.stats.URL)
			}
		}
	}

	if stats.Watchdogs > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Watchdog expiries: %d\n", stats.Watchdogs)
	}
	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
