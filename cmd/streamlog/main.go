// Command streamlog views and analyzes walletsync stream capture files.
//
// Capture files are written by walletsync with the -capture flag. They hold
// every dial, push message, poller decision and error in CBOR.
//
// Usage:
//
//	streamlog <command> [flags] <file.cbor>
//
// Commands:
//
//	view     View capture file in human-readable format
//	export   Export capture file to JSONL or CSV format
//	filter   Filter capture file and write to new file
//	stats    Show statistics about the capture file
//
// Examples:
//
//	# View all events
//	streamlog view walletsync.cbor
//
//	# View only poller decisions for one account
//	streamlog view --layer poller --key "https://horizon.stellar.org|account|GABC" walletsync.cbor
//
//	# View errors of the coordination service
//	streamlog view --service multisig --category error walletsync.cbor
//
//	# Export to JSONL
//	streamlog export --format jsonl walletsync.cbor
//
//	# Show statistics
//	streamlog stats walletsync.cbor
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/walletsync/walletsync-go/cmd/streamlog/commands"
)

const usage = `streamlog - walletsync stream capture viewer

Usage:
  streamlog <command> [flags] <file.cbor>

Commands:
  view     View capture file in human-readable format
  export   Export capture file to JSONL or CSV format
  filter   Filter capture file and write to new file
  stats    Show statistics about the capture file

Use "streamlog <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// filterFlags registers the selection flags shared by view and filter.
func filterFlags(fs *flag.FlagSet) *commands.FilterOptions {
	opts := &commands.FilterOptions{}
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&opts.Service, "service", "", "Filter by service (horizon, multisig)")
	fs.StringVar(&opts.KeyPrefix, "key", "", "Filter by subscription key prefix")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, stream, poller)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, control, state, error)")
	return opts
}

func parseArgs(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `streamlog view - View capture file in human-readable format

Usage:
  streamlog view [flags] <file.cbor>

Flags:
`)
		fs.PrintDefaults()
	}
	opts := filterFlags(fs)
	path := parseArgs(fs, args)

	filter, err := opts.Build()
	if err != nil {
		fail(err)
	}
	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `streamlog export - Export capture file to JSONL or CSV format

Usage:
  streamlog export [flags] <file.cbor>

Flags:
`)
		fs.PrintDefaults()
	}
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path := parseArgs(fs, args)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `streamlog filter - Filter capture file and write to new file

Usage:
  streamlog filter [flags] <file.cbor>

Flags:
`)
		fs.PrintDefaults()
	}
	opts := filterFlags(fs)
	fs.StringVar(&opts.Output, "o", "", "Output file (required)")
	path := parseArgs(fs, args)

	if opts.Output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}
	n, err := commands.RunFilter(path, *opts)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, opts.Output)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `streamlog stats - Show statistics about the capture file

Usage:
  streamlog stats <file.cbor>

`)
	}
	path := parseArgs(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
