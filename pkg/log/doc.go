// Package log provides structured capture of live-data stream activity.
//
// This package defines the Logger interface and Event types for recording
// what push streams and pollers do: connection attempts, received messages,
// watchdog expiries, fetches and applied updates. It is separate from
// operational logging (slog) - stream capture provides a complete
// machine-readable trace for debugging reconnection behaviour.
//
// # Basic Usage
//
// Components accept a Logger in their options:
//
//	// For development: log to console via slog
//	opts.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For field debugging: write to a capture file
//	opts.ProtocolLogger, _ = log.NewFileLogger("/tmp/walletsync.wslog")
//
//	// Both: use MultiLogger
//	opts.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at three layers:
//   - Transport: dials, handshakes and closes (ControlEvent)
//   - Stream: received push messages (MessageEvent)
//   - Poller: fetches, applied and rejected updates (UpdateEvent)
//
// State changes and errors have dedicated event types at any layer.
//
// # File Format
//
// Capture files are a sequence of CBOR-encoded events with integer keys,
// conventionally named *.wslog. The streamlog command prints and filters them.
package log
