// Package eventstream keeps a push connection alive.
//
// A Stream dials a server-sent-events or WebSocket endpoint and delivers
// every message to a callback. It recovers from three kinds of trouble:
//
//   - Silence: a watchdog tears the connection down when no message arrived
//     for the configured window and redials immediately.
//   - Errors: a failed dial or a broken stream is reported through OnError
//     and redialled after the reconnect delay.
//   - Offline: when the network monitor reports offline the connection is
//     closed; it is redialled as soon as the monitor reports online again.
//
// The stream URL is produced by a function evaluated on every dial so callers
// can resume from the last seen cursor.
//
//	unsubscribe := eventstream.Subscribe(ctx, eventstream.Options{
//	    Service:   "horizon",
//	    CreateURL: func() string { return base + "?cursor=" + cursor.Load() },
//	    Monitor:   monitor,
//	    OnMessage: handle,
//	    OnError:   func(err error) { reporter.Report("horizon", err) },
//	})
//	defer unsubscribe()
package eventstream
