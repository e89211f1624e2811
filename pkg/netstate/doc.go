// Package netstate tracks whether the device is online.
//
// A Monitor holds a single process-wide online flag. Reconnect logic reads
// it before dialing, waits on WaitOnline while offline, and subscribes to
// transitions so open push connections can be torn down when the device goes
// offline and re-established when it comes back.
//
// The flag is set by the host application (for example from an OS network
// reachability callback) or by a Prober that periodically checks a URL.
package netstate
