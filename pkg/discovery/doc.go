// Package discovery finds ledger API nodes on the local network via
// mDNS/DNS-SD.
//
// Nodes advertise the _ledgerapi._tcp service type. The instance name is
// free-form; the TXT record describes how to reach the API:
//
//   - svc: service name, "horizon" or "multisig" (required)
//   - net: network the node serves, e.g. "public" or "testnet" (required)
//   - proto: "https" or "http" (optional, defaults to https)
//   - path: base path of the API (optional)
//
// Discovered nodes are only used as extra fallbacks for endpoint selection.
// They are never preferred over a configured primary.
package discovery
