// Package horizon is a minimal client for a Horizon-style ledger REST API.
//
// It decodes only what live wallet views need: account balances, signers and
// thresholds, effects, offers, transactions and order books. Every record
// keeps its paging token so live updates can be ordered.
//
// # Errors
//
// Responses are mapped onto the syncerr taxonomy:
//   - 404 wraps syncerr.ErrNotYetPresent (e.g. an account not yet funded)
//   - 410 wraps syncerr.ErrResourceGone
//   - 429, 5xx and transport failures are *syncerr.ConnectionError
//   - undecodable bodies and other 4xx are *syncerr.UnexpectedError
//   - a cancelled caller context is returned as ctx.Err(), unwrapped
//
// Identical concurrent GET requests share one round trip.
package horizon
