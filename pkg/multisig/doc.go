// Package multisig is a client for the multi-signature coordination service.
//
// The service collects signatures for transactions that need more than one
// signer. Requests lists the pending signature requests for a set of public
// keys; the push stream reports when a request was added, gained a
// signature or was submitted to the ledger.
package multisig
