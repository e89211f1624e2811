// Package config loads the walletsync configuration file.
//
// The file is YAML. Durations are strings in time.ParseDuration syntax
// ("2.5s", "500ms"). Keys that are absent keep their defaults:
//
//	horizon:
//	  primary: https://horizon.stellar.org
//	  fallbacks: [https://horizon.stellar.lobstr.co]
//	multisig:
//	  primary: https://multisig.satoshipay.io
//	accounts: [GABC...]
//	fetch_concurrency: 8
//	timing:
//	  watchdog: 15s
//	  error_throttle: 3s
//
// Load applies defaults and validates. Command line flags are applied on top
// by the caller.
package config
