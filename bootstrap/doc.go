// Package bootstrap runs a daemon's lifecycle: config defaults and
// validation, logger setup, ordered component start, hooks, signal
// handling and reverse-order graceful shutdown.
package bootstrap
