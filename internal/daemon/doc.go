// Package daemon coordinates the long-running cutroom process.
//
// It wires configuration, the session catalog, every media service and the
// HTTP server into a single lifecycle with flock-based locking to prevent
// multiple instances sharing one data directory. Two background loops run
// while the daemon is up: the session sweep deletes sessions idle longer than
// the configured TTL (and prunes old tool logs), and the job sweep evicts
// unclaimed async results.
//
// Keep orchestration logic here: media operations live in their own packages
// while the daemon focuses on startup, shutdown, and high level coordination.
package daemon
