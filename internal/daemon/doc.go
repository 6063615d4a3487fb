// Package daemon hosts the long-running service: it owns the job store,
// dispatcher, and progress bus, enforces single-instance execution through a
// lock file, and serves the HTTP API clients talk to.
package daemon
