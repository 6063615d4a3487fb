// Package client implements the HTTP client the CLI uses to talk to a
// running daemon.
package client
