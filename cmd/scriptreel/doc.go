// Command scriptreel is the CLI for the script-to-video daemon: it runs the
// daemon in the foreground and drives its HTTP API for submission, status,
// and live progress watching.
package main
