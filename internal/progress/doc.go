// Package progress fans job snapshots out to per-job subscribers.
//
// Each job id has at most one subscriber; a new subscription replaces the
// previous one. Publishing never blocks a running job: slow consumers lose
// the oldest buffered snapshot, and snapshots older than the last delivered
// revision are discarded.
package progress
