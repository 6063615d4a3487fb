package progress

import (
	"log/slog"
	"sync"

	"scriptreel/internal/logging"
	"scriptreel/internal/queue"
)

const subscriberBuffer = 16

type subscriber struct {
	ch           chan queue.Job
	lastRevision int64
}

// Bus delivers job snapshots to interested watchers.
type Bus struct {
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[string]*subscriber
	closed      bool
}

// NewBus constructs an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bus{
		logger:      logging.WithComponent(logger, "progress"),
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe registers the sole watcher for a job id and returns the snapshot
// channel plus a cancel function. Subscribing again for the same id closes
// the previous watcher's channel.
func (b *Bus) Subscribe(jobID string) (<-chan queue.Job, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if previous, ok := b.subscribers[jobID]; ok {
		close(previous.ch)
		b.logger.Debug("replaced subscriber", logging.String(logging.FieldJobID, jobID))
	}

	sub := &subscriber{ch: make(chan queue.Job, subscriberBuffer)}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subscribers[jobID] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if current, ok := b.subscribers[jobID]; ok && current == sub {
			delete(b.subscribers, jobID)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Publish forwards a snapshot to the job's subscriber, if any. Stale
// snapshots (revision at or below the last delivered one) are dropped, as is
// the oldest buffered snapshot when the watcher lags behind.
func (b *Bus) Publish(job queue.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	sub, ok := b.subscribers[job.ID]
	if !ok {
		return
	}
	if job.Revision != 0 && job.Revision <= sub.lastRevision {
		return
	}

	for {
		select {
		case sub.ch <- job:
			if job.Revision > sub.lastRevision {
				sub.lastRevision = job.Revision
			}
			return
		default:
		}
		select {
		case <-sub.ch:
			// drop the oldest buffered snapshot and retry
		default:
		}
	}
}

// Close shuts the bus down, closing every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount reports the number of active watchers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
