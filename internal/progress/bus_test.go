package progress_test

import (
	"testing"
	"time"

	"scriptreel/internal/progress"
	"scriptreel/internal/queue"
)

func receiveOne(t *testing.T, ch <-chan queue.Job) queue.Job {
	t.Helper()
	select {
	case job, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return job
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return queue.Job{}
}

func TestPublishReachesSubscriber(t *testing.T) {
	bus := progress.NewBus(nil)
	defer bus.Close()

	ch, cancel := bus.Subscribe("job-1")
	defer cancel()

	bus.Publish(queue.Job{ID: "job-1", Stage: queue.StageAnalyzing, Progress: 10, Revision: 1})
	got := receiveOne(t, ch)
	if got.Stage != queue.StageAnalyzing || got.Progress != 10 {
		t.Fatalf("unexpected snapshot: %#v", got)
	}
}

func TestPublishWithoutSubscriberIsDropped(t *testing.T) {
	bus := progress.NewBus(nil)
	defer bus.Close()

	bus.Publish(queue.Job{ID: "nobody-listening", Revision: 1})
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers, got %d", bus.SubscriberCount())
	}
}

func TestStaleRevisionsAreDiscarded(t *testing.T) {
	bus := progress.NewBus(nil)
	defer bus.Close()

	ch, cancel := bus.Subscribe("job-1")
	defer cancel()

	bus.Publish(queue.Job{ID: "job-1", Progress: 30, Revision: 5})
	bus.Publish(queue.Job{ID: "job-1", Progress: 10, Revision: 3})
	bus.Publish(queue.Job{ID: "job-1", Progress: 60, Revision: 6})

	first := receiveOne(t, ch)
	second := receiveOne(t, ch)
	if first.Revision != 5 || second.Revision != 6 {
		t.Fatalf("expected revisions 5 then 6, got %d then %d", first.Revision, second.Revision)
	}
	select {
	case extra := <-ch:
		t.Fatalf("stale snapshot delivered: %#v", extra)
	default:
	}
}

func TestResubscribeReplacesPreviousWatcher(t *testing.T) {
	bus := progress.NewBus(nil)
	defer bus.Close()

	old, _ := bus.Subscribe("job-1")
	fresh, cancel := bus.Subscribe("job-1")
	defer cancel()

	select {
	case _, ok := <-old:
		if ok {
			t.Fatal("old channel should be closed, not carry snapshots")
		}
	case <-time.After(time.Second):
		t.Fatal("old channel was not closed on replacement")
	}

	bus.Publish(queue.Job{ID: "job-1", Progress: 70, Revision: 1})
	got := receiveOne(t, fresh)
	if got.Progress != 70 {
		t.Fatalf("replacement subscriber missed snapshot: %#v", got)
	}
	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected exactly one subscriber, got %d", bus.SubscriberCount())
	}
}

func TestSlowSubscriberLosesOldestSnapshot(t *testing.T) {
	bus := progress.NewBus(nil)
	defer bus.Close()

	ch, cancel := bus.Subscribe("job-1")
	defer cancel()

	// Overfill the buffer; publishing must never block.
	const published = 40
	for i := 1; i <= published; i++ {
		bus.Publish(queue.Job{ID: "job-1", Progress: float64(i), Revision: int64(i)})
	}

	var last queue.Job
	for {
		select {
		case job := <-ch:
			last = job
			continue
		default:
		}
		break
	}
	if last.Revision != published {
		t.Fatalf("newest snapshot must survive, got revision %d", last.Revision)
	}
}

func TestCancelIsIdempotentAndCloseStopsDelivery(t *testing.T) {
	bus := progress.NewBus(nil)

	ch, cancel := bus.Subscribe("job-1")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("cancelled channel should be closed")
	}

	ch2, _ := bus.Subscribe("job-2")
	bus.Close()
	if _, ok := <-ch2; ok {
		t.Fatal("close should shut subscriber channels")
	}
	bus.Publish(queue.Job{ID: "job-2", Revision: 1})

	ch3, cancel3 := bus.Subscribe("job-3")
	defer cancel3()
	if _, ok := <-ch3; ok {
		t.Fatal("subscriptions after close should be closed immediately")
	}
}
