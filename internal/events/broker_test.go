package events

import (
	"testing"

	"github.com/google/uuid"
)

func TestBroker_PublishReachesSubscribers(t *testing.T) {
	b := NewBroker()
	jobID := uuid.New()

	ch1, cancel1 := b.Subscribe(jobID)
	ch2, cancel2 := b.Subscribe(jobID)
	defer cancel1()
	defer cancel2()

	b.Publish(jobID, Snapshot{Status: "validating"})

	for i, ch := range []<-chan Snapshot{ch1, ch2} {
		select {
		case snap := <-ch:
			if snap.Status != "validating" {
				t.Errorf("subscriber %d got %+v", i, snap)
			}
		default:
			t.Errorf("subscriber %d got nothing", i)
		}
	}
}

func TestBroker_JobsAreIsolated(t *testing.T) {
	b := NewBroker()
	jobA, jobB := uuid.New(), uuid.New()

	ch, cancel := b.Subscribe(jobA)
	defer cancel()

	b.Publish(jobB, Snapshot{Status: "importing"})

	select {
	case snap := <-ch:
		t.Errorf("got snapshot for another job: %+v", snap)
	default:
	}
}

func TestBroker_PublishWithoutSubscribersIsNoop(t *testing.T) {
	b := NewBroker()
	b.Publish(uuid.New(), Snapshot{Status: "completed"}) // must not panic or block
}

func TestBroker_SlowSubscriberDropsUpdates(t *testing.T) {
	b := NewBroker()
	jobID := uuid.New()

	ch, cancel := b.Subscribe(jobID)
	defer cancel()

	// Fill the buffer and then some; the extra publishes must not block.
	for i := 0; i < 100; i++ {
		b.Publish(jobID, Snapshot{Status: "importing"})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > 16 {
		t.Errorf("received = %d, want between 1 and the buffer size", received)
	}
}

func TestBroker_CancelClosesChannel(t *testing.T) {
	b := NewBroker()
	jobID := uuid.New()

	ch, cancel := b.Subscribe(jobID)
	cancel()
	cancel() // idempotent

	if _, open := <-ch; open {
		t.Error("channel must be closed after cancel")
	}
	if got := b.SubscriberCount(jobID); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}

	// Publishing after cancel must not panic on the closed channel.
	b.Publish(jobID, Snapshot{Status: "completed"})
}
