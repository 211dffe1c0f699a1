// Package events fans progress snapshots out to per-job subscribers. Delivery
// is best-effort: a slow or disconnected subscriber loses updates, never
// blocks the pipeline, and never affects persisted state.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Snapshot is one progress broadcast. Progress carries the recomputed row
// tallies; Meta is the job's metadata bag at broadcast time.
type Snapshot struct {
	Status   string         `json:"status"`
	Progress any            `json:"progress"`
	Meta     map[string]any `json:"meta"`
}

// Broker routes snapshots to subscribers by job id.
type Broker struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[chan Snapshot]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uuid.UUID]map[chan Snapshot]struct{})}
}

// Subscribe registers a listener for one job. The returned cancel func must
// be called when the subscriber goes away; it closes the channel.
func (b *Broker) Subscribe(jobID uuid.UUID) (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan Snapshot]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[jobID]; ok {
			if _, live := set[ch]; live {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, jobID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers a snapshot to every subscriber of the job without
// blocking. Full channels drop the update.
func (b *Broker) Publish(jobID uuid.UUID, snap Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[jobID] {
		select {
		case ch <- snap:
		default:
			// Subscriber is behind; it will catch up on the next snapshot.
		}
	}
}

// SubscriberCount reports active listeners for a job.
func (b *Broker) SubscriberCount(jobID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}
