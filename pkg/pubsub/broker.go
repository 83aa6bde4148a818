// Package pubsub broadcasts appended events to live subscribers of a
// stream. Subscriptions are per stream_id; a slow subscriber drops events
// rather than blocking the writer, since every event is replayable from the
// store.
package pubsub

import (
	"sync"

	"github.com/killallgit/strand/pkg/events"
	"github.com/killallgit/strand/pkg/logger"
)

const defaultBuffer = 64

type subscriber struct {
	id int
	ch chan events.Event
}

// Broker fans events out to subscribers keyed by stream id.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscriber
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string][]subscriber),
	}
}

// Subscribe registers a listener for a stream. The returned cancel function
// must be called to release the subscription; the channel is closed by it.
func (b *Broker) Subscribe(streamID string) (<-chan events.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := subscriber{
		id: b.nextID,
		ch: make(chan events.Event, defaultBuffer),
	}
	b.subs[streamID] = append(b.subs[streamID], sub)

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		remaining := b.subs[streamID][:0]
		for _, s := range b.subs[streamID] {
			if s.id == sub.id {
				close(s.ch)
				continue
			}
			remaining = append(remaining, s)
		}
		if len(remaining) == 0 {
			delete(b.subs, streamID)
		} else {
			b.subs[streamID] = remaining
		}
	}

	return sub.ch, cancel
}

// Publish delivers events to every live subscriber of the stream. Delivery
// is best-effort: a full subscriber buffer drops the event.
func (b *Broker) Publish(streamID string, evs ...events.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[streamID] {
		for _, ev := range evs {
			select {
			case sub.ch <- ev:
			default:
				logger.Warn("Dropping event %s for slow subscriber on stream %s", ev.Type, streamID)
			}
		}
	}
}

// SubscriberCount returns the number of live subscribers for a stream.
func (b *Broker) SubscriberCount(streamID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[streamID])
}
