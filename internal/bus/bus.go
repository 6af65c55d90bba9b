// Package bus is the in-memory lifecycle event fan-out. Events are
// delivered in publish order per subscriber, never buffered across
// connects: a subscriber only sees events published after it joined.
package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-agentd/internal/core"
	"github.com/lzjever/mbos-agentd/internal/observability"
)

// subscriberBuffer bounds how far a slow consumer may lag before
// events are dropped for it. Dropping is per-subscriber; the bus
// itself never blocks on publish.
const subscriberBuffer = 64

type subscriber struct {
	ch chan core.Event
}

type Bus struct {
	mu     sync.Mutex
	subs   []*subscriber
	closed bool
	log    *zap.Logger
}

func New(log *zap.Logger) *Bus {
	return &Bus{log: log}
}

// Subscribe registers a new subscriber and returns its event channel
// plus a cancel func. Cancel is idempotent and closes the channel.
func (b *Bus) Subscribe() (<-chan core.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan core.Event)
		close(ch)
		return ch, func() {}
	}

	sub := &subscriber{ch: make(chan core.Event, subscriberBuffer)}
	b.subs = append(b.subs, sub)
	observability.BusSubscribers.Set(float64(len(b.subs)))
	return sub.ch, func() { b.unsubscribe(sub) }
}

func (b *Bus) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.ch)
			observability.BusSubscribers.Set(float64(len(b.subs)))
			return
		}
	}
}

// Publish delivers ev to every current subscriber. A subscriber whose
// buffer is full loses the event; the publisher is never delayed.
func (b *Bus) Publish(ev core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	observability.BusEventsTotal.WithLabelValues(string(ev.EventType())).Inc()
	for _, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			observability.BusEventsDropped.Inc()
			b.log.Warn("event dropped for slow subscriber",
				zap.String("type", string(ev.EventType())))
		}
	}
}

// Close disconnects every subscriber. Further publishes are ignored
// and further subscribes receive an already-closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
	observability.BusSubscribers.Set(0)
}
