package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 256

// Feeds published on the broker.
const (
	FeedTransition = "transition"
	FeedRelay      = "relay"
)

// Event is a single status update. IDs increase across all feeds so SSE
// clients can tell when they missed something.
type Event struct {
	ID      int64
	Feed    string
	Payload string
}

type subscriber struct {
	ch    chan Event
	feeds map[string]bool // nil means every feed
}

func (s subscriber) wants(feed string) bool {
	return s.feeds == nil || s.feeds[feed]
}

// Broker fans out coordinator transitions and relay outcomes to SSE clients
// and the status journal.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]subscriber
	nextID      atomic.Int64
	nextEventID atomic.Int64
	dropped     atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]subscriber),
	}
}

// Subscribe registers a consumer of the named feeds, or of every feed when
// none are given. The channel is buffered; a consumer that falls behind
// loses events instead of stalling publishers.
func (b *Broker) Subscribe(feeds ...string) (int64, <-chan Event) {
	sub := subscriber{ch: make(chan Event, subscriberBufSize)}
	for _, f := range feeds {
		if f == "" {
			continue
		}
		if sub.feeds == nil {
			sub.feeds = make(map[string]bool)
		}
		sub.feeds[f] = true
	}

	id := b.nextID.Add(1)
	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// Publish assigns the next event ID and delivers evt to every subscriber of
// its feed without blocking.
func (b *Broker) Publish(evt Event) {
	if evt.ID == 0 {
		evt.ID = b.nextEventID.Add(1)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subscribers {
		if !sub.wants(evt.Feed) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
			slog.Debug("status subscriber lagging, event dropped", "subscriber", id, "feed", evt.Feed, "event_id", evt.ID)
		}
	}
}

// PublishJSON encodes v and publishes it on feed.
func (b *Broker) PublishJSON(feed string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Warn("status event encode failed", "feed", feed, "error", err)
		return
	}
	b.Publish(Event{Feed: feed, Payload: string(payload)})
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
