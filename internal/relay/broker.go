package relay

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 64

// Event is one SSE message: Feed becomes the event name.
type Event struct {
	Feed    string
	Payload string
}

type subscriber struct {
	ch    chan Event
	feeds map[string]bool
}

func (s *subscriber) wants(feed string) bool {
	return len(s.feeds) == 0 || s.feeds[feed]
}

// Broker fans indicator events out to connected stream clients.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      atomic.Int64
	dropped     atomic.Uint64
}

func NewBroker() *Broker {
	return &Broker{subscribers: make(map[int64]*subscriber)}
}

// Subscribe registers a client for the named feeds, or for every feed when
// none are given.
func (b *Broker) Subscribe(feeds ...string) (int64, <-chan Event) {
	sub := &subscriber{ch: make(chan Event, subscriberBufSize)}
	if len(feeds) > 0 {
		sub.feeds = make(map[string]bool, len(feeds))
		for _, f := range feeds {
			sub.feeds[f] = true
		}
	}
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()
	return id, sub.ch
}

// Unsubscribe removes a client and closes its channel. Unknown IDs are
// ignored.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}

// Publish never blocks. A client whose buffer is full misses the event and
// the miss is counted. It returns the number of clients that received it.
func (b *Broker) Publish(evt Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for id, sub := range b.subscribers {
		if !sub.wants(evt.Feed) {
			continue
		}
		select {
		case sub.ch <- evt:
			delivered++
		default:
			b.dropped.Add(1)
			slog.Debug("stream client lagging, event dropped", "subscriber", id, "feed", evt.Feed)
		}
	}
	return delivered
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped reports how many events were skipped for lagging clients.
func (b *Broker) Dropped() uint64 { return b.dropped.Load() }
