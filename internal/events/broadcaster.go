package events

import (
	"strings"
	"sync"
	"sync/atomic"
)

const subscriptionBuffer = 64

// Subscription receives live events whose name starts with its prefix.
// An empty prefix matches every event.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	prefix  string
	dropped atomic.Uint64
}

// Prefix returns the event-name prefix the subscription was created with.
func (s *Subscription) Prefix() string { return s.prefix }

// Match reports whether e would be delivered to s.
func (s *Subscription) Match(e Event) bool {
	return strings.HasPrefix(e.Name, s.prefix)
}

// Dropped returns how many matching events were discarded because the
// subscriber fell behind.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

type hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	dropped atomic.Uint64
}

var subscribers = &hub{subs: make(map[*Subscription]struct{})}

// Subscribe registers a live listener for events named prefix*.
func Subscribe(prefix string) *Subscription {
	ch := make(chan Event, subscriptionBuffer)
	s := &Subscription{C: ch, ch: ch, prefix: prefix}
	subscribers.mu.Lock()
	subscribers.subs[s] = struct{}{}
	subscribers.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call more than once
// and after CloseAllSubscribers.
func Unsubscribe(s *Subscription) {
	subscribers.mu.Lock()
	defer subscribers.mu.Unlock()
	if _, ok := subscribers.subs[s]; !ok {
		return
	}
	delete(subscribers.subs, s)
	close(s.ch)
}

// broadcast never blocks Emit; a full subscriber loses the event.
func broadcast(e Event) {
	subscribers.mu.RLock()
	defer subscribers.mu.RUnlock()

	for s := range subscribers.subs {
		if !s.Match(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
			subscribers.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func SubscriberCount() int {
	subscribers.mu.RLock()
	defer subscribers.mu.RUnlock()
	return len(subscribers.subs)
}

// DroppedDeliveries returns the process-wide count of events lost to slow
// subscribers.
func DroppedDeliveries() uint64 {
	return subscribers.dropped.Load()
}

// RecentEvents returns the last n buffered events, or all of them when n <= 0.
func RecentEvents(n int) []Event {
	all := buffer.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// CloseAllSubscribers closes every subscription so stream handlers return
// during shutdown.
func CloseAllSubscribers() {
	subscribers.mu.Lock()
	defer subscribers.mu.Unlock()

	for s := range subscribers.subs {
		delete(subscribers.subs, s)
		close(s.ch)
	}
}
