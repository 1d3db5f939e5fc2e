// Package blackboard implements the cross-agent pub/sub key-value
// store: Publish/Query/Subscribe/List over dotted string keys. It is
// one of the runtime's two legitimate shared-mutable surfaces and
// serializes its own mutations, same as the teacher's fabric broker
// serializes channel mutations behind a single lock.
package blackboard

import (
	"sort"
	"strings"
	"sync"

	"github.com/taskswarm/orchestrator/internal/bus"
)

// Entry is the stored value for a key plus its attributed publisher.
type Entry struct {
	Value     string
	Publisher string
}

// Subscriber receives a SignalValue delivery for the key it subscribed
// to. Implementations must not block; the blackboard delivers
// synchronously within the publish lock to preserve per-key ordering,
// so a subscriber that blocks stalls every future publication, and a
// subscriber that calls back into the same Blackboard from a Publish
// delivery deadlocks.
type Subscriber func(key, value, publisher string)

// Blackboard is the map key -> (value, publisher) plus per-key
// subscriber sets.
type Blackboard struct {
	mu   sync.Mutex
	data map[string]Entry
	subs map[string][]subEntry
	bus  *bus.Bus
}

type subEntry struct {
	id string
	fn Subscriber
}

// New creates an empty blackboard. Publications also fan out on b if
// non-nil, via an EventSignalPublished event.
func New(b *bus.Bus) *Blackboard {
	return &Blackboard{
		data: make(map[string]Entry),
		subs: make(map[string][]subEntry),
		bus:  b,
	}
}

// EventSignalPublished is published on the system event bus whenever
// Publish succeeds.
const EventSignalPublished bus.EventType = "blackboard.signal_published"

// SignalPublishedPayload is the bus event payload for EventSignalPublished.
type SignalPublishedPayload struct {
	Key       string
	Value     string
	Publisher string
}

// Publish overwrites key's value, notifies every current subscriber of
// key in publish order, and fans out on the system event bus.
func (bb *Blackboard) Publish(key, value, publisher string) {
	bb.mu.Lock()
	bb.data[key] = Entry{Value: value, Publisher: publisher}
	subscribers := append([]subEntry(nil), bb.subs[key]...)
	for _, s := range subscribers {
		s.fn(key, value, publisher)
	}
	bb.mu.Unlock()

	if bb.bus != nil {
		bb.bus.Publish(bus.Event{
			Type:    EventSignalPublished,
			Payload: SignalPublishedPayload{Key: key, Value: value, Publisher: publisher},
		})
	}
}

// Query returns the current value for key, if any.
func (bb *Blackboard) Query(key string) (Entry, bool) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	e, ok := bb.data[key]
	return e, ok
}

// Subscribe registers fn under subscriberID for key, immediately
// delivering the current value if any. Calling Subscribe again with
// the same subscriberID for the same key replaces the prior
// registration.
func (bb *Blackboard) Subscribe(key, subscriberID string, fn Subscriber) {
	bb.mu.Lock()
	existing := bb.subs[key]
	filtered := existing[:0]
	for _, s := range existing {
		if s.id != subscriberID {
			filtered = append(filtered, s)
		}
	}
	bb.subs[key] = append(filtered, subEntry{id: subscriberID, fn: fn})
	current, hasCurrent := bb.data[key]
	bb.mu.Unlock()

	if hasCurrent {
		fn(key, current.Value, current.Publisher)
	}
}

// Unsubscribe removes subscriberID's registration for key. The
// blackboard never prunes subscribers on its own; a registration stays
// until its owner calls Unsubscribe.
func (bb *Blackboard) Unsubscribe(key, subscriberID string) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	existing := bb.subs[key]
	filtered := existing[:0]
	for _, s := range existing {
		if s.id != subscriberID {
			filtered = append(filtered, s)
		}
	}
	bb.subs[key] = filtered
}

// List enumerates keys matching prefix (all keys if prefix is empty),
// sorted for a deterministic snapshot.
func (bb *Blackboard) List(prefix string) []string {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	var keys []string
	for k := range bb.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
