package runtime

import (
	"sync"
	"time"
)

// MessageDeduplicator suppresses byte-identical lines arriving within
// a short window, so a flapping subprocess cannot flood a Worker's
// mailbox with repeated output. Grounded on the teacher's
// mcp.MessageDeduplicator (referenced from coordinator.go/worker.go;
// the dedup implementation itself was outside the retrieval pack, so
// this is a fresh build against that usage contract: one deduplicator
// instance per owner, a bounded time window, keyed by content).
type MessageDeduplicator struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

// DefaultDeduplicationWindow matches the teacher's constant name and
// intent: a short window wide enough to absorb a burst of repeated
// lines without delaying genuinely new output.
const DefaultDeduplicationWindow = 200 * time.Millisecond

// NewMessageDeduplicator creates a deduplicator with the given window.
func NewMessageDeduplicator(window time.Duration) *MessageDeduplicator {
	if window <= 0 {
		window = DefaultDeduplicationWindow
	}
	return &MessageDeduplicator{window: window, seen: make(map[string]time.Time)}
}

// Allow reports whether content should be delivered: true the first
// time it's seen, or if the window since the last identical content
// has elapsed; false if it's a repeat within the window.
func (d *MessageDeduplicator) Allow(content string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	last, ok := d.seen[content]
	d.seen[content] = now
	if !ok {
		d.evictLocked(now)
		return true
	}
	if now.Sub(last) > d.window {
		return true
	}
	return false
}

func (d *MessageDeduplicator) evictLocked(now time.Time) {
	for k, t := range d.seen {
		if now.Sub(t) > d.window*10 {
			delete(d.seen, k)
		}
	}
}
