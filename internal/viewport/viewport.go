// Package viewport implements the Viewport bridge from spec §4.11: a
// thin forwarder that accepts a registration of an external Sink and
// relays every UI-observable event to it through a bounded
// thread-safe queue, draining from the sink's own goroutine. The
// viewport never originates commands — it is a one-way bridge out of
// the actor system, the same shape as the teacher's own event-to-TUI
// forwarding but generalized to an arbitrary registered Sink rather
// than a single hardcoded bubbletea program.
package viewport

import (
	"context"

	"github.com/taskswarm/orchestrator/internal/actor"
	"github.com/taskswarm/orchestrator/internal/log"
	"github.com/taskswarm/orchestrator/internal/runtime"
)

// WorkerSpawned is forwarded when a Worker starts.
type WorkerSpawned struct{ WorkerID string }

// WorkerStopped is forwarded when a Worker stops.
type WorkerStopped struct{ WorkerID string }

// RuntimeOutput is forwarded for every classified runtime output line.
type RuntimeOutput struct {
	WorkerID string
	TaskID   string
	Line     string
	Activity runtime.Activity
}

// RuntimeExited is forwarded when a worker's runtime process exits.
type RuntimeExited struct {
	WorkerID string
	ExitCode int
}

// GraphSubmitted is forwarded when a TaskGraph is accepted.
type GraphSubmitted struct{ GraphID string }

// NodeStatusChanged is forwarded on every TaskNode status transition.
type NodeStatusChanged struct {
	GraphID string
	NodeID  string
	Status  string
}

// GraphCompleted is forwarded when a TaskGraph reaches completion.
type GraphCompleted struct {
	GraphID string
	Results map[string]bool
}

// Event is the sum of every viewport-observable occurrence, queued in
// arrival order and drained by the sink.
type Event struct {
	WorkerSpawned     *WorkerSpawned
	WorkerStopped     *WorkerStopped
	RuntimeOutput     *RuntimeOutput
	RuntimeExited     *RuntimeExited
	GraphSubmitted    *GraphSubmitted
	NodeStatusChanged *NodeStatusChanged
	GraphCompleted    *GraphCompleted
}

// Sink drains queued Events on its own goroutine. Implementations must
// not block the Bridge's Forward call; Drain is expected to loop
// until the channel it was handed is closed.
type Sink interface {
	Drain(events <-chan Event)
}

// Bridge is the bounded thread-safe queue forwarding actor-originated
// events out to a registered Sink.
type Bridge struct {
	queue chan Event
	sink  Sink
}

// DefaultQueueSize bounds the forwarding queue; once it is full,
// Forward drops the oldest queued event rather than growing memory
// without limit.
const DefaultQueueSize = 256

// New creates a Bridge with an unstarted queue.
func New() *Bridge {
	return &Bridge{queue: make(chan Event, DefaultQueueSize)}
}

// RegisterSink starts draining the queue on sink's own goroutine.
func (b *Bridge) RegisterSink(sink Sink) {
	b.sink = sink
	go sink.Drain(b.queue)
}

// Forward enqueues e, dropping the oldest queued event if the sink
// cannot keep up rather than blocking the caller — viewport lag must
// never stall the actor system. A warning is logged only if e still
// cannot be queued after that drop.
func (b *Bridge) Forward(e Event) {
	select {
	case b.queue <- e:
	default:
		select {
		case <-b.queue:
		default:
		}
		select {
		case b.queue <- e:
		default:
			log.Warn(log.CatViewport, "viewport queue full, dropping event")
		}
	}
}

// Behavior adapts actor messages sent to the viewport's mailbox into
// Bridge.Forward calls, so the bridge is a regular actor in the
// supervision tree rather than a bare goroutine callers must remember
// to start by hand.
func (b *Bridge) Behavior() actor.Behavior {
	return func(_ context.Context, msg actor.Message) error {
		switch m := msg.(type) {
		case WorkerSpawned:
			b.Forward(Event{WorkerSpawned: &m})
		case WorkerStopped:
			b.Forward(Event{WorkerStopped: &m})
		case RuntimeOutput:
			b.Forward(Event{RuntimeOutput: &m})
		case RuntimeExited:
			b.Forward(Event{RuntimeExited: &m})
		case GraphSubmitted:
			b.Forward(Event{GraphSubmitted: &m})
		case NodeStatusChanged:
			b.Forward(Event{NodeStatusChanged: &m})
		case GraphCompleted:
			b.Forward(Event{GraphCompleted: &m})
		}
		return nil
	}
}
