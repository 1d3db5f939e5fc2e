package viewport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink collects every Event it drains, for assertions.
type recordingSink struct {
	mu   sync.Mutex
	got  []Event
	done chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan struct{})}
}

func (s *recordingSink) Drain(events <-chan Event) {
	for e := range events {
		s.mu.Lock()
		s.got = append(s.got, e)
		s.mu.Unlock()
	}
	close(s.done)
}

func (s *recordingSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.got))
	copy(out, s.got)
	return out
}

func TestForward_DeliversToRegisteredSink(t *testing.T) {
	b := New()
	sink := newRecordingSink()
	b.RegisterSink(sink)

	b.Forward(Event{WorkerSpawned: &WorkerSpawned{WorkerID: "w1"}})

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "w1", sink.all()[0].WorkerSpawned.WorkerID)
}

func TestForward_DropsOldestWhenQueueFull(t *testing.T) {
	b := New()
	// No sink registered: nothing drains the queue, so Forward must
	// evict the oldest entry instead of blocking once DefaultQueueSize
	// is reached.
	for i := 0; i < DefaultQueueSize+10; i++ {
		b.Forward(Event{WorkerSpawned: &WorkerSpawned{WorkerID: "w"}})
	}
	assert.Len(t, b.queue, DefaultQueueSize)
}

func TestBehavior_RoutesEveryMessageKindToForward(t *testing.T) {
	b := New()
	sink := newRecordingSink()
	b.RegisterSink(sink)
	behavior := b.Behavior()

	msgs := []interface{}{
		WorkerSpawned{WorkerID: "w1"},
		WorkerStopped{WorkerID: "w1"},
		RuntimeOutput{WorkerID: "w1", TaskID: "t1", Line: "hi"},
		RuntimeExited{WorkerID: "w1", ExitCode: 2},
		GraphSubmitted{GraphID: "g1"},
		NodeStatusChanged{GraphID: "g1", NodeID: "n1", Status: "completed"},
		GraphCompleted{GraphID: "g1", Results: map[string]bool{"n1": true}},
	}
	for _, m := range msgs {
		require.NoError(t, behavior(context.Background(), m))
	}

	require.Eventually(t, func() bool { return len(sink.all()) == len(msgs) }, time.Second, 5*time.Millisecond)
}
