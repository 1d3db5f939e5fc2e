package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishDeliversToTypedSubscriber(t *testing.T) {
	b := New()
	got := make(chan Event, 1)
	b.Subscribe(func(e Event) { got <- e }, EventTaskAssigned)

	b.Publish(Event{Type: EventTaskAssigned, Payload: "t1"})

	select {
	case e := <-got:
		assert.Equal(t, "t1", e.Payload)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_PublishDoesNotDeliverToOtherTypes(t *testing.T) {
	b := New()
	got := make(chan Event, 1)
	b.Subscribe(func(e Event) { got <- e }, EventTaskFailed)

	b.Publish(Event{Type: EventTaskAssigned})

	select {
	case <-got:
		t.Fatal("unexpected delivery")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	b := New()
	got := make(chan Event, 2)
	b.Subscribe(func(e Event) { got <- e })

	b.Publish(Event{Type: EventTaskAssigned})
	b.Publish(Event{Type: EventTaskFailed})

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatal("missing delivery")
		}
	}
}
