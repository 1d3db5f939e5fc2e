package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenTracker_WarnsAtLimitAndExceedsAt1_2x(t *testing.T) {
	var tr tokenTracker
	tr.setBudget("t1", 100) // 100 tokens ~= 400 chars

	warn, exceeded, _ := tr.accumulate(350)
	assert.False(t, warn)
	assert.False(t, exceeded)

	warn, exceeded, est := tr.accumulate(50) // 400 chars = 100 tokens, hits 1.0x
	assert.True(t, warn)
	assert.False(t, exceeded)
	assert.Equal(t, 100, est)

	_, exceeded, _ = tr.accumulate(80) // 480 chars = 120 tokens = 1.2x
	assert.True(t, exceeded)
}

func TestTokenTracker_NoBudgetNeverExceeds(t *testing.T) {
	var tr tokenTracker
	tr.setBudget("t1", 0)
	warn, exceeded, _ := tr.accumulate(10000)
	assert.False(t, warn)
	assert.False(t, exceeded)
}

func TestSDKRuntime_StreamsEventsAndRespectsTokenBudget(t *testing.T) {
	RegisterSDK("test-echo", func(ctx context.Context, prompt string, emit func(string)) error {
		emit("short")
		emit("this line pushes the budget well past its limit")
		return nil
	})

	rt, err := New(Config{Kind: KindSDK, SDKName: "test-echo"})
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	rt.SetTaskBudget("t1", 5)
	require.NoError(t, rt.Send("go"))

	var sawExceeded bool
	timeout := time.After(time.Second)
loop:
	for {
		select {
		case ev := <-rt.Events():
			if ev.Kind == EventCancelledTokenBudget {
				sawExceeded = true
				break loop
			}
			if ev.Kind == EventExited {
				break loop
			}
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
	assert.True(t, sawExceeded)
}
