package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageDeduplicator_SuppressesRepeatsWithinWindow(t *testing.T) {
	d := NewMessageDeduplicator(50 * time.Millisecond)

	assert.True(t, d.Allow("same line"))
	assert.False(t, d.Allow("same line"))
	assert.True(t, d.Allow("different line"))
}

func TestMessageDeduplicator_AllowsAfterWindowElapses(t *testing.T) {
	d := NewMessageDeduplicator(10 * time.Millisecond)
	assert.True(t, d.Allow("x"))
	time.Sleep(20 * time.Millisecond)
	assert.True(t, d.Allow("x"))
}
