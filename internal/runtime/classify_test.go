package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordClassifier_Classify(t *testing.T) {
	c := DefaultClassifier()
	assert.Equal(t, ActivityToolUse, c.Classify("invoking tool_use: bash"))
	assert.Equal(t, ActivityThinking, c.Classify("Thinking about the approach..."))
	assert.Equal(t, ActivityTyping, c.Classify("typing response"))
	assert.Equal(t, ActivityIdle, c.Classify("just some plain output"))
}
