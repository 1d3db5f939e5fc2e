package runtime

import "strings"

// Activity is the worker-visible activity state derived from a
// runtime output line.
type Activity int

const (
	ActivityIdle Activity = iota
	ActivityTyping
	ActivityThinking
	ActivityToolUse
)

func (a Activity) String() string {
	switch a {
	case ActivityTyping:
		return "typing"
	case ActivityThinking:
		return "thinking"
	case ActivityToolUse:
		return "tool_use"
	default:
		return "idle"
	}
}

// Classifier maps a raw runtime output line to an activity state. The
// mapping is heuristic and varies across runtime kinds (per spec §9
// open question (b)), so it is a pluggable interface rather than a
// fixed function, the same way the teacher ships a distinct Parser per
// provider (amp, codex, opencode) behind one shared contract.
type Classifier interface {
	Classify(line string) Activity
}

// KeywordClassifier is the default Classifier: a small ordered table
// of substrings, first match wins.
type KeywordClassifier struct {
	rules []keywordRule
}

type keywordRule struct {
	substr   string
	activity Activity
}

// DefaultClassifier returns the keyword table used when no
// runtime-specific classifier is configured.
func DefaultClassifier() *KeywordClassifier {
	return &KeywordClassifier{rules: []keywordRule{
		{"tool_use", ActivityToolUse},
		{"tool_call", ActivityToolUse},
		{"thinking", ActivityThinking},
		{"reasoning", ActivityThinking},
		{"typing", ActivityTyping},
	}}
}

// Classify returns the activity for the first matching rule, or
// ActivityIdle if none match.
func (c *KeywordClassifier) Classify(line string) Activity {
	lower := strings.ToLower(line)
	for _, r := range c.rules {
		if strings.Contains(lower, r.substr) {
			return r.activity
		}
	}
	return ActivityIdle
}
