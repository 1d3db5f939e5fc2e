// Package runtime implements WorkerRuntime: the actor that owns one
// external agent process, streams its output as events, and enforces a
// per-task approximate token budget. Dynamic dispatch across runtime
// kinds (subprocess, HTTP API, in-process SDK) is modeled as a tagged
// Config variant plus a single Runtime interface — a factory
// pattern-matches the Kind to construct the concrete implementation,
// the same shape the teacher uses across its amp/codex/opencode
// provider packages behind one client.HeadlessProcess interface.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskswarm/orchestrator/internal/log"
)

// Kind tags which concrete Runtime variant a Config describes.
type Kind string

const (
	KindSubprocess Kind = "subprocess"
	KindHTTP       Kind = "http"
	KindSDK        Kind = "sdk"
)

// Config is the tagged variant of runtime configuration. Only the
// fields relevant to Kind are consulted.
type Config struct {
	Kind       Kind
	Executable string            // subprocess: binary name to locate
	Args       []string          // subprocess: extra args
	Env        map[string]string // subprocess: merged into the child env
	WorkDir    string            // subprocess: working directory
	Endpoint   string            // http: base URL
	SDKName    string            // sdk: registered in-process SDK name
}

// EventKind identifies the kind of a RuntimeEvent.
type EventKind int

const (
	EventOutputLine EventKind = iota
	EventExited
	EventWarning
	EventCancelledTokenBudget
)

// Event is one occurrence streamed out of a runtime, delivered to the
// owning Worker as a follow-up message (never blocking the runtime's
// own read loop).
type Event struct {
	Kind            EventKind
	Line            string
	ExitCode        int
	TaskID          string
	EstimatedTokens int
}

// Runtime is the shared trait every variant implements: start the
// external program, send a prompt in, stream output lines out, and
// cancel cooperatively.
type Runtime interface {
	Start(ctx context.Context) error
	Send(prompt string) error
	Events() <-chan Event
	SetTaskBudget(taskID string, maxTokens int)
	Cancel()
}

// New constructs the concrete Runtime for cfg.Kind.
func New(cfg Config) (Runtime, error) {
	switch cfg.Kind {
	case KindSubprocess, "":
		return newSubprocessRuntime(cfg)
	case KindHTTP:
		return newHTTPRuntime(cfg)
	case KindSDK:
		return newSDKRuntime(cfg)
	default:
		return nil, fmt.Errorf("runtime: unknown kind %q", cfg.Kind)
	}
}

// tokenTracker approximates token consumption as chars÷4 per spec
// §4.5. It is embedded by every Runtime variant so budget enforcement
// is identical regardless of transport.
type tokenTracker struct {
	mu           sync.Mutex
	taskID       string
	maxTokens    int
	charCount    int
	warnedAtOnce bool
}

func (t *tokenTracker) setBudget(taskID string, maxTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.taskID = taskID
	t.maxTokens = maxTokens
	t.charCount = 0
	t.warnedAtOnce = false
}

// accumulate adds the character count of a new output line and reports
// whether the budget has been exceeded at the 1.2x cancellation
// threshold, and separately whether the 1.0x warning threshold was
// just crossed for the first time.
func (t *tokenTracker) accumulate(chars int) (warn bool, exceeded bool, estimatedTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.charCount += chars
	estimatedTokens = t.charCount / 4
	if t.maxTokens <= 0 {
		return false, false, estimatedTokens
	}
	if estimatedTokens >= t.maxTokens && !t.warnedAtOnce {
		t.warnedAtOnce = true
		warn = true
	}
	if estimatedTokens >= int(float64(t.maxTokens)*1.2) {
		exceeded = true
	}
	return warn, exceeded, estimatedTokens
}

func (t *tokenTracker) estimatedTokens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.charCount / 4
}

func (t *tokenTracker) activeTaskID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.taskID
}

func logRuntimeExit(kind Kind, exitCode int, d time.Duration) {
	log.Info(log.CatRuntime, "runtime exited", "kind", string(kind), "exit_code", exitCode, "uptime", d.String())
}
