package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/taskswarm/orchestrator/internal/log"
)

// SDKHandler is an in-process SDK implementation registered under a
// name (e.g. an embedded model client with no external process or
// network hop). This is the third runtime variant from spec §4.5.
type SDKHandler func(ctx context.Context, prompt string, emit func(line string)) error

var sdkRegistry = map[string]SDKHandler{}

// RegisterSDK makes handler available under name for KindSDK configs.
func RegisterSDK(name string, handler SDKHandler) {
	sdkRegistry[name] = handler
}

type sdkRuntime struct {
	tokenTracker
	cfg     Config
	handler SDKHandler
	events  chan Event
	cancel  context.CancelFunc
	ctx     context.Context
	started time.Time
}

func newSDKRuntime(cfg Config) (*sdkRuntime, error) {
	handler, ok := sdkRegistry[cfg.SDKName]
	if !ok {
		return nil, fmt.Errorf("sdk runtime: no handler registered for %q", cfg.SDKName)
	}
	return &sdkRuntime{cfg: cfg, handler: handler, events: make(chan Event, 64)}, nil
}

func (r *sdkRuntime) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.started = time.Now()
	log.Info(log.CatRuntime, "sdk runtime started", "sdk", r.cfg.SDKName)
	return nil
}

func (r *sdkRuntime) Send(prompt string) error {
	go func() {
		err := r.handler(r.ctx, prompt, func(line string) {
			warn, exceeded, estimatedTokens := r.tokenTracker.accumulate(len(line))
			if warn {
				r.events <- Event{Kind: EventWarning, TaskID: r.tokenTracker.activeTaskID(), EstimatedTokens: estimatedTokens}
			}
			r.events <- Event{Kind: EventOutputLine, Line: line, TaskID: r.tokenTracker.activeTaskID(), EstimatedTokens: estimatedTokens}
			if exceeded {
				r.events <- Event{Kind: EventCancelledTokenBudget, TaskID: r.tokenTracker.activeTaskID()}
				r.Cancel()
			}
		})
		exitCode := 0
		if err != nil {
			exitCode = -1
		}
		logRuntimeExit(KindSDK, exitCode, time.Since(r.started))
		r.events <- Event{Kind: EventExited, ExitCode: exitCode}
	}()
	return nil
}

func (r *sdkRuntime) Events() <-chan Event { return r.events }

func (r *sdkRuntime) SetTaskBudget(taskID string, maxTokens int) {
	r.tokenTracker.setBudget(taskID, maxTokens)
}

func (r *sdkRuntime) Cancel() {
	if r.cancel != nil {
		r.cancel()
	}
}
