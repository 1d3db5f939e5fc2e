package runtime

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/taskswarm/orchestrator/internal/log"
)

// httpRuntime is the HTTP-API runtime variant named in spec §4.5's
// "future non-subprocess runtime variant" list: prompts are POSTed to
// an endpoint and the response body is streamed line-by-line exactly
// like a subprocess's stdout, so the rest of the Worker/WorkerTasks
// pipeline is transport-agnostic.
type httpRuntime struct {
	tokenTracker
	cfg     Config
	client  *http.Client
	events  chan Event
	cancel  context.CancelFunc
	started time.Time
}

func newHTTPRuntime(cfg Config) (*httpRuntime, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("http runtime: endpoint required")
	}
	return &httpRuntime{
		cfg:    cfg,
		client: &http.Client{},
		events: make(chan Event, 64),
	}, nil
}

// Start records the runtime's launch time; the HTTP variant has no
// persistent connection to establish until the first Send.
func (r *httpRuntime) Start(ctx context.Context) error {
	_, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.started = time.Now()
	log.Info(log.CatRuntime, "http runtime started", "endpoint", r.cfg.Endpoint)
	return nil
}

// Send POSTs prompt to the configured endpoint and streams the
// response body as output-line events on a background goroutine.
func (r *httpRuntime) Send(prompt string) error {
	req, err := http.NewRequest(http.MethodPost, r.cfg.Endpoint, strings.NewReader(prompt))
	if err != nil {
		return fmt.Errorf("http runtime: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("http runtime: request: %w", err)
	}

	go func() {
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			warn, exceeded, estimatedTokens := r.tokenTracker.accumulate(len(line))
			if warn {
				r.events <- Event{Kind: EventWarning, TaskID: r.tokenTracker.activeTaskID(), EstimatedTokens: estimatedTokens}
			}
			r.events <- Event{Kind: EventOutputLine, Line: line, TaskID: r.tokenTracker.activeTaskID(), EstimatedTokens: estimatedTokens}
			if exceeded {
				r.events <- Event{Kind: EventCancelledTokenBudget, TaskID: r.tokenTracker.activeTaskID()}
				r.Cancel()
				return
			}
		}
		logRuntimeExit(KindHTTP, resp.StatusCode, time.Since(r.started))
		r.events <- Event{Kind: EventExited, ExitCode: resp.StatusCode}
	}()
	return nil
}

func (r *httpRuntime) Events() <-chan Event { return r.events }

func (r *httpRuntime) SetTaskBudget(taskID string, maxTokens int) {
	r.tokenTracker.setBudget(taskID, maxTokens)
}

func (r *httpRuntime) Cancel() {
	if r.cancel != nil {
		r.cancel()
	}
}
