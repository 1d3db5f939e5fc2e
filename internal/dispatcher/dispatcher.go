// Package dispatcher implements Dispatcher, the market-style auction
// engine from spec §4.9: pre-gate risk approval, capability lookup,
// bid broadcast, a per-task bid-collection window, fitness-maximal
// selection with tie-breaks, and first-capable-worker fallback on
// silence.
package dispatcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taskswarm/orchestrator/internal/actor"
	"github.com/taskswarm/orchestrator/internal/bus"
	"github.com/taskswarm/orchestrator/internal/domain"
	"github.com/taskswarm/orchestrator/internal/log"
	"github.com/taskswarm/orchestrator/internal/telemetry"
	"github.com/taskswarm/orchestrator/internal/worker"
)

// Registry is the capability-query collaborator; satisfied by
// *skillregistry.Registry.
type Registry interface {
	QueryCapable(required []string) []string
}

// WorkerDirectory resolves a worker id to the Ref used to send it
// messages. Kept separate from Registry so tests can substitute a
// trivial in-memory map.
type WorkerDirectory interface {
	RefFor(workerID string) (actor.Ref, bool)
}

// Config configures a Dispatcher.
type Config struct {
	Registry   Registry
	Directory  WorkerDirectory
	Bus        *bus.Bus
	BidWindow  time.Duration
	Timers     *actor.TimerWheel
}

type bidCollector struct {
	task      domain.Task
	graphID   string
	replyTo   actor.Ref
	bids      []domain.Bid
	closed    bool
	startedAt time.Time
}

// Dispatcher is the auction engine actor. Each in-flight auction is
// isolated by task-id in the collectors map; multiple tasks may be in
// bid collection simultaneously.
type Dispatcher struct {
	cfg Config

	mu         sync.Mutex
	collectors map[string]*bidCollector
	pending    map[string]struct{} // task-ids waiting on risk approval
}

// New constructs a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.BidWindow <= 0 {
		cfg.BidWindow = DefaultBidWindow
	}
	if cfg.Timers == nil {
		cfg.Timers = actor.NewTimerWheel()
	}
	return &Dispatcher{
		cfg:        cfg,
		collectors: make(map[string]*bidCollector),
		pending:    make(map[string]struct{}),
	}
}

// Behavior returns the actor.Behavior for this dispatcher. self is the
// dispatcher's own ref, used so the bid-window timer can deliver its
// fire message back through the mailbox rather than calling directly
// (preserving the single-threaded-per-actor invariant).
func (d *Dispatcher) Behavior(self actor.Ref) actor.Behavior {
	return func(ctx context.Context, msg actor.Message) error {
		switch m := msg.(type) {
		case TaskRequest:
			d.handleTaskRequest(self, m)
		case RiskApproved:
			d.handleRiskApproved(self, m)
		case RiskDenied:
			d.handleRiskDenied(m)
		case worker.BidMsg:
			d.handleBid(m.Bid)
		case bidWindowExpired:
			d.handleWindowExpired(m.TaskID)
		}
		return nil
	}
}

func (d *Dispatcher) handleTaskRequest(self actor.Ref, req TaskRequest) {
	budget := domain.TaskBudget{}
	if req.Task.Budget != nil {
		budget = *req.Task.Budget
	}

	if budget.Risk == domain.RiskCritical {
		d.mu.Lock()
		d.pending[req.Task.ID] = struct{}{}
		d.collectors[req.Task.ID] = &bidCollector{task: req.Task, graphID: req.GraphID, replyTo: req.ReplyTo}
		d.mu.Unlock()

		if d.cfg.Bus != nil {
			d.cfg.Bus.Publish(bus.Event{
				Type: bus.EventRiskApprovalRequired,
				Payload: RiskApprovalRequiredOut{
					TaskID: req.Task.ID, Risk: budget.Risk, Description: req.Task.Description,
				},
			})
		}
		return
	}

	d.startAuction(self, req)
}

func (d *Dispatcher) handleRiskApproved(self actor.Ref, m RiskApproved) {
	d.mu.Lock()
	_, waiting := d.pending[m.TaskID]
	collector := d.collectors[m.TaskID]
	delete(d.pending, m.TaskID)
	d.mu.Unlock()
	if !waiting || collector == nil {
		return
	}
	d.startAuction(self, TaskRequest{Task: collector.task, GraphID: collector.graphID, ReplyTo: collector.replyTo})
}

func (d *Dispatcher) handleRiskDenied(m RiskDenied) {
	d.mu.Lock()
	_, waiting := d.pending[m.TaskID]
	collector := d.collectors[m.TaskID]
	delete(d.pending, m.TaskID)
	delete(d.collectors, m.TaskID)
	d.mu.Unlock()
	if !waiting || collector == nil {
		return
	}
	d.fail(collector, "risk denied")
}

func (d *Dispatcher) startAuction(self actor.Ref, req TaskRequest) {
	capable := d.cfg.Registry.QueryCapable(req.Task.RequiredCapabilities)
	if len(capable) == 0 {
		d.fail(&bidCollector{task: req.Task, graphID: req.GraphID, replyTo: req.ReplyTo}, "no agent satisfies the capability requirement")
		return
	}

	d.mu.Lock()
	d.collectors[req.Task.ID] = &bidCollector{task: req.Task, graphID: req.GraphID, replyTo: req.ReplyTo, startedAt: time.Now()}
	d.mu.Unlock()

	window := d.cfg.BidWindow
	for _, workerID := range capable {
		if ref, ok := d.cfg.Directory.RefFor(workerID); ok {
			ref.Send(worker.TaskAvailable{Task: req.Task, BidWindow: window, Dispatcher: self})
		}
	}

	d.cfg.Timers.Start("bid-window:"+req.Task.ID, window, func() {
		self.Send(bidWindowExpired{TaskID: req.Task.ID})
	})
}

// handleBid accepts a bid only while its collector is open; bids
// arriving after window closure are discarded, satisfying the
// idempotent-with-respect-to-late-bids requirement.
func (d *Dispatcher) handleBid(bid domain.Bid) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collectors[bid.TaskID]
	if !ok || c.closed {
		return
	}
	c.bids = append(c.bids, bid)
}

func (d *Dispatcher) handleWindowExpired(taskID string) {
	d.mu.Lock()
	c, ok := d.collectors[taskID]
	if ok {
		c.closed = true
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	if len(c.bids) > 0 {
		winner := selectWinner(c.bids)
		d.assign(c, winner.WorkerID)
		for _, b := range c.bids {
			if b.WorkerID == winner.WorkerID {
				continue
			}
			if ref, ok := d.cfg.Directory.RefFor(b.WorkerID); ok {
				ref.Send(worker.BidRejected{TaskID: taskID})
			}
		}
	} else {
		capable := d.cfg.Registry.QueryCapable(c.task.RequiredCapabilities)
		if len(capable) == 0 {
			d.fail(c, "no agent satisfies the capability requirement")
			return
		}
		log.Warn(log.CatDispatch, "no bids received, falling back to first capable worker", "task_id", taskID, "worker_id", capable[0])
		d.assign(c, capable[0])
	}

	d.mu.Lock()
	delete(d.collectors, taskID)
	d.mu.Unlock()
}

// selectWinner implements the tie-break chain from spec §4.9: highest
// fitness, then lowest active-task count, then shortest estimated
// duration.
func selectWinner(bids []domain.Bid) domain.Bid {
	sorted := append([]domain.Bid(nil), bids...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Fitness != b.Fitness {
			return a.Fitness > b.Fitness
		}
		if a.ActiveTaskCount != b.ActiveTaskCount {
			return a.ActiveTaskCount < b.ActiveTaskCount
		}
		return a.EstimatedDur < b.EstimatedDur
	})
	return sorted[0]
}

func (d *Dispatcher) assign(c *bidCollector, workerID string) {
	if !c.startedAt.IsZero() {
		telemetry.RecordBidLatency(context.Background(), c.task.ID, time.Since(c.startedAt))
	}
	if ref, ok := d.cfg.Directory.RefFor(workerID); ok {
		ref.Send(worker.TaskAssigned{Task: c.task, ReplyTo: c.replyTo})
	}
	out := TaskAssignedOut{Task: c.task, WorkerID: workerID, GraphID: c.graphID}
	if d.cfg.Bus != nil {
		d.cfg.Bus.Publish(bus.Event{Type: bus.EventTaskAssigned, Timestamp: time.Now(), Payload: out})
	}
	if c.replyTo.Valid() {
		c.replyTo.Send(out)
	}
}

func (d *Dispatcher) fail(c *bidCollector, reason string) {
	log.Warn(log.CatDispatch, "task failed", "task_id", c.task.ID, "reason", reason)
	out := TaskFailedOut{TaskID: c.task.ID, GraphID: c.graphID, Reason: reason}
	if d.cfg.Bus != nil {
		d.cfg.Bus.Publish(bus.Event{Type: bus.EventTaskFailed, Timestamp: time.Now(), Payload: out})
	}
	if c.replyTo.Valid() {
		c.replyTo.Send(out)
	}
}
