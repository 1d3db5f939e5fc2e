// Package worker implements Worker, the agent actor from spec §4.7: it
// holds a capability set and working memory, bids on available tasks,
// orchestrates pre-task knowledge retrieval, and forwards completions
// to WorkerTasks and the TaskGraph (or standalone submitter).
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskswarm/orchestrator/internal/actor"
	"github.com/taskswarm/orchestrator/internal/bus"
	"github.com/taskswarm/orchestrator/internal/domain"
	"github.com/taskswarm/orchestrator/internal/knowledge"
	"github.com/taskswarm/orchestrator/internal/log"
	"github.com/taskswarm/orchestrator/internal/memory"
	"github.com/taskswarm/orchestrator/internal/runtime"
	"github.com/taskswarm/orchestrator/internal/skillregistry"
	"github.com/taskswarm/orchestrator/internal/viewport"
	"github.com/taskswarm/orchestrator/internal/workertasks"
)

// MinBidFitness is the minimum fitness a worker requires to bid, per
// spec §4.7 ("fitness ... >= 0.5").
const MinBidFitness = 0.5

// DefaultKnowledgeTimeout is the 5s pre-task retrieval timeout from
// spec §4.7, configurable by Config.
const DefaultKnowledgeTimeout = 5 * time.Second

// Config configures a Worker at construction.
type Config struct {
	ID               string
	Capabilities     []string
	Concurrency      int
	KnowledgeTimeout time.Duration
	RuntimeConfig    runtime.Config
	Classifier       runtime.Classifier
	Registry         *skillregistry.Registry
	Bus              *bus.Bus
	Knowledge        *knowledge.Store
	Memory           *memory.Store
	Viewport         actor.Ref
}

// Worker is the agent actor. It is not itself spawned via actor.System
// directly by callers; WorkerSupervisor wraps New, Start and Behavior
// in a spawn call so restarts rebuild fresh state exactly like every
// other actor in the tree.
type Worker struct {
	cfg  Config
	self actor.Ref

	activeTaskCount int
	workingMemory   map[string]map[string]string // task-id -> key -> value
	reportTo        map[string]reportTarget      // task-id -> who gets the TaskReport
	rt              runtime.Runtime
	tasks           *workertasks.Tasks
	dedup           *runtime.MessageDeduplicator
}

// reportTarget is where a task's eventual TaskReport is delivered, and
// the graph-id (if any) it belongs to so TaskGraph can route it in
// O(1) without scanning every graph it owns.
type reportTarget struct {
	ref     actor.Ref
	graphID string
}

// New constructs a Worker. Call Start to register capabilities and
// launch the runtime.
func New(cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.KnowledgeTimeout <= 0 {
		cfg.KnowledgeTimeout = DefaultKnowledgeTimeout
	}
	if cfg.Classifier == nil {
		cfg.Classifier = runtime.DefaultClassifier()
	}
	return &Worker{
		cfg:           cfg,
		workingMemory: make(map[string]map[string]string),
		reportTo:      make(map[string]reportTarget),
		dedup:         runtime.NewMessageDeduplicator(runtime.DefaultDeduplicationWindow),
	}
}

// Start registers capabilities, announces spawn to the viewport, and
// starts the runtime's background read loop.
func (w *Worker) Start(ctx context.Context, self actor.Ref) error {
	w.self = self
	if w.cfg.Registry != nil {
		w.cfg.Registry.Register(w.cfg.ID, w.cfg.Capabilities)
	}
	if w.cfg.Viewport.Valid() {
		w.cfg.Viewport.Send(viewport.WorkerSpawned{WorkerID: w.cfg.ID})
	}
	w.tasks = workertasks.New(w.cfg.ID, w.cfg.Bus, self)

	rt, err := runtime.New(w.cfg.RuntimeConfig)
	if err != nil {
		return fmt.Errorf("worker %s: %w", w.cfg.ID, err)
	}
	w.rt = rt
	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("worker %s: start runtime: %w", w.cfg.ID, err)
	}
	go w.pumpRuntimeEvents(self)

	log.Info(log.CatWorker, "worker started", "id", w.cfg.ID, "capabilities", fmt.Sprint(w.cfg.Capabilities))
	return nil
}

// pumpRuntimeEvents re-delivers runtime.Events as actor messages to
// self, per the "completions are re-delivered as follow-up messages"
// rule in spec §5 — the worker's Behavior never blocks on runtime I/O.
func (w *Worker) pumpRuntimeEvents(self actor.Ref) {
	for ev := range w.rt.Events() {
		switch ev.Kind {
		case runtime.EventOutputLine:
			if w.dedup.Allow(ev.Line) {
				self.Send(RuntimeOutputLine{TaskID: ev.TaskID, Line: ev.Line, EstimatedTokens: ev.EstimatedTokens})
			}
		case runtime.EventExited:
			self.Send(RuntimeExited{ExitCode: ev.ExitCode})
		case runtime.EventCancelledTokenBudget:
			self.Send(RuntimeTokenBudgetExceeded{TaskID: ev.TaskID})
		}
	}
}

// Behavior returns the actor.Behavior closure the actor system drives.
func (w *Worker) Behavior() actor.Behavior {
	return func(ctx context.Context, msg actor.Message) error {
		switch m := msg.(type) {
		case TaskAvailable:
			w.handleTaskAvailable(m)
		case TaskAssigned:
			w.handleTaskAssigned(ctx, m)
		case BidRejected:
			log.Debug(log.CatWorker, "bid rejected", "worker_id", w.cfg.ID, "task_id", m.TaskID)
		case RuntimeOutputLine:
			w.handleRuntimeOutput(m)
		case RuntimeExited:
			w.handleRuntimeExited(m)
		case RuntimeTokenBudgetExceeded:
			w.handleTokenBudgetExceeded(m)
		case workertasks.DeadlineFailed:
			w.handleTaskFailed(TaskFailedIn{TaskID: m.TaskID, Reason: m.Reason})
		case TaskCompletedIn:
			w.handleTaskCompleted(m)
		case TaskFailedIn:
			w.handleTaskFailed(m)
		case SubtasksCompleted:
			w.handleSubtasksCompleted(m)
		case TaskDecompositionAccepted:
			log.Debug(log.CatWorker, "decomposition accepted", "worker_id", w.cfg.ID, "parent_id", m.ParentID, "children", len(m.ChildIDs))
		case TaskDecompositionRejected:
			log.Warn(log.CatWorker, "decomposition rejected", "worker_id", w.cfg.ID, "parent_id", m.ParentID, "reason", m.Reason)
		case Stop:
			w.handleStop(m)
		}
		return nil
	}
}

// handleTaskAvailable implements the bidding rule from spec §4.7:
// bid only if under capacity and fitness >= MinBidFitness.
func (w *Worker) handleTaskAvailable(m TaskAvailable) {
	if w.activeTaskCount >= w.cfg.Concurrency {
		return
	}
	fitness := domain.Fitness(m.Task.RequiredCapabilities, w.cfg.Capabilities)
	if fitness < MinBidFitness {
		return
	}
	bid := domain.Bid{
		TaskID:          m.Task.ID,
		WorkerID:        w.cfg.ID,
		Fitness:         fitness,
		ActiveTaskCount: w.activeTaskCount,
		EstimatedDur:    estimateDuration(m.Task),
	}
	if w.cfg.Bus != nil {
		w.cfg.Bus.Publish(bus.Event{Type: bus.EventBidCast, Timestamp: time.Now(), Payload: bid})
	}
	m.Dispatcher.Send(BidMsg{Bid: bid})
}

// BidMsg wraps a domain.Bid as the actor message sent to the
// Dispatcher. Kept distinct from domain.Bid so the dispatcher's
// mailbox type switch doesn't collide with other messages.
type BidMsg struct {
	Bid domain.Bid
}

func estimateDuration(t domain.Task) time.Duration {
	// A simple heuristic: longer descriptions take longer. Real
	// runtimes report their own estimates once execution begins;
	// this is only the bid-time guess used for tie-breaking.
	base := 2 * time.Second
	return base + time.Duration(len(t.Description)/10)*time.Second
}

// handleTaskAssigned implements the assignment handler from spec
// §4.7: increment active count, forward budget to the runtime, issue
// a bounded knowledge query, assemble a prompt, and hand off to
// WorkerTasks.
func (w *Worker) handleTaskAssigned(ctx context.Context, m TaskAssigned) {
	w.activeTaskCount++
	w.workingMemory[m.Task.ID] = make(map[string]string)
	w.reportTo[m.Task.ID] = reportTarget{ref: m.ReplyTo, graphID: m.Task.GraphID}

	budget := domain.TaskBudget{}
	if m.Task.Budget != nil {
		budget = *m.Task.Budget
	}
	if budget.HasMaxTokens() {
		w.rt.SetTaskBudget(m.Task.ID, budget.MaxTokens)
	}

	var entries []domain.KnowledgeEntry
	if m.Task.Description != "" && w.cfg.Knowledge != nil {
		qctx, cancel := context.WithTimeout(ctx, w.cfg.KnowledgeTimeout)
		entries = w.cfg.Knowledge.QueryKnowledge(qctx, m.Task.Description, "", 5)
		cancel()
	}

	prompt := assemblePrompt(entries, m.Task.Description)
	if err := w.rt.Send(prompt); err != nil {
		log.ErrorErr(log.CatWorker, "failed to send prompt to runtime", err, "worker_id", w.cfg.ID, "task_id", m.Task.ID)
	}
	w.tasks.Assign(m.Task.ID, budget)
}

// assemblePrompt builds the structured prompt from spec §4.7: a
// knowledge-context block (category, relevance, tags, content per
// entry) followed by a task block.
func assemblePrompt(entries []domain.KnowledgeEntry, description string) string {
	prompt := ""
	if len(entries) > 0 {
		prompt += "# Knowledge Context\n"
		for _, e := range entries {
			prompt += fmt.Sprintf("- [%s, relevance=%.2f, tags=%v] %s\n", e.Category, e.Relevance, e.Tags, e.Content)
		}
	}
	prompt += "# Task\n" + description
	return prompt
}

// handleRuntimeOutput classifies activity heuristically and forwards
// derived events to the viewport, per spec §4.7.
func (w *Worker) handleRuntimeOutput(m RuntimeOutputLine) {
	if w.tasks != nil {
		w.tasks.RecordTokens(m.TaskID, m.EstimatedTokens)
	}
	activity := w.cfg.Classifier.Classify(m.Line)
	if w.cfg.Viewport.Valid() {
		w.cfg.Viewport.Send(viewport.RuntimeOutput{WorkerID: w.cfg.ID, TaskID: m.TaskID, Line: m.Line, Activity: activity})
	}
}

// handleRuntimeExited logs the exit and forwards it to the viewport.
// It does not restart the runtime and runs no demo-activity cycle.
func (w *Worker) handleRuntimeExited(m RuntimeExited) {
	log.Warn(log.CatWorker, "runtime exited", "worker_id", w.cfg.ID, "exit_code", m.ExitCode)
	if w.cfg.Viewport.Valid() {
		w.cfg.Viewport.Send(viewport.RuntimeExited{WorkerID: w.cfg.ID, ExitCode: m.ExitCode})
	}
}

func (w *Worker) handleTokenBudgetExceeded(m RuntimeTokenBudgetExceeded) {
	w.handleTaskFailed(TaskFailedIn{TaskID: m.TaskID, Reason: "token budget exceeded"})
}

// handleTaskCompleted implements the TaskCompleted(id, success,
// summary?) handler: decrement active count, forward to WorkerTasks
// and the reporting actor, write back to KnowledgeStore/MemoryStore on
// a non-empty summary.
func (w *Worker) handleTaskCompleted(m TaskCompletedIn) {
	if m.Subplan != nil {
		// A decomposition proposal, not a final result: the task stays
		// active on this worker until TaskGraph either rejects it (the
		// worker keeps going) or accepts it and later synthesis closes
		// it out with a real TaskCompletedIn.
		w.reportCompletion(m.TaskID, true, m.Summary, m.Subplan)
		return
	}

	w.activeTaskCount--
	delete(w.workingMemory, m.TaskID)
	w.tasks.Complete(m.TaskID, false)

	if m.Summary != "" {
		if w.cfg.Knowledge != nil {
			w.cfg.Knowledge.StoreKnowledge(context.Background(), m.Summary, domain.KnowledgeOutcome, map[string]string{"task_id": m.TaskID})
		}
		if w.cfg.Memory != nil {
			w.cfg.Memory.StoreContent(context.Background(), m.Summary, m.TaskID, nil)
		}
	}
	w.reportCompletion(m.TaskID, true, m.Summary, nil)
}

// handleTaskFailed writes back as category "pitfall" and forwards.
func (w *Worker) handleTaskFailed(m TaskFailedIn) {
	w.activeTaskCount--
	delete(w.workingMemory, m.TaskID)
	w.tasks.Complete(m.TaskID, m.Reason == "token budget exceeded")

	if w.cfg.Knowledge != nil {
		w.cfg.Knowledge.StoreKnowledge(context.Background(), m.Reason, domain.KnowledgePitfall, map[string]string{"task_id": m.TaskID})
	}
	w.reportCompletion(m.TaskID, false, m.Reason, nil)
}

// handleSubtasksCompleted assembles a synthesis prompt from the
// children's results and hands it to the runtime; the eventual
// TaskCompletedIn{TaskID: m.ParentID} the agent produces closes out
// the parent exactly like any other task, reusing the reportTo entry
// recorded at the parent's original assignment.
func (w *Worker) handleSubtasksCompleted(m SubtasksCompleted) {
	prompt := assembleSynthesisPrompt(m.ParentID, m.Results)
	if w.rt == nil {
		return
	}
	if err := w.rt.Send(prompt); err != nil {
		log.ErrorErr(log.CatWorker, "failed to send synthesis prompt to runtime", err, "worker_id", w.cfg.ID, "parent_id", m.ParentID)
	}
}

func assembleSynthesisPrompt(parentID string, results map[string]domain.SubtaskResult) string {
	prompt := "# Synthesize\nSubtasks of " + parentID + " are done:\n"
	for id, r := range results {
		status := "failed"
		if r.Success {
			status = "succeeded"
		}
		prompt += fmt.Sprintf("- %s (%s): %s\n", id, status, r.Summary)
	}
	return prompt
}

func (w *Worker) reportCompletion(taskID string, success bool, summary string, subplan *domain.Subplan) {
	target, ok := w.reportTo[taskID]
	if subplan == nil {
		delete(w.reportTo, taskID)
	}
	if ok && target.ref.Valid() {
		target.ref.Send(TaskReport{
			TaskID:   taskID,
			WorkerID: w.cfg.ID,
			GraphID:  target.graphID,
			Success:  success,
			Summary:  summary,
			Subplan:  subplan,
		})
	}
}

// TaskReport is what the Worker sends back to TaskGraph/standalone
// callers on completion or failure. A non-nil Subplan proposes a
// progressive decomposition instead of a final result; the parent
// node stays Dispatched (or moves to WaitingForSubtasks) and this
// task-id's reportTo entry is kept so the eventual real completion
// can still be routed.
type TaskReport struct {
	TaskID   string
	WorkerID string
	GraphID  string
	Success  bool
	Summary  string
	Subplan  *domain.Subplan
}

func (w *Worker) handleStop(m Stop) {
	if w.cfg.Registry != nil {
		w.cfg.Registry.Unregister(w.cfg.ID)
	}
	if w.tasks != nil {
		w.tasks.Stop()
	}
	if w.rt != nil {
		w.rt.Cancel()
	}
	if w.cfg.Viewport.Valid() {
		w.cfg.Viewport.Send(viewport.WorkerStopped{WorkerID: w.cfg.ID})
	}
	log.Info(log.CatWorker, "worker stopped", "id", w.cfg.ID, "force", m.Force)
	if m.Done != nil {
		close(m.Done)
	}
}

// NewWorkerID mints a fresh worker id.
func NewWorkerID() string {
	return "worker-" + uuid.NewString()
}
