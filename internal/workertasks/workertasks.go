// Package workertasks implements WorkerTasks: a per-worker active-task
// table that schedules deadline timers and emits TaskBudgetReport on
// completion, per spec §4.6.
package workertasks

import (
	"context"
	"time"

	"github.com/taskswarm/orchestrator/internal/actor"
	"github.com/taskswarm/orchestrator/internal/bus"
	"github.com/taskswarm/orchestrator/internal/domain"
	"github.com/taskswarm/orchestrator/internal/log"
	"github.com/taskswarm/orchestrator/internal/telemetry"
)

// EventTaskBudgetReport is published on the system event bus whenever
// a tracked task reaches a terminal state.
const EventTaskBudgetReport bus.EventType = "workertasks.budget_report"

// BudgetReport is the payload for EventTaskBudgetReport.
type BudgetReport struct {
	WorkerID         string
	TaskID           string
	Elapsed          time.Duration
	EstimatedTokens  int
	Risk             domain.Risk
	DeadlineExceeded bool
	TokenExceeded    bool
}

type activeTask struct {
	budget          domain.TaskBudget
	startedAt       time.Time
	estimatedTokens int
}

// DeadlineFailed is sent back to the owning Worker when a task's
// deadline timer fires.
type DeadlineFailed struct {
	TaskID string
	Reason string
}

// Tasks is the per-worker active-task table.
type Tasks struct {
	workerID string
	bus      *bus.Bus
	timers   *actor.TimerWheel
	owner    actor.Ref // the Worker to notify on deadline fire

	active map[string]*activeTask
}

// New creates a Tasks table for workerID. owner receives DeadlineFailed
// messages when a task's timer fires.
func New(workerID string, b *bus.Bus, owner actor.Ref) *Tasks {
	return &Tasks{
		workerID: workerID,
		bus:      b,
		timers:   actor.NewTimerWheel(),
		owner:    owner,
		active:   make(map[string]*activeTask),
	}
}

// Assign records a newly assigned task and, if it carries a deadline,
// arms a named single-shot timer keyed by task-id.
func (t *Tasks) Assign(taskID string, budget domain.TaskBudget) {
	t.active[taskID] = &activeTask{budget: budget, startedAt: time.Now()}
	if budget.HasDeadline() {
		t.timers.Start(taskID, budget.Deadline, func() {
			t.onDeadline(taskID)
		})
	}
}

// RecordTokens updates a task's estimated token usage, used for the
// budget report's token field. Monotonically nondecreasing per the
// spec's budget-accounting law.
func (t *Tasks) RecordTokens(taskID string, estimated int) {
	if at, ok := t.active[taskID]; ok && estimated > at.estimatedTokens {
		at.estimatedTokens = estimated
	}
}

func (t *Tasks) onDeadline(taskID string) {
	at, ok := t.active[taskID]
	if !ok {
		return
	}
	log.Warn(log.CatWorker, "task deadline exceeded", "worker_id", t.workerID, "task_id", taskID)
	t.complete(taskID, at, true, false)
	if t.owner.Valid() {
		t.owner.Send(DeadlineFailed{TaskID: taskID, Reason: "Deadline exceeded"})
	}
}

// Complete cancels the task's deadline timer and emits a
// TaskBudgetReport. tokenExceeded is passed in explicitly since the
// WorkerRuntime, not WorkerTasks, tracks accumulated characters.
func (t *Tasks) Complete(taskID string, tokenExceeded bool) {
	at, ok := t.active[taskID]
	if !ok {
		return
	}
	t.timers.Cancel(taskID)
	t.complete(taskID, at, false, tokenExceeded)
}

func (t *Tasks) complete(taskID string, at *activeTask, deadlineExceeded, tokenExceeded bool) {
	delete(t.active, taskID)
	report := BudgetReport{
		WorkerID:         t.workerID,
		TaskID:           taskID,
		Elapsed:          time.Since(at.startedAt),
		EstimatedTokens:  at.estimatedTokens,
		Risk:             at.budget.Risk,
		DeadlineExceeded: deadlineExceeded,
		TokenExceeded:    tokenExceeded,
	}
	if t.bus != nil {
		t.bus.Publish(bus.Event{Type: EventTaskBudgetReport, Timestamp: time.Now(), Payload: report})
	}
	if tokenExceeded {
		telemetry.RecordTokenOverrun(context.Background(), t.workerID, taskID)
	}
}

// Stop cancels every outstanding timer, used on worker shutdown.
func (t *Tasks) Stop() {
	t.timers.CancelAll()
}

// ActiveCount returns the number of tasks currently tracked.
func (t *Tasks) ActiveCount() int {
	return len(t.active)
}
