package worker

import (
	"time"

	"github.com/taskswarm/orchestrator/internal/actor"
	"github.com/taskswarm/orchestrator/internal/domain"
)

// TaskAvailable is broadcast by the Dispatcher to every capable worker
// when a task enters auction.
type TaskAvailable struct {
	Task       domain.Task
	BidWindow  time.Duration
	Dispatcher actor.Ref
}

// TaskAssigned notifies the winning worker it has been given a task.
// ReplyTo is who receives the eventual TaskReport: the TaskGraph for a
// graph node, a standalone submitter, or an invalid Ref for
// fire-and-forget tasks nobody is waiting on.
type TaskAssigned struct {
	Task    domain.Task
	ReplyTo actor.Ref
}

// BidRejected notifies a losing bidder.
type BidRejected struct {
	TaskID string
}

// RuntimeOutputLine is a re-delivered runtime.Event carrying one output
// line, its estimated token count, and the owning task id. Activity is
// classified later, in handleRuntimeOutput.
type RuntimeOutputLine struct {
	TaskID          string
	Line            string
	EstimatedTokens int
}

// RuntimeExited is re-delivered when the owned WorkerRuntime's process
// exits or crashes.
type RuntimeExited struct {
	ExitCode int
}

// RuntimeTokenBudgetExceeded is re-delivered when the owned runtime
// cancels a task for exceeding its token budget.
type RuntimeTokenBudgetExceeded struct {
	TaskID string
}

// TaskCompletedIn is sent to the worker's own mailbox once its runtime
// reports a task finished successfully.
// Subplan is non-nil when the agent is proposing a progressive
// decomposition instead of a final result; parsing the raw runtime
// output into a Subplan is outside the core (spec §1's "specific
// subprocess wire protocols" boundary) — callers construct it directly.
type TaskCompletedIn struct {
	TaskID  string
	Summary string
	Subplan *domain.Subplan
}

// TaskFailedIn is the failure counterpart of TaskCompletedIn.
type TaskFailedIn struct {
	TaskID string
	Reason string
}

// SubtasksCompleted is sent by TaskGraph to a parent node's assigned
// worker once its stop condition is satisfied, per spec §4.10
// synthesis. The worker is expected to eventually emit a final
// TaskCompletedIn{TaskID: ParentID} for the parent.
type SubtasksCompleted struct {
	ParentID string
	Results  map[string]domain.SubtaskResult
}

// TaskDecompositionAccepted/Rejected are delivered to the proposing
// worker in reply to a Subplan carried on a TaskReport.
type TaskDecompositionAccepted struct {
	ParentID string
	ChildIDs []string
}

type TaskDecompositionRejected struct {
	ParentID string
	Reason   string
}

// Stop requests the worker shut down, gracefully unless Force is set.
// Done, if non-nil, is closed once handleStop has unregistered
// capabilities and cancelled the runtime — callers that need the
// cleanup to have actually run (as opposed to just cancelling the
// mailbox) wait on it before tearing down the actor itself.
type Stop struct {
	Force bool
	Done  chan struct{}
}
