package dispatcher

import (
	"time"

	"github.com/taskswarm/orchestrator/internal/actor"
	"github.com/taskswarm/orchestrator/internal/domain"
)

// TaskRequest asks the dispatcher to auction a task, per spec §4.9.
// GraphID is empty for a standalone task request.
type TaskRequest struct {
	Task     domain.Task
	GraphID  string
	ReplyTo  actor.Ref // who receives TaskAssigned/TaskFailed for this task
}

// RiskApproved/RiskDenied resume or kill a WaitingForApproval flow.
type RiskApproved struct{ TaskID string }
type RiskDenied struct{ TaskID string }

// bidWindowExpired is the internal timer-fire message for a task's
// auction window.
type bidWindowExpired struct{ TaskID string }

// TaskAssignedOut announces an assignment: the dispatcher sends it to
// ReplyTo and publishes it on the bus for observability. The winning
// worker itself receives a worker.TaskAssigned.
type TaskAssignedOut struct {
	Task     domain.Task
	WorkerID string
	GraphID  string
}

// TaskFailedOut is sent to ReplyTo when no worker can be assigned or a
// risk gate denies the task.
type TaskFailedOut struct {
	TaskID  string
	GraphID string
	Reason  string
}

// RiskApprovalRequiredOut is emitted (via the bus) when a Critical-risk
// task reaches the pre-gate.
type RiskApprovalRequiredOut struct {
	TaskID      string
	Risk        domain.Risk
	Description string
}

// DefaultBidWindow is the 500ms auction window from spec §4.9/§5.
const DefaultBidWindow = 500 * time.Millisecond
