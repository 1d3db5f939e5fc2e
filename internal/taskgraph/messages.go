package taskgraph

import (
	"time"

	"github.com/taskswarm/orchestrator/internal/actor"
	"github.com/taskswarm/orchestrator/internal/domain"
)

// NodeSpec describes one node of a submitted graph, before the
// executor's own status/depth/parent bookkeeping is attached.
type NodeSpec struct {
	ID                   string
	Description          string
	RequiredCapabilities []string
	Budget               *domain.TaskBudget
	Stop                 domain.StopCondition // governs this node's own children, if it later decomposes
}

// SubmitTaskGraph asks the executor to accept and run a DAG, per spec
// §4.10. ReplyTo receives TaskGraphAccepted/TaskGraphRejected, and
// later exactly one TaskGraphCompleted.
type SubmitTaskGraph struct {
	GraphID  string
	Nodes    []NodeSpec
	Edges    []domain.TaskEdge
	Deadline time.Duration
	ReplyTo  actor.Ref
}

// TaskGraphAccepted is the positive SubmitTaskGraph reply.
type TaskGraphAccepted struct {
	GraphID string
}

// TaskGraphRejected is the negative SubmitTaskGraph reply; the graph
// is discarded and no dispatch occurs.
type TaskGraphRejected struct {
	GraphID string
	Reason  string
}

// TaskGraphCompleted is emitted exactly once per accepted graph, once
// every node reaches a terminal status.
type TaskGraphCompleted struct {
	GraphID string
	Results map[string]bool // node-id -> success
}

// graphDeadlineFired is the internal timer-fire message for a graph's
// overall deadline.
type graphDeadlineFired struct {
	GraphID string
}
