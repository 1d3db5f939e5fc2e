package domain

import "time"

// TaskNodeStatus is the lifecycle state of a node inside a TaskGraph.
type TaskNodeStatus int

const (
	NodePending TaskNodeStatus = iota
	NodeReady
	NodeDispatched
	NodeCompleted
	NodeFailed
	NodeCancelled
	NodeWaitingForSubtasks
	NodeSynthesizing
)

func (s TaskNodeStatus) String() string {
	switch s {
	case NodePending:
		return "pending"
	case NodeReady:
		return "ready"
	case NodeDispatched:
		return "dispatched"
	case NodeCompleted:
		return "completed"
	case NodeFailed:
		return "failed"
	case NodeCancelled:
		return "cancelled"
	case NodeWaitingForSubtasks:
		return "waiting_for_subtasks"
	case NodeSynthesizing:
		return "synthesizing"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is one a node cannot leave.
func (s TaskNodeStatus) Terminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal
// transition in the node state machine. Terminal states never move.
func (s TaskNodeStatus) CanTransitionTo(next TaskNodeStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case NodePending:
		return next == NodeReady || next == NodeCancelled
	case NodeReady:
		return next == NodeDispatched || next == NodeCancelled
	case NodeDispatched:
		return next == NodeCompleted || next == NodeFailed || next == NodeCancelled || next == NodeWaitingForSubtasks
	case NodeWaitingForSubtasks:
		return next == NodeSynthesizing || next == NodeFailed || next == NodeCancelled
	case NodeSynthesizing:
		return next == NodeCompleted || next == NodeFailed
	default:
		return false
	}
}

// TaskNode is one vertex of a TaskGraph.
type TaskNode struct {
	ID       string
	Task     Task
	Status   TaskNodeStatus
	Depth    int
	ParentOf string // non-empty if this node was produced by decomposition
	Children []string
	Stop     StopCondition
	Result   string
	Success  bool
}

// TaskEdge is a directed "must complete before" dependency: From must
// reach Completed before To becomes dispatchable.
type TaskEdge struct {
	From string
	To   string
}

// StopCondition names the rule that decides when a parent's decomposed
// children are "done enough" to synthesize.
type StopCondition int

const (
	StopAllSubtasksComplete StopCondition = iota
	StopFirstSuccess
	StopUserDecision
)

func (c StopCondition) String() string {
	switch c {
	case StopAllSubtasksComplete:
		return "all_subtasks_complete"
	case StopFirstSuccess:
		return "first_success"
	case StopUserDecision:
		return "user_decision"
	default:
		return "unknown"
	}
}

// GraphState is the full in-memory state of a TaskGraph actor: a node
// map, the edge set, and the per-graph budget/deadline. Depth, parent
// and stop-condition data live on the TaskNode itself; adjacency is
// derived from Edges (Parents/Children), and worker assignments are
// kept in the AssignedAgent map.
type GraphState struct {
	ID         string
	Nodes      map[string]*TaskNode
	Edges      []TaskEdge
	Deadline   time.Duration
	StartedAt  time.Time
	MaxDepth   int
	MaxPerNode int
	MaxNodes   int
	Completed  bool

	// AssignedAgent maps node id -> worker id, populated once the
	// dispatcher reports a winner, and consulted at synthesis time to
	// address the parent's SubtasksCompleted message.
	AssignedAgent map[string]string
}

// Parents returns the node ids that must complete before id becomes ready.
func (g *GraphState) Parents(id string) []string {
	var parents []string
	for _, e := range g.Edges {
		if e.To == id {
			parents = append(parents, e.From)
		}
	}
	return parents
}

// Children returns the node ids that depend on id.
func (g *GraphState) Children(id string) []string {
	var children []string
	for _, e := range g.Edges {
		if e.From == id {
			children = append(children, e.To)
		}
	}
	return children
}

// Acyclic reports whether the graph's edges form a DAG, via Kahn's
// algorithm over the node/edge set.
func (g *GraphState) Acyclic() bool {
	indegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		indegree[id] = 0
	}
	for _, e := range g.Edges {
		indegree[e.To]++
	}
	var queue []string
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, c := range g.Children(id) {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	return visited == len(g.Nodes)
}

// Ready returns the ids of Pending nodes whose parents have all
// reached NodeCompleted.
func (g *GraphState) Ready() []string {
	var ready []string
	for id, n := range g.Nodes {
		if n.Status != NodePending {
			continue
		}
		allParentsDone := true
		for _, p := range g.Parents(id) {
			if pn, ok := g.Nodes[p]; !ok || pn.Status != NodeCompleted {
				allParentsDone = false
				break
			}
		}
		if allParentsDone {
			ready = append(ready, id)
		}
	}
	return ready
}

// AllTerminal reports whether every node in the graph is terminal.
func (g *GraphState) AllTerminal() bool {
	for _, n := range g.Nodes {
		if !n.Status.Terminal() {
			return false
		}
	}
	return true
}

// StopSatisfied reports whether parent's stop condition currently holds
// given its children's statuses.
func (g *GraphState) StopSatisfied(parentID string) bool {
	parent, ok := g.Nodes[parentID]
	if !ok {
		return false
	}
	switch parent.Stop {
	case StopFirstSuccess:
		for _, cid := range parent.Children {
			if c, ok := g.Nodes[cid]; ok && c.Status == NodeCompleted {
				return true
			}
		}
		return false
	case StopAllSubtasksComplete:
		for _, cid := range parent.Children {
			c, ok := g.Nodes[cid]
			if !ok || !c.Status.Terminal() {
				return false
			}
		}
		return len(parent.Children) > 0
	default: // StopUserDecision: never auto-satisfied
		return false
	}
}

// SubplanTask is one proposed child of a progressive decomposition.
// DependsOn holds indices into the enclosing Subplan.Tasks slice,
// resolved to real node ids only after the decomposition is accepted.
type SubplanTask struct {
	Description          string
	RequiredCapabilities []string
	Budget               *TaskBudget
	DependsOn            []int
}

// Subplan is a worker's proposed split of a task into dependent
// subtasks, carried on a TaskCompleted report in place of a final
// result. Parsing the agent's raw output into a Subplan is a
// responsibility of the (out-of-core-scope) runtime wire protocol;
// the core only evaluates and wires the result.
type Subplan struct {
	Tasks []SubplanTask
	Stop  StopCondition
}

// SubtaskResult is one child's outcome as reported to the parent's
// worker at synthesis time.
type SubtaskResult struct {
	Success bool
	Summary string
}

// WorkerStatus is a worker's availability for bidding.
type WorkerStatus int

const (
	WorkerIdle WorkerStatus = iota
	WorkerBusy
	WorkerDraining
	WorkerStopped
)

func (s WorkerStatus) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerBusy:
		return "busy"
	case WorkerDraining:
		return "draining"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// WorkerDescriptor is the dispatcher's view of a worker's identity and
// capacity, as advertised at registration and refreshed on every bid.
type WorkerDescriptor struct {
	ID              string
	Capabilities    []string
	Status          WorkerStatus
	ActiveTaskCount int
	Concurrency     int
}

// HasCapacity reports whether the worker can take on another task.
func (d WorkerDescriptor) HasCapacity() bool {
	return d.Status != WorkerStopped && d.Status != WorkerDraining && d.ActiveTaskCount < d.Concurrency
}
