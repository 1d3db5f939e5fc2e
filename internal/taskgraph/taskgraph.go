// Package taskgraph implements TaskGraph, the DAG executor from spec
// §4.10: submission validation (acyclicity, duplicate/dangling id
// checks), ready-set dispatch through the Dispatcher, completion and
// failure propagation with transitive cancellation, progressive
// decomposition, stop-condition evaluation and synthesis, and a
// graph-wide deadline. One TaskGraph actor owns every in-flight graph,
// keyed by graph id, mirroring the teacher's single-supervisor-many-
// children shape used elsewhere in this tree (WorkerSupervisor).
package taskgraph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/taskswarm/orchestrator/internal/actor"
	"github.com/taskswarm/orchestrator/internal/bus"
	"github.com/taskswarm/orchestrator/internal/dispatcher"
	"github.com/taskswarm/orchestrator/internal/domain"
	"github.com/taskswarm/orchestrator/internal/log"
	"github.com/taskswarm/orchestrator/internal/telemetry"
	"github.com/taskswarm/orchestrator/internal/viewport"
	"github.com/taskswarm/orchestrator/internal/worker"
)

// WorkerDirectory resolves a worker id to its mailbox Ref, used to
// deliver SubtasksCompleted and decomposition replies directly to the
// worker that owns a node.
type WorkerDirectory interface {
	RefFor(workerID string) (actor.Ref, bool)
}

// Config configures a TaskGraph executor.
type Config struct {
	Dispatcher actor.Ref
	Directory  WorkerDirectory
	Bus        *bus.Bus
	Viewport   actor.Ref
	Timers     *actor.TimerWheel

	MaxDepth                    int // spec §6 default 3
	MaxSubtasksPerDecomposition int // default 10
	MaxNodesPerGraph            int // default 100
}

const (
	DefaultMaxDepth                    = 3
	DefaultMaxSubtasksPerDecomposition = 10
	DefaultMaxNodesPerGraph            = 100
)

// entry bundles a graph's executor-owned state with the submitter ref
// that receives its eventual TaskGraphCompleted.
type entry struct {
	state   *domain.GraphState
	replyTo actor.Ref
}

// TaskGraph is the DAG executor actor.
type TaskGraph struct {
	cfg Config

	mu     sync.Mutex
	graphs map[string]*entry
}

// New constructs a TaskGraph executor with cfg's limits defaulted per
// spec §6 where unset.
func New(cfg Config) *TaskGraph {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxSubtasksPerDecomposition <= 0 {
		cfg.MaxSubtasksPerDecomposition = DefaultMaxSubtasksPerDecomposition
	}
	if cfg.MaxNodesPerGraph <= 0 {
		cfg.MaxNodesPerGraph = DefaultMaxNodesPerGraph
	}
	if cfg.Timers == nil {
		cfg.Timers = actor.NewTimerWheel()
	}
	return &TaskGraph{cfg: cfg, graphs: make(map[string]*entry)}
}

// Behavior returns the actor.Behavior for this executor. self lets the
// graph-deadline timer re-deliver its fire as a mailbox message rather
// than mutating state from its own goroutine, preserving the
// single-threaded-per-actor invariant.
func (g *TaskGraph) Behavior(self actor.Ref) actor.Behavior {
	return func(ctx context.Context, msg actor.Message) error {
		switch m := msg.(type) {
		case SubmitTaskGraph:
			g.handleSubmit(self, m)
		case dispatcher.TaskAssignedOut:
			g.handleAssigned(m)
		case dispatcher.TaskFailedOut:
			g.handleDispatchFailed(self, m)
		case worker.TaskReport:
			g.handleWorkerReport(self, m)
		case graphDeadlineFired:
			g.handleDeadline(self, m.GraphID)
		}
		return nil
	}
}

// handleSubmit implements Accept from spec §4.10: build the node map
// and edge set, validate, and either reject or arm the graph and
// dispatch its initial ready set.
func (g *TaskGraph) handleSubmit(self actor.Ref, m SubmitTaskGraph) {
	_, span := telemetry.StartSpan(context.Background(), "taskgraph.submit", attribute.String("graph_id", m.GraphID))
	defer span.End()

	state, err := buildGraph(m, g.cfg.MaxDepth, g.cfg.MaxSubtasksPerDecomposition, g.cfg.MaxNodesPerGraph)
	if err != nil {
		g.reject(m.GraphID, err.Error(), m.ReplyTo)
		return
	}

	g.mu.Lock()
	g.graphs[m.GraphID] = &entry{state: state, replyTo: m.ReplyTo}
	g.mu.Unlock()

	log.Info(log.CatGraph, "graph accepted", "graph_id", m.GraphID, "nodes", len(state.Nodes))
	if m.ReplyTo.Valid() {
		m.ReplyTo.Send(TaskGraphAccepted{GraphID: m.GraphID})
	}
	if g.cfg.Bus != nil {
		g.cfg.Bus.Publish(bus.Event{Type: bus.EventTaskGraphAccepted, Timestamp: time.Now(), Payload: TaskGraphAccepted{GraphID: m.GraphID}})
	}
	if g.cfg.Viewport.Valid() {
		g.cfg.Viewport.Send(viewport.GraphSubmitted{GraphID: m.GraphID})
	}

	if state.Deadline > 0 {
		g.cfg.Timers.Start("graph-deadline:"+m.GraphID, state.Deadline, func() {
			self.Send(graphDeadlineFired{GraphID: m.GraphID})
		})
	}

	g.dispatchReady(self, state)
}

func (g *TaskGraph) reject(graphID, reason string, replyTo actor.Ref) {
	log.Warn(log.CatGraph, "graph rejected", "graph_id", graphID, "reason", reason)
	out := TaskGraphRejected{GraphID: graphID, Reason: reason}
	if replyTo.Valid() {
		replyTo.Send(out)
	}
	if g.cfg.Bus != nil {
		g.cfg.Bus.Publish(bus.Event{Type: bus.EventTaskGraphRejected, Timestamp: time.Now(), Payload: out})
	}
}

// buildGraph constructs a domain.GraphState from a submission and
// validates it per spec §4.10 Accept: no duplicate ids, every edge
// endpoint exists, no self-loops, and the result is acyclic.
func buildGraph(m SubmitTaskGraph, maxDepth, maxPerNode, maxNodes int) (*domain.GraphState, error) {
	nodes := make(map[string]*domain.TaskNode, len(m.Nodes))
	for _, spec := range m.Nodes {
		if _, dup := nodes[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %q", spec.ID)
		}
		nodes[spec.ID] = &domain.TaskNode{
			ID: spec.ID,
			Task: domain.Task{
				ID:                   spec.ID,
				Description:          spec.Description,
				RequiredCapabilities: spec.RequiredCapabilities,
				Budget:               spec.Budget,
				GraphID:              m.GraphID,
			},
			Status: domain.NodePending,
			Stop:   spec.Stop,
		}
	}
	for _, e := range m.Edges {
		if e.From == e.To {
			return nil, fmt.Errorf("self-loop on task id %q", e.From)
		}
		if _, ok := nodes[e.From]; !ok {
			return nil, fmt.Errorf("edge references unknown task id %q", e.From)
		}
		if _, ok := nodes[e.To]; !ok {
			return nil, fmt.Errorf("edge references unknown task id %q", e.To)
		}
	}

	state := &domain.GraphState{
		ID:            m.GraphID,
		Nodes:         nodes,
		Edges:         append([]domain.TaskEdge(nil), m.Edges...),
		Deadline:      m.Deadline,
		StartedAt:     time.Now(),
		MaxDepth:      maxDepth,
		MaxPerNode:    maxPerNode,
		MaxNodes:      maxNodes,
		AssignedAgent: make(map[string]string),
	}
	if !state.Acyclic() {
		return nil, fmt.Errorf("graph contains a cycle among %s", cycleHint(state))
	}
	return state, nil
}

// cycleHint names the ids that Kahn's algorithm could not retire, a
// superset of the true cycle but enough to point a caller at it.
func cycleHint(g *domain.GraphState) string {
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
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, c := range g.Children(id) {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
		delete(indegree, id)
	}
	remaining := make([]string, 0, len(indegree))
	for id := range indegree {
		remaining = append(remaining, id)
	}
	sort.Strings(remaining)
	return fmt.Sprint(remaining)
}

// dispatchReady transitions every currently-ready Pending node to
// Dispatched and sends it to the Dispatcher, carrying the graph id so
// completions route back in O(1).
func (g *TaskGraph) dispatchReady(self actor.Ref, state *domain.GraphState) {
	ready := state.Ready()
	sort.Strings(ready) // deterministic dispatch order for identical snapshots
	for _, id := range ready {
		node := state.Nodes[id]
		node.Status = domain.NodeDispatched
		g.notifyStatus(state.ID, id, node.Status)
		if g.cfg.Dispatcher.Valid() {
			g.cfg.Dispatcher.Send(dispatcher.TaskRequest{Task: node.Task, GraphID: state.ID, ReplyTo: self})
		}
	}
}

func (g *TaskGraph) notifyStatus(graphID, nodeID string, status domain.TaskNodeStatus) {
	if g.cfg.Viewport.Valid() {
		g.cfg.Viewport.Send(viewport.NodeStatusChanged{GraphID: graphID, NodeID: nodeID, Status: status.String()})
	}
	if g.cfg.Bus != nil {
		g.cfg.Bus.Publish(bus.Event{
			Type:      bus.EventNodeStatusChanged,
			Timestamp: time.Now(),
			Payload:   viewport.NodeStatusChanged{GraphID: graphID, NodeID: nodeID, Status: status.String()},
		})
	}
}

func (g *TaskGraph) handleAssigned(m dispatcher.TaskAssignedOut) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.graphs[m.GraphID]
	if !ok {
		return
	}
	e.state.AssignedAgent[m.Task.ID] = m.WorkerID
}

// handleDispatchFailed marks a node Failed when the Dispatcher could
// not place it at all (no capable worker, or a risk gate denial)
// before any worker ever saw it.
func (g *TaskGraph) handleDispatchFailed(self actor.Ref, m dispatcher.TaskFailedOut) {
	g.mu.Lock()
	e, ok := g.graphs[m.GraphID]
	g.mu.Unlock()
	if !ok || m.GraphID == "" {
		return
	}
	g.mu.Lock()
	node, ok := e.state.Nodes[m.TaskID]
	if !ok {
		g.mu.Unlock()
		return
	}
	node.Status = domain.NodeFailed
	node.Success = false
	node.Result = m.Reason
	g.cascadeCancel(e.state, m.TaskID)
	g.mu.Unlock()

	g.notifyStatus(m.GraphID, m.TaskID, domain.NodeFailed)
	g.checkParentStop(self, e, node.ParentOf)
	g.checkCompletion(self, e)
}

// handleWorkerReport implements Completion and the decomposition/
// stop-condition flow from spec §4.10.
func (g *TaskGraph) handleWorkerReport(self actor.Ref, m worker.TaskReport) {
	g.mu.Lock()
	e, ok := g.graphs[m.GraphID]
	g.mu.Unlock()
	if !ok {
		return
	}

	g.mu.Lock()
	node, ok := e.state.Nodes[m.TaskID]
	if !ok {
		g.mu.Unlock()
		return
	}

	if !m.Success {
		node.Status = domain.NodeFailed
		node.Success = false
		node.Result = m.Summary
		g.cascadeCancel(e.state, m.TaskID)
		g.mu.Unlock()

		g.notifyStatus(m.GraphID, m.TaskID, domain.NodeFailed)
		g.checkParentStop(self, e, node.ParentOf)
		g.checkCompletion(self, e)
		return
	}

	if m.Subplan != nil && len(m.Subplan.Tasks) > 0 {
		childIDs, reason := g.evaluateDecomposition(e.state, node, m.Subplan)
		g.mu.Unlock()

		if reason != "" {
			if ref, ok := g.cfg.Directory.RefFor(m.WorkerID); ok {
				ref.Send(worker.TaskDecompositionRejected{ParentID: m.TaskID, Reason: reason})
			}
			log.Warn(log.CatGraph, "decomposition rejected", "graph_id", m.GraphID, "parent_id", m.TaskID, "reason", reason)
			return
		}
		if ref, ok := g.cfg.Directory.RefFor(m.WorkerID); ok {
			ref.Send(worker.TaskDecompositionAccepted{ParentID: m.TaskID, ChildIDs: childIDs})
		}
		telemetry.RecordDecompositionDepth(context.Background(), m.GraphID, node.Depth+1)
		g.notifyStatus(m.GraphID, m.TaskID, domain.NodeWaitingForSubtasks)
		g.dispatchReady(self, e.state)
		return
	}

	node.Status = domain.NodeCompleted
	node.Success = true
	node.Result = m.Summary
	g.mu.Unlock()

	g.notifyStatus(m.GraphID, m.TaskID, domain.NodeCompleted)
	g.dispatchReady(self, e.state)
	g.checkParentStop(self, e, node.ParentOf)
	g.checkCompletion(self, e)
}

// cascadeCancel implements failure propagation from spec §4.10: BFS
// over outgoing edges, marking any Pending/Ready dependent Cancelled.
// Caller must hold g.mu.
func (g *TaskGraph) cascadeCancel(state *domain.GraphState, failedID string) {
	queue := state.Children(failedID)
	seen := map[string]bool{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		n, ok := state.Nodes[id]
		if !ok {
			continue
		}
		if n.Status == domain.NodePending || n.Status == domain.NodeReady {
			n.Status = domain.NodeCancelled
			g.notifyStatus(state.ID, id, domain.NodeCancelled)
		}
		queue = append(queue, state.Children(id)...)
	}
}

// evaluateDecomposition implements the evaluation rules from spec
// §4.10: bounds on subtask count, depth, and total nodes, in-range
// dependency indices, and acyclicity of the subplan's internal edges.
// On acceptance it inserts the child nodes and wires their edges.
// Caller must hold g.mu.
func (g *TaskGraph) evaluateDecomposition(state *domain.GraphState, parent *domain.TaskNode, plan *domain.Subplan) (childIDs []string, rejectReason string) {
	n := len(plan.Tasks)
	if n > state.MaxPerNode {
		return nil, fmt.Sprintf("subtask count %d exceeds max %d", n, state.MaxPerNode)
	}
	if parent.Depth+1 > state.MaxDepth {
		return nil, fmt.Sprintf("decomposition depth %d exceeds max %d", parent.Depth+1, state.MaxDepth)
	}
	if len(state.Nodes)+n > state.MaxNodes {
		return nil, fmt.Sprintf("total nodes %d exceeds max %d", len(state.Nodes)+n, state.MaxNodes)
	}
	for _, t := range plan.Tasks {
		for _, dep := range t.DependsOn {
			if dep < 0 || dep >= n {
				return nil, fmt.Sprintf("dependency index %d out of range", dep)
			}
		}
	}
	if !subplanAcyclic(plan) {
		return nil, "subplan dependency graph contains a cycle"
	}

	ids := make([]string, n)
	for i := range plan.Tasks {
		ids[i] = fmt.Sprintf("%s/sub-%d", parent.ID, i)
	}
	for i, t := range plan.Tasks {
		id := ids[i]
		state.Nodes[id] = &domain.TaskNode{
			ID: id,
			Task: domain.Task{
				ID:                   id,
				Description:          t.Description,
				RequiredCapabilities: t.RequiredCapabilities,
				Budget:               t.Budget,
				GraphID:              state.ID,
			},
			Status:   domain.NodePending,
			Depth:    parent.Depth + 1,
			ParentOf: parent.ID,
		}
		for _, dep := range t.DependsOn {
			state.Edges = append(state.Edges, domain.TaskEdge{From: ids[dep], To: id})
		}
	}
	parent.Children = ids
	parent.Stop = plan.Stop
	parent.Status = domain.NodeWaitingForSubtasks
	return ids, ""
}

// subplanAcyclic runs Kahn's algorithm over just the subplan's local
// index-based dependency edges, before any ids are minted.
func subplanAcyclic(plan *domain.Subplan) bool {
	n := len(plan.Tasks)
	indegree := make([]int, n)
	children := make([][]int, n)
	for i, t := range plan.Tasks {
		for _, dep := range t.DependsOn {
			if dep < 0 || dep >= n {
				return false
			}
			children[dep] = append(children[dep], i)
			indegree[i]++
		}
	}
	var queue []int
	for i, d := range indegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	visited := 0
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		visited++
		for _, c := range children[i] {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	return visited == n
}

// checkParentStop evaluates a decomposed parent's stop condition once
// any of its children terminates, and triggers synthesis when
// satisfied, per spec §4.10.
func (g *TaskGraph) checkParentStop(self actor.Ref, e *entry, parentID string) {
	if parentID == "" {
		return
	}
	g.mu.Lock()
	parent, ok := e.state.Nodes[parentID]
	if !ok || parent.Status != domain.NodeWaitingForSubtasks {
		g.mu.Unlock()
		return
	}
	if !e.state.StopSatisfied(parentID) {
		g.mu.Unlock()
		return
	}

	if parent.Stop == domain.StopFirstSuccess {
		for _, cid := range parent.Children {
			c, ok := e.state.Nodes[cid]
			if ok && !c.Status.Terminal() {
				c.Status = domain.NodeCancelled
				g.notifyStatus(e.state.ID, cid, domain.NodeCancelled)
			}
		}
	}

	parent.Status = domain.NodeSynthesizing
	results := make(map[string]domain.SubtaskResult, len(parent.Children))
	for _, cid := range parent.Children {
		if c, ok := e.state.Nodes[cid]; ok {
			results[cid] = domain.SubtaskResult{Success: c.Success, Summary: c.Result}
		}
	}
	workerID := e.state.AssignedAgent[parentID]
	g.mu.Unlock()

	g.notifyStatus(e.state.ID, parentID, domain.NodeSynthesizing)
	if ref, ok := g.cfg.Directory.RefFor(workerID); ok {
		ref.Send(worker.SubtasksCompleted{ParentID: parentID, Results: results})
	}
}

// checkCompletion emits TaskGraphCompleted exactly once, when every
// node in the graph has reached a terminal status.
func (g *TaskGraph) checkCompletion(self actor.Ref, e *entry) {
	g.mu.Lock()
	if e.state.Completed || !e.state.AllTerminal() {
		g.mu.Unlock()
		return
	}
	e.state.Completed = true
	results := make(map[string]bool, len(e.state.Nodes))
	for id, n := range e.state.Nodes {
		results[id] = n.Status == domain.NodeCompleted
	}
	graphID := e.state.ID
	g.mu.Unlock()

	g.cfg.Timers.Cancel("graph-deadline:" + graphID)

	out := TaskGraphCompleted{GraphID: graphID, Results: results}
	if e.replyTo.Valid() {
		e.replyTo.Send(out)
	}
	if g.cfg.Bus != nil {
		g.cfg.Bus.Publish(bus.Event{Type: bus.EventTaskGraphCompleted, Timestamp: time.Now(), Payload: out})
	}
	if g.cfg.Viewport.Valid() {
		g.cfg.Viewport.Send(viewport.GraphCompleted{GraphID: graphID, Results: results})
	}
	log.Info(log.CatGraph, "graph completed", "graph_id", graphID, "nodes", len(results))

	g.mu.Lock()
	delete(g.graphs, graphID)
	g.mu.Unlock()
}

// handleDeadline implements the graph-deadline timer fire from spec
// §4.10: every non-terminal node is failed (if already dispatched or
// synthesizing) or cancelled (if it never got that far).
func (g *TaskGraph) handleDeadline(self actor.Ref, graphID string) {
	g.mu.Lock()
	e, ok := g.graphs[graphID]
	if !ok {
		g.mu.Unlock()
		return
	}
	var changed []string
	for id, n := range e.state.Nodes {
		if n.Status.Terminal() {
			continue
		}
		switch n.Status {
		case domain.NodeDispatched, domain.NodeWaitingForSubtasks, domain.NodeSynthesizing:
			n.Status = domain.NodeFailed
			n.Success = false
			n.Result = "graph deadline exceeded"
		default:
			n.Status = domain.NodeCancelled
		}
		changed = append(changed, id)
	}
	g.mu.Unlock()

	log.Warn(log.CatGraph, "graph deadline exceeded", "graph_id", graphID)
	for _, id := range changed {
		g.notifyStatus(graphID, id, e.state.Nodes[id].Status)
	}
	g.checkCompletion(self, e)
}
