package taskgraph

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskswarm/orchestrator/internal/actor"
	"github.com/taskswarm/orchestrator/internal/dispatcher"
	"github.com/taskswarm/orchestrator/internal/domain"
	"github.com/taskswarm/orchestrator/internal/worker"
)

// captureActor records every message sent to it, used in place of a
// real Dispatcher or Worker to observe what TaskGraph sends out.
type captureActor struct {
	mu  sync.Mutex
	msg []actor.Message
}

func (c *captureActor) behavior() actor.Behavior {
	return func(_ context.Context, msg actor.Message) error {
		c.mu.Lock()
		c.msg = append(c.msg, msg)
		c.mu.Unlock()
		return nil
	}
}

func (c *captureActor) all() []actor.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]actor.Message, len(c.msg))
	copy(out, c.msg)
	return out
}

func spawnCapture(sys *actor.System, id string) (*captureActor, actor.Ref) {
	c := &captureActor{}
	ref := sys.Spawn(context.Background(), id, 64, actor.RestartPolicy{}, func(self actor.Ref) actor.Behavior {
		return c.behavior()
	})
	return c, ref
}

func TestSubmitTaskGraph_RejectsCycle(t *testing.T) {
	sys := actor.NewSystem()
	dispatch, dispatchRef := spawnCapture(sys, "dispatcher")
	_, _ = spawnCapture(sys, "directory")
	_ = dispatch

	submitter, submitterRef := spawnCapture(sys, "submitter")
	tg := New(Config{Dispatcher: dispatchRef})
	graphRef := sys.Spawn(context.Background(), "taskgraph", 64, actor.RestartPolicy{}, func(self actor.Ref) actor.Behavior {
		return tg.Behavior(self)
	})

	graphRef.Send(SubmitTaskGraph{
		GraphID: "g1",
		Nodes: []NodeSpec{
			{ID: "A"}, {ID: "B"}, {ID: "C"},
		},
		Edges: []domain.TaskEdge{
			{From: "A", To: "B"},
			{From: "B", To: "C"},
			{From: "C", To: "A"},
		},
		ReplyTo: submitterRef,
	})

	require.Eventually(t, func() bool { return len(submitter.all()) > 0 }, time.Second, 5*time.Millisecond)
	msg := submitter.all()[0]
	rejected, ok := msg.(TaskGraphRejected)
	require.True(t, ok, "expected TaskGraphRejected, got %T", msg)
	assert.Contains(t, rejected.Reason, "cycle")

	// No dispatch should have occurred.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, dispatch.all())
}

func TestSubmitTaskGraph_AcceptsAndDispatchesRoots(t *testing.T) {
	sys := actor.NewSystem()
	dispatch, dispatchRef := spawnCapture(sys, "dispatcher")
	submitter, submitterRef := spawnCapture(sys, "submitter")

	tg := New(Config{Dispatcher: dispatchRef})
	graphRef := sys.Spawn(context.Background(), "taskgraph", 64, actor.RestartPolicy{}, func(self actor.Ref) actor.Behavior {
		return tg.Behavior(self)
	})

	graphRef.Send(SubmitTaskGraph{
		GraphID: "g2",
		Nodes: []NodeSpec{
			{ID: "A", RequiredCapabilities: []string{"edit"}},
			{ID: "B", RequiredCapabilities: []string{"edit"}},
		},
		Edges:   []domain.TaskEdge{{From: "A", To: "B"}},
		ReplyTo: submitterRef,
	})

	require.Eventually(t, func() bool { return len(submitter.all()) > 0 }, time.Second, 5*time.Millisecond)
	_, ok := submitter.all()[0].(TaskGraphAccepted)
	require.True(t, ok)

	require.Eventually(t, func() bool { return len(dispatch.all()) == 1 }, time.Second, 5*time.Millisecond)
	req, ok := dispatch.all()[0].(dispatcher.TaskRequest)
	require.True(t, ok)
	assert.Equal(t, "A", req.Task.ID)
	assert.Equal(t, "g2", req.GraphID)
}

func TestWorkerReport_CompletionDispatchesDownstream(t *testing.T) {
	sys := actor.NewSystem()
	dispatch, dispatchRef := spawnCapture(sys, "dispatcher")
	submitter, submitterRef := spawnCapture(sys, "submitter")

	tg := New(Config{Dispatcher: dispatchRef})
	graphRef := sys.Spawn(context.Background(), "taskgraph", 64, actor.RestartPolicy{}, func(self actor.Ref) actor.Behavior {
		return tg.Behavior(self)
	})

	graphRef.Send(SubmitTaskGraph{
		GraphID: "g3",
		Nodes:   []NodeSpec{{ID: "A"}, {ID: "B"}},
		Edges:   []domain.TaskEdge{{From: "A", To: "B"}},
		ReplyTo: submitterRef,
	})
	require.Eventually(t, func() bool { return len(dispatch.all()) == 1 }, time.Second, 5*time.Millisecond)

	graphRef.Send(dispatcher.TaskAssignedOut{Task: domain.Task{ID: "A", GraphID: "g3"}, WorkerID: "w1", GraphID: "g3"})
	graphRef.Send(worker.TaskReport{TaskID: "A", WorkerID: "w1", GraphID: "g3", Success: true, Summary: "done"})

	require.Eventually(t, func() bool { return len(dispatch.all()) == 2 }, time.Second, 5*time.Millisecond)
	req, ok := dispatch.all()[1].(dispatcher.TaskRequest)
	require.True(t, ok)
	assert.Equal(t, "B", req.Task.ID)

	graphRef.Send(dispatcher.TaskAssignedOut{Task: domain.Task{ID: "B", GraphID: "g3"}, WorkerID: "w1", GraphID: "g3"})
	graphRef.Send(worker.TaskReport{TaskID: "B", WorkerID: "w1", GraphID: "g3", Success: true, Summary: "done"})

	require.Eventually(t, func() bool {
		for _, m := range submitter.all() {
			if _, ok := m.(TaskGraphCompleted); ok {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerReport_FailureCancelsDependents(t *testing.T) {
	sys := actor.NewSystem()
	_, dispatchRef := spawnCapture(sys, "dispatcher")
	submitter, submitterRef := spawnCapture(sys, "submitter")

	tg := New(Config{Dispatcher: dispatchRef})
	graphRef := sys.Spawn(context.Background(), "taskgraph", 64, actor.RestartPolicy{}, func(self actor.Ref) actor.Behavior {
		return tg.Behavior(self)
	})

	graphRef.Send(SubmitTaskGraph{
		GraphID: "g4",
		Nodes:   []NodeSpec{{ID: "A"}, {ID: "B"}},
		Edges:   []domain.TaskEdge{{From: "A", To: "B"}},
		ReplyTo: submitterRef,
	})
	time.Sleep(20 * time.Millisecond)

	graphRef.Send(worker.TaskReport{TaskID: "A", WorkerID: "w1", GraphID: "g4", Success: false, Summary: "boom"})

	require.Eventually(t, func() bool {
		for _, m := range submitter.all() {
			if c, ok := m.(TaskGraphCompleted); ok {
				return c.Results["A"] == false && c.Results["B"] == false
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestEvaluateDecomposition_RejectsTooManySubtasks(t *testing.T) {
	state := &domain.GraphState{
		Nodes:      map[string]*domain.TaskNode{"t": {ID: "t"}},
		MaxPerNode: 2,
		MaxDepth:   3,
		MaxNodes:   100,
	}
	g := New(Config{})
	parent := state.Nodes["t"]
	plan := &domain.Subplan{Tasks: []domain.SubplanTask{{}, {}, {}}}

	_, reason := g.evaluateDecomposition(state, parent, plan)
	assert.Contains(t, reason, "subtask count")
}

func TestEvaluateDecomposition_RejectsCyclicSubplan(t *testing.T) {
	state := &domain.GraphState{
		Nodes:      map[string]*domain.TaskNode{"t": {ID: "t"}},
		MaxPerNode: 10,
		MaxDepth:   3,
		MaxNodes:   100,
	}
	g := New(Config{})
	parent := state.Nodes["t"]
	plan := &domain.Subplan{Tasks: []domain.SubplanTask{
		{DependsOn: []int{1}},
		{DependsOn: []int{0}},
	}}

	_, reason := g.evaluateDecomposition(state, parent, plan)
	assert.Contains(t, reason, "cycle")
}

func TestEvaluateDecomposition_AcceptsAndWiresChildren(t *testing.T) {
	state := &domain.GraphState{
		Nodes:      map[string]*domain.TaskNode{"t": {ID: "t", Depth: 0}},
		MaxPerNode: 10,
		MaxDepth:   3,
		MaxNodes:   100,
	}
	g := New(Config{})
	parent := state.Nodes["t"]
	plan := &domain.Subplan{
		Stop: domain.StopFirstSuccess,
		Tasks: []domain.SubplanTask{
			{Description: "sub0"},
			{Description: "sub1", DependsOn: []int{0}},
		},
	}

	childIDs, reason := g.evaluateDecomposition(state, parent, plan)
	require.Empty(t, reason)
	require.Len(t, childIDs, 2)
	assert.Equal(t, "t/sub-0", childIDs[0])
	assert.Equal(t, "t/sub-1", childIDs[1])
	assert.Equal(t, domain.NodeWaitingForSubtasks, parent.Status)
	assert.Len(t, state.Nodes, 3)
	child1 := state.Nodes["t/sub-1"]
	require.NotNil(t, child1)
	assert.Equal(t, 1, child1.Depth)
	assert.Equal(t, "t", child1.ParentOf)
}
