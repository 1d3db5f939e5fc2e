package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskswarm/orchestrator/internal/actor"
	"github.com/taskswarm/orchestrator/internal/domain"
	"github.com/taskswarm/orchestrator/internal/worker"
)

// captureActor records every message sent to it, standing in for a
// real worker/submitter to observe what the Dispatcher sends out.
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

// fakeRegistry returns a fixed capable-worker list regardless of the
// required capabilities asked for.
type fakeRegistry struct{ capable []string }

func (f fakeRegistry) QueryCapable(_ []string) []string { return f.capable }

// fakeDirectory resolves worker ids from a fixed map, mirroring the
// (Ref, bool) shape actor.System's RefFor is adapted to in production.
type fakeDirectory struct{ refs map[string]actor.Ref }

func (f fakeDirectory) RefFor(id string) (actor.Ref, bool) {
	ref, ok := f.refs[id]
	return ref, ok
}

func newTestDispatcher(t *testing.T, sys *actor.System, capable []string, refs map[string]actor.Ref) actor.Ref {
	t.Helper()
	d := New(Config{
		Registry:  fakeRegistry{capable: capable},
		Directory: fakeDirectory{refs: refs},
		BidWindow: 20 * time.Millisecond,
	})
	return sys.Spawn(context.Background(), "dispatcher", 64, actor.RestartPolicy{}, func(self actor.Ref) actor.Behavior {
		return d.Behavior(self)
	})
}

func TestTaskRequest_NoCapableWorker_FailsImmediately(t *testing.T) {
	sys := actor.NewSystem()
	submitter, submitterRef := spawnCapture(sys, "submitter")
	dispatchRef := newTestDispatcher(t, sys, nil, nil)

	dispatchRef.Send(TaskRequest{Task: domain.Task{ID: "t1"}, ReplyTo: submitterRef})

	require.Eventually(t, func() bool { return len(submitter.all()) > 0 }, time.Second, 5*time.Millisecond)
	failed, ok := submitter.all()[0].(TaskFailedOut)
	require.True(t, ok, "expected TaskFailedOut, got %T", submitter.all()[0])
	assert.Equal(t, "t1", failed.TaskID)
	assert.Contains(t, failed.Reason, "no agent satisfies")
}

func TestTaskRequest_SingleBidder_WinsAuction(t *testing.T) {
	sys := actor.NewSystem()
	submitter, submitterRef := spawnCapture(sys, "submitter")
	w, wRef := spawnCapture(sys, "w1")
	dispatchRef := newTestDispatcher(t, sys, []string{"w1"}, map[string]actor.Ref{"w1": wRef})

	dispatchRef.Send(TaskRequest{Task: domain.Task{ID: "t1", RequiredCapabilities: []string{"go"}}, ReplyTo: submitterRef})

	require.Eventually(t, func() bool { return len(w.all()) > 0 }, time.Second, 5*time.Millisecond)
	avail, ok := w.all()[0].(worker.TaskAvailable)
	require.True(t, ok, "expected TaskAvailable, got %T", w.all()[0])

	avail.Dispatcher.Send(worker.BidMsg{Bid: domain.Bid{TaskID: "t1", WorkerID: "w1", Fitness: 0.9}})

	require.Eventually(t, func() bool { return len(submitter.all()) > 0 }, time.Second, 5*time.Millisecond)
	assigned, ok := submitter.all()[0].(TaskAssignedOut)
	require.True(t, ok, "expected TaskAssignedOut, got %T", submitter.all()[0])
	assert.Equal(t, "w1", assigned.WorkerID)

	require.Eventually(t, func() bool { return len(w.all()) > 1 }, time.Second, 5*time.Millisecond)
	_, ok = w.all()[1].(worker.TaskAssigned)
	assert.True(t, ok, "expected the winning worker to receive TaskAssigned")
}

func TestTaskRequest_NoBids_FallsBackToFirstCapable(t *testing.T) {
	sys := actor.NewSystem()
	submitter, submitterRef := spawnCapture(sys, "submitter")
	w, wRef := spawnCapture(sys, "w1")
	dispatchRef := newTestDispatcher(t, sys, []string{"w1"}, map[string]actor.Ref{"w1": wRef})

	dispatchRef.Send(TaskRequest{Task: domain.Task{ID: "t1", RequiredCapabilities: []string{"go"}}, ReplyTo: submitterRef})

	require.Eventually(t, func() bool { return len(submitter.all()) > 0 }, time.Second, 5*time.Millisecond)
	assigned, ok := submitter.all()[0].(TaskAssignedOut)
	require.True(t, ok, "expected fallback TaskAssignedOut, got %T", submitter.all()[0])
	assert.Equal(t, "w1", assigned.WorkerID)
}

func TestTaskRequest_MultipleBids_SelectsHighestFitness(t *testing.T) {
	sys := actor.NewSystem()
	submitter, submitterRef := spawnCapture(sys, "submitter")
	_, w1Ref := spawnCapture(sys, "w1")
	_, w2Ref := spawnCapture(sys, "w2")
	dispatchRef := newTestDispatcher(t, sys, []string{"w1", "w2"}, map[string]actor.Ref{"w1": w1Ref, "w2": w2Ref})

	dispatchRef.Send(TaskRequest{Task: domain.Task{ID: "t1", RequiredCapabilities: []string{"go"}}, ReplyTo: submitterRef})

	dispatchRef.Send(worker.BidMsg{Bid: domain.Bid{TaskID: "t1", WorkerID: "w1", Fitness: 0.4}})
	dispatchRef.Send(worker.BidMsg{Bid: domain.Bid{TaskID: "t1", WorkerID: "w2", Fitness: 0.8}})

	require.Eventually(t, func() bool { return len(submitter.all()) > 0 }, time.Second, 5*time.Millisecond)
	assigned, ok := submitter.all()[0].(TaskAssignedOut)
	require.True(t, ok, "expected TaskAssignedOut, got %T", submitter.all()[0])
	assert.Equal(t, "w2", assigned.WorkerID)
}

func TestTaskRequest_CriticalRisk_WaitsForApproval(t *testing.T) {
	sys := actor.NewSystem()
	submitter, submitterRef := spawnCapture(sys, "submitter")
	w, wRef := spawnCapture(sys, "w1")
	dispatchRef := newTestDispatcher(t, sys, []string{"w1"}, map[string]actor.Ref{"w1": wRef})

	budget := domain.TaskBudget{Risk: domain.RiskCritical}
	dispatchRef.Send(TaskRequest{Task: domain.Task{ID: "t1", RequiredCapabilities: []string{"go"}, Budget: &budget}, ReplyTo: submitterRef})

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, w.all(), "worker should not be offered the task before risk approval")

	dispatchRef.Send(RiskApproved{TaskID: "t1"})
	require.Eventually(t, func() bool { return len(w.all()) > 0 }, time.Second, 5*time.Millisecond)
}

func TestTaskRequest_CriticalRisk_DeniedFailsTask(t *testing.T) {
	sys := actor.NewSystem()
	submitter, submitterRef := spawnCapture(sys, "submitter")
	_, wRef := spawnCapture(sys, "w1")
	dispatchRef := newTestDispatcher(t, sys, []string{"w1"}, map[string]actor.Ref{"w1": wRef})

	budget := domain.TaskBudget{Risk: domain.RiskCritical}
	dispatchRef.Send(TaskRequest{Task: domain.Task{ID: "t1", RequiredCapabilities: []string{"go"}, Budget: &budget}, ReplyTo: submitterRef})
	dispatchRef.Send(RiskDenied{TaskID: "t1"})

	require.Eventually(t, func() bool { return len(submitter.all()) > 0 }, time.Second, 5*time.Millisecond)
	failed, ok := submitter.all()[0].(TaskFailedOut)
	require.True(t, ok, "expected TaskFailedOut, got %T", submitter.all()[0])
	assert.Equal(t, "risk denied", failed.Reason)
}
