// Package workersupervisor implements WorkerSupervisor from spec §4.8:
// idempotent spawn, restart-on-failure bounded to 3 per 60s via the
// shared actor.System restart policy, and graceful/forceful stop.
package workersupervisor

import (
	"context"
	"sync"
	"time"

	"github.com/taskswarm/orchestrator/internal/actor"
	"github.com/taskswarm/orchestrator/internal/log"
	"github.com/taskswarm/orchestrator/internal/worker"
)

// GracePeriod bounds how long a graceful stop waits for the worker to
// acknowledge Stop before the supervisor cancels its mailbox anyway,
// mirroring the teacher's stop_worker tool's force flag.
const GracePeriod = 3 * time.Second

// ForceStopTimeout bounds how long a forceful stop waits for the
// acknowledgement — short enough to feel immediate to the caller, but
// long enough for the worker's synchronous, non-blocking cleanup
// (unregister capabilities, cancel the runtime) to actually run before
// the mailbox is cancelled out from under it.
const ForceStopTimeout = 50 * time.Millisecond

// Supervisor owns Worker lifecycles exclusively, per the ownership
// rule in spec §3.
type Supervisor struct {
	system   *actor.System
	viewport actor.Ref
	policy   actor.RestartPolicy

	mu      sync.Mutex
	workers map[string]struct{}
}

// New creates a Supervisor driving actors on system.
func New(system *actor.System, viewportRef actor.Ref) *Supervisor {
	return &Supervisor{
		system:   system,
		viewport: viewportRef,
		policy:   actor.DefaultRestartPolicy,
		workers:  make(map[string]struct{}),
	}
}

// SpawnWorker is idempotent: spawning an id that already exists emits
// a spawn confirmation (log line) without starting a second instance.
func (s *Supervisor) SpawnWorker(ctx context.Context, cfg worker.Config) actor.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workers[cfg.ID]; exists {
		log.Info(log.CatActor, "spawn worker: already running, idempotent no-op", "id", cfg.ID)
		return actor.Ref{}
	}

	cfg.Viewport = s.viewport
	ref := s.system.Spawn(ctx, cfg.ID, 128, s.policy, func(self actor.Ref) actor.Behavior {
		w := worker.New(cfg)
		if err := w.Start(ctx, self); err != nil {
			log.ErrorErr(log.CatActor, "worker failed to start", err, "id", cfg.ID)
		}
		return w.Behavior()
	})

	s.workers[cfg.ID] = struct{}{}
	log.Info(log.CatActor, "worker spawned", "id", cfg.ID)
	return ref
}

// StopWorker stops the named worker, gracefully unless force is set.
// Both paths send Stop{Force: force} through the worker's own mailbox
// and wait for its acknowledgement — closing over Registry.Unregister
// and rt.Cancel() — before cancelling the actor's mailbox context;
// cancelling the context first (the previous behavior) never delivers
// the message at all, leaving capabilities registered and the runtime
// process running. Graceful waits up to GracePeriod for the
// acknowledgement; forceful waits only ForceStopTimeout.
func (s *Supervisor) StopWorker(id string, force bool) {
	s.mu.Lock()
	_, exists := s.workers[id]
	delete(s.workers, id)
	s.mu.Unlock()
	if !exists {
		return
	}

	done := make(chan struct{})
	s.system.RefFor(id).Send(worker.Stop{Force: force, Done: done})

	wait := GracePeriod
	if force {
		wait = ForceStopTimeout
	}
	select {
	case <-done:
	case <-time.After(wait):
		log.Warn(log.CatActor, "worker did not acknowledge stop in time, cancelling mailbox anyway", "id", id, "force", force)
	}

	s.system.Stop(id)
	log.Info(log.CatActor, "worker stopped by supervisor", "id", id, "force", force)
}

// Active returns the ids of currently supervised workers.
func (s *Supervisor) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	return ids
}
