// Package memory implements MemoryStore, the per-worker episodic
// memory actor: Store/Search/Commit delegated to a SidecarClient, with
// stores coalesced into a debounced commit so a burst of writes during
// a single task produces one commit call, not one per write.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/taskswarm/orchestrator/internal/domain"
	"github.com/taskswarm/orchestrator/internal/log"
	"github.com/taskswarm/orchestrator/internal/sidecar"
)

// DefaultCommitDebounce is the ~5s coalescing window from spec §4.3.
const DefaultCommitDebounce = 5 * time.Second

// Store is the per-worker episodic memory store.
type Store struct {
	workerID string
	client   sidecar.Client
	debounce time.Duration

	mu          sync.Mutex
	timer       *time.Timer
	commitInFlight bool
	pendingAgain   bool
}

// New creates a MemoryStore for workerID backed by client.
func New(workerID string, client sidecar.Client, debounce time.Duration) *Store {
	if debounce <= 0 {
		debounce = DefaultCommitDebounce
	}
	return &Store{workerID: workerID, client: client, debounce: debounce}
}

// StoreContent persists content under title/tags and schedules a
// debounced commit. A failed store is logged and dropped: the caller
// never observes an error, matching the graceful-degradation policy
// for SidecarOperationFailed in spec §7.
func (s *Store) StoreContent(ctx context.Context, content, title string, tags map[string]string) {
	if err := s.client.StoreMemory(ctx, s.workerID, content, title, tags); err != nil {
		log.ErrorErr(log.CatMemory, "memory store failed, dropping", err, "worker_id", s.workerID)
		return
	}
	s.scheduleCommit()
}

// Search returns up to topK hits for query, or an empty slice on
// failure (graceful degradation, never an error to the caller).
func (s *Store) Search(ctx context.Context, query string, topK int) []domain.MemoryHit {
	hits, err := s.client.SearchMemory(ctx, s.workerID, query, topK)
	if err != nil {
		log.ErrorErr(log.CatMemory, "memory search failed, returning empty", err, "worker_id", s.workerID)
		return nil
	}
	return hits
}

// scheduleCommit arms (or re-arms) the debounce timer. An in-flight
// commit suppresses new commits until it returns, at which point a
// pending request triggers one more commit to pick up writes that
// landed mid-flight.
func (s *Store) scheduleCommit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.commitInFlight {
		s.pendingAgain = true
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.fireCommit)
}

func (s *Store) fireCommit() {
	s.mu.Lock()
	s.commitInFlight = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.CommitMemory(ctx, s.workerID); err != nil {
		log.ErrorErr(log.CatMemory, "memory commit failed", err, "worker_id", s.workerID)
	}

	s.mu.Lock()
	s.commitInFlight = false
	again := s.pendingAgain
	s.pendingAgain = false
	s.mu.Unlock()

	if again {
		s.scheduleCommit()
	}
}
