// Package knowledge implements KnowledgeStore, the per-worker
// long-term semantic store. Semantics mirror memory.Store exactly
// (spec §4.4): store/query delegated to a SidecarClient, with the same
// graceful-degradation failure handling, but no debounced commit —
// knowledge entries are durable on write, not staged.
package knowledge

import (
	"context"

	"github.com/taskswarm/orchestrator/internal/domain"
	"github.com/taskswarm/orchestrator/internal/log"
	"github.com/taskswarm/orchestrator/internal/sidecar"
)

// Store is the per-worker knowledge store.
type Store struct {
	workerID string
	client   sidecar.Client
}

// New creates a KnowledgeStore for workerID backed by client.
func New(workerID string, client sidecar.Client) *Store {
	return &Store{workerID: workerID, client: client}
}

// StoreKnowledge persists content under category/tags. A failed store
// is logged and dropped, never surfaced to the caller.
func (s *Store) StoreKnowledge(ctx context.Context, content string, category domain.KnowledgeCategory, tags map[string]string) {
	if err := s.client.StoreKnowledge(ctx, s.workerID, content, category, tags); err != nil {
		log.ErrorErr(log.CatKnowledge, "knowledge store failed, dropping", err, "worker_id", s.workerID)
	}
}

// QueryKnowledge returns up to topK entries matching query, optionally
// filtered by category. Relevance scores from the sidecar are passed
// through unchanged. A failed query returns an empty slice.
func (s *Store) QueryKnowledge(ctx context.Context, query string, category domain.KnowledgeCategory, topK int) []domain.KnowledgeEntry {
	entries, err := s.client.SearchKnowledge(ctx, s.workerID, query, category, topK)
	if err != nil {
		log.ErrorErr(log.CatKnowledge, "knowledge query failed, returning empty", err, "worker_id", s.workerID)
		return nil
	}
	return entries
}
