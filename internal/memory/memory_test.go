package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskswarm/orchestrator/internal/domain"
)

type fakeSidecar struct {
	mu            sync.Mutex
	storeCalls    int
	commitCalls   int
	failStore     bool
	failSearch    bool
	searchResult  []domain.MemoryHit
}

func (f *fakeSidecar) StoreKnowledge(ctx context.Context, workerID, content string, category domain.KnowledgeCategory, tags map[string]string) error {
	return nil
}
func (f *fakeSidecar) SearchKnowledge(ctx context.Context, workerID, query string, category domain.KnowledgeCategory, topK int) ([]domain.KnowledgeEntry, error) {
	return nil, nil
}
func (f *fakeSidecar) StoreMemory(ctx context.Context, workerID, content, title string, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storeCalls++
	if f.failStore {
		return errors.New("store failed")
	}
	return nil
}
func (f *fakeSidecar) SearchMemory(ctx context.Context, workerID, query string, topK int) ([]domain.MemoryHit, error) {
	if f.failSearch {
		return nil, errors.New("search failed")
	}
	return f.searchResult, nil
}
func (f *fakeSidecar) CommitMemory(ctx context.Context, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitCalls++
	return nil
}

func TestStore_StoreContent_SchedulesDebouncedCommit(t *testing.T) {
	fs := &fakeSidecar{}
	s := New("w1", fs, 10*time.Millisecond)

	s.StoreContent(context.Background(), "c1", "t1", nil)
	s.StoreContent(context.Background(), "c2", "t2", nil)
	s.StoreContent(context.Background(), "c3", "t3", nil)

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return fs.commitCalls == 1
	}, time.Second, time.Millisecond)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Equal(t, 3, fs.storeCalls)
}

func TestStore_StoreContent_FailedStoreIsDroppedSilently(t *testing.T) {
	fs := &fakeSidecar{failStore: true}
	s := New("w1", fs, 10*time.Millisecond)
	s.StoreContent(context.Background(), "c1", "t1", nil)
	// No panic, no error surfaced; commit should not even be scheduled.
	time.Sleep(20 * time.Millisecond)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Equal(t, 0, fs.commitCalls)
}

func TestStore_Search_FailureReturnsEmpty(t *testing.T) {
	fs := &fakeSidecar{failSearch: true}
	s := New("w1", fs, time.Second)
	hits := s.Search(context.Background(), "q", 5)
	assert.Empty(t, hits)
}

func TestStore_Search_ReturnsHits(t *testing.T) {
	fs := &fakeSidecar{searchResult: []domain.MemoryHit{{Content: "x"}}}
	s := New("w1", fs, time.Second)
	hits := s.Search(context.Background(), "q", 5)
	assert.Len(t, hits, 1)
}
