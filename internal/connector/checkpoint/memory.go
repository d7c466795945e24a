package checkpoint

import (
	"context"
	"sync"
	"time"

	"go.flowcatalyst.tech/internal/connector"
)

// MemoryStore keeps checkpoints in memory, generalized from
// internal/stream/checkpoint/memory.go's bson.Raw-keyed map to opaque
// []byte tokens. Intended for tests; all checkpoints are lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Checkpoint)}
}

func (s *MemoryStore) Load(ctx context.Context, job string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.items[job]
	if !ok {
		return nil, nil
	}
	copied := *cp
	copied.Token = append(connector.CheckpointToken(nil), cp.Token...)
	return &copied, nil
}

func (s *MemoryStore) Save(ctx context.Context, job string, token connector.CheckpointToken, sourceTS time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := append(connector.CheckpointToken(nil), token...)
	s.items[job] = &Checkpoint{
		Token:     copied,
		UpdatedAt: time.Now(),
		SourceTS:  sourceTS,
	}
	return nil
}

// Clear removes all checkpoints. Useful for tests.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*Checkpoint)
}

// Delete removes a specific job's checkpoint.
func (s *MemoryStore) Delete(job string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, job)
}
