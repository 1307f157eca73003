package lockchain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Nerval-Labs/reflex/pkg/quorum"
)

// MemoryStore keeps epoch roots in memory. For tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uint64]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uint64]*Record)}
}

func (s *MemoryStore) PersistRoot(_ context.Context, epoch uint64, root string, proof *quorum.Proof) error {
	return s.persist(epoch, root, proof, true)
}

func (s *MemoryStore) PersistPending(_ context.Context, epoch uint64, root string) error {
	return s.persist(epoch, root, nil, false)
}

func (s *MemoryStore) persist(epoch uint64, root string, proof *quorum.Proof, confirmed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[epoch]; ok && existing.Confirmed {
		if existing.Root != root {
			return fmt.Errorf("%w: epoch %d", ErrRootConflict, epoch)
		}
		return nil
	}
	s.records[epoch] = &Record{
		Epoch:     epoch,
		Root:      root,
		Proof:     proof,
		Confirmed: confirmed,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) GetRoot(_ context.Context, epoch uint64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[epoch]
	if !ok {
		return nil, ErrRootNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) LatestRoot(_ context.Context) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *Record
	for _, r := range s.records {
		if latest == nil || r.Epoch > latest.Epoch {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrRootNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) RootCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryStore) RootsRange(_ context.Context, from, to uint64) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []*Record
	for e := from; e <= to; e++ {
		if r, ok := s.records[e]; ok {
			cp := *r
			records = append(records, &cp)
		}
	}
	return records, nil
}

func (s *MemoryStore) Close() error { return nil }
