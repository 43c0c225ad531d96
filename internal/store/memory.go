package store

import (
	"context"
	"sync"
	"time"

	"github.com/stemsplit/api/internal/model"
)

type memoryEntry struct {
	snap      *model.JobSnapshot
	expiresAt time.Time
}

// MemoryStore is a process-local JobStore. Expiry is checked lazily on read.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*model.JobSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(s.jobs, jobID)
		return nil, ErrNotFound
	}
	cp := *entry.snap
	return &cp, nil
}

func (s *MemoryStore) Set(ctx context.Context, jobID string, snap *model.JobSnapshot, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(jobID, snap, ttl)
	return nil
}

func (s *MemoryStore) SetIfNewer(ctx context.Context, jobID string, snap *model.JobSnapshot, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.jobs[jobID]; ok {
		expired := !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt)
		if !expired && snap.Version <= entry.snap.Version {
			return false, nil
		}
	}
	s.put(jobID, snap, ttl)
	return true, nil
}

func (s *MemoryStore) put(jobID string, snap *model.JobSnapshot, ttl time.Duration) {
	cp := *snap
	entry := memoryEntry{snap: &cp}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.jobs[jobID] = entry
}
