package activation

import (
	"context"
	"sync"
)

// Store persists the single activation record. Implementations must
// give read-after-write consistency within a process and report every
// I/O failure as KindStoreIO.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
}

// MemoryStore keeps the record in memory. State is lost on restart.
type MemoryStore struct {
	mu  sync.RWMutex
	rec Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, storeError("load", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec, nil
}

func (s *MemoryStore) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return storeError("save", err)
	}
	s.mu.Lock()
	s.rec = rec
	s.mu.Unlock()
	return nil
}
