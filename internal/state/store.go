package state

import (
	"context"
	"sync"

	"github.com/insight-intelligence/call-relay-service/internal/domain"
)

// Store holds in-flight call records keyed by call sid. Implementations must
// make Update an atomic read-modify-write: concurrent webhooks for the same
// call may interleave, and a read-then-separate-write would lose updates.
type Store interface {
	// Get returns a snapshot of the record, or false when none exists.
	Get(ctx context.Context, callID string) (*domain.CallRecord, bool)
	// Put creates or replaces the record.
	Put(ctx context.Context, callID string, record *domain.CallRecord) error
	// Update mutates the record under the store's critical section and
	// reports whether a record existed.
	Update(ctx context.Context, callID string, mutate func(*domain.CallRecord)) bool
	// Delete removes the record; deleting a missing record is a no-op.
	Delete(ctx context.Context, callID string) error
	// Count returns the number of tracked calls.
	Count(ctx context.Context) int
}

// MemoryStore is the default process-local Store. Records for calls whose
// completion event is lost live until process restart; the Redis store
// bounds that with a TTL instead.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*domain.CallRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*domain.CallRecord)}
}

func (s *MemoryStore) Get(ctx context.Context, callID string) (*domain.CallRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[callID]
	if !ok {
		return nil, false
	}
	snapshot := *record
	return &snapshot, true
}

func (s *MemoryStore) Put(ctx context.Context, callID string, record *domain.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *record
	s.records[callID] = &stored
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, callID string, mutate func(*domain.CallRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[callID]
	if !ok {
		return false
	}
	mutate(record)
	return true
}

func (s *MemoryStore) Delete(ctx context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, callID)
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}
