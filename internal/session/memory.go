// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"time"

	"github.com/devpilot/orchestrator/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore keeps sessions in process memory. State is stored as its JSON
// encoding so Load always returns an isolated copy, matching the durable
// backends byte for byte. A zero TTL disables expiry.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]memoryRecord
	ttl     time.Duration
	now     func() time.Time
}

type memoryRecord struct {
	payload   []byte
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]memoryRecord),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Save(ctx context.Context, state *domain.WorkflowState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := encodeState(state)
	if err != nil {
		return err
	}

	rec := memoryRecord{payload: payload}
	if s.ttl > 0 {
		rec.expiresAt = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	s.records[state.SessionID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id uuid.UUID) (*domain.WorkflowState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()

	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if !rec.expiresAt.IsZero() && s.now().After(rec.expiresAt) {
		// Expired records are reaped lazily on access.
		s.mu.Lock()
		delete(s.records, id)
		s.mu.Unlock()
		return nil, domain.ErrSessionNotFound
	}

	return decodeState(id, rec.payload)
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.records = make(map[uuid.UUID]memoryRecord)
	s.mu.Unlock()
	return nil
}
