package mfa

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory challenge store for demo/development mode.
type MemoryStore struct {
	challenges map[string]*Challenge // by transfer ID
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory challenge store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{challenges: make(map[string]*Challenge)}
}

func (m *MemoryStore) Upsert(ctx context.Context, ch *Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ch
	m.challenges[ch.TransferID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, transferID string) (*Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.challenges[transferID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	cp := *ch
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, ch *Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.challenges[ch.TransferID]; !ok {
		return ErrChallengeNotFound
	}
	cp := *ch
	m.challenges[ch.TransferID] = &cp
	return nil
}
