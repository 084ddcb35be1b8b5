package transfer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	transfers map[string]*Transfer
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transfers: make(map[string]*Transfer)}
}

func (m *MemoryStore) Create(ctx context.Context, t *Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.transfers[t.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transfers[id]
	if !ok {
		return nil, ErrTransferNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id string, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return ErrTransferNotFound
	}
	if t.Status != from {
		return fmt.Errorf("%w: transfer is %s", ErrStateConflict, t.Status)
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var items []*Transfer
	for _, t := range m.transfers {
		if t.SenderUserID == userID || t.ReceiverUserID == userID {
			cp := *t
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	if offset >= len(items) {
		return nil, nil
	}
	items = items[offset:]
	if limit < len(items) {
		items = items[:limit]
	}
	return items, nil
}

func (m *MemoryStore) CountByUser(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, t := range m.transfers {
		if t.SenderUserID == userID || t.ReceiverUserID == userID {
			count++
		}
	}
	return count, nil
}
