package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps histories in process memory with no eviction.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte, 16)}
}

func (m *MemoryStore) Load(_ context.Context, counterpartyID string) (*History, error) {
	key := strings.TrimSpace(counterpartyID)
	if key == "" {
		return nil, ErrInvalidCounterparty
	}

	m.mu.RLock()
	raw, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrHistoryNotFound
	}

	var h History
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return &h, nil
}

// Save stores a deep copy, so later mutation of h does not leak in.
func (m *MemoryStore) Save(_ context.Context, h *History) error {
	if h == nil {
		return ErrNilHistory
	}
	key := strings.TrimSpace(h.CounterpartyID)
	if key == "" {
		return ErrInvalidCounterparty
	}
	if h.Version <= 0 {
		h.Version = 1
	}

	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	m.mu.Lock()
	m.items[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, counterpartyID string) error {
	key := strings.TrimSpace(counterpartyID)
	if key == "" {
		return ErrInvalidCounterparty
	}
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}
