// Package memory is a process-local KV backend for tests and ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/gosuda/appexplorer/internal/domain"
)

type KV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func New() *KV {
	return &KV{data: make(map[string][]byte)}
}

func (m *KV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("memory.KV.Get(%q): %w", key, domain.ErrNotFound)
	}
	return slices.Clone(v), nil
}

func (m *KV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = slices.Clone(value)
	return nil
}

func (m *KV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Keys returns the stored keys in sorted order.
func (m *KV) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (m *KV) Close() error { return nil }
