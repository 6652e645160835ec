// Package memory provides an in-process identity store with the same
// semantics as the sqlite store. It backs the engine tests; the CLI always
// uses the sqlite store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/steveyegge/mpsync/internal/storage"
	"github.com/steveyegge/mpsync/internal/types"
)

// MemoryStorage implements storage.IdentityStore in memory.
type MemoryStorage struct {
	mu         sync.RWMutex
	mappings   map[types.EntityKind]map[string]int64
	watermarks map[string]time.Time
	closed     bool
}

var _ storage.IdentityStore = (*MemoryStorage)(nil)

// New creates an empty in-memory store.
func New() *MemoryStorage {
	m := &MemoryStorage{
		mappings:   make(map[types.EntityKind]map[string]int64, len(types.AllKinds)),
		watermarks: make(map[string]time.Time),
	}
	for _, k := range types.AllKinds {
		m.mappings[k] = make(map[string]int64)
	}
	return m
}

func (m *MemoryStorage) check(kind types.EntityKind) error {
	if m.closed {
		return storage.ErrClosed
	}
	if !kind.IsValid() {
		return fmt.Errorf("%w: %q", storage.ErrUnknownKind, kind)
	}
	return nil
}

// GetMapping implements storage.IdentityStore.
func (m *MemoryStorage) GetMapping(_ context.Context, kind types.EntityKind, sourceKey string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(kind); err != nil {
		return 0, false, err
	}
	id, ok := m.mappings[kind][sourceKey]
	return id, ok, nil
}

// PutMapping implements storage.IdentityStore.
func (m *MemoryStorage) PutMapping(_ context.Context, kind types.EntityKind, sourceKey string, targetID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(kind); err != nil {
		return err
	}
	m.mappings[kind][sourceKey] = targetID
	return nil
}

// CountMappings implements storage.IdentityStore.
func (m *MemoryStorage) CountMappings(_ context.Context, kind types.EntityKind) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(kind); err != nil {
		return 0, err
	}
	return len(m.mappings[kind]), nil
}

// GetWatermark implements storage.IdentityStore.
func (m *MemoryStorage) GetWatermark(_ context.Context, projectID string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return time.Time{}, false, storage.ErrClosed
	}
	t, ok := m.watermarks[projectID]
	return t, ok, nil
}

// SetWatermark implements storage.IdentityStore.
func (m *MemoryStorage) SetWatermark(_ context.Context, projectID string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return storage.ErrClosed
	}
	m.watermarks[projectID] = t.UTC()
	return nil
}

// ListWatermarks implements storage.IdentityStore.
func (m *MemoryStorage) ListWatermarks(_ context.Context) (map[string]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, storage.ErrClosed
	}
	out := make(map[string]time.Time, len(m.watermarks))
	for k, v := range m.watermarks {
		out[k] = v
	}
	return out, nil
}

// Close implements storage.IdentityStore.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
