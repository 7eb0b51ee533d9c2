package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/xyzzy121/Unicopia/internal/slot"
)

type entityKey struct {
	kind string
	id   string
}

// Memory is an in-process Store used by tests and by servers started
// without a database path.
type Memory struct {
	mu       sync.RWMutex
	slots    map[string][]slot.Snapshot
	entities map[entityKey][]byte
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		slots:    make(map[string][]slot.Snapshot),
		entities: make(map[entityKey][]byte),
	}
}

// SaveSlots replaces the snapshots stored for actorID.
func (m *Memory) SaveSlots(ctx context.Context, actorID string, snaps []slot.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return fmt.Errorf("actor id is required")
	}
	m.mu.Lock()
	m.slots[actorID] = slices.Clone(snaps)
	m.mu.Unlock()
	return nil
}

// LoadSlots returns the snapshots stored for actorID in slot order.
func (m *Memory) LoadSlots(ctx context.Context, actorID string) ([]slot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	snaps, ok := m.slots[actorID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	out := slices.Clone(snaps)
	slices.SortFunc(out, func(a, b slot.Snapshot) int { return a.Index - b.Index })
	return out, nil
}

// DeleteSlots forgets actorID. Deleting an unknown actor is not an error.
func (m *Memory) DeleteSlots(ctx context.Context, actorID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.slots, actorID)
	m.mu.Unlock()
	return nil
}

// SaveEntity stores a copy of data under kind and id.
func (m *Memory) SaveEntity(ctx context.Context, kind, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(kind) == "" || strings.TrimSpace(id) == "" {
		return fmt.Errorf("entity kind and id are required")
	}
	m.mu.Lock()
	m.entities[entityKey{kind: kind, id: id}] = slices.Clone(data)
	m.mu.Unlock()
	return nil
}

// LoadEntity returns a copy of the record under kind and id.
func (m *Memory) LoadEntity(ctx context.Context, kind, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.entities[entityKey{kind: kind, id: id}]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

// DeleteEntity removes the record under kind and id.
func (m *Memory) DeleteEntity(ctx context.Context, kind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.entities, entityKey{kind: kind, id: id})
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
