// Package store persists slot timing state and compound entity records
// across save and reload.
package store

import (
	"context"
	"errors"

	"github.com/xyzzy121/Unicopia/internal/slot"
)

// ErrNotFound reports that nothing was saved under the requested key.
var ErrNotFound = errors.New("store: not found")

// SlotStore reads and writes the per-actor slot snapshots.
type SlotStore interface {
	SaveSlots(ctx context.Context, actorID string, snaps []slot.Snapshot) error
	LoadSlots(ctx context.Context, actorID string) ([]slot.Snapshot, error)
	DeleteSlots(ctx context.Context, actorID string) error
}

// EntityStore keeps opaque encoded records for non-actor entities such as
// spellcasts, keyed by kind and id.
type EntityStore interface {
	SaveEntity(ctx context.Context, kind, id string, data []byte) error
	LoadEntity(ctx context.Context, kind, id string) ([]byte, error)
	DeleteEntity(ctx context.Context, kind, id string) error
}

// Store is the full persistence surface used by the hub.
type Store interface {
	SlotStore
	EntityStore
	Close() error
}
