package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/xyzzy121/Unicopia/internal/coordinator"
	"github.com/xyzzy121/Unicopia/internal/store"
	"github.com/xyzzy121/Unicopia/internal/world"
)

// restoreActor loads the actor's saved body and slots. It reports whether
// a saved body was found.
func (h *Hub) restoreActor(ctx context.Context, actor *world.Actor) (bool, error) {
	restored := false
	var errs []error

	data, err := h.store.LoadEntity(ctx, world.EntityKind, actor.ID())
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		errs = append(errs, fmt.Errorf("load actor %s: %w", actor.ID(), err))
	default:
		state, err := world.DecodeState(data)
		if err == nil {
			err = actor.Restore(state)
		}
		if err != nil {
			errs = append(errs, err)
		} else {
			restored = true
		}
	}

	if err := h.coord.RestoreActor(ctx, actor); err != nil {
		errs = append(errs, err)
	}
	return restored, errors.Join(errs...)
}

func (h *Hub) saveActor(ctx context.Context, actorID string) error {
	actor, ok := h.world.Actor(actorID)
	if !ok {
		return fmt.Errorf("save actor %s: not in world", actorID)
	}
	data, err := world.EncodeState(actor.State())
	if err != nil {
		return err
	}
	if err := h.store.SaveEntity(ctx, world.EntityKind, actorID, data); err != nil {
		return fmt.Errorf("save actor %s: %w", actorID, err)
	}
	return h.coord.SaveActor(ctx, actorID)
}

// SaveAll persists every actor and spellcast. It must run on the
// simulation goroutine or after Run has returned. Observers own nothing
// and save nothing.
func (h *Hub) SaveAll(ctx context.Context) error {
	if h.cfg.Role != coordinator.RoleAuthority {
		return nil
	}
	var errs []error
	for _, id := range h.world.ActorIDs() {
		if err := h.saveActor(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.casts.Save(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
