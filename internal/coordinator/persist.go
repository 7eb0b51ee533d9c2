package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/xyzzy121/Unicopia/abilities/contract"
	"github.com/xyzzy121/Unicopia/internal/journal"
	"github.com/xyzzy121/Unicopia/internal/net/proto"
	"github.com/xyzzy121/Unicopia/internal/slot"
	"github.com/xyzzy121/Unicopia/internal/store"
)

// Snapshots captures every slot of actorID in slot order.
func (c *Coordinator) Snapshots(actorID string) []slot.Snapshot {
	entry, ok := c.entries[actorID]
	if !ok {
		return nil
	}
	snaps := make([]slot.Snapshot, 0, len(entry.slots))
	for _, s := range entry.slots {
		snaps = append(snaps, s.Snapshot())
	}
	return snaps
}

// SaveActor persists the actor's slots, mid-state included.
func (c *Coordinator) SaveActor(ctx context.Context, actorID string) error {
	if c.store == nil {
		return errors.New("coordinator: no slot store configured")
	}
	snaps := c.Snapshots(actorID)
	if snaps == nil {
		return fmt.Errorf("coordinator: actor %q has no slots", actorID)
	}
	if err := c.store.SaveSlots(ctx, actorID, snaps); err != nil {
		return fmt.Errorf("save slots for %s: %w", actorID, err)
	}
	return nil
}

// RestoreActor attaches the actor and resumes its saved slots exactly where
// they were. An actor with nothing saved starts with idle slots. Snapshots
// naming an ability that is no longer registered are skipped.
func (c *Coordinator) RestoreActor(ctx context.Context, actor contract.Actor) error {
	c.Attach(actor)
	if c.store == nil {
		return nil
	}
	snaps, err := c.store.LoadSlots(ctx, actor.ID())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load slots for %s: %w", actor.ID(), err)
	}

	var errs []error
	for _, snap := range snaps {
		if snap.AbilityID != "" && !c.HasAbility(snap.AbilityID) {
			errs = append(errs, fmt.Errorf("slot %d: unknown ability %q", snap.Index, snap.AbilityID))
			continue
		}
		s, err := c.slotFor(actor, snap.Index)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.Restore(snap); err != nil {
			errs = append(errs, err)
			continue
		}
		c.journal.Reset(journal.Key{ActorID: actor.ID(), Slot: snap.Index}, snap.Seq)
	}
	return errors.Join(errs...)
}

// ResyncFrames renders full slot state for a reconnecting observer. An
// empty list selects every actor.
func (c *Coordinator) ResyncFrames(actorIDs []string) [][]byte {
	if len(actorIDs) == 0 {
		actorIDs = c.actorIDs("")
	}
	var frames [][]byte
	for _, actorID := range actorIDs {
		entry, ok := c.entries[actorID]
		if !ok {
			continue
		}
		for _, s := range entry.slots {
			frame, err := proto.EncodeSlotSync(c.syncFor(actorID, s, true))
			if err != nil {
				c.send(nil, err)
				continue
			}
			frames = append(frames, frame)
		}
	}
	return frames
}

func (c *Coordinator) syncFor(actorID string, s *slot.Slot, resync bool) proto.SlotSync {
	snap := s.Snapshot()
	lastSeq := snap.Seq
	if cursor, ok := c.journal.Cursor(journal.Key{ActorID: actorID, Slot: s.Index()}); ok && cursor > lastSeq {
		lastSeq = cursor
	}
	return proto.SlotSync{
		ActorID:        actorID,
		Slot:           snap.Index,
		Version:        snap.Version,
		AbilityID:      snap.AbilityID,
		State:          snap.State,
		TicksRemaining: snap.TicksRemaining,
		LastSeq:        lastSeq,
		Resync:         resync,
	}
}
