package coordinator

import (
	"github.com/xyzzy121/Unicopia/internal/deferred"
	"github.com/xyzzy121/Unicopia/internal/net/proto"
	"github.com/xyzzy121/Unicopia/internal/slot"
	abilitylog "github.com/xyzzy121/Unicopia/logging/abilities"
)

// OnTick advances one simulation step of world: deferred tasks due by tick
// run first, then every slot of every actor in the world counts down. The
// authority flushes dirty slots as SlotSync frames afterwards; an observer
// that lost frames asks for a resync. The first call seals the registry.
func (c *Coordinator) OnTick(world string, tick uint64) {
	c.sealed = true
	c.tick = tick

	stats := c.queue.Process(world, tick)
	c.metrics.RecordDeferred("executed", stats.Executed)
	c.metrics.RecordDeferred("panicked", stats.Panicked)
	if stats.Stale > 0 {
		c.metrics.RecordDeferred("stale", stats.Stale)
		abilitylog.DeferredStale(c.ctx(), c.pub, tick, world, stats.Stale)
	}

	for _, actorID := range c.actorIDs(world) {
		entry := c.entries[actorID]
		for _, s := range entry.slots {
			c.advance(actorID, s)
		}
	}

	switch c.cfg.Role {
	case RoleAuthority:
		c.flush(world)
	case RoleObserver:
		if signal, ok := c.journal.ConsumeResyncHint(); ok {
			c.send(proto.EncodeResyncRequest(proto.ResyncRequest{ActorIDs: signal.Actors()}))
		}
	}
}

func (c *Coordinator) advance(actorID string, s *slot.Slot) {
	if s.Advance() != slot.StepResolve || c.cfg.Role != RoleAuthority {
		return
	}
	desc, ok := c.descriptors[s.Ability()]
	if !ok {
		c.abort(actorID, s, "unknown_ability")
		return
	}
	actor, ok := c.actors.Lookup(actorID)
	if !ok {
		c.abort(actorID, s, "missing_actor")
		return
	}
	c.resolve(actor, s, desc)
}

// Flush publishes slots changed since OnTick, such as those touched by
// commands applied after the countdown. Observers never publish.
func (c *Coordinator) Flush(world string) {
	if c.cfg.Role == RoleAuthority {
		c.flush(world)
	}
}

// flush publishes every dirty slot in world.
func (c *Coordinator) flush(world string) {
	for _, actorID := range c.actorIDs(world) {
		for _, s := range c.entries[actorID].slots {
			if !s.Dirty() {
				continue
			}
			c.send(proto.EncodeSlotSync(c.syncFor(actorID, s, false)))
			s.ClearDirty()
		}
	}
}

// ScheduleDeferred runs action on world's simulation goroutine delay ticks
// after the current tick.
func (c *Coordinator) ScheduleDeferred(world string, delay uint64, action deferred.Action) {
	c.queue.Schedule(world, c.tick+delay, action)
}

// ScheduleDeferredFor is ScheduleDeferred for an action that captures an
// actor. The action becomes a no-op if the actor is gone by its deadline.
func (c *Coordinator) ScheduleDeferredFor(world, actorID string, delay uint64, action deferred.Action) {
	c.queue.ScheduleOwned(world, actorID, c.tick+delay, action)
}

// PendingDeferred reports the number of queued deferred tasks.
func (c *Coordinator) PendingDeferred() int { return c.queue.Pending() }

// DropWorld discards the world's deferred tasks when it unloads.
func (c *Coordinator) DropWorld(world string) int {
	dropped := c.queue.DropWorld(world)
	c.metrics.RecordDeferred("dropped", dropped)
	return dropped
}
