package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xyzzy121/Unicopia/abilities/contract"
	"github.com/xyzzy121/Unicopia/internal/coordinator"
	"github.com/xyzzy121/Unicopia/internal/net/intake"
	"github.com/xyzzy121/Unicopia/internal/net/proto"
	"github.com/xyzzy121/Unicopia/internal/sim"
	"github.com/xyzzy121/Unicopia/internal/telemetry"
	"github.com/xyzzy121/Unicopia/internal/world"
	simlog "github.com/xyzzy121/Unicopia/logging/simulation"
)

// engineCore adapts the hub to sim.EngineCore. Every method runs on the
// simulation goroutine.
type engineCore struct {
	hub *Hub
}

func (c *engineCore) Deps() sim.Deps {
	return sim.Deps{Logger: c.hub.logger, Metrics: c.hub.metrics, Clock: c.hub.clock}
}

// Apply runs the tick's commands. Refused gameplay commands are reported
// to the issuing session; only infrastructure failures are returned.
func (c *engineCore) Apply(tick uint64, cmds []sim.Command) error {
	h := c.hub
	var errs []error
	for _, cmd := range cmds {
		err := h.apply(cmd)
		if err == nil {
			continue
		}
		if reason := contract.IneligibleReason(err); reason != "" {
			h.reject(cmd, reason, tick)
			continue
		}
		if cmd.Type == sim.CommandEquip || cmd.Type == sim.CommandCast {
			h.reject(cmd, intake.CommandRejectInvalidAction, tick)
		}
		errs = append(errs, fmt.Errorf("%s %s: %w", cmd.Type, cmd.ActorID, err))
	}
	return errors.Join(errs...)
}

// Step runs after the tick's commands: it publishes the slots they
// touched, then advances spellcasts and saves on the configured interval.
func (c *engineCore) Step(ctx sim.LoopTickContext) {
	h := c.hub
	h.coord.Flush(h.world.Name())
	h.casts.Tick(context.Background(), ctx.Tick)
	h.tick.Store(ctx.Tick)

	if interval := h.cfg.SaveIntervalTicks; interval > 0 && ctx.Tick%interval == 0 {
		saveCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := h.SaveAll(saveCtx); err != nil {
			logError(h, "periodic save failed", err)
		}
		cancel()
	}
}

// prepare runs ahead of the tick's commands. Inbound replication is applied
// and every slot counts down before new input is seen, so a trigger never
// loses a warmup tick and warmup and cooldown are counted alike.
func (h *Hub) prepare(ctx sim.LoopTickContext) {
	for _, frame := range h.drainInbox() {
		h.receive(frame)
	}
	h.world.Advance(ctx.Tick)
	h.coord.OnTick(h.world.Name(), ctx.Tick)
}

func (h *Hub) apply(cmd sim.Command) error {
	switch cmd.Type {
	case sim.CommandEquip, sim.CommandTrigger, sim.CommandRelease, sim.CommandCast:
		if cmd.Ability == nil {
			return fmt.Errorf("%s without ability data", cmd.Type)
		}
	}
	switch cmd.Type {
	case sim.CommandSpawn:
		if cmd.Spawn == nil {
			return errors.New("spawn without class")
		}
		return h.spawn(cmd.ActorID, cmd.Spawn.Class)
	case sim.CommandDespawn:
		return h.despawn(cmd.ActorID)
	case sim.CommandEquip:
		return h.coord.Equip(cmd.ActorID, cmd.Ability.Slot, cmd.Ability.Ability)
	case sim.CommandTrigger:
		return h.coord.OnTriggerInput(cmd.ActorID, cmd.Ability.Slot, cmd.Ability.Activation)
	case sim.CommandRelease:
		h.coord.OnRelease(cmd.ActorID, cmd.Ability.Slot)
		return nil
	case sim.CommandCast:
		actor, ok := h.world.Actor(cmd.ActorID)
		if !ok {
			return contract.Ineligible(contract.ReasonMissingActor, cmd.ActorID, 0)
		}
		_, err := h.casts.Cast(actor, actor.Position(), cmd.Ability.Ability)
		return err
	default:
		return fmt.Errorf("unsupported command %q", cmd.Type)
	}
}

func (h *Hub) spawn(actorID string, class contract.Class) error {
	if _, exists := h.world.Actor(actorID); exists {
		return nil
	}
	actor, err := h.world.Spawn(actorID, class)
	if err != nil {
		return err
	}
	restored, err := h.restoreActor(context.Background(), actor)
	if err != nil {
		logError(h, "restore "+actorID, err)
	}
	if !restored && h.cfg.Role == coordinator.RoleAuthority {
		h.equipLoadout(actor)
	}
	h.announce(actor, true)
	return nil
}

// equipLoadout fills the slots in registration order with every ability
// the actor's class may use.
func (h *Hub) equipLoadout(actor *world.Actor) {
	index := 0
	for _, id := range h.coord.Abilities() {
		if index >= h.coord.SlotCount() {
			return
		}
		desc, _ := h.coord.Descriptor(id)
		if !desc.Allows(actor.Class()) {
			continue
		}
		if err := h.coord.Equip(actor.ID(), index, id); err == nil {
			index++
		}
	}
}

func (h *Hub) despawn(actorID string) error {
	actor, ok := h.world.Actor(actorID)
	if !ok {
		return nil
	}
	var err error
	if h.cfg.Role == coordinator.RoleAuthority {
		saveCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		err = h.saveActor(saveCtx, actorID)
		cancel()
	}
	h.announce(actor, false)
	h.coord.Detach(actorID)
	h.world.Remove(actorID)
	return err
}

// announce tells observers that an actor entered or left the world.
func (h *Hub) announce(actor *world.Actor, present bool) {
	if h.cfg.Role != coordinator.RoleAuthority {
		return
	}
	frame, err := proto.EncodePresence(proto.Presence{
		World:   h.world.Name(),
		ActorID: actor.ID(),
		Class:   actor.Class(),
		Present: present,
	})
	if err != nil {
		logError(h, "encode presence", err)
		return
	}
	h.broadcastFrame(frame)
}

// receive routes one inbound frame. Presence frames maintain an observer's
// roster; resync requests are answered with presence ahead of slot state;
// everything else goes to the coordinator.
func (h *Hub) receive(frame []byte) {
	kind, _ := proto.PeekKind(frame)
	switch {
	case kind == proto.KindPresence && h.cfg.Role == coordinator.RoleObserver:
		decoded, err := proto.DecodeFrame(frame)
		if err != nil || decoded.Presence == nil {
			h.coord.Receive(frame)
			return
		}
		h.mirrorPresence(*decoded.Presence)
	case kind == proto.KindResyncRequest && h.cfg.Role == coordinator.RoleAuthority:
		decoded, err := proto.DecodeFrame(frame)
		if err == nil && decoded.Resync != nil {
			ids := decoded.Resync.ActorIDs
			if len(ids) == 0 {
				ids = h.world.ActorIDs()
			}
			for _, id := range ids {
				if actor, ok := h.world.Actor(id); ok {
					h.announce(actor, true)
				}
			}
		}
		h.coord.Receive(frame)
	default:
		h.coord.Receive(frame)
	}
}

func (h *Hub) mirrorPresence(p proto.Presence) {
	if p.World != "" && p.World != h.world.Name() {
		return
	}
	if !p.Present {
		h.coord.Detach(p.ActorID)
		h.world.Remove(p.ActorID)
		h.mu.Lock()
		delete(h.roster, p.ActorID)
		h.storeGaugesLocked()
		h.mu.Unlock()
		return
	}
	if _, ok := h.world.Actor(p.ActorID); ok {
		return
	}
	actor, err := h.world.Spawn(p.ActorID, p.Class)
	if err != nil {
		logError(h, "mirror presence", err)
		return
	}
	h.coord.Attach(actor)
	h.mu.Lock()
	h.roster[p.ActorID] = &Member{ID: p.ActorID, Class: p.Class, LastHeartbeat: h.clock.Now()}
	h.storeGaugesLocked()
	h.mu.Unlock()
}

func (h *Hub) reject(cmd sim.Command, reason string, tick uint64) {
	simlog.CommandDropped(context.Background(), h.publisher, tick, cmd.ActorID, simlog.CommandDroppedPayload{
		Reason:  reason,
		Command: string(cmd.Type),
	})
	if cmd.Seq == 0 {
		return
	}
	data, err := proto.EncodeCommandReject(proto.CommandReject{Seq: cmd.Seq, Reason: reason, Tick: tick})
	if err != nil {
		logError(h, "encode reject", err)
		return
	}
	h.broadcast(Message{Data: data}, cmd.ActorID)
}

func (h *Hub) afterStep(result sim.LoopStepResult) {
	h.metrics.ObserveTick(result.Duration.Seconds())
	if result.Budget <= 0 || result.Duration <= result.Budget {
		h.overrunStreak = 0
		return
	}
	h.overrunStreak++
	ratio := float64(result.Duration) / float64(result.Budget)
	simlog.TickBudgetOverrun(context.Background(), h.publisher, result.Tick, simlog.TickBudgetOverrunPayload{
		DurationMillis: result.Duration.Milliseconds(),
		BudgetMillis:   result.Budget.Milliseconds(),
		Ratio:          ratio,
		Streak:         h.overrunStreak,
	}, map[string]any{"world": h.world.Name()})
}

func logError(h *Hub, msg string, err error) {
	telemetry.LogError(h.logger, "[hub] "+msg, err)
}
