package coordinator

import (
	"github.com/xyzzy121/Unicopia/abilities/contract"
	"github.com/xyzzy121/Unicopia/internal/journal"
	"github.com/xyzzy121/Unicopia/internal/net/proto"
	"github.com/xyzzy121/Unicopia/internal/observability"
	"github.com/xyzzy121/Unicopia/internal/slot"
	"github.com/xyzzy121/Unicopia/internal/telemetry"
	abilitylog "github.com/xyzzy121/Unicopia/logging/abilities"
)

// OnTriggerInput handles an input gesture on an equip slot. Hold gestures
// start warmup, resolving on the spot when the warmup is zero. Tap and
// double-tap run the descriptor's quick action. Actors with a mana pool
// must cover the ability's cost estimate. Rejections wrap
// contract.ErrIneligible and leave the slot untouched.
func (c *Coordinator) OnTriggerInput(actorID string, index int, kind contract.ActivationType) error {
	if c.cfg.Role != RoleAuthority {
		return c.reject(actorID, index, "", contract.Ineligible(contract.ReasonNotAuthority, actorID, index))
	}
	actor, ok := c.actors.Lookup(actorID)
	if !ok {
		return c.reject(actorID, index, "", contract.Ineligible(contract.ReasonMissingActor, actorID, index))
	}
	s, err := c.slotFor(actor, index)
	if err != nil {
		return c.reject(actorID, index, "", err)
	}
	if s.Ability() == "" {
		return c.reject(actorID, index, "", contract.Ineligible(contract.ReasonEmptySlot, actorID, index))
	}
	desc, ok := c.descriptors[s.Ability()]
	if !ok {
		return c.reject(actorID, index, s.Ability(), contract.Ineligible(contract.ReasonUnknownAbility, actorID, index))
	}
	if !desc.Allows(actor.Class()) {
		return c.reject(actorID, index, desc.ID, contract.Ineligible(contract.ReasonClass, actorID, index))
	}
	affordable := false
	if !c.guard(actorID, desc.ID, "cost_estimate", func() { affordable = desc.Affordable(actor) }) || !affordable {
		return c.reject(actorID, index, desc.ID, contract.Ineligible(contract.ReasonCost, actorID, index))
	}

	if kind.IsQuick() {
		return c.quick(actor, s, desc, kind)
	}

	if err := s.Trigger(desc.WarmupFor(actor)); err != nil {
		return c.reject(actorID, index, desc.ID, err)
	}
	if s.Ready() {
		c.resolve(actor, s, desc)
	}
	return nil
}

// OnRelease cancels an in-progress warmup. Cancellation is final: no cost
// and no cooldown. It reports whether anything was cancelled.
func (c *Coordinator) OnRelease(actorID string, index int) bool {
	if c.cfg.Role != RoleAuthority {
		return false
	}
	s := c.Slot(actorID, index)
	if s == nil || !s.Cancel() {
		return false
	}
	c.metrics.RecordActivation(s.Ability(), observability.OutcomeCancelled)
	abilitylog.Cancelled(c.ctx(), c.pub, c.tick, actorID, abilitylog.RejectionPayload{
		Ability: s.Ability(),
		Slot:    index,
		Reason:  "released",
	})
	return true
}

func (c *Coordinator) quick(actor contract.Actor, s *slot.Slot, desc contract.Descriptor, kind contract.ActivationType) error {
	actorID := actor.ID()
	if !desc.HasQuickAction() {
		return c.reject(actorID, s.Index(), desc.ID, contract.Ineligible(contract.ReasonNotConsumed, actorID, s.Index()))
	}
	if err := s.CanTrigger(); err != nil {
		return c.reject(actorID, s.Index(), desc.ID, err)
	}

	var (
		data     contract.Payload
		consumed bool
	)
	if !c.guard(actorID, desc.ID, "prepare_quick_action", func() { data = desc.PrepareQuick(actor, kind) }) {
		return nil
	}
	if !c.guard(actorID, desc.ID, "quick_action", func() { consumed = desc.QuickAction(actor, kind, data) }) {
		return nil
	}
	if !consumed {
		return c.reject(actorID, s.Index(), desc.ID, contract.Ineligible(contract.ReasonNotConsumed, actorID, s.Index()))
	}

	record := proto.Activation{
		World:          actor.World(),
		ActorID:        actorID,
		Slot:           s.Index(),
		AbilityID:      desc.ID,
		Tick:           c.tick,
		Quick:          true,
		ActivationType: kind,
	}
	if desc.QuickReplicated {
		if data != nil {
			envelope, err := c.codec.Encode(desc.ID, data)
			if err != nil {
				telemetry.LogError(c.logger, "[coordinator] encode quick action", err)
				return nil
			}
			record.Envelope = envelope
		}
		record.Seq = c.journal.Next(journal.Key{ActorID: actorID, Slot: s.Index()})
		record.ActivationID = c.newID()
		c.send(proto.EncodeActivation(record))
	}

	c.metrics.RecordActivation(desc.ID, observability.OutcomeQuick)
	abilitylog.Activated(c.ctx(), c.pub, c.tick, actorID, abilitylog.ActivationPayload{
		Ability:      desc.ID,
		Slot:         s.Index(),
		Seq:          record.Seq,
		ActivationID: record.ActivationID,
		Quick:        true,
	})
	return nil
}

// resolve runs once warmup has elapsed, and again each tick while the slot
// waits in Active for TryActivate to succeed.
func (c *Coordinator) resolve(actor contract.Actor, s *slot.Slot, desc contract.Descriptor) {
	actorID := actor.ID()
	var (
		payload contract.Payload
		ok      bool
	)
	if !c.guard(actorID, desc.ID, "try_activate", func() { payload, ok = desc.TryActivate(actor) }) {
		c.abort(actorID, s, "hook_panic")
		return
	}
	if !ok {
		switch {
		case s.State() == slot.WarmingUp && desc.ResolveWindow > 0:
			if err := s.Await(desc.ResolveWindow); err != nil {
				telemetry.LogError(c.logger, "[coordinator] await", err)
				c.abort(actorID, s, "not_ready")
			}
		case s.State() == slot.Active && s.TicksRemaining() > 0:
		default:
			c.abort(actorID, s, "not_ready")
		}
		return
	}
	if payload == nil && desc.Payload == contract.NoPayload {
		payload = contract.NoPayload
	}
	applicable := false
	if !c.guard(actorID, desc.ID, "can_apply", func() { applicable = desc.Applicable(actor, payload) }) {
		c.abort(actorID, s, "hook_panic")
		return
	}
	if !applicable {
		c.abort(actorID, s, "cannot_apply")
		return
	}

	envelope, err := c.codec.Encode(desc.ID, payload)
	if err != nil {
		telemetry.LogError(c.logger, "[coordinator] encode activation", err)
		c.abort(actorID, s, "encode_failed")
		return
	}

	cooldown := desc.CooldownFor(actor)
	ref := s.Ref()
	if !c.applyHooks(actor, desc, ref, payload) {
		c.abort(actorID, s, "hook_panic")
		return
	}

	seq := c.journal.Next(journal.Key{ActorID: actorID, Slot: s.Index()})
	if err := s.Resolve(seq, payload, cooldown); err != nil {
		telemetry.LogError(c.logger, "[coordinator] resolve", err)
		return
	}

	record := proto.Activation{
		World:          actor.World(),
		ActorID:        actorID,
		Slot:           s.Index(),
		Seq:            seq,
		ActivationID:   c.newID(),
		AbilityID:      desc.ID,
		Envelope:       envelope,
		DurationTicks:  cooldown,
		Tick:           c.tick,
		ActivationType: contract.ActivationHold,
	}
	c.send(proto.EncodeActivation(record))

	c.metrics.RecordActivation(desc.ID, observability.OutcomeActivated)
	abilitylog.Activated(c.ctx(), c.pub, c.tick, actorID, abilitylog.ActivationPayload{
		Ability:       desc.ID,
		Slot:          s.Index(),
		Seq:           seq,
		ActivationID:  record.ActivationID,
		DurationTicks: cooldown,
	})
}

func (c *Coordinator) abort(actorID string, s *slot.Slot, reason string) {
	if err := s.Abort(); err != nil {
		telemetry.LogError(c.logger, "[coordinator] abort", err)
	}
	c.metrics.RecordActivation(s.Ability(), observability.OutcomeAborted)
	abilitylog.Aborted(c.ctx(), c.pub, c.tick, actorID, abilitylog.RejectionPayload{
		Ability: s.Ability(),
		Slot:    s.Index(),
		Reason:  reason,
	})
}

func (c *Coordinator) reject(actorID string, index int, abilityID string, err error) error {
	reason := contract.IneligibleReason(err)
	if reason == "" {
		reason = err.Error()
	}
	c.metrics.RecordActivation(abilityID, observability.OutcomeIneligible)
	abilitylog.Ineligible(c.ctx(), c.pub, c.tick, actorID, abilitylog.RejectionPayload{
		Ability: abilityID,
		Slot:    index,
		Reason:  reason,
	})
	return err
}
