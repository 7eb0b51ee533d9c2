package coordinator

import (
	"errors"

	"github.com/xyzzy121/Unicopia/abilities/contract"
	"github.com/xyzzy121/Unicopia/internal/codec"
	"github.com/xyzzy121/Unicopia/internal/journal"
	"github.com/xyzzy121/Unicopia/internal/net/proto"
	"github.com/xyzzy121/Unicopia/internal/observability"
	"github.com/xyzzy121/Unicopia/internal/slot"
	abilitylog "github.com/xyzzy121/Unicopia/logging/abilities"
)

// Receive applies one replication frame and reports what happened to it.
// It never fails: malformed, duplicate and orphaned frames are dropped.
func (c *Coordinator) Receive(data []byte) string {
	frame, err := proto.DecodeFrame(data)
	if err != nil {
		c.metrics.RecordDelivery(observability.DeliveryMalformed)
		abilitylog.MalformedPayload(c.ctx(), c.pub, c.tick, "", abilitylog.DeliveryPayload{Error: err.Error()})
		return observability.DeliveryMalformed
	}

	var result string
	switch {
	case frame.Activation != nil && c.cfg.Role == RoleObserver:
		result = c.receiveActivation(*frame.Activation)
	case frame.SlotSync != nil && c.cfg.Role == RoleObserver:
		result = c.receiveSync(*frame.SlotSync)
	case frame.Resync != nil && c.cfg.Role == RoleAuthority:
		for _, out := range c.ResyncFrames(frame.Resync.ActorIDs) {
			c.send(out, nil)
		}
		result = observability.DeliveryApplied
	default:
		result = observability.DeliveryIgnored
	}
	c.metrics.RecordDelivery(result)
	return result
}

func (c *Coordinator) receiveActivation(record proto.Activation) string {
	delivery := abilitylog.DeliveryPayload{Ability: record.AbilityID, Slot: record.Slot, Seq: record.Seq}

	desc, ok := c.descriptors[record.AbilityID]
	if !ok {
		abilitylog.UnknownAbility(c.ctx(), c.pub, c.tick, record.ActorID, delivery)
		return observability.DeliveryUnknown
	}
	if record.Slot < 0 || record.Slot >= c.cfg.SlotCount {
		delivery.Error = "slot out of range"
		abilitylog.MalformedPayload(c.ctx(), c.pub, c.tick, record.ActorID, delivery)
		return observability.DeliveryMalformed
	}

	payload, err := c.decodeEnvelope(record)
	if err != nil {
		delivery.Error = err.Error()
		if errors.Is(err, codec.ErrUnknownAbility) {
			abilitylog.UnknownAbility(c.ctx(), c.pub, c.tick, record.ActorID, delivery)
			return observability.DeliveryUnknown
		}
		abilitylog.MalformedPayload(c.ctx(), c.pub, c.tick, record.ActorID, delivery)
		return observability.DeliveryMalformed
	}

	key := journal.Key{ActorID: record.ActorID, Slot: record.Slot}
	expected, _ := c.journal.Cursor(key)
	switch c.journal.Observe(key, record.Seq, c.tick) {
	case journal.Duplicate:
		abilitylog.DuplicateDelivery(c.ctx(), c.pub, c.tick, record.ActorID, delivery)
		return observability.DeliveryDuplicate
	case journal.Retired:
		return observability.DeliveryStale
	case journal.Gap:
		delivery.Expected = expected + 1
		abilitylog.SequenceGap(c.ctx(), c.pub, c.tick, record.ActorID, delivery)
	}

	actor, ok := c.actors.Lookup(record.ActorID)
	if !ok {
		c.queue.Schedule(record.World, c.tick+c.cfg.MissingActorRetryTicks, func() {
			c.retryActivation(record, desc, payload)
		})
		return observability.DeliveryDeferred
	}
	c.mirror(actor, record, desc, payload)
	return observability.DeliveryApplied
}

// retryActivation is the single deferred attempt for an activation whose
// actor was not loaded on arrival. A second miss drops it silently.
func (c *Coordinator) retryActivation(record proto.Activation, desc contract.Descriptor, payload contract.Payload) {
	actor, ok := c.actors.Lookup(record.ActorID)
	if !ok {
		c.metrics.RecordDelivery(observability.DeliveryMissingActor)
		abilitylog.MissingActor(c.ctx(), c.pub, c.tick, record.ActorID, abilitylog.DeliveryPayload{
			Ability: record.AbilityID,
			Slot:    record.Slot,
			Seq:     record.Seq,
		})
		return
	}
	c.mirror(actor, record, desc, payload)
	c.metrics.RecordDelivery(observability.DeliveryApplied)
}

// mirror applies a replicated activation without warmup or cost checks.
func (c *Coordinator) mirror(actor contract.Actor, record proto.Activation, desc contract.Descriptor, payload contract.Payload) {
	s, err := c.slotFor(actor, record.Slot)
	if err != nil {
		return
	}
	if record.Quick {
		c.guard(actor.ID(), desc.ID, "quick_action", func() {
			desc.QuickAction(actor, record.ActivationType, payload)
		})
	} else {
		if !c.applyHooks(actor, desc, contract.SlotRef{ActorID: actor.ID(), Index: record.Slot, Ability: desc.ID}, payload) {
			return
		}
		s.Mirror(desc.ID, record.Seq, payload, record.DurationTicks)
	}

	c.metrics.RecordActivation(desc.ID, observability.OutcomeMirrored)
	abilitylog.Mirrored(c.ctx(), c.pub, c.tick, actor.ID(), abilitylog.ActivationPayload{
		Ability:       desc.ID,
		Slot:          record.Slot,
		Seq:           record.Seq,
		ActivationID:  record.ActivationID,
		DurationTicks: record.DurationTicks,
		Quick:         record.Quick,
	})
}

func (c *Coordinator) decodeEnvelope(record proto.Activation) (contract.Payload, error) {
	if len(record.Envelope) == 0 && record.Quick {
		return nil, nil
	}
	abilityID, payload, err := c.codec.Decode(record.Envelope)
	if err != nil {
		return nil, err
	}
	if abilityID != record.AbilityID {
		return nil, codec.IdentityMismatch(record.AbilityID, abilityID)
	}
	return payload, nil
}

func (c *Coordinator) receiveSync(sync proto.SlotSync) string {
	actor, ok := c.actors.Lookup(sync.ActorID)
	if !ok {
		return observability.DeliveryMissingActor
	}
	if sync.AbilityID != "" && !c.HasAbility(sync.AbilityID) {
		abilitylog.UnknownAbility(c.ctx(), c.pub, c.tick, sync.ActorID, abilitylog.DeliveryPayload{
			Ability: sync.AbilityID,
			Slot:    sync.Slot,
			Seq:     sync.LastSeq,
		})
		return observability.DeliveryUnknown
	}
	s, err := c.slotFor(actor, sync.Slot)
	if err != nil {
		return observability.DeliveryMalformed
	}
	if sync.Resync {
		c.journal.Reset(journal.Key{ActorID: sync.ActorID, Slot: sync.Slot}, sync.LastSeq)
	}
	applied, err := s.ApplySync(slot.Snapshot{
		Index:          sync.Slot,
		AbilityID:      sync.AbilityID,
		State:          sync.State,
		TicksRemaining: sync.TicksRemaining,
		Seq:            sync.LastSeq,
		Version:        sync.Version,
	})
	if err != nil {
		abilitylog.MalformedPayload(c.ctx(), c.pub, c.tick, sync.ActorID, abilitylog.DeliveryPayload{
			Ability: sync.AbilityID,
			Slot:    sync.Slot,
			Error:   err.Error(),
		})
		return observability.DeliveryMalformed
	}
	if !applied {
		return observability.DeliveryStale
	}
	return observability.DeliveryApplied
}
