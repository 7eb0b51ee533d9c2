// Package slot tracks the per-actor, per-equip-slot timing state machine:
// idle, warming up, active and cooling down.
package slot

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/xyzzy121/Unicopia/abilities/contract"
)

var transitions = fsm.Events{
	{Name: EventTrigger, Src: []string{stateIdle}, Dst: stateWarmingUp},
	{Name: EventAwait, Src: []string{stateWarmingUp}, Dst: stateActive},
	{Name: EventResolve, Src: []string{stateWarmingUp, stateActive}, Dst: stateCoolingDown},
	{Name: EventAbort, Src: []string{stateWarmingUp, stateActive}, Dst: stateIdle},
	{Name: EventCancel, Src: []string{stateWarmingUp}, Dst: stateIdle},
	{Name: EventExpire, Src: []string{stateCoolingDown}, Dst: stateIdle},
	{Name: EventMirror, Src: []string{stateIdle, stateWarmingUp, stateActive, stateCoolingDown}, Dst: stateCoolingDown},
}

// Step reports what Advance observed for the coordinator to act on.
type Step uint8

const (
	// StepNone means the slot has nothing for the coordinator to do.
	StepNone Step = iota
	// StepResolve asks the coordinator to call TryActivate.
	StepResolve
	// StepExpired reports a cooldown that reached zero this tick.
	StepExpired
)

// Slot is one equip slot owned by a single actor. It is mutated only from
// the simulation goroutine.
type Slot struct {
	actorID string
	index   int
	ability string

	machine *fsm.FSM
	ticks   uint32

	lastPayload contract.Payload
	seq         uint64

	version uint64
	synced  uint64
	dirty   bool
}

// New constructs an idle, empty slot.
func New(actorID string, index int) *Slot {
	return &Slot{
		actorID: actorID,
		index:   index,
		machine: fsm.NewFSM(stateIdle, transitions, fsm.Callbacks{}),
	}
}

// Ref returns the identity handed to PreApply and PostApply hooks.
func (s *Slot) Ref() contract.SlotRef {
	return contract.SlotRef{ActorID: s.actorID, Index: s.index, Ability: s.ability}
}

func (s *Slot) ActorID() string { return s.actorID }
func (s *Slot) Index() int      { return s.index }
func (s *Slot) Ability() string { return s.ability }

// State returns the current timing phase.
func (s *Slot) State() State {
	state, _ := ParseState(s.machine.Current())
	return state
}

// TicksRemaining returns the countdown of the current phase.
func (s *Slot) TicksRemaining() uint32 { return s.ticks }

// LastPayload returns the payload of the most recent activation.
func (s *Slot) LastPayload() contract.Payload { return s.lastPayload }

// Seq returns the sequence number of the most recent activation.
func (s *Slot) Seq() uint64 { return s.seq }

// Version increases on every visible change.
func (s *Slot) Version() uint64 { return s.version }

// Dirty reports whether the slot changed since the last ClearDirty.
func (s *Slot) Dirty() bool { return s.dirty }

// ClearDirty acknowledges that the current version has been published.
func (s *Slot) ClearDirty() { s.dirty = false }

// Equip binds an ability identity to the slot. The slot must be idle.
func (s *Slot) Equip(abilityID string) error {
	if s.State() != Idle {
		return contract.Ineligible(contract.ReasonBusy, s.actorID, s.index)
	}
	if s.ability == abilityID {
		return nil
	}
	s.ability = abilityID
	s.lastPayload = nil
	s.touch()
	return nil
}

// CanTrigger reports whether a trigger would be accepted right now.
func (s *Slot) CanTrigger() error {
	if s.ability == "" {
		return contract.Ineligible(contract.ReasonEmptySlot, s.actorID, s.index)
	}
	switch s.State() {
	case Idle:
		return nil
	case CoolingDown:
		return contract.Ineligible(contract.ReasonCoolingDown, s.actorID, s.index)
	default:
		return contract.Ineligible(contract.ReasonBusy, s.actorID, s.index)
	}
}

// Trigger enters WarmingUp with the given warmup. A zero warmup leaves the
// slot ready to resolve on the same tick.
func (s *Slot) Trigger(warmup uint32) error {
	if err := s.CanTrigger(); err != nil {
		return err
	}
	if err := s.fire(EventTrigger); err != nil {
		return err
	}
	s.ticks = warmup
	return nil
}

// Ready reports whether a warming slot has finished its countdown.
func (s *Slot) Ready() bool {
	return s.State() == WarmingUp && s.ticks == 0
}

// Advance runs one simulation tick of countdown.
func (s *Slot) Advance() Step {
	switch s.State() {
	case WarmingUp:
		if s.ticks > 0 {
			s.ticks--
		}
		if s.ticks == 0 {
			return StepResolve
		}
	case Active:
		if s.ticks > 0 {
			s.ticks--
		}
		return StepResolve
	case CoolingDown:
		if s.ticks > 0 {
			s.ticks--
		}
		if s.ticks == 0 {
			if err := s.fire(EventExpire); err == nil {
				return StepExpired
			}
		}
	}
	return StepNone
}

// Await keeps the slot Active for up to window ticks so TryActivate can be
// retried.
func (s *Slot) Await(window uint32) error {
	if err := s.fire(EventAwait); err != nil {
		return err
	}
	s.ticks = window
	return nil
}

// Resolve records a completed activation and enters CoolingDown. A zero
// cooldown returns straight to Idle.
func (s *Slot) Resolve(seq uint64, payload contract.Payload, cooldown uint32) error {
	if err := s.fire(EventResolve); err != nil {
		return err
	}
	s.seq = seq
	s.lastPayload = payload
	s.ticks = cooldown
	if cooldown == 0 {
		return s.fire(EventExpire)
	}
	return nil
}

// Abort returns a warming or active slot to Idle without cost or cooldown.
func (s *Slot) Abort() error {
	if err := s.fire(EventAbort); err != nil {
		return err
	}
	s.ticks = 0
	return nil
}

// Cancel releases an in-progress warmup. It reports false when there was
// nothing to cancel.
func (s *Slot) Cancel() bool {
	if s.State() != WarmingUp {
		return false
	}
	if err := s.fire(EventCancel); err != nil {
		return false
	}
	s.ticks = 0
	return true
}

// Mirror applies a replicated activation on an observer: whatever the
// local phase, the slot enters CoolingDown for duration ticks.
func (s *Slot) Mirror(abilityID string, seq uint64, payload contract.Payload, duration uint32) {
	s.ability = abilityID
	s.seq = seq
	s.lastPayload = payload
	if duration == 0 {
		s.machine.SetState(stateIdle)
		s.ticks = 0
		s.touch()
		return
	}
	if err := s.fire(EventMirror); err != nil {
		s.machine.SetState(stateCoolingDown)
		s.touch()
	}
	s.ticks = duration
}

func (s *Slot) fire(event string) error {
	err := s.machine.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return fmt.Errorf("slot %s/%d: %s from %s: %w", s.actorID, s.index, event, s.machine.Current(), err)
	}
	s.touch()
	return nil
}

func (s *Slot) touch() {
	s.version++
	s.dirty = true
}
