package contract

import (
	"errors"

	"github.com/samber/oops"
)

// ActivationType distinguishes the input gesture that triggered an ability.
type ActivationType uint8

const (
	// ActivationHold is the default press-and-hold gesture that drives the
	// warmup state machine.
	ActivationHold ActivationType = iota
	// ActivationTap is a single short press.
	ActivationTap
	// ActivationDoubleTap is two short presses in quick succession.
	ActivationDoubleTap
)

func (t ActivationType) String() string {
	switch t {
	case ActivationHold:
		return "hold"
	case ActivationTap:
		return "tap"
	case ActivationDoubleTap:
		return "double_tap"
	default:
		return "unknown"
	}
}

// IsQuick reports whether the gesture bypasses the warmup state machine.
func (t ActivationType) IsQuick() bool {
	return t == ActivationTap || t == ActivationDoubleTap
}

// ParseActivationType maps wire names onto activation types.
func ParseActivationType(value string) (ActivationType, bool) {
	switch value {
	case "", "hold":
		return ActivationHold, true
	case "tap":
		return ActivationTap, true
	case "double_tap", "doubleTap":
		return ActivationDoubleTap, true
	default:
		return ActivationHold, false
	}
}

// SlotRef identifies the equip slot an ability fired from. It is handed to
// the PreApply and PostApply bookkeeping hooks.
type SlotRef struct {
	ActorID string
	Index   int
	Ability string
}

// ErrIneligible is the root of every "you may not use this right now"
// rejection: class gate, cost, cooldown, ongoing warmup, missing actor.
var ErrIneligible = errors.New("ability ineligible")

// Ineligibility reasons reported alongside ErrIneligible.
const (
	ReasonUnknownAbility = "unknown_ability"
	ReasonEmptySlot      = "empty_slot"
	ReasonUnknownSlot    = "unknown_slot"
	ReasonClass          = "class"
	ReasonCost           = "cost"
	ReasonCoolingDown    = "cooling_down"
	ReasonBusy           = "busy"
	ReasonMissingActor   = "missing_actor"
	ReasonNotAuthority   = "not_authority"
	ReasonNotConsumed    = "not_consumed"
)

// Ineligible builds a rejection that wraps ErrIneligible and records the
// reason in the error context.
func Ineligible(reason, actorID string, slot int) error {
	return oops.In("abilities").
		Code("ineligible").
		With("reason", reason).
		With("actor_id", actorID).
		With("slot", slot).
		Wrapf(ErrIneligible, "ability ineligible: %s", reason)
}

// IneligibleReason extracts the reason recorded by Ineligible. It returns
// the empty string for other errors.
func IneligibleReason(err error) string {
	if !errors.Is(err, ErrIneligible) {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	reason, _ := oopsErr.Context()["reason"].(string)
	return reason
}
