package builtin

import (
	"slices"

	"github.com/xyzzy121/Unicopia/abilities/contract"
)

// CarryID identifies the pegasus carry ability.
const CarryID = "carry"

const (
	carryWarmup   = 5
	carryCooldown = 10
	carryReach    = 10
)

// Carry lets a flyer pick up the nearest actor, dropping whoever it was
// carrying before. A tap while airborne dashes forward; it is cosmetic and
// stays local.
func Carry() contract.Descriptor {
	return contract.Descriptor{
		ID:           CarryID,
		Payload:      (*contract.Hit)(nil),
		Warmup:       contract.Ticks(carryWarmup),
		Cooldown:     contract.Ticks(carryCooldown),
		CostEstimate: contract.Cost(0),
		CanUse:       func(class contract.Class) bool { return class.CanFly() },
		TryActivate: func(contract.Actor) (contract.Payload, bool) {
			return &contract.Hit{}, true
		},
		Apply: applyCarry,
		QuickAction: func(actor contract.Actor, kind contract.ActivationType, _ contract.Payload) bool {
			flyer, ok := actor.(contract.Flyer)
			if kind != contract.ActivationTap || !ok || !flyer.IsFlying() {
				return false
			}
			flyer.Dash(triangular(rngOf(actor), 1, 0.3))
			return true
		},
	}
}

func applyCarry(actor contract.Actor, _ contract.Payload) {
	carrier, ok := actor.(contract.Carrier)
	if !ok {
		return
	}
	rider := findRider(actor, carrier)
	carrier.DropPassengers()
	if rider != "" {
		carrier.PickUp(rider)
	}
}

// findRider picks the nearest actor that is not already riding.
func findRider(actor contract.Actor, carrier contract.Carrier) string {
	world, ok := actor.(contract.Surroundings)
	locator, hasPos := actor.(contract.Locator)
	if !ok || !hasPos {
		return ""
	}
	riding := carrier.Passengers()
	for _, candidate := range world.LivingNear(locator.Position(), carryReach, actor.ID()) {
		if !slices.Contains(riding, candidate.ID()) {
			return candidate.ID()
		}
	}
	return ""
}
