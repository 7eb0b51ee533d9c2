package builtin

import "github.com/xyzzy121/Unicopia/abilities/contract"

// KickID identifies the earth-pony kick.
const KickID = "kick"

const (
	kickWarmup         = 3
	kickCooldown       = 50
	kickReach          = 6
	kickHitRadius      = 2
	kickExertion       = 40
	kickAnimationTicks = 10
	kickDashMana       = 40
)

// Kick bucks the block behind an earth pony, or anything standing there. A
// tap kicks straight away without warmup; a double tap on the ground dashes
// forward.
func Kick() contract.Descriptor {
	return contract.Descriptor{
		ID:       KickID,
		Payload:  (*contract.Pos)(nil),
		Warmup:   contract.Ticks(kickWarmup),
		Cooldown: contract.Ticks(kickCooldown),
		CostEstimate: func(actor contract.Actor) float64 {
			if _, ok := findDestructible(actor); ok {
				return 3
			}
			return 1
		},
		CanUse: func(class contract.Class) bool { return class.CanUseEarth() },
		TryActivate: func(actor contract.Actor) (contract.Payload, bool) {
			if pos, ok := findDestructible(actor); ok {
				return &pos, true
			}
			pos, ok := defaultKickLocation(actor)
			if !ok {
				return nil, false
			}
			return &pos, true
		},
		CanApply: canKick,
		PreApply: func(actor contract.Actor, _ contract.SlotRef) {
			if e, ok := actor.(contract.EnergyUser); ok {
				e.AddExertion(kickExertion)
			}
		},
		Apply: applyKick,
		PrepareQuickAction: func(actor contract.Actor, _ contract.ActivationType) (contract.Payload, bool) {
			pos, ok := defaultKickLocation(actor)
			if !ok {
				return nil, false
			}
			return &pos, true
		},
		QuickAction:     kickQuickAction,
		QuickReplicated: true,
	}
}

func applyKick(actor contract.Actor, payload contract.Payload) {
	target, ok := payload.(*contract.Pos)
	if !ok || target == nil {
		return
	}
	animate(actor, contract.AnimationKick, kickAnimationTicks)

	terrain, ok := actor.(contract.Surroundings)
	if !ok || !terrain.Destructible(*target) {
		subtractEnergy(actor, 1)
		return
	}
	subtractEnergy(actor, 3)
	if terrain.DamageBlock(*target, 4) {
		subtractEnergy(actor, 3)
	}
}

func kickQuickAction(actor contract.Actor, kind contract.ActivationType, data contract.Payload) bool {
	switch kind {
	case contract.ActivationTap:
		if target, ok := data.(*contract.Pos); ok && target != nil {
			kickAt(actor, *target)
		}
		return true
	case contract.ActivationDoubleTap:
		flyer, ok := actor.(contract.Flyer)
		energy, hasEnergy := actor.(contract.EnergyUser)
		if !ok || !hasEnergy || !flyer.IsOnGround() || energy.Mana() <= kickDashMana {
			return false
		}
		flyer.Dash(triangular(rngOf(actor), 3.5, 0.3))
		energy.SubtractEnergy(4)
		return true
	default:
		return false
	}
}

// kickAt hurts the first living thing near target, or damages the block
// there when nothing is in range.
func kickAt(actor contract.Actor, target contract.Pos) {
	defer animate(actor, contract.AnimationKick, kickAnimationTicks)

	world, ok := actor.(contract.Surroundings)
	if !ok {
		return
	}
	strength := 0.5 * (1 + levelScaled(actor, 9))
	for _, victim := range world.LivingNear(target, kickHitRadius, actor.ID()) {
		victim.Damage(float64(between(rngOf(actor), 2, 10)) + strength)
		dx, dz := awayFrom(actor, victim)
		victim.Knockback(strength, dx, dz)
		subtractEnergy(actor, 3)
		return
	}
	if world.Destructible(target) {
		world.DamageBlock(target, 1+levelScaled(actor, 5))
	}
}

func awayFrom(actor contract.Actor, victim contract.Damageable) (int32, int32) {
	origin, ok := actor.(contract.Locator)
	other, otherOK := victim.(contract.Locator)
	if !ok || !otherOK {
		return 0, 0
	}
	from, to := origin.Position(), other.Position()
	return to.X - from.X, to.Z - from.Z
}

// kickDirection is -1 for equine bodies, which kick backwards.
func kickDirection(actor contract.Actor) int32 {
	if actor.Class().IsEquine() {
		return -1
	}
	return 1
}

func defaultKickLocation(actor contract.Actor) (contract.Pos, bool) {
	locator, ok := actor.(contract.Locator)
	if !ok {
		return contract.Pos{}, false
	}
	pos := locator.Position()
	dx, dz := locator.Facing()
	dir := kickDirection(actor)
	return contract.Pos{X: pos.X + dx*dir, Y: pos.Y, Z: pos.Z + dz*dir}, true
}

// canKick accepts open ground anywhere, but a destructible block only when
// it lies on the actor's kick line.
func canKick(actor contract.Actor, payload contract.Payload) bool {
	target, ok := payload.(*contract.Pos)
	if !ok || target == nil {
		return false
	}
	terrain, ok := actor.(contract.Surroundings)
	if !ok || !terrain.Destructible(*target) {
		return true
	}
	locator, ok := actor.(contract.Locator)
	if !ok {
		return false
	}
	pos := locator.Position()
	dx, dz := locator.Facing()
	dir := kickDirection(actor)
	for step := int32(1); step <= kickReach; step++ {
		if *target == (contract.Pos{X: pos.X + dx*dir*step, Y: pos.Y, Z: pos.Z + dz*dir*step}) {
			return true
		}
	}
	return false
}

// findDestructible walks up to kickReach blocks in the kick direction.
func findDestructible(actor contract.Actor) (contract.Pos, bool) {
	locator, ok := actor.(contract.Locator)
	terrain, hasTerrain := actor.(contract.Surroundings)
	if !ok || !hasTerrain {
		return contract.Pos{}, false
	}
	pos := locator.Position()
	dx, dz := locator.Facing()
	dir := kickDirection(actor)
	for step := int32(1); step <= kickReach; step++ {
		candidate := contract.Pos{X: pos.X + dx*dir*step, Y: pos.Y, Z: pos.Z + dz*dir*step}
		if terrain.Destructible(candidate) {
			return candidate, true
		}
	}
	return contract.Pos{}, false
}
