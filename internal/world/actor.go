package world

import (
	"math"
	"math/rand"
	"slices"

	"github.com/xyzzy121/Unicopia/abilities/contract"
)

const (
	MaxMana      = 100.0
	MaxExertion  = 100.0
	MaxHealth    = 20.0
	manaRegen    = 0.05
	exertionDrop = 1.0
)

// Actor is a loaded player or creature. It implements contract.Actor and
// every optional capability ability descriptors check for.
type Actor struct {
	world *World
	id    string
	class contract.Class

	position contract.Pos
	facingX  int32
	facingZ  int32
	flying   bool

	mana     float64
	spent    float64
	exertion float64
	health   float64
	level    float64

	animation      contract.Animation
	animationTicks uint32

	passengers []string
	carrier    string
}

func newActor(w *World, id string, class contract.Class) *Actor {
	return &Actor{
		world:   w,
		id:      id,
		class:   class,
		facingZ: 1,
		mana:    MaxMana,
		health:  MaxHealth,
	}
}

func (a *Actor) ID() string            { return a.id }
func (a *Actor) Class() contract.Class { return a.class }
func (a *Actor) World() string         { return a.world.Name() }

// SetAnimation implements contract.Animator. A zero duration holds the pose
// until replaced.
func (a *Actor) SetAnimation(anim contract.Animation, durationTicks uint32) {
	a.animation = anim
	a.animationTicks = durationTicks
}

// Animation reports the current pose and its remaining ticks.
func (a *Actor) Animation() (contract.Animation, uint32) {
	return a.animation, a.animationTicks
}

// SubtractEnergy implements contract.EnergyUser. Mana never drops below zero.
func (a *Actor) SubtractEnergy(amount float64) {
	if amount <= 0 {
		return
	}
	a.spent += amount
	a.mana = math.Max(0, a.mana-amount)
}

// AddExertion implements contract.EnergyUser.
func (a *Actor) AddExertion(amount float64) {
	a.exertion = math.Min(MaxExertion, math.Max(0, a.exertion+amount))
}

func (a *Actor) Mana() float64     { return a.mana }
func (a *Actor) Exertion() float64 { return a.exertion }

// EnergySpent totals every SubtractEnergy call.
func (a *Actor) EnergySpent() float64 { return a.spent }

func (a *Actor) SetMana(mana float64) {
	a.mana = math.Min(MaxMana, math.Max(0, mana))
}

func (a *Actor) Position() contract.Pos { return a.position }

func (a *Actor) SetPosition(pos contract.Pos) {
	a.position = contract.Pos{X: pos.X, Y: pos.Y, Z: pos.Z}
}

func (a *Actor) Facing() (dx, dz int32) { return a.facingX, a.facingZ }

// SetFacing points the actor along one of the eight horizontal directions.
func (a *Actor) SetFacing(dx, dz int32) {
	dx, dz = sign(dx), sign(dz)
	if dx == 0 && dz == 0 {
		return
	}
	a.facingX, a.facingZ = dx, dz
}

func (a *Actor) IsFlying() bool   { return a.flying }
func (a *Actor) IsOnGround() bool { return !a.flying && a.carrier == "" }

// SetFlying takes off or lands. Classes that cannot fly stay grounded.
func (a *Actor) SetFlying(flying bool) {
	a.flying = flying && a.class.CanFly()
}

// Dash implements contract.Flyer by moving the actor forward.
func (a *Actor) Dash(strength float64) {
	step := int32(math.Round(strength))
	if step <= 0 {
		return
	}
	a.position.X += a.facingX * step
	a.position.Z += a.facingZ * step
	a.carryPassengers()
}

// Passengers implements contract.Carrier.
func (a *Actor) Passengers() []string { return slices.Clone(a.passengers) }

// Carrier returns the id of the actor carrying this one.
func (a *Actor) Carrier() string { return a.carrier }

// DropPassengers implements contract.Carrier. Passengers land where the
// carrier stands.
func (a *Actor) DropPassengers() {
	for _, id := range a.passengers {
		if passenger, ok := a.world.actors[id]; ok {
			passenger.carrier = ""
			passenger.position = a.position
		}
	}
	a.passengers = nil
}

// PickUp implements contract.Carrier.
func (a *Actor) PickUp(entityID string) bool {
	if entityID == a.id || entityID == a.carrier {
		return false
	}
	passenger, ok := a.world.actors[entityID]
	if !ok || passenger.carrier != "" || len(passenger.passengers) > 0 {
		return false
	}
	passenger.carrier = a.id
	a.passengers = append(a.passengers, entityID)
	a.carryPassengers()
	return true
}

func (a *Actor) releasePassenger(id string) {
	a.passengers = slices.DeleteFunc(a.passengers, func(p string) bool { return p == id })
}

func (a *Actor) carryPassengers() {
	for _, id := range a.passengers {
		if passenger, ok := a.world.actors[id]; ok {
			passenger.position = contract.Pos{X: a.position.X, Y: a.position.Y + 1, Z: a.position.Z}
		}
	}
}

func (a *Actor) Health() float64 { return a.health }

// Damage implements contract.Damageable.
func (a *Actor) Damage(amount float64) {
	if amount <= 0 {
		return
	}
	a.health = math.Max(0, a.health-amount)
}

// Knockback implements contract.Damageable. The actor is pushed along the
// direction (dx, dz) by the rounded strength.
func (a *Actor) Knockback(strength float64, dx, dz int32) {
	if a.carrier != "" {
		return
	}
	step := int32(math.Round(strength))
	a.position.X += sign(dx) * step
	a.position.Z += sign(dz) * step
	a.carryPassengers()
}

// LevelScaled implements contract.Leveled.
func (a *Actor) LevelScaled(max float64) float64 { return a.level * max }

// SetLevel records progression in [0, 1].
func (a *Actor) SetLevel(level float64) {
	a.level = math.Min(1, math.Max(0, level))
}

// Rand implements contract.Randomized.
func (a *Actor) Rand() *rand.Rand { return a.world.RNG() }

// LivingNear implements contract.Surroundings.
func (a *Actor) LivingNear(center contract.Pos, radius int32, except string) []contract.Damageable {
	return a.world.LivingNear(center, radius, except)
}

// Destructible implements contract.Surroundings.
func (a *Actor) Destructible(pos contract.Pos) bool { return a.world.Destructible(pos) }

// DamageBlock implements contract.Surroundings.
func (a *Actor) DamageBlock(pos contract.Pos, amount float64) bool {
	return a.world.DamageBlock(pos, amount)
}

func (a *Actor) advance() {
	if a.animationTicks > 0 {
		a.animationTicks--
		if a.animationTicks == 0 {
			a.animation = contract.AnimationNone
		}
	}
	a.exertion = math.Max(0, a.exertion-exertionDrop)
	a.mana = math.Min(MaxMana, a.mana+manaRegen)
}

func sign(v int32) int32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

var (
	_ contract.Actor        = (*Actor)(nil)
	_ contract.Animator     = (*Actor)(nil)
	_ contract.EnergyUser   = (*Actor)(nil)
	_ contract.Locator      = (*Actor)(nil)
	_ contract.Flyer        = (*Actor)(nil)
	_ contract.Carrier      = (*Actor)(nil)
	_ contract.Damageable   = (*Actor)(nil)
	_ contract.Surroundings = (*Actor)(nil)
	_ contract.Leveled      = (*Actor)(nil)
	_ contract.Randomized   = (*Actor)(nil)
)
