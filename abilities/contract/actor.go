package contract

import "math/rand"

// Class is the coarse eligibility category of an actor (species, race, job).
type Class string

const (
	ClassHuman      Class = "human"
	ClassEarth      Class = "earth"
	ClassPegasus    Class = "pegasus"
	ClassUnicorn    Class = "unicorn"
	ClassAlicorn    Class = "alicorn"
	ClassChangeling Class = "changeling"
)

// CanUseEarth reports whether the class has earth-bound abilities.
func (c Class) CanUseEarth() bool {
	return c == ClassEarth || c == ClassAlicorn
}

// CanFly reports whether the class can take flight.
func (c Class) CanFly() bool {
	switch c {
	case ClassPegasus, ClassAlicorn, ClassChangeling:
		return true
	default:
		return false
	}
}

// CanCast reports whether the class can channel spells.
func (c Class) CanCast() bool {
	return c == ClassUnicorn || c == ClassAlicorn
}

// Valid reports whether c is one of the known classes.
func (c Class) Valid() bool {
	switch c {
	case ClassHuman, ClassEarth, ClassPegasus, ClassUnicorn, ClassAlicorn, ClassChangeling:
		return true
	default:
		return false
	}
}

// IsEquine reports whether the class uses the four-legged body plan.
func (c Class) IsEquine() bool {
	return c != ClassHuman && c != ""
}

// Actor is the minimal view of a simulated entity that ability descriptors
// and the coordinator depend on. Host worlds supply richer implementations;
// descriptors reach for optional capabilities through type assertions.
type Actor interface {
	ID() string
	Class() Class
	World() string
}

// Animation names the body pose replicated to observers.
type Animation string

const (
	AnimationNone  Animation = ""
	AnimationKick  Animation = "kick"
	AnimationCarry Animation = "carry"
	AnimationDash  Animation = "dash"
)

// Animator is implemented by actors whose pose is mirrored on observers.
type Animator interface {
	SetAnimation(anim Animation, durationTicks uint32)
}

// EnergyUser is implemented by actors that pay a resource cost for abilities.
type EnergyUser interface {
	SubtractEnergy(amount float64)
	AddExertion(amount float64)
	Mana() float64
}

// Locator is implemented by actors that expose their position.
type Locator interface {
	Position() Pos
	Facing() (dx, dz int32)
}

// Flyer is implemented by actors that may be airborne.
type Flyer interface {
	IsFlying() bool
	IsOnGround() bool
	Dash(strength float64)
}

// Carrier is implemented by actors that can pick up other entities.
type Carrier interface {
	Passengers() []string
	DropPassengers()
	PickUp(entityID string) bool
}

// Damageable is implemented by entities that can be hurt and pushed.
type Damageable interface {
	ID() string
	Damage(amount float64)
	Knockback(strength float64, dx, dz int32)
}

// Surroundings is implemented by actors that can inspect the world around
// them.
type Surroundings interface {
	LivingNear(center Pos, radius int32, except string) []Damageable
	Destructible(pos Pos) bool
	DamageBlock(pos Pos, amount float64) bool
}

// Leveled is implemented by actors with a progression level. LevelScaled
// maps the level onto [0, max].
type Leveled interface {
	LevelScaled(max float64) float64
}

// Randomized is implemented by actors that expose the deterministic random
// source of their world.
type Randomized interface {
	Rand() *rand.Rand
}
