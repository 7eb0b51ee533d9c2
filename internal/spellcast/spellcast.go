// Package spellcast models placed magic: a caster entity that holds one
// effect, can be fed to raise its level, and exhausts itself when pushed
// past its effect's level cutoff.
package spellcast

import (
	"strings"

	"github.com/xyzzy121/Unicopia/abilities/contract"
)

// Affinity is the alignment of a spellcast's magic.
type Affinity uint8

const (
	AffinityGood Affinity = iota
	AffinityNeutral
	AffinityBad
)

func (a Affinity) String() string {
	switch a {
	case AffinityGood:
		return "good"
	case AffinityBad:
		return "bad"
	default:
		return "neutral"
	}
}

// ParseAffinity resolves a saved affinity name. Unknown names are neutral.
func ParseAffinity(name string) Affinity {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "good":
		return AffinityGood
	case "bad":
		return AffinityBad
	default:
		return AffinityNeutral
	}
}

// Field flags the tracked values that changed since the last sync.
type Field uint8

const (
	FieldLevel Field = 1 << iota
	FieldOwner
	FieldAffinity
	FieldEffect
)

// Has reports whether every flag in mask is set.
func (f Field) Has(mask Field) bool {
	return f&mask == mask
}

// Spellcast is a placed caster. It is owned by the simulation goroutine.
type Spellcast struct {
	id       string
	position contract.Pos
	level    int
	owner    string
	affinity Affinity
	effect   Effect
	removed  bool
	dirty    Field
}

func newSpellcast(id string, pos contract.Pos) *Spellcast {
	return &Spellcast{id: id, position: pos, affinity: AffinityNeutral}
}

func (c *Spellcast) ID() string { return c.id }

func (c *Spellcast) Position() contract.Pos { return c.position }

func (c *Spellcast) Level() int { return c.level }

// SetLevel stores level, clamped at zero.
func (c *Spellcast) SetLevel(level int) {
	if level < 0 {
		level = 0
	}
	if c.level != level {
		c.level = level
		c.dirty |= FieldLevel
	}
}

func (c *Spellcast) AddLevels(delta int) {
	c.SetLevel(c.level + delta)
}

// MaxLevel is the effect's cutoff, or zero without an effect.
func (c *Spellcast) MaxLevel() int {
	if c.effect == nil {
		return 0
	}
	return c.effect.MaxLevelCutoff(c)
}

func (c *Spellcast) OverLevelCap() bool {
	return c.level > c.MaxLevel()
}

func (c *Spellcast) Owner() string { return c.owner }

func (c *Spellcast) SetOwner(id string) {
	if c.owner != id {
		c.owner = id
		c.dirty |= FieldOwner
	}
}

func (c *Spellcast) Affinity() Affinity { return c.affinity }

func (c *Spellcast) SetAffinity(a Affinity) {
	if c.affinity != a {
		c.affinity = a
		c.dirty |= FieldAffinity
	}
}

func (c *Spellcast) Effect() Effect { return c.effect }

func (c *Spellcast) HasEffect() bool { return c.effect != nil }

// SetEffect replaces the effect and notifies the new one it was placed.
// A nil effect clears the spellcast.
func (c *Spellcast) SetEffect(effect Effect) {
	c.effect = effect
	c.dirty |= FieldEffect
	if effect != nil {
		effect.Placed(c)
	}
}

func (c *Spellcast) Removed() bool { return c.removed }

func (c *Spellcast) remove() {
	if c.effect != nil {
		c.effect.SetDead()
	}
	c.removed = true
}

// Dirty returns the tracked fields changed since the last ConsumeDirty.
func (c *Spellcast) Dirty() Field { return c.dirty }

func (c *Spellcast) ConsumeDirty() Field {
	dirty := c.dirty
	c.dirty = 0
	return dirty
}

// CanInteract reports whether a class may feed this spellcast.
func (c *Spellcast) CanInteract(class contract.Class) bool {
	return class.CanCast()
}

// TryLevelUp raises the level by one when fed the same effect it holds.
func (c *Spellcast) TryLevelUp(effectName string) bool {
	if c.effect == nil || effectName == "" {
		return false
	}
	if c.effect.Name() != effectName {
		return false
	}
	c.AddLevels(1)
	return true
}
