package spellcast

import (
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// Effect is the magic bound to a spellcast. Effects are encoded with msgpack
// when a spellcast is saved, so exported fields survive a reload.
type Effect interface {
	Name() string
	// MaxLevelCutoff is the level above which the spellcast starts to
	// exhaust.
	MaxLevelCutoff(c *Spellcast) int
	// Exhaustion weights the over-cap checks run each tick.
	Exhaustion(c *Spellcast) float64
	Placed(c *Spellcast)
	Update(c *Spellcast)
	Dead() bool
	SetDead()
}

// Effects maps effect names to constructors for decoding saved spellcasts.
type Effects map[string]func() Effect

// Names returns the registered effect names sorted.
func (e Effects) Names() []string {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e Effects) decode(name string, data []byte) (Effect, error) {
	factory, ok := e[name]
	if !ok {
		return nil, fmt.Errorf("spellcast: unknown effect %q", name)
	}
	effect := factory()
	if len(data) > 0 {
		if err := msgpack.Unmarshal(data, effect); err != nil {
			return nil, fmt.Errorf("spellcast: decode effect %q: %w", name, err)
		}
	}
	return effect, nil
}

// LightName identifies the Light effect.
const LightName = "light"

// Light is a lingering glow. It burns out after Remaining ticks and grows
// harder to hold together the more it is fed.
type Light struct {
	Remaining uint32 `msgpack:"remaining"`
	Cutoff    int    `msgpack:"cutoff"`
	dead      bool
}

// NewLight returns a light lasting the given number of ticks.
func NewLight(ticks uint32) *Light {
	return &Light{Remaining: ticks, Cutoff: 1}
}

func (l *Light) Name() string { return LightName }

func (l *Light) MaxLevelCutoff(*Spellcast) int { return l.Cutoff }

// Exhaustion grows with every level past the cutoff.
func (l *Light) Exhaustion(c *Spellcast) float64 {
	over := c.Level() - l.Cutoff
	if over <= 0 {
		return 0
	}
	return float64(over) * 250
}

func (l *Light) Placed(*Spellcast) {}

func (l *Light) Update(*Spellcast) {
	if l.Remaining == 0 {
		l.dead = true
		return
	}
	l.Remaining--
}

func (l *Light) Dead() bool { return l.dead }

func (l *Light) SetDead() { l.dead = true }

// LightTicks is how long a freshly cast light lasts.
const LightTicks = 600

// DefaultConjurers builds fresh effects for casting.
func DefaultConjurers() Effects {
	return Effects{
		LightName: func() Effect { return NewLight(LightTicks) },
	}
}

// DefaultEffects lists the effects the server knows how to restore.
func DefaultEffects() Effects {
	return Effects{
		LightName: func() Effect { return &Light{Cutoff: 1} },
	}
}
