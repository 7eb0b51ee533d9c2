package spellcast

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/oklog/ulid/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xyzzy121/Unicopia/abilities/contract"
	"github.com/xyzzy121/Unicopia/internal/store"
	"github.com/xyzzy121/Unicopia/internal/telemetry"
	"github.com/xyzzy121/Unicopia/logging"
	abilitylog "github.com/xyzzy121/Unicopia/logging/abilities"
)

const (
	// EntityKind keys spellcast records in the entity store.
	EntityKind = "spellcast"
	indexKind  = "spellcast_index"

	metricSpawnEffects = "spellcast_spawn_effects_total"
	metricRemoved      = "spellcast_removed_total"
)

var (
	// ErrCannotCast reports a class without magic trying to cast.
	ErrCannotCast = errors.New("spellcast: class cannot cast")
	// ErrUnknownEffect reports a cast of an effect nobody can conjure.
	ErrUnknownEffect = errors.New("spellcast: unknown effect")
)

// Exhaustion outcomes.
const (
	OutcomeDrain   = "drain"
	OutcomeDispel  = "dispel"
	OutcomeExplode = "explode"
	OutcomeDied    = "died"
)

// Deps wires a Manager to the world around it.
type Deps struct {
	World        string
	Publisher    logging.Publisher
	Metrics      telemetry.Metrics
	RNG          *rand.Rand
	Surroundings contract.Surroundings
	Store        store.EntityStore
	Effects      Effects
	Conjurers    Effects
	IDs          func() string
}

// Manager owns the spellcasts of one world and ticks them.
type Manager struct {
	world        string
	publisher    logging.Publisher
	metrics      telemetry.Metrics
	rng          *rand.Rand
	surroundings contract.Surroundings
	store        store.EntityStore
	effects      Effects
	conjurers    Effects
	newID        func() string

	casts   map[string]*Spellcast
	retired []string
}

// NewManager constructs an empty manager.
func NewManager(deps Deps) *Manager {
	m := &Manager{
		world:        deps.World,
		publisher:    deps.Publisher,
		metrics:      deps.Metrics,
		rng:          deps.RNG,
		surroundings: deps.Surroundings,
		store:        deps.Store,
		effects:      deps.Effects,
		conjurers:    deps.Conjurers,
		newID:        deps.IDs,
		casts:        make(map[string]*Spellcast),
	}
	if m.metrics == nil {
		m.metrics = telemetry.NopMetrics()
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(1))
	}
	if m.effects == nil {
		m.effects = DefaultEffects()
	}
	if m.conjurers == nil {
		m.conjurers = DefaultConjurers()
	}
	if m.newID == nil {
		m.newID = func() string { return ulid.Make().String() }
	}
	return m
}

// Place creates a spellcast holding effect at pos.
func (m *Manager) Place(owner string, pos contract.Pos, affinity Affinity, effect Effect) *Spellcast {
	c := newSpellcast(m.newID(), pos)
	c.SetOwner(owner)
	c.SetAffinity(affinity)
	c.SetEffect(effect)
	m.casts[c.id] = c
	return c
}

// CanConjure reports whether effectName can be cast. It is safe to call
// from any goroutine.
func (m *Manager) CanConjure(effectName string) bool {
	_, ok := m.conjurers[effectName]
	return ok
}

// Cast places a fresh effectName spellcast at pos owned by actor. When the
// actor already has a spellcast of that effect at pos it is fed instead.
func (m *Manager) Cast(actor contract.Actor, pos contract.Pos, effectName string) (*Spellcast, error) {
	if actor == nil || !actor.Class().CanCast() {
		return nil, ErrCannotCast
	}
	conjure, ok := m.conjurers[effectName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEffect, effectName)
	}
	for _, id := range m.IDs() {
		c := m.casts[id]
		if c.owner == actor.ID() && c.position == pos && c.HasEffect() && c.effect.Name() == effectName {
			c.TryLevelUp(effectName)
			return c, nil
		}
	}
	return m.Place(actor.ID(), pos, AffinityNeutral, conjure()), nil
}

func (m *Manager) Get(id string) (*Spellcast, bool) {
	c, ok := m.casts[id]
	return c, ok
}

// IDs returns the live spellcast ids sorted.
func (m *Manager) IDs() []string {
	ids := make([]string, 0, len(m.casts))
	for id := range m.casts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) Len() int { return len(m.casts) }

// Feed lets actor raise a spellcast's level with an effect of the same name.
func (m *Manager) Feed(actor contract.Actor, id, effectName string) bool {
	c, ok := m.casts[id]
	if !ok || actor == nil || !c.CanInteract(actor.Class()) {
		return false
	}
	return c.TryLevelUp(effectName)
}

// Damage breaks a spellcast outright.
func (m *Manager) Damage(ctx context.Context, tick uint64, id string) bool {
	c, ok := m.casts[id]
	if !ok {
		return false
	}
	c.remove()
	m.died(ctx, tick, c)
	m.sweep()
	return true
}

// Tick advances every spellcast once, in id order.
func (m *Manager) Tick(ctx context.Context, tick uint64) {
	for _, id := range m.IDs() {
		m.step(ctx, tick, m.casts[id])
	}
	m.sweep()
}

func (m *Manager) step(ctx context.Context, tick uint64, c *Spellcast) {
	if !c.HasEffect() {
		c.remove()
	} else if c.effect.Dead() {
		c.remove()
		m.died(ctx, tick, c)
	} else {
		c.effect.Update(c)
	}

	if c.OverLevelCap() {
		if m.rng.Intn(10) == 0 {
			m.metrics.Add(metricSpawnEffects, 1)
		}

		if c.HasEffect() {
			exhaustion := c.effect.Exhaustion(c)
			switch {
			case exhaustion == 0 || m.roll(exhaustion/500):
				c.AddLevels(-1)
				m.exhausted(ctx, tick, c, OutcomeDrain, exhaustion)
			case m.roll(exhaustion * 500):
				c.SetEffect(nil)
				m.exhausted(ctx, tick, c, OutcomeDispel, exhaustion)
			case m.roll(exhaustion * 3500):
				m.explode(c, float64(c.level/2))
				c.remove()
				m.exhausted(ctx, tick, c, OutcomeExplode, exhaustion)
			}
		}
	}

	if c.level < 0 {
		c.remove()
	}
}

// roll is a one-in-bound chance. Bounds below one always hit.
func (m *Manager) roll(bound float64) bool {
	n := int(bound)
	if n <= 1 {
		return true
	}
	return m.rng.Intn(n) == 0
}

func (m *Manager) explode(c *Spellcast, power float64) {
	if m.surroundings == nil {
		return
	}
	center := c.position
	for _, target := range m.surroundings.LivingNear(center, int32(power)+1, "") {
		target.Damage(power * 2)
		target.Knockback(power, 0, 0)
	}
	m.surroundings.DamageBlock(center, power)
}

func (m *Manager) died(ctx context.Context, tick uint64, c *Spellcast) {
	abilitylog.Exhaustion(ctx, m.publisher, tick, c.id, abilitylog.ExhaustionPayload{
		Outcome: OutcomeDied,
		Level:   c.level,
	})
}

func (m *Manager) exhausted(ctx context.Context, tick uint64, c *Spellcast, outcome string, exhaustion float64) {
	abilitylog.Exhaustion(ctx, m.publisher, tick, c.id, abilitylog.ExhaustionPayload{
		Outcome:    outcome,
		Level:      c.level,
		Exhaustion: int(exhaustion),
	})
}

func (m *Manager) sweep() {
	for id, c := range m.casts {
		if c.removed {
			delete(m.casts, id)
			m.retired = append(m.retired, id)
			m.metrics.Add(metricRemoved, 1)
		}
	}
}

type record struct {
	Affinity   string             `msgpack:"affinity"`
	Level      int                `msgpack:"level"`
	Owner      string             `msgpack:"owner,omitempty"`
	Position   contract.Pos       `msgpack:"position"`
	EffectName string             `msgpack:"effect_name,omitempty"`
	Effect     msgpack.RawMessage `msgpack:"effect,omitempty"`
}

// Encode serialises a spellcast's affinity, level, owner, position and
// effect.
func Encode(c *Spellcast) ([]byte, error) {
	rec := record{
		Affinity: c.affinity.String(),
		Level:    c.level,
		Owner:    c.owner,
		Position: c.position,
	}
	if c.effect != nil {
		data, err := msgpack.Marshal(c.effect)
		if err != nil {
			return nil, fmt.Errorf("spellcast: encode effect %q: %w", c.effect.Name(), err)
		}
		rec.EffectName = c.effect.Name()
		rec.Effect = data
	}
	return msgpack.Marshal(rec)
}

// Decode rebuilds a spellcast from Encode's output.
func Decode(id string, data []byte, effects Effects) (*Spellcast, error) {
	var rec record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("spellcast: decode %s: %w", id, err)
	}
	c := newSpellcast(id, rec.Position)
	c.SetAffinity(ParseAffinity(rec.Affinity))
	c.SetOwner(rec.Owner)
	c.SetLevel(rec.Level)
	if rec.EffectName != "" {
		effect, err := effects.decode(rec.EffectName, rec.Effect)
		if err != nil {
			return nil, err
		}
		c.SetEffect(effect)
	}
	return c, nil
}

// Save writes every live spellcast and the world index, and deletes
// records of spellcasts removed since the last save.
func (m *Manager) Save(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	for _, id := range m.retired {
		if err := m.store.DeleteEntity(ctx, EntityKind, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	m.retired = m.retired[:0]

	ids := m.IDs()
	for _, id := range ids {
		data, err := Encode(m.casts[id])
		if err != nil {
			return err
		}
		if err := m.store.SaveEntity(ctx, EntityKind, id, data); err != nil {
			return err
		}
	}
	index, err := msgpack.Marshal(ids)
	if err != nil {
		return err
	}
	return m.store.SaveEntity(ctx, indexKind, m.world, index)
}

// Restore loads the spellcasts listed in the world index. A world that was
// never saved restores nothing.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	index, err := m.store.LoadEntity(ctx, indexKind, m.world)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var ids []string
	if err := msgpack.Unmarshal(index, &ids); err != nil {
		return fmt.Errorf("spellcast: decode index for %s: %w", m.world, err)
	}
	for _, id := range ids {
		data, err := m.store.LoadEntity(ctx, EntityKind, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		c, err := Decode(id, data, m.effects)
		if err != nil {
			return err
		}
		c.ConsumeDirty()
		m.casts[id] = c
	}
	return nil
}
