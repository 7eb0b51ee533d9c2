// Package world hosts the actors of one simulated world and the terrain
// they can interact with.
package world

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/xyzzy121/Unicopia/abilities/contract"
	"github.com/xyzzy121/Unicopia/logging"
	"github.com/xyzzy121/Unicopia/logging/simulation"
)

// BlockIntegrity is the damage a destructible block absorbs before breaking.
const BlockIntegrity = 10.0

var (
	// ErrDuplicateActor is returned when spawning an id that is already loaded.
	ErrDuplicateActor = errors.New("world: actor already present")
	// ErrInvalidActor is returned for empty ids or classes.
	ErrInvalidActor = errors.New("world: invalid actor")
)

// Deps bundles runtime dependencies required to construct a World instance.
type Deps struct {
	Publisher logging.Publisher
	RNG       RNGFactory
}

// World owns the actors and terrain of one simulation. It is touched only
// from the simulation goroutine.
type World struct {
	config Config
	seed   string

	publisher  logging.Publisher
	rngFactory RNGFactory
	rng        *rand.Rand

	actors map[string]*Actor
	blocks map[contract.Pos]float64
	tick   uint64
}

// New constructs a world instance with normalized configuration and seeded RNG.
func New(cfg Config, deps Deps) (*World, error) {
	normalized := cfg.normalized()

	factory := deps.RNG
	if factory == nil {
		factory = NewDeterministicRNG
	}

	publisher := deps.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}

	w := &World{
		config:     normalized,
		seed:       normalized.Seed,
		publisher:  publisher,
		rngFactory: factory,
		rng:        factory(normalized.Seed, "world"),
		actors:     make(map[string]*Actor),
		blocks:     make(map[contract.Pos]float64),
	}
	w.seedTrees(normalized.Trees)
	return w, nil
}

// Config returns the normalized configuration captured at construction time.
func (w *World) Config() Config {
	if w == nil {
		return Config{}
	}
	return w.config
}

// Name identifies the world to the coordinator and deferred queue.
func (w *World) Name() string {
	if w == nil {
		return ""
	}
	return w.config.Name
}

// Seed reports the deterministic seed applied to the world RNG hierarchy.
func (w *World) Seed() string {
	if w == nil {
		return ""
	}
	return w.seed
}

// RNG exposes the root RNG instance seeded for the world.
func (w *World) RNG() *rand.Rand {
	if w == nil {
		return nil
	}
	if w.rng == nil {
		w.rng = w.ensureFactory()(w.seed, "world")
	}
	return w.rng
}

// SubsystemRNG returns a deterministic RNG derived from the world seed.
func (w *World) SubsystemRNG(label string) *rand.Rand {
	if w == nil {
		return NewDeterministicRNG(DefaultSeed, label)
	}
	return w.ensureFactory()(w.seed, label)
}

func (w *World) ensureFactory() RNGFactory {
	if w == nil || w.rngFactory == nil {
		return NewDeterministicRNG
	}
	return w.rngFactory
}

// Tick returns the last tick passed to Advance.
func (w *World) Tick() uint64 { return w.tick }

// Spawn places a new actor at the world origin.
func (w *World) Spawn(id string, class contract.Class) (*Actor, error) {
	if id == "" || class == "" {
		return nil, fmt.Errorf("%w: id %q class %q", ErrInvalidActor, id, class)
	}
	if _, exists := w.actors[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateActor, id)
	}
	actor := newActor(w, id, class)
	w.actors[id] = actor
	simulation.ActorSpawned(context.Background(), w.publisher, w.tick, id, simulation.ActorLifecyclePayload{
		World: w.config.Name,
		Class: string(class),
	})
	return actor, nil
}

// Remove unloads an actor, dropping anything it carried. It reports whether
// the actor was present.
func (w *World) Remove(id string) bool {
	actor, ok := w.actors[id]
	if !ok {
		return false
	}
	actor.DropPassengers()
	if actor.carrier != "" {
		if carrier, ok := w.actors[actor.carrier]; ok {
			carrier.releasePassenger(id)
		}
	}
	delete(w.actors, id)
	simulation.ActorRemoved(context.Background(), w.publisher, w.tick, id, simulation.ActorLifecyclePayload{
		World: w.config.Name,
		Class: string(actor.class),
	})
	return true
}

// Actor returns the concrete actor.
func (w *World) Actor(id string) (*Actor, bool) {
	actor, ok := w.actors[id]
	return actor, ok
}

// Lookup resolves an actor for the coordinator.
func (w *World) Lookup(id string) (contract.Actor, bool) {
	actor, ok := w.actors[id]
	if !ok {
		return nil, false
	}
	return actor, true
}

// ActorIDs lists loaded actors in stable order.
func (w *World) ActorIDs() []string {
	ids := make([]string, 0, len(w.actors))
	for id := range w.actors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len reports the number of loaded actors.
func (w *World) Len() int { return len(w.actors) }

// Advance steps per-actor timers such as animations.
func (w *World) Advance(tick uint64) {
	w.tick = tick
	for _, id := range w.ActorIDs() {
		w.actors[id].advance()
	}
}

// PlaceBlock adds a destructible block at pos.
func (w *World) PlaceBlock(pos contract.Pos) {
	w.blocks[blockKey(pos)] = BlockIntegrity
}

// Destructible reports whether pos holds a destructible block.
func (w *World) Destructible(pos contract.Pos) bool {
	_, ok := w.blocks[blockKey(pos)]
	return ok
}

// BlockDamage returns the damage accumulated by the block at pos.
func (w *World) BlockDamage(pos contract.Pos) float64 {
	integrity, ok := w.blocks[blockKey(pos)]
	if !ok {
		return 0
	}
	return BlockIntegrity - integrity
}

// DamageBlock wears down the block at pos and reports whether it broke.
func (w *World) DamageBlock(pos contract.Pos, amount float64) bool {
	key := blockKey(pos)
	integrity, ok := w.blocks[key]
	if !ok || amount <= 0 {
		return false
	}
	integrity -= amount
	if integrity <= 0 {
		delete(w.blocks, key)
		return true
	}
	w.blocks[key] = integrity
	return false
}

// LivingNear returns actors within radius blocks of center, nearest first.
func (w *World) LivingNear(center contract.Pos, radius int32, except string) []contract.Damageable {
	type hit struct {
		actor *Actor
		dist  int64
	}
	var hits []hit
	limit := int64(radius) * int64(radius)
	for _, id := range w.ActorIDs() {
		if id == except {
			continue
		}
		actor := w.actors[id]
		if dist := distanceSquared(actor.position, center); dist <= limit {
			hits = append(hits, hit{actor: actor, dist: dist})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	out := make([]contract.Damageable, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.actor)
	}
	return out
}

func (w *World) seedTrees(count int) {
	if count <= 0 {
		return
	}
	if area := int(w.config.Width) * int(w.config.Depth); count > area {
		count = area
	}
	rng := w.SubsystemRNG("trees")
	for placed := 0; placed < count; {
		pos := contract.Pos{
			X: int32(rng.Intn(int(w.config.Width))) - w.config.Width/2,
			Z: int32(rng.Intn(int(w.config.Depth))) - w.config.Depth/2,
		}
		if w.Destructible(pos) {
			continue
		}
		w.PlaceBlock(pos)
		placed++
	}
}

func blockKey(pos contract.Pos) contract.Pos {
	return contract.Pos{X: pos.X, Y: pos.Y, Z: pos.Z}
}

func distanceSquared(a, b contract.Pos) int64 {
	dx := int64(a.X - b.X)
	dy := int64(a.Y - b.Y)
	dz := int64(a.Z - b.Z)
	return dx*dx + dy*dy + dz*dz
}
