package spellcast

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/xyzzy121/Unicopia/abilities/contract"
	"github.com/xyzzy121/Unicopia/internal/store"
	"github.com/xyzzy121/Unicopia/internal/telemetry"
	abilitylog "github.com/xyzzy121/Unicopia/logging/abilities"
	"github.com/xyzzy121/Unicopia/logging/sinks"
)

// scriptedSource feeds Intn: each value v makes the next Intn(n) return
// v % n. Once the script runs out every roll misses.
type scriptedSource struct {
	rolls []int64
}

func (s *scriptedSource) Int63() int64 {
	if len(s.rolls) == 0 {
		return 1 << 32
	}
	v := s.rolls[0]
	s.rolls = s.rolls[1:]
	return v << 32
}

func (s *scriptedSource) Seed(int64) {}

func scripted(rolls ...int64) *rand.Rand {
	return rand.New(&scriptedSource{rolls: rolls})
}

type testEffect struct {
	Cutoff  int     `msgpack:"cutoff"`
	Weight  float64 `msgpack:"weight"`
	updates int
	placed  int
	dead    bool
}

func (e *testEffect) Name() string                  { return "test" }
func (e *testEffect) MaxLevelCutoff(*Spellcast) int { return e.Cutoff }
func (e *testEffect) Exhaustion(*Spellcast) float64 { return e.Weight }
func (e *testEffect) Placed(*Spellcast)             { e.placed++ }
func (e *testEffect) Update(*Spellcast)             { e.updates++ }
func (e *testEffect) Dead() bool                    { return e.dead }
func (e *testEffect) SetDead()                      { e.dead = true }

type victim struct {
	id     string
	damage float64
	pushed float64
}

func (v *victim) ID() string                             { return v.id }
func (v *victim) Damage(amount float64)                  { v.damage += amount }
func (v *victim) Knockback(strength float64, _, _ int32) { v.pushed += strength }

type fakeSurroundings struct {
	living []*victim
	radius int32
	blocks map[contract.Pos]float64
}

func (f *fakeSurroundings) LivingNear(_ contract.Pos, radius int32, _ string) []contract.Damageable {
	f.radius = radius
	out := make([]contract.Damageable, 0, len(f.living))
	for _, v := range f.living {
		out = append(out, v)
	}
	return out
}

func (f *fakeSurroundings) Destructible(contract.Pos) bool { return true }

func (f *fakeSurroundings) DamageBlock(pos contract.Pos, amount float64) bool {
	if f.blocks == nil {
		f.blocks = make(map[contract.Pos]float64)
	}
	f.blocks[pos] += amount
	return false
}

type pony struct {
	class contract.Class
}

func (p pony) ID() string            { return "pony" }
func (p pony) Class() contract.Class { return p.class }
func (p pony) World() string         { return "overworld" }

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("cast-%d", n)
	}
}

func newTestManager(rng *rand.Rand, deps Deps) (*Manager, *sinks.MemorySink) {
	sink := sinks.NewMemorySink()
	deps.Publisher = sink
	deps.RNG = rng
	deps.IDs = sequentialIDs()
	if deps.Effects == nil {
		deps.Effects = Effects{"test": func() Effect { return &testEffect{} }, LightName: DefaultEffects()[LightName]}
	}
	return NewManager(deps), sink
}

func outcomes(sink *sinks.MemorySink) []string {
	var out []string
	for _, event := range sink.EventsOfType(abilitylog.EventExhaustion) {
		out = append(out, event.Payload.(abilitylog.ExhaustionPayload).Outcome)
	}
	return out
}

func TestPlaceTracksFieldsAndNotifiesEffect(t *testing.T) {
	m, _ := newTestManager(scripted(), Deps{})
	effect := &testEffect{Cutoff: 2}
	c := m.Place("pony", contract.Pos{X: 1}, AffinityBad, effect)

	if effect.placed != 1 {
		t.Fatalf("expected effect to be placed once, got %d", effect.placed)
	}
	dirty := c.ConsumeDirty()
	if !dirty.Has(FieldOwner | FieldAffinity | FieldEffect) {
		t.Fatalf("expected owner, affinity and effect to be dirty, got %b", dirty)
	}
	if dirty.Has(FieldLevel) {
		t.Fatal("expected level to stay clean at zero")
	}
	if c.ConsumeDirty() != 0 {
		t.Fatal("expected dirty flags to reset after consumption")
	}
	c.SetAffinity(AffinityBad)
	if c.Dirty() != 0 {
		t.Fatal("expected unchanged values to stay clean")
	}
	if c.MaxLevel() != 2 {
		t.Fatalf("expected max level from effect cutoff, got %d", c.MaxLevel())
	}
}

func TestLevelNeverDropsBelowZero(t *testing.T) {
	c := newSpellcast("c", contract.Pos{})
	c.AddLevels(-3)
	if c.Level() != 0 {
		t.Fatalf("expected level clamped to 0, got %d", c.Level())
	}
}

func TestFeedRequiresCasterAndMatchingEffect(t *testing.T) {
	m, _ := newTestManager(scripted(), Deps{})
	c := m.Place("pony", contract.Pos{}, AffinityNeutral, &testEffect{Cutoff: 5})

	if m.Feed(pony{class: contract.ClassEarth}, c.ID(), "test") {
		t.Fatal("expected earth ponies to be unable to feed spellcasts")
	}
	if m.Feed(pony{class: contract.ClassUnicorn}, c.ID(), "light") {
		t.Fatal("expected a different effect to be refused")
	}
	if !m.Feed(pony{class: contract.ClassUnicorn}, c.ID(), "test") {
		t.Fatal("expected unicorn feeding the same effect to level up")
	}
	if c.Level() != 1 {
		t.Fatalf("expected level 1, got %d", c.Level())
	}
	if m.Feed(pony{class: contract.ClassUnicorn}, "missing", "test") {
		t.Fatal("expected unknown spellcast to be refused")
	}
}

func TestTickUpdatesEffectWithinCap(t *testing.T) {
	m, sink := newTestManager(scripted(), Deps{})
	effect := &testEffect{Cutoff: 3}
	c := m.Place("pony", contract.Pos{}, AffinityNeutral, effect)
	c.SetLevel(3)

	m.Tick(context.Background(), 1)
	m.Tick(context.Background(), 2)

	if effect.updates != 2 {
		t.Fatalf("expected 2 updates, got %d", effect.updates)
	}
	if c.Level() != 3 {
		t.Fatalf("expected level to hold at the cap, got %d", c.Level())
	}
	if got := outcomes(sink); len(got) != 0 {
		t.Fatalf("expected no exhaustion, got %v", got)
	}
}

func TestZeroExhaustionDrainsToCap(t *testing.T) {
	m, sink := newTestManager(scripted(), Deps{})
	c := m.Place("pony", contract.Pos{}, AffinityNeutral, &testEffect{Cutoff: 1})
	c.SetLevel(3)

	for tick := uint64(1); tick <= 4; tick++ {
		m.Tick(context.Background(), tick)
	}

	if c.Level() != 1 {
		t.Fatalf("expected level drained to cutoff 1, got %d", c.Level())
	}
	got := outcomes(sink)
	if len(got) != 2 || got[0] != OutcomeDrain || got[1] != OutcomeDrain {
		t.Fatalf("expected two drains, got %v", got)
	}
}

func TestLowExhaustionAlwaysDrains(t *testing.T) {
	m, sink := newTestManager(scripted(), Deps{})
	c := m.Place("pony", contract.Pos{}, AffinityNeutral, &testEffect{Cutoff: 0, Weight: 499})
	c.SetLevel(1)

	m.Tick(context.Background(), 1)

	if c.Level() != 0 {
		t.Fatalf("expected a level drained, got %d", c.Level())
	}
	if got := outcomes(sink); len(got) != 1 || got[0] != OutcomeDrain {
		t.Fatalf("expected one drain, got %v", got)
	}
}

func TestExhaustionDispelsEffect(t *testing.T) {
	// spawn effects miss, drain misses, dispel hits.
	m, sink := newTestManager(scripted(1, 1, 0), Deps{})
	effect := &testEffect{Cutoff: 0, Weight: 5000}
	c := m.Place("pony", contract.Pos{}, AffinityNeutral, effect)
	c.SetLevel(2)

	m.Tick(context.Background(), 1)
	if c.HasEffect() {
		t.Fatal("expected effect to be dispelled")
	}
	if c.Level() != 2 {
		t.Fatalf("expected level untouched by dispel, got %d", c.Level())
	}
	if got := outcomes(sink); len(got) != 1 || got[0] != OutcomeDispel {
		t.Fatalf("expected dispel, got %v", got)
	}

	m.Tick(context.Background(), 2)
	if m.Len() != 0 {
		t.Fatal("expected a spellcast without an effect to be removed")
	}
}

func TestExhaustionExplodes(t *testing.T) {
	world := &fakeSurroundings{living: []*victim{{id: "bystander"}}}
	metrics := telemetry.NewCounters()
	m, sink := newTestManager(scripted(0, 1, 1, 0), Deps{Surroundings: world, Metrics: metrics})
	effect := &testEffect{Cutoff: 1, Weight: 5000}
	c := m.Place("pony", contract.Pos{X: 4, Y: 5, Z: 6}, AffinityNeutral, effect)
	c.SetLevel(6)

	m.Tick(context.Background(), 1)

	if m.Len() != 0 {
		t.Fatal("expected exploded spellcast to be removed")
	}
	if !effect.dead {
		t.Fatal("expected removal to kill the effect")
	}
	if world.radius != 4 {
		t.Fatalf("expected blast radius 4, got %d", world.radius)
	}
	if world.living[0].damage != 6 || world.living[0].pushed != 3 {
		t.Fatalf("expected bystander hit for 6 pushed 3, got %v/%v", world.living[0].damage, world.living[0].pushed)
	}
	if world.blocks[contract.Pos{X: 4, Y: 5, Z: 6}] != 3 {
		t.Fatalf("expected center block damaged by 3, got %v", world.blocks)
	}
	if got := outcomes(sink); len(got) != 1 || got[0] != OutcomeExplode {
		t.Fatalf("expected explode, got %v", got)
	}
	if metrics.Value(metricSpawnEffects) != 1 {
		t.Fatalf("expected spawn effects once, got %d", metrics.Value(metricSpawnEffects))
	}
	if metrics.Value(metricRemoved) != 1 {
		t.Fatalf("expected one removal, got %d", metrics.Value(metricRemoved))
	}
}

func TestAllRollsMissingLeavesSpellcast(t *testing.T) {
	m, sink := newTestManager(scripted(), Deps{})
	c := m.Place("pony", contract.Pos{}, AffinityNeutral, &testEffect{Cutoff: 0, Weight: 5000})
	c.SetLevel(2)

	m.Tick(context.Background(), 1)

	if m.Len() != 1 || c.Level() != 2 || !c.HasEffect() {
		t.Fatal("expected missed rolls to leave the spellcast alone")
	}
	if got := outcomes(sink); len(got) != 0 {
		t.Fatalf("expected no outcome, got %v", got)
	}
}

func TestDeadEffectRemovesSpellcast(t *testing.T) {
	m, sink := newTestManager(scripted(), Deps{})
	effect := &testEffect{Cutoff: 1, dead: true}
	m.Place("pony", contract.Pos{}, AffinityNeutral, effect)

	m.Tick(context.Background(), 1)

	if m.Len() != 0 {
		t.Fatal("expected spellcast with a dead effect to be removed")
	}
	if effect.updates != 0 {
		t.Fatal("expected dead effect not to update")
	}
	if got := outcomes(sink); len(got) != 1 || got[0] != OutcomeDied {
		t.Fatalf("expected died event, got %v", got)
	}
}

func TestDamageBreaksSpellcast(t *testing.T) {
	m, sink := newTestManager(scripted(), Deps{})
	c := m.Place("pony", contract.Pos{}, AffinityNeutral, &testEffect{Cutoff: 1})

	if !m.Damage(context.Background(), 1, c.ID()) {
		t.Fatal("expected damage to break the spellcast")
	}
	if _, ok := m.Get(c.ID()); ok {
		t.Fatal("expected broken spellcast to be gone")
	}
	if m.Damage(context.Background(), 1, c.ID()) {
		t.Fatal("expected damaging a missing spellcast to report false")
	}
	if got := outcomes(sink); len(got) != 1 || got[0] != OutcomeDied {
		t.Fatalf("expected died event, got %v", got)
	}
}

func TestLightBurnsOut(t *testing.T) {
	m, _ := newTestManager(scripted(), Deps{})
	light := NewLight(2)
	m.Place("pony", contract.Pos{}, AffinityGood, light)

	for tick := uint64(1); tick <= 3; tick++ {
		m.Tick(context.Background(), tick)
	}
	if !light.Dead() || m.Len() != 1 {
		t.Fatalf("expected light dead but not yet swept, dead=%v len=%d", light.Dead(), m.Len())
	}
	m.Tick(context.Background(), 4)
	if m.Len() != 0 {
		t.Fatal("expected burnt out light to be removed")
	}
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	m, _ := newTestManager(scripted(), Deps{World: "overworld", Store: db})
	light := NewLight(40)
	light.Cutoff = 3
	c := m.Place("pony", contract.Pos{X: 1, Y: 2, Z: 3}, AffinityBad, light)
	c.SetLevel(2)
	doomed := m.Place("pony", contract.Pos{}, AffinityGood, &testEffect{Cutoff: 1})

	if err := m.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	m.Damage(ctx, 1, doomed.ID())
	if err := m.Save(ctx); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if _, err := db.LoadEntity(ctx, EntityKind, doomed.ID()); err != store.ErrNotFound {
		t.Fatalf("expected removed spellcast record to be deleted, got %v", err)
	}

	restored, _ := newTestManager(scripted(), Deps{World: "overworld", Store: db})
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, ok := restored.Get(c.ID())
	if !ok {
		t.Fatalf("expected %s to be restored, have %v", c.ID(), restored.IDs())
	}
	if got.Level() != 2 || got.Owner() != "pony" || got.Affinity() != AffinityBad {
		t.Fatalf("unexpected restored fields level=%d owner=%q affinity=%s", got.Level(), got.Owner(), got.Affinity())
	}
	if got.Position() != (contract.Pos{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("expected position restored, got %+v", got.Position())
	}
	effect, ok := got.Effect().(*Light)
	if !ok || effect.Remaining != 40 || effect.Cutoff != 3 {
		t.Fatalf("expected light effect restored, got %#v", got.Effect())
	}
	if got.Dirty() != 0 {
		t.Fatal("expected restored spellcast to start clean")
	}
}

func TestRestoreWithoutIndexIsEmpty(t *testing.T) {
	m, _ := newTestManager(scripted(), Deps{World: "nowhere", Store: store.NewMemory()})
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if m.Len() != 0 {
		t.Fatal("expected nothing restored")
	}
}

func TestDecodeRejectsUnknownEffect(t *testing.T) {
	c := newSpellcast("c", contract.Pos{})
	c.SetEffect(&testEffect{Cutoff: 1})
	data, err := Encode(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode("c", data, DefaultEffects()); err == nil {
		t.Fatal("expected unknown effect to fail decoding")
	}
	if _, err := Decode("c", []byte{0xc1}, DefaultEffects()); err == nil {
		t.Fatal("expected corrupt record to fail decoding")
	}
}

func TestParseAffinity(t *testing.T) {
	for name, want := range map[string]Affinity{"good": AffinityGood, "BAD": AffinityBad, "neutral": AffinityNeutral, "other": AffinityNeutral} {
		if got := ParseAffinity(name); got != want {
			t.Fatalf("expected %q to parse as %s, got %s", name, want, got)
		}
	}
}

func TestCastPlacesThenFeeds(t *testing.T) {
	m, _ := newTestManager(scripted(), Deps{})
	caster := pony{class: contract.ClassUnicorn}
	pos := contract.Pos{X: 2}

	first, err := m.Cast(caster, pos, LightName)
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	if light, ok := first.Effect().(*Light); !ok || light.Remaining != LightTicks {
		t.Fatalf("expected a fresh light, got %#v", first.Effect())
	}
	second, err := m.Cast(caster, pos, LightName)
	if err != nil {
		t.Fatalf("second cast: %v", err)
	}
	if second != first || first.Level() != 1 {
		t.Fatalf("expected recasting in place to feed level 1, got level %d", first.Level())
	}
	if _, err := m.Cast(caster, contract.Pos{X: 9}, LightName); err != nil || m.Len() != 2 {
		t.Fatalf("expected a new spellcast elsewhere, len=%d err=%v", m.Len(), err)
	}

	if _, err := m.Cast(pony{class: contract.ClassPegasus}, pos, LightName); err != ErrCannotCast {
		t.Fatalf("expected pegasus cast to fail, got %v", err)
	}
	if _, err := m.Cast(caster, pos, "fireball"); err == nil {
		t.Fatal("expected unknown effect to fail")
	}
	if !m.CanConjure(LightName) || m.CanConjure("fireball") {
		t.Fatal("unexpected conjure availability")
	}
}
