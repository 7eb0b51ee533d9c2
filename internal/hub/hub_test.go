package hub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/xyzzy121/Unicopia/abilities/builtin"
	"github.com/xyzzy121/Unicopia/abilities/contract"
	"github.com/xyzzy121/Unicopia/internal/coordinator"
	"github.com/xyzzy121/Unicopia/internal/net/proto"
	"github.com/xyzzy121/Unicopia/internal/sim"
	"github.com/xyzzy121/Unicopia/internal/slot"
	"github.com/xyzzy121/Unicopia/internal/store"
	"github.com/xyzzy121/Unicopia/internal/world"
	"github.com/xyzzy121/Unicopia/logging"
	simlog "github.com/xyzzy121/Unicopia/logging/simulation"
	"github.com/xyzzy121/Unicopia/logging/sinks"
)

var epoch = time.Unix(1_700_000_000, 0)

type testHub struct {
	*Hub
	sink  *sinks.MemorySink
	store *store.Memory
}

func newTestHub(t *testing.T, role coordinator.Role, tweak func(*Config, *Deps)) *testHub {
	t.Helper()
	sink := sinks.NewMemorySink()
	db := store.NewMemory()
	cfg := Config{
		Role:      role,
		SlotCount: 2,
		Loop:      sim.LoopConfig{TickRate: 20, CommandCapacity: 64, PerActorLimit: 8},
		World:     world.Config{Trees: 0},
	}
	deps := Deps{
		Publisher: sink,
		Store:     db,
		Registry:  builtin.Registry(),
		Clock:     logging.ClockFunc(func() time.Time { return epoch }),
	}
	if tweak != nil {
		tweak(&cfg, &deps)
	}
	h, err := New(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	return &testHub{Hub: h, sink: sink, store: db}
}

func (h *testHub) step(tick uint64) {
	h.Engine().Advance(sim.LoopTickContext{Tick: tick, Now: epoch})
}

func (h *testHub) join(t *testing.T, class contract.Class) string {
	t.Helper()
	resp, err := h.Join(class)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	return resp.ActorID
}

func (h *testHub) stage(t *testing.T, actorID string, msg proto.ClientMessage) {
	t.Helper()
	if _, ok, reason := h.Stage(actorID, msg); !ok {
		t.Fatalf("expected %s to be staged, got %q", msg.Type, reason)
	}
}

// pump moves every queued replication frame from a peer subscription into
// another hub's inbox.
func pump(from *Subscriber, to *Hub) int {
	n := 0
	for {
		select {
		case msg := <-from.Messages():
			if msg.Binary {
				to.Deliver(msg.Data)
				n++
			}
		default:
			return n
		}
	}
}

func frameKinds(sub *Subscriber) []proto.Kind {
	var kinds []proto.Kind
	for {
		select {
		case msg := <-sub.Messages():
			if kind, ok := proto.PeekKind(msg.Data); ok && msg.Binary {
				kinds = append(kinds, kind)
			}
		default:
			return kinds
		}
	}
}

func TestJoinSpawnsActorWithClassLoadout(t *testing.T) {
	h := newTestHub(t, coordinator.RoleAuthority, nil)
	peer, err := h.Subscribe("")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	earth := h.join(t, contract.ClassEarth)
	pegasus := h.join(t, contract.ClassPegasus)
	if !h.HasActor(earth) || len(h.Roster()) != 2 {
		t.Fatalf("expected both actors on the roster, got %+v", h.Roster())
	}
	if _, ok := h.world.Actor(earth); ok {
		t.Fatal("expected actor to enter the world only on the next tick")
	}

	h.step(1)

	if got := h.coord.Slot(earth, 0).Ability(); got != builtin.KickID {
		t.Fatalf("expected earth pony to get kick in slot 0, got %q", got)
	}
	if got := h.coord.Slot(earth, 1).Ability(); got != "" {
		t.Fatalf("expected slot 1 empty for earth pony, got %q", got)
	}
	if got := h.coord.Slot(pegasus, 0).Ability(); got != builtin.CarryID {
		t.Fatalf("expected pegasus to get carry in slot 0, got %q", got)
	}

	kinds := frameKinds(peer)
	if len(kinds) < 2 || kinds[0] != proto.KindPresence || kinds[1] != proto.KindPresence {
		t.Fatalf("expected presence frames first, got %v", kinds)
	}
	if len(h.sink.EventsOfType(simlog.EventActorSpawned)) != 2 {
		t.Fatal("expected two spawn events")
	}
}

func TestJoinValidation(t *testing.T) {
	h := newTestHub(t, coordinator.RoleAuthority, nil)
	if _, err := h.Join(contract.Class("griffon")); !errors.Is(err, ErrInvalidClass) {
		t.Fatalf("expected invalid class, got %v", err)
	}

	observer := newTestHub(t, coordinator.RoleObserver, nil)
	if _, err := observer.Join(contract.ClassEarth); !errors.Is(err, ErrNotAuthority) {
		t.Fatalf("expected observers to refuse joins, got %v", err)
	}
}

func TestActivationReplicatesToObserverHub(t *testing.T) {
	authority := newTestHub(t, coordinator.RoleAuthority, nil)
	observer := newTestHub(t, coordinator.RoleObserver, nil)
	downstream, _ := authority.Subscribe("")

	id := authority.join(t, contract.ClassEarth)
	authority.step(1)
	authority.stage(t, id, proto.ClientMessage{Type: proto.TypeTrigger, Slot: 0})
	for tick := uint64(2); tick <= 5; tick++ {
		authority.step(tick)
	}

	if s := authority.coord.Slot(id, 0); s.State() != slot.CoolingDown || s.TicksRemaining() != 50 {
		t.Fatalf("expected authority kick cooling down for 50, got %s(%d)", s.State(), s.TicksRemaining())
	}

	if n := pump(downstream, observer.Hub); n == 0 {
		t.Fatal("expected frames to replicate")
	}
	observer.step(1)

	if !observer.HasActor(id) {
		t.Fatal("expected presence to add the actor to the observer roster")
	}
	s := observer.coord.Slot(id, 0)
	if s == nil || s.State() != slot.CoolingDown {
		t.Fatalf("expected mirrored kick cooling down, got %+v", s)
	}
	if s.TicksRemaining() != 49 {
		t.Fatalf("expected mirrored cooldown to count down with the observer, got %d", s.TicksRemaining())
	}
	actor, _ := observer.world.Actor(id)
	if anim, _ := actor.Animation(); anim != contract.AnimationKick {
		t.Fatalf("expected kick animation mirrored, got %q", anim)
	}
}

func TestObserverResyncLearnsExistingActors(t *testing.T) {
	authority := newTestHub(t, coordinator.RoleAuthority, nil)
	observer := newTestHub(t, coordinator.RoleObserver, nil)

	id := authority.join(t, contract.ClassEarth)
	authority.step(1)

	// The observer connects late and asks for everything.
	downstream, _ := authority.Subscribe("")
	request, err := proto.EncodeResyncRequest(proto.ResyncRequest{})
	if err != nil {
		t.Fatalf("encode resync: %v", err)
	}
	authority.Deliver(request)
	authority.step(2)

	pump(downstream, observer.Hub)
	observer.step(1)

	if !observer.HasActor(id) {
		t.Fatal("expected resync to announce existing actors")
	}
	if got := observer.coord.Slot(id, 0).Ability(); got != builtin.KickID {
		t.Fatalf("expected resync to carry slot state, got %q", got)
	}
}

func TestDepartureReplicatesToObserver(t *testing.T) {
	authority := newTestHub(t, coordinator.RoleAuthority, nil)
	observer := newTestHub(t, coordinator.RoleObserver, nil)
	downstream, _ := authority.Subscribe("")

	id := authority.join(t, contract.ClassEarth)
	authority.step(1)
	pump(downstream, observer.Hub)
	observer.step(1)

	authority.Leave(id)
	authority.step(2)
	pump(downstream, observer.Hub)
	observer.step(2)

	if observer.HasActor(id) {
		t.Fatal("expected departure to leave the observer roster")
	}
	if _, ok := observer.world.Actor(id); ok {
		t.Fatal("expected departure to remove the mirrored actor")
	}
}

func TestIneligibleCommandIsRejectedToSession(t *testing.T) {
	h := newTestHub(t, coordinator.RoleAuthority, nil)
	id := h.join(t, contract.ClassEarth)
	h.step(1)
	session, err := h.Subscribe(id)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	seq := uint64(5)
	h.stage(t, id, proto.ClientMessage{Type: proto.TypeEquip, Slot: 1, Ability: builtin.CarryID, CommandSeq: &seq})
	h.step(2)

	var reject struct {
		Type   string `json:"type"`
		Seq    uint64 `json:"seq"`
		Reason string `json:"reason"`
		Tick   uint64 `json:"tick"`
	}
	found := false
	for !found {
		select {
		case msg := <-session.Messages():
			if msg.Binary {
				continue
			}
			if err := json.Unmarshal(msg.Data, &reject); err != nil {
				t.Fatalf("decode reject: %v", err)
			}
			found = true
		default:
			t.Fatal("expected a rejection message")
		}
	}
	if reject.Type != "commandReject" || reject.Seq != 5 || reject.Reason != contract.ReasonClass || reject.Tick != 2 {
		t.Fatalf("unexpected rejection %+v", reject)
	}
	if len(h.sink.EventsOfType(simlog.EventCommandDropped)) != 1 {
		t.Fatal("expected a command dropped event")
	}
}

func TestLeaveSavesAndRejoinResumesCooldown(t *testing.T) {
	h := newTestHub(t, coordinator.RoleAuthority, nil)
	id := h.join(t, contract.ClassEarth)
	h.step(1)
	h.stage(t, id, proto.ClientMessage{Type: proto.TypeTrigger, Slot: 0})
	for tick := uint64(2); tick <= 5; tick++ {
		h.step(tick)
	}
	actor, _ := h.world.Actor(id)
	actor.SetLevel(0.5)

	if !h.Leave(id) {
		t.Fatal("expected leave to find the actor")
	}
	h.step(6)
	if _, ok := h.world.Actor(id); ok {
		t.Fatal("expected actor to be despawned")
	}
	if _, err := h.store.LoadEntity(context.Background(), world.EntityKind, id); err != nil {
		t.Fatalf("expected actor body saved on departure: %v", err)
	}

	if _, err := h.Rejoin(id, contract.ClassEarth); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	h.step(7)

	s := h.coord.Slot(id, 0)
	if s.Ability() != builtin.KickID || s.State() != slot.CoolingDown || s.TicksRemaining() != 49 {
		t.Fatalf("expected kick to resume cooling down at 49, got %q %s(%d)", s.Ability(), s.State(), s.TicksRemaining())
	}
	restored, _ := h.world.Actor(id)
	if restored.State().Level != 0.5 {
		t.Fatalf("expected level restored, got %v", restored.State().Level)
	}
}

func TestCastCommandPlacesSpellcast(t *testing.T) {
	h := newTestHub(t, coordinator.RoleAuthority, nil)
	unicorn := h.join(t, contract.ClassUnicorn)
	earth := h.join(t, contract.ClassEarth)
	h.step(1)

	h.stage(t, unicorn, proto.ClientMessage{Type: proto.TypeCast, Ability: "light"})
	h.stage(t, earth, proto.ClientMessage{Type: proto.TypeCast, Ability: "light"})
	h.step(2)

	if h.casts.Len() != 1 {
		t.Fatalf("expected only the unicorn's cast to land, got %d", h.casts.Len())
	}
	if _, ok, reason := h.Stage(unicorn, proto.ClientMessage{Type: proto.TypeCast, Ability: "fireball"}); ok {
		t.Fatalf("expected unknown effect to be refused at intake, got %q", reason)
	}

	if err := h.SaveAll(context.Background()); err != nil {
		t.Fatalf("save all: %v", err)
	}
	reloaded := newTestHub(t, coordinator.RoleAuthority, func(_ *Config, deps *Deps) { deps.Store = h.store })
	if reloaded.casts.Len() != 1 {
		t.Fatalf("expected spellcast restored on startup, got %d", reloaded.casts.Len())
	}
}

func TestHeartbeatTimeoutRemovesActor(t *testing.T) {
	h := newTestHub(t, coordinator.RoleAuthority, func(cfg *Config, _ *Deps) { cfg.DisconnectAfter = time.Second })
	id := h.join(t, contract.ClassEarth)
	session, _ := h.Subscribe(id)
	h.step(1)

	if rtt, ok := h.Heartbeat(id, epoch.Add(500*time.Millisecond), epoch.UnixMilli()); !ok || rtt != 500*time.Millisecond {
		t.Fatalf("expected 500ms rtt, got %v ok=%v", rtt, ok)
	}
	h.Engine().Advance(sim.LoopTickContext{Tick: 2, Now: epoch.Add(1200 * time.Millisecond)})
	if !h.HasActor(id) {
		t.Fatal("expected a recent heartbeat to keep the actor")
	}

	h.Engine().Advance(sim.LoopTickContext{Tick: 3, Now: epoch.Add(3 * time.Second)})
	if h.HasActor(id) {
		t.Fatal("expected stale actor to be removed from the roster")
	}
	select {
	case <-session.Done():
	default:
		t.Fatal("expected the stale session to be closed")
	}
	h.step(4)
	if h.world.Len() != 0 {
		t.Fatal("expected stale actor despawned")
	}
}

func TestRunSavesAndClosesSubscribersOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newTestHub(t, coordinator.RoleAuthority, func(cfg *Config, deps *Deps) {
		cfg.Loop.TickRate = 100
		deps.Clock = nil
	})
	peer, _ := h.Subscribe("")
	id := h.join(t, contract.ClassEarth)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for waiting := true; waiting; {
		select {
		case msg := <-peer.Messages():
			if kind, _ := proto.PeekKind(msg.Data); kind == proto.KindPresence {
				waiting = false
			}
		case <-deadline:
			cancel()
			<-done
			t.Fatal("timed out waiting for the spawn to replicate")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}

	select {
	case <-peer.Done():
	default:
		t.Fatal("expected subscribers closed on shutdown")
	}
	if _, err := h.store.LoadSlots(context.Background(), id); err != nil {
		t.Fatalf("expected slots saved on shutdown: %v", err)
	}
}
