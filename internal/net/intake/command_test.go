package intake

import (
	"testing"
	"time"

	"github.com/xyzzy121/Unicopia/abilities/contract"
	"github.com/xyzzy121/Unicopia/internal/net/proto"
	"github.com/xyzzy121/Unicopia/internal/sim"
)

type fakeEngine struct {
	enqueueOK     bool
	enqueueReason string
	commands      []sim.Command
}

func (f *fakeEngine) Enqueue(cmd sim.Command) (bool, string) {
	f.commands = append(f.commands, cmd)
	if f.enqueueOK {
		return true, ""
	}
	if f.enqueueReason == "" {
		f.enqueueReason = sim.CommandRejectQueueLimit
	}
	return false, f.enqueueReason
}
func (f *fakeEngine) Pending() int { return len(f.commands) }
func (f *fakeEngine) Advance(sim.LoopTickContext) sim.LoopStepResult {
	return sim.LoopStepResult{}
}
func (f *fakeEngine) Run(<-chan struct{}) {}

func TestStageClientCommandAcceptsTrigger(t *testing.T) {
	engine := &fakeEngine{enqueueOK: true}
	issuedAt := time.Unix(100, 0)
	ctx := CommandContext{
		Engine:    engine,
		HasActor:  func(id string) bool { return id == "pony-1" },
		SlotCount: 2,
		Tick:      func() uint64 { return 42 },
		Now:       func() time.Time { return issuedAt },
	}

	seq := uint64(9)
	msg := proto.ClientMessage{Type: proto.TypeQuick, Slot: 1, Gesture: "tap", CommandSeq: &seq}
	cmd, ok, reason := StageClientCommand(ctx, "pony-1", msg)
	if !ok {
		t.Fatalf("expected command to be accepted, got reason %q", reason)
	}
	if cmd.ActorID != "pony-1" {
		t.Fatalf("expected ActorID to be set, got %q", cmd.ActorID)
	}
	if cmd.OriginTick != 42 {
		t.Fatalf("expected OriginTick to be 42, got %d", cmd.OriginTick)
	}
	if cmd.Seq != 9 {
		t.Fatalf("expected client sequence 9, got %d", cmd.Seq)
	}
	if !cmd.IssuedAt.Equal(issuedAt) {
		t.Fatalf("expected IssuedAt %v, got %v", issuedAt, cmd.IssuedAt)
	}
	if cmd.Ability.Activation != contract.ActivationTap {
		t.Fatalf("expected tap gesture, got %s", cmd.Ability.Activation)
	}
	if len(engine.commands) != 1 {
		t.Fatalf("expected engine to record command, got %d", len(engine.commands))
	}
}

func TestStageClientCommandRejections(t *testing.T) {
	known := func(id string) bool { return id == "kick" }
	cases := []struct {
		name   string
		actor  string
		msg    proto.ClientMessage
		reason string
	}{
		{name: "heartbeat", actor: "pony-1", msg: proto.ClientMessage{Type: proto.TypeHeartbeat}, reason: CommandRejectInvalidAction},
		{name: "slot out of range", actor: "pony-1", msg: proto.ClientMessage{Type: proto.TypeTrigger, Slot: 5}, reason: CommandRejectUnknownSlot},
		{name: "unknown ability", actor: "pony-1", msg: proto.ClientMessage{Type: proto.TypeEquip, Ability: "teleport"}, reason: CommandRejectInvalidAction},
		{name: "unknown effect", actor: "pony-1", msg: proto.ClientMessage{Type: proto.TypeCast, Ability: "fireball"}, reason: CommandRejectInvalidAction},
		{name: "unknown actor", actor: "ghost", msg: proto.ClientMessage{Type: proto.TypeTrigger}, reason: CommandRejectUnknownActor},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := &fakeEngine{enqueueOK: true}
			ctx := CommandContext{
				Engine:    engine,
				HasActor:  func(id string) bool { return id == "pony-1" },
				Abilities: known,
				Effects:   func(name string) bool { return name == "light" },
				SlotCount: 2,
			}
			_, ok, reason := StageClientCommand(ctx, tc.actor, tc.msg)
			if ok {
				t.Fatalf("expected rejection")
			}
			if reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, reason)
			}
			if len(engine.commands) != 0 {
				t.Fatalf("expected nothing enqueued, got %d", len(engine.commands))
			}
		})
	}
}

func TestStageClientCommandAllowsUnequip(t *testing.T) {
	engine := &fakeEngine{enqueueOK: true}
	ctx := CommandContext{Engine: engine, Abilities: func(string) bool { return false }}
	if _, ok, reason := StageClientCommand(ctx, "pony-1", proto.ClientMessage{Type: proto.TypeEquip}); !ok {
		t.Fatalf("expected empty equip to clear the slot, got %q", reason)
	}
}

func TestStageClientCommandPropagatesEngineRejection(t *testing.T) {
	engine := &fakeEngine{}
	ctx := CommandContext{Engine: engine}
	_, ok, reason := StageClientCommand(ctx, "pony-1", proto.ClientMessage{Type: proto.TypeRelease})
	if ok {
		t.Fatalf("expected rejection from engine")
	}
	if reason != sim.CommandRejectQueueLimit {
		t.Fatalf("expected queue limit reason, got %q", reason)
	}
}

func TestStageClientCommandWithoutEngine(t *testing.T) {
	_, ok, reason := StageClientCommand(CommandContext{}, "pony-1", proto.ClientMessage{Type: proto.TypeTrigger})
	if ok || reason != sim.CommandRejectQueueFull {
		t.Fatalf("expected queue_full without engine, got ok=%v reason=%q", ok, reason)
	}
}
