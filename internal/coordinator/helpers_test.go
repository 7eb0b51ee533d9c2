package coordinator

import (
	"fmt"
	"testing"

	"github.com/xyzzy121/Unicopia/abilities/contract"
	"github.com/xyzzy121/Unicopia/internal/net/proto"
)

type testActor struct {
	id    string
	class contract.Class
	world string
}

func newActor(id string) *testActor {
	return &testActor{id: id, class: contract.ClassEarth, world: "overworld"}
}

func (a *testActor) ID() string            { return a.id }
func (a *testActor) Class() contract.Class { return a.class }
func (a *testActor) World() string         { return a.world }

type actorSet map[string]contract.Actor

func (s actorSet) Lookup(id string) (contract.Actor, bool) {
	actor, ok := s[id]
	return actor, ok
}

func (s actorSet) add(actors ...*testActor) actorSet {
	for _, actor := range actors {
		s[actor.id] = actor
	}
	return s
}

type frameLog struct {
	frames [][]byte
}

func (l *frameLog) Send(frame []byte) { l.frames = append(l.frames, frame) }

func (l *frameLog) take() [][]byte {
	out := l.frames
	l.frames = nil
	return out
}

func (l *frameLog) activations(t *testing.T) []proto.Activation {
	t.Helper()
	var out []proto.Activation
	for _, data := range l.frames {
		frame, err := proto.DecodeFrame(data)
		if err != nil {
			t.Fatalf("decode outgoing frame: %v", err)
		}
		if frame.Activation != nil {
			out = append(out, *frame.Activation)
		}
	}
	return out
}

type counter struct {
	pre, apply, post, quick int
	payloads                []contract.Payload
}

// stomp is a test ability with a Pos payload and configurable timing.
func stomp(warmup, cooldown uint32, calls *counter) contract.Descriptor {
	return contract.Descriptor{
		ID:       "stomp",
		Payload:  (*contract.Pos)(nil),
		Warmup:   contract.Ticks(warmup),
		Cooldown: contract.Ticks(cooldown),
		CanUse:   func(c contract.Class) bool { return c.CanUseEarth() },
		TryActivate: func(contract.Actor) (contract.Payload, bool) {
			return &contract.Pos{X: 1, Y: 2, Z: 3}, true
		},
		PreApply: func(contract.Actor, contract.SlotRef) { calls.pre++ },
		Apply: func(_ contract.Actor, p contract.Payload) {
			calls.apply++
			calls.payloads = append(calls.payloads, p)
		},
		PostApply: func(contract.Actor, contract.SlotRef) { calls.post++ },
	}
}

func newAuthority(t *testing.T, actors actorSet, out *frameLog, descs ...contract.Descriptor) *Coordinator {
	t.Helper()
	c := New(Config{Role: RoleAuthority, SlotCount: 2}, actors, out, WithIDs(sequentialIDs()))
	for _, desc := range descs {
		if err := c.RegisterAbility(desc); err != nil {
			t.Fatalf("register %s: %v", desc.ID, err)
		}
	}
	return c
}

func newObserver(t *testing.T, actors actorSet, out *frameLog, descs ...contract.Descriptor) *Coordinator {
	t.Helper()
	c := New(Config{Role: RoleObserver, SlotCount: 2}, actors, out)
	for _, desc := range descs {
		if err := c.RegisterAbility(desc); err != nil {
			t.Fatalf("register %s: %v", desc.ID, err)
		}
	}
	return c
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("act-%d", n)
	}
}
