package coordinator

import (
	"context"
	"testing"

	"github.com/xyzzy121/Unicopia/abilities/contract"
	"github.com/xyzzy121/Unicopia/internal/net/proto"
	"github.com/xyzzy121/Unicopia/internal/observability"
	"github.com/xyzzy121/Unicopia/internal/slot"
	"github.com/xyzzy121/Unicopia/internal/store"
	"github.com/xyzzy121/Unicopia/logging/abilities"
	"github.com/xyzzy121/Unicopia/logging/sinks"
)

func TestObserverAppliesEachActivationOnce(t *testing.T) {
	out := &frameLog{}
	authority := newAuthority(t, actorSet{}.add(newActor("pony")), out, stomp(0, 10, &counter{}))
	_ = authority.Equip("pony", 0, "stomp")
	if err := authority.OnTriggerInput("pony", 0, contract.ActivationHold); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	authority.OnTick("overworld", 1)

	mirrored := &counter{}
	observer := newObserver(t, actorSet{}.add(newActor("pony")), &frameLog{}, stomp(0, 10, mirrored))

	var results []string
	for _, frame := range out.take() {
		results = append(results, observer.Receive(frame), observer.Receive(frame))
	}
	want := []string{
		observability.DeliveryApplied, observability.DeliveryDuplicate,
		observability.DeliveryApplied, observability.DeliveryStale,
	}
	if len(results) != len(want) {
		t.Fatalf("expected %d deliveries, got %v", len(want), results)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("delivery %d: expected %s, got %s", i, want[i], results[i])
		}
	}

	if mirrored.apply != 1 || mirrored.pre != 1 || mirrored.post != 1 {
		t.Fatalf("expected one mirrored application, got pre=%d apply=%d post=%d", mirrored.pre, mirrored.apply, mirrored.post)
	}
	pos, ok := mirrored.payloads[0].(*contract.Pos)
	if !ok || pos.X != 1 || pos.Y != 2 || pos.Z != 3 {
		t.Fatalf("expected decoded Pos{1,2,3}, got %#v", mirrored.payloads[0])
	}
	s := observer.Slot("pony", 0)
	if s.State() != slot.CoolingDown || s.TicksRemaining() != 9 || s.Ability() != "stomp" {
		t.Fatalf("expected observer to track CoolingDown(9) on stomp, got %s(%d) %q", s.State(), s.TicksRemaining(), s.Ability())
	}
}

func TestMirrorEntersCooldownForReplicatedDuration(t *testing.T) {
	out := &frameLog{}
	authority := newAuthority(t, actorSet{}.add(newActor("pony")), out, stomp(2, 7, &counter{}))
	_ = authority.Equip("pony", 1, "stomp")
	_ = authority.OnTriggerInput("pony", 1, contract.ActivationHold)
	authority.OnTick("overworld", 1)
	out.take()
	authority.OnTick("overworld", 2)

	observer := newObserver(t, actorSet{}.add(newActor("pony")), &frameLog{}, stomp(2, 7, &counter{}))
	records := out.activations(t)
	if len(records) != 1 {
		t.Fatalf("expected one activation, got %d", len(records))
	}
	frame, err := proto.EncodeActivation(records[0])
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := observer.Receive(frame); got != observability.DeliveryApplied {
		t.Fatalf("expected applied, got %s", got)
	}
	s := observer.Slot("pony", 1)
	if s.State() != slot.CoolingDown || s.TicksRemaining() != 7 || s.Seq() != 1 {
		t.Fatalf("expected CoolingDown(7) seq 1, got %s(%d) seq %d", s.State(), s.TicksRemaining(), s.Seq())
	}
}

func TestMalformedEnvelopeIsDroppedWithoutSideEffects(t *testing.T) {
	calls := &counter{}
	sink := sinks.NewMemorySink()
	actors := actorSet{}.add(newActor("pony"))
	observer := New(Config{Role: RoleObserver, SlotCount: 2}, actors, &frameLog{}, WithPublisher(sink))
	if err := observer.RegisterAbility(stomp(0, 4, calls)); err != nil {
		t.Fatalf("register: %v", err)
	}
	observer.Attach(actors["pony"])

	bad, err := proto.EncodeActivation(proto.Activation{
		World:         "overworld",
		ActorID:       "pony",
		Slot:          0,
		Seq:           1,
		AbilityID:     "stomp",
		Envelope:      []byte{0xc1, 0x00},
		DurationTicks: 4,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := observer.Receive(bad); got != observability.DeliveryMalformed {
		t.Fatalf("expected malformed, got %s", got)
	}
	if got := observer.Receive([]byte{0xff}); got != observability.DeliveryMalformed {
		t.Fatalf("expected malformed frame, got %s", got)
	}
	if calls.apply != 0 {
		t.Fatalf("expected no apply, got %d", calls.apply)
	}
	if s := observer.Slot("pony", 0); s.State() != slot.Idle {
		t.Fatalf("expected slot untouched, got %s", s.State())
	}
	if got := len(sink.EventsOfType(abilities.EventMalformedPayload)); got != 2 {
		t.Fatalf("expected two malformed events, got %d", got)
	}

	envelope, err := observer.Codec().Encode("stomp", &contract.Pos{X: 4})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	good, _ := proto.EncodeActivation(proto.Activation{
		World:         "overworld",
		ActorID:       "pony",
		Slot:          0,
		Seq:           1,
		AbilityID:     "stomp",
		Envelope:      envelope,
		DurationTicks: 4,
	})
	if got := observer.Receive(good); got != observability.DeliveryApplied {
		t.Fatalf("expected the same sequence to apply once well formed, got %s", got)
	}
	if calls.apply != 1 {
		t.Fatalf("expected one apply, got %d", calls.apply)
	}
}

func TestEnvelopeNamingAnotherAbilityIsMalformed(t *testing.T) {
	other := stomp(0, 1, &counter{})
	other.ID = "buck"
	calls := &counter{}
	observer := newObserver(t, actorSet{}.add(newActor("pony")), &frameLog{}, stomp(0, 4, calls), other)

	envelope, err := observer.Codec().Encode("buck", &contract.Pos{})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	frame, _ := proto.EncodeActivation(proto.Activation{ActorID: "pony", Seq: 1, AbilityID: "stomp", Envelope: envelope, DurationTicks: 4})
	if got := observer.Receive(frame); got != observability.DeliveryMalformed {
		t.Fatalf("expected identity mismatch to be malformed, got %s", got)
	}
	if calls.apply != 0 {
		t.Fatal("expected no apply on identity mismatch")
	}
}

func TestUnknownAbilityIsDropped(t *testing.T) {
	observer := newObserver(t, actorSet{}.add(newActor("pony")), &frameLog{}, stomp(0, 4, &counter{}))
	frame, _ := proto.EncodeActivation(proto.Activation{ActorID: "pony", Seq: 1, AbilityID: "teleport", Envelope: []byte{0x90}})
	if got := observer.Receive(frame); got != observability.DeliveryUnknown {
		t.Fatalf("expected unknown ability, got %s", got)
	}
}

func TestMissingActorRetriesOnce(t *testing.T) {
	t.Run("actor arrives before retry", func(t *testing.T) {
		calls := &counter{}
		actors := actorSet{}
		observer := newObserver(t, actors, &frameLog{}, stomp(0, 4, calls))
		frame := encodedStomp(t, observer, 1)

		if got := observer.Receive(frame); got != observability.DeliveryDeferred {
			t.Fatalf("expected deferred, got %s", got)
		}
		actors.add(newActor("pony"))
		observer.OnTick("overworld", 1)

		if calls.apply != 1 {
			t.Fatalf("expected retry to apply, got %d", calls.apply)
		}
		if s := observer.Slot("pony", 0); s.State() != slot.CoolingDown {
			t.Fatalf("expected CoolingDown after retry, got %s", s.State())
		}
	})

	t.Run("actor never arrives", func(t *testing.T) {
		calls := &counter{}
		sink := sinks.NewMemorySink()
		observer := New(Config{Role: RoleObserver, SlotCount: 2}, actorSet{}, &frameLog{}, WithPublisher(sink))
		if err := observer.RegisterAbility(stomp(0, 4, calls)); err != nil {
			t.Fatalf("register: %v", err)
		}
		_ = observer.Receive(encodedStomp(t, observer, 1))
		for tick := uint64(1); tick <= 3; tick++ {
			observer.OnTick("overworld", tick)
		}
		if calls.apply != 0 {
			t.Fatalf("expected drop, got %d applies", calls.apply)
		}
		if observer.PendingDeferred() != 0 {
			t.Fatalf("expected no further retries, got %d pending", observer.PendingDeferred())
		}
		if got := len(sink.EventsOfType(abilities.EventMissingActor)); got != 1 {
			t.Fatalf("expected one missing actor event, got %d", got)
		}
	})
}

func TestQuickActionReplication(t *testing.T) {
	quickStomp := func(calls *counter, replicated bool) contract.Descriptor {
		desc := stomp(5, 5, calls)
		desc.QuickReplicated = replicated
		desc.PrepareQuickAction = func(contract.Actor, contract.ActivationType) (contract.Payload, bool) {
			return &contract.Pos{Y: 9}, true
		}
		desc.QuickAction = func(_ contract.Actor, kind contract.ActivationType, data contract.Payload) bool {
			if kind != contract.ActivationTap {
				return false
			}
			calls.quick++
			calls.payloads = append(calls.payloads, data)
			return true
		}
		return desc
	}

	out := &frameLog{}
	local := &counter{}
	authority := newAuthority(t, actorSet{}.add(newActor("pony")), out, quickStomp(local, true))
	_ = authority.Equip("pony", 0, "stomp")

	if err := authority.OnTriggerInput("pony", 0, contract.ActivationTap); err != nil {
		t.Fatalf("tap: %v", err)
	}
	if err := authority.OnTriggerInput("pony", 0, contract.ActivationDoubleTap); contract.IneligibleReason(err) != contract.ReasonNotConsumed {
		t.Fatalf("expected unconsumed double tap, got %v", err)
	}
	if local.quick != 1 || local.apply != 0 {
		t.Fatalf("expected one quick action and no apply, got quick=%d apply=%d", local.quick, local.apply)
	}
	if state := authority.Slot("pony", 0).State(); state != slot.Idle {
		t.Fatalf("expected quick action to leave slot idle, got %s", state)
	}

	records := out.activations(t)
	if len(records) != 1 || !records[0].Quick || records[0].ActivationType != contract.ActivationTap {
		t.Fatalf("expected one replicated tap, got %+v", records)
	}

	remote := &counter{}
	observer := newObserver(t, actorSet{}.add(newActor("pony")), &frameLog{}, quickStomp(remote, true))
	for _, frame := range out.take() {
		observer.Receive(frame)
		observer.Receive(frame)
	}
	if remote.quick != 1 {
		t.Fatalf("expected observer to run the quick action once, got %d", remote.quick)
	}
	if pos, ok := remote.payloads[0].(*contract.Pos); !ok || pos.Y != 9 {
		t.Fatalf("expected prepared data to replicate, got %#v", remote.payloads[0])
	}

	silent := &frameLog{}
	unreplicated := newAuthority(t, actorSet{}.add(newActor("pony")), silent, quickStomp(&counter{}, false))
	_ = unreplicated.Equip("pony", 0, "stomp")
	_ = unreplicated.OnTriggerInput("pony", 0, contract.ActivationTap)
	if len(silent.activations(t)) != 0 {
		t.Fatal("expected local-only quick action to stay local")
	}
}

func TestGapTriggersResync(t *testing.T) {
	authorityOut := &frameLog{}
	authority := newAuthority(t, actorSet{}.add(newActor("pony")), authorityOut, stomp(0, 0, &counter{}))
	_ = authority.Equip("pony", 0, "stomp")
	for i := 0; i < 3; i++ {
		if err := authority.OnTriggerInput("pony", 0, contract.ActivationHold); err != nil {
			t.Fatalf("trigger %d: %v", i, err)
		}
	}
	frames := authorityOut.take()
	if len(frames) != 3 {
		t.Fatalf("expected three activations, got %d", len(frames))
	}

	observerOut := &frameLog{}
	sink := sinks.NewMemorySink()
	mirrored := &counter{}
	observer := New(Config{Role: RoleObserver, SlotCount: 2}, actorSet{}.add(newActor("pony")), observerOut, WithPublisher(sink))
	if err := observer.RegisterAbility(stomp(0, 0, mirrored)); err != nil {
		t.Fatalf("register: %v", err)
	}

	observer.Receive(frames[0])
	observer.Receive(frames[2])
	observer.Receive(frames[1])
	if mirrored.apply != 2 {
		t.Fatalf("expected late frame to be dropped, got %d applies", mirrored.apply)
	}
	if got := len(sink.EventsOfType(abilities.EventSequenceGap)); got != 1 {
		t.Fatalf("expected one gap event, got %d", got)
	}

	observer.OnTick("overworld", 1)
	requests := observerOut.take()
	if len(requests) != 1 {
		t.Fatalf("expected one resync request, got %d", len(requests))
	}
	decoded, err := proto.DecodeFrame(requests[0])
	if err != nil || decoded.Resync == nil || len(decoded.Resync.ActorIDs) != 1 {
		t.Fatalf("expected resync request for pony, got %+v (%v)", decoded, err)
	}

	if got := authority.Receive(requests[0]); got != observability.DeliveryApplied {
		t.Fatalf("expected authority to answer resync, got %s", got)
	}
	for _, frame := range authorityOut.take() {
		observer.Receive(frame)
	}
	s := observer.Slot("pony", 0)
	if s.Seq() != 3 || s.State() != slot.Idle || s.SyncedVersion() == 0 {
		t.Fatalf("expected resynced slot at seq 3, got seq %d state %s synced %d", s.Seq(), s.State(), s.SyncedVersion())
	}

	observer.OnTick("overworld", 2)
	if len(observerOut.take()) != 0 {
		t.Fatal("expected no further resync requests")
	}
}

func TestRoleMismatchedFramesAreIgnored(t *testing.T) {
	authority := newAuthority(t, actorSet{}.add(newActor("pony")), &frameLog{}, stomp(0, 1, &counter{}))
	observer := newObserver(t, actorSet{}.add(newActor("pony")), &frameLog{}, stomp(0, 1, &counter{}))

	if got := authority.Receive(encodedStomp(t, authority, 1)); got != observability.DeliveryIgnored {
		t.Fatalf("expected authority to ignore activations, got %s", got)
	}
	request, _ := proto.EncodeResyncRequest(proto.ResyncRequest{})
	if got := observer.Receive(request); got != observability.DeliveryIgnored {
		t.Fatalf("expected observer to ignore resync requests, got %s", got)
	}
}

func encodedStomp(t *testing.T, c *Coordinator, seq uint64) []byte {
	t.Helper()
	envelope, err := c.Codec().Encode("stomp", &contract.Pos{X: 1})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	frame, err := proto.EncodeActivation(proto.Activation{
		World:         "overworld",
		ActorID:       "pony",
		Slot:          0,
		Seq:           seq,
		AbilityID:     "stomp",
		Envelope:      envelope,
		DurationTicks: 4,
	})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return frame
}

func TestRejoinedActorReplicatesAgain(t *testing.T) {
	ctx := context.Background()
	actors := actorSet{}.add(newActor("pony"))
	out := &frameLog{}
	authority := New(Config{Role: RoleAuthority, SlotCount: 2}, actors, out, WithStore(store.NewMemory()), WithIDs(sequentialIDs()))
	if err := authority.RegisterAbility(stomp(0, 2, &counter{})); err != nil {
		t.Fatalf("register: %v", err)
	}
	mirrored := &counter{}
	observer := newObserver(t, actors, &frameLog{}, stomp(0, 2, mirrored))
	deliver := func() []string {
		var results []string
		for _, frame := range out.take() {
			results = append(results, observer.Receive(frame))
		}
		return results
	}

	authority.Attach(actors["pony"])
	observer.Attach(actors["pony"])
	_ = authority.Equip("pony", 0, "stomp")
	if err := authority.OnTriggerInput("pony", 0, contract.ActivationHold); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	authority.OnTick("overworld", 1)
	observer.OnTick("overworld", 1)
	deliver()

	if err := authority.SaveActor(ctx, "pony"); err != nil {
		t.Fatalf("save: %v", err)
	}
	authority.Detach("pony")
	observer.Detach("pony")

	if err := authority.RestoreActor(ctx, actors["pony"]); err != nil {
		t.Fatalf("restore: %v", err)
	}
	observer.Attach(actors["pony"])
	for tick := uint64(2); tick <= 5; tick++ {
		authority.OnTick("overworld", tick)
		observer.OnTick("overworld", tick)
	}
	out.take()

	if err := authority.OnTriggerInput("pony", 0, contract.ActivationHold); err != nil {
		t.Fatalf("trigger after rejoin: %v", err)
	}
	results := deliver()
	if len(results) == 0 || results[0] == observability.DeliveryStale {
		t.Fatalf("expected the rejoined actor's activation to be applied, got %v", results)
	}
	if mirrored.apply != 2 {
		t.Fatalf("expected 2 mirrored applications, got %d", mirrored.apply)
	}
}
