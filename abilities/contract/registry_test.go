package contract

import "testing"

type samplePayload struct {
	ContractPayload
	Value int
}

func sampleDescriptor(id string, payload Payload) Descriptor {
	return Descriptor{
		ID:          id,
		Payload:     payload,
		Warmup:      Ticks(2),
		Cooldown:    Ticks(4),
		CanUse:      func(Class) bool { return true },
		TryActivate: func(Actor) (Payload, bool) { return &samplePayload{Value: 1}, true },
		Apply:       func(Actor, Payload) {},
	}
}

func TestRegistryValidate_AllowsValidDescriptors(t *testing.T) {
	registry := Registry{
		sampleDescriptor("example", (*samplePayload)(nil)),
		sampleDescriptor("nopayload", NoPayload),
	}

	if err := registry.Validate(); err != nil {
		t.Fatalf("expected registry to validate, got error: %v", err)
	}
}

func TestRegistryValidate_DetectsDuplicateIDs(t *testing.T) {
	registry := Registry{
		sampleDescriptor("dup", (*samplePayload)(nil)),
		sampleDescriptor("dup", NoPayload),
	}

	if err := registry.Validate(); err == nil {
		t.Fatal("expected duplicate ID to fail validation")
	}
}

func TestRegistryValidate_DetectsNilPayload(t *testing.T) {
	registry := Registry{sampleDescriptor("oops", nil)}
	if err := registry.Validate(); err == nil {
		t.Fatal("expected nil payload to fail validation")
	}
}

type invalidValuePayload struct{}

func (invalidValuePayload) payloadMarker() {}

type invalidPointerPayload int

func (*invalidPointerPayload) payloadMarker() {}

func TestRegistryValidate_RequiresPointerStructs(t *testing.T) {
	registry := Registry{sampleDescriptor("bad", invalidValuePayload{})}
	if err := registry.Validate(); err == nil {
		t.Fatal("expected non-pointer payload to fail validation")
	}

	registry = Registry{sampleDescriptor("bad2", (*invalidPointerPayload)(nil))}
	if err := registry.Validate(); err == nil {
		t.Fatal("expected pointer-to-non-struct payload to fail validation")
	}
}

func TestRegistryValidate_RequiresHooks(t *testing.T) {
	desc := sampleDescriptor("hookless", NoPayload)
	desc.Apply = nil
	if err := (Registry{desc}).Validate(); err == nil {
		t.Fatal("expected missing Apply hook to fail validation")
	}
}

func TestRegistryIndex_BuildsMap(t *testing.T) {
	registry := Registry{sampleDescriptor("ok", NoPayload)}
	index, err := registry.Index()
	if err != nil {
		t.Fatalf("expected index creation to succeed, got %v", err)
	}
	if _, ok := index["ok"]; !ok {
		t.Fatalf("expected entry for id 'ok'")
	}
}

func TestParseActivationType(t *testing.T) {
	if kind, ok := ParseActivationType("double_tap"); !ok || kind != ActivationDoubleTap {
		t.Fatalf("expected double tap, got %v (%v)", kind, ok)
	}
	if kind, ok := ParseActivationType(""); !ok || kind != ActivationHold {
		t.Fatalf("expected empty gesture to default to hold, got %v", kind)
	}
	if _, ok := ParseActivationType("swipe"); ok {
		t.Fatal("expected unknown gesture to be rejected")
	}
	if !ActivationTap.IsQuick() || ActivationHold.IsQuick() {
		t.Fatal("expected only tap gestures to be quick")
	}
}
