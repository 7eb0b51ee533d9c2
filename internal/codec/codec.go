// Package codec encodes activation payloads into the identity-prefixed
// envelope replicated between the authority and its observers.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"

	"github.com/xyzzy121/Unicopia/abilities/contract"
)

// maxIdentityLength bounds the identity prefix so corrupt length headers
// cannot ask for huge reads.
const maxIdentityLength = 256

const identityHeaderSize = 2

// Registry maps ability identities to payload serializers. It is populated
// at bootstrap and read-only afterwards.
type Registry struct {
	serializers map[string]Serializer
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{serializers: make(map[string]Serializer)}
}

// Register binds a serializer to an ability identity.
func (r *Registry) Register(abilityID string, serializer Serializer) error {
	if r == nil {
		return errors.New("codec: nil registry")
	}
	abilityID = strings.TrimSpace(abilityID)
	if abilityID == "" {
		return errors.New("codec: ability id must not be empty")
	}
	if len(abilityID) > maxIdentityLength {
		return fmt.Errorf("codec: ability id %q exceeds %d bytes", abilityID, maxIdentityLength)
	}
	if serializer == nil {
		return fmt.Errorf("codec: nil serializer for %q", abilityID)
	}
	if _, exists := r.serializers[abilityID]; exists {
		return fmt.Errorf("codec: duplicate serializer for %q", abilityID)
	}
	r.serializers[abilityID] = serializer
	return nil
}

// RegisterDescriptor derives a serializer from the descriptor's payload
// prototype and registers it.
func (r *Registry) RegisterDescriptor(desc contract.Descriptor) error {
	serializer, err := ForPrototype(desc.Payload)
	if err != nil {
		return fmt.Errorf("codec: %s: %w", desc.ID, err)
	}
	return r.Register(desc.ID, serializer)
}

// Has reports whether the identity has a serializer.
func (r *Registry) Has(abilityID string) bool {
	if r == nil {
		return false
	}
	_, ok := r.serializers[abilityID]
	return ok
}

// Encode renders the envelope [identity length][identity][payload bytes].
func (r *Registry) Encode(abilityID string, payload contract.Payload) ([]byte, error) {
	serializer, ok := r.lookup(abilityID)
	if !ok {
		return nil, unknownAbility(abilityID)
	}
	body, err := serializer.Encode(payload)
	if err != nil {
		return nil, oops.In("codec").
			Code(CodeTypeMismatch).
			With("ability_id", abilityID).
			Wrapf(err, "encode payload for %q", abilityID)
	}
	envelope := make([]byte, identityHeaderSize+len(abilityID)+len(body))
	binary.BigEndian.PutUint16(envelope[:identityHeaderSize], uint16(len(abilityID)))
	copy(envelope[identityHeaderSize:], abilityID)
	copy(envelope[identityHeaderSize+len(abilityID):], body)
	return envelope, nil
}

// Decode splits the envelope, looks up the serializer by identity and
// delegates the payload bytes to it.
func (r *Registry) Decode(envelope []byte) (string, contract.Payload, error) {
	abilityID, body, err := SplitEnvelope(envelope)
	if err != nil {
		return "", nil, err
	}
	payload, err := r.DecodePayload(abilityID, body)
	if err != nil {
		return abilityID, nil, err
	}
	return abilityID, payload, nil
}

// DecodePayload decodes raw payload bytes for a known identity.
func (r *Registry) DecodePayload(abilityID string, body []byte) (contract.Payload, error) {
	serializer, ok := r.lookup(abilityID)
	if !ok {
		return nil, unknownAbility(abilityID)
	}
	payload, err := serializer.Decode(body)
	if err != nil {
		return nil, malformed(abilityID, err)
	}
	return payload, nil
}

// SplitEnvelope reads the identity prefix without consulting the registry.
func SplitEnvelope(envelope []byte) (string, []byte, error) {
	if len(envelope) < identityHeaderSize {
		return "", nil, malformed("", fmt.Errorf("envelope shorter than header (%d bytes)", len(envelope)))
	}
	length := int(binary.BigEndian.Uint16(envelope[:identityHeaderSize]))
	if length == 0 || length > maxIdentityLength {
		return "", nil, malformed("", fmt.Errorf("identity length %d out of range", length))
	}
	if len(envelope) < identityHeaderSize+length {
		return "", nil, malformed("", fmt.Errorf("identity truncated: want %d bytes", length))
	}
	abilityID := string(envelope[identityHeaderSize : identityHeaderSize+length])
	return abilityID, envelope[identityHeaderSize+length:], nil
}

func (r *Registry) lookup(abilityID string) (Serializer, bool) {
	if r == nil {
		return nil, false
	}
	serializer, ok := r.serializers[abilityID]
	return serializer, ok
}
