package codec

import (
	"errors"

	"github.com/samber/oops"
)

var (
	// ErrUnknownAbility reports an envelope whose identity has no registered
	// serializer. Callers drop the message.
	ErrUnknownAbility = errors.New("unknown ability")
	// ErrMalformedPayload reports truncated envelopes and payload bytes that
	// do not decode into the ability's payload type.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrTypeMismatch reports an attempt to encode a payload of the wrong
	// shape for an ability.
	ErrTypeMismatch = errors.New("payload type mismatch")
)

// Error codes attached to codec failures.
const (
	CodeUnknownAbility   = "ability_unknown"
	CodeMalformedPayload = "payload_malformed"
	CodeTypeMismatch     = "payload_type_mismatch"
)

func unknownAbility(abilityID string) error {
	return oops.In("codec").
		Code(CodeUnknownAbility).
		With("ability_id", abilityID).
		Wrapf(ErrUnknownAbility, "no serializer for ability %q", abilityID)
}

func malformed(abilityID string, cause error) error {
	builder := oops.In("codec").
		Code(CodeMalformedPayload).
		With("ability_id", abilityID)
	if cause != nil {
		builder = builder.With("cause", cause.Error())
	}
	return builder.Wrapf(ErrMalformedPayload, "decode payload for %q", abilityID)
}

// IdentityMismatch reports an envelope whose identity differs from the
// ability named by the frame carrying it.
func IdentityMismatch(expected, got string) error {
	return oops.In("codec").
		Code(CodeMalformedPayload).
		With("ability_id", expected).
		With("envelope_id", got).
		Wrapf(ErrMalformedPayload, "envelope for %q carried %q", expected, got)
}
