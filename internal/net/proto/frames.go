package proto

import (
	"bytes"
	"errors"

	"github.com/samber/oops"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xyzzy121/Unicopia/abilities/contract"
)

// Kind tags a binary replication frame.
type Kind uint8

const (
	KindActivation Kind = iota + 1
	KindSlotSync
	KindResyncRequest
	KindPresence
)

func (k Kind) String() string {
	switch k {
	case KindActivation:
		return "activation"
	case KindSlotSync:
		return "slot_sync"
	case KindResyncRequest:
		return "resync_request"
	case KindPresence:
		return "presence"
	default:
		return "unknown"
	}
}

const frameHeaderLen = 2

var (
	// ErrMalformedFrame reports a replication frame that could not be read.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnsupportedVersion reports a frame from another protocol revision.
	ErrUnsupportedVersion = errors.New("unsupported frame version")
)

// Activation is the replicated record of one resolved ability activation.
// Observers apply it without re-running warmup or cost checks.
type Activation struct {
	World          string                  `msgpack:"world"`
	ActorID        string                  `msgpack:"actor"`
	Slot           int                     `msgpack:"slot"`
	Seq            uint64                  `msgpack:"seq"`
	ActivationID   string                  `msgpack:"id"`
	AbilityID      string                  `msgpack:"ability"`
	Envelope       []byte                  `msgpack:"env"`
	DurationTicks  uint32                  `msgpack:"dur"`
	Tick           uint64                  `msgpack:"tick"`
	Quick          bool                    `msgpack:"quick,omitempty"`
	ActivationType contract.ActivationType `msgpack:"gesture,omitempty"`
}

// SlotSync carries the authority's view of one slot. Observers keep the
// newest Version per actor and slot.
type SlotSync struct {
	ActorID        string `msgpack:"actor"`
	Slot           int    `msgpack:"slot"`
	Version        uint64 `msgpack:"version"`
	AbilityID      string `msgpack:"ability"`
	State          string `msgpack:"state"`
	TicksRemaining uint32 `msgpack:"ticks"`
	LastSeq        uint64 `msgpack:"seq"`
	// Resync marks a full-state frame sent to a reconnecting observer. It
	// resets the observer's sequence cursor to LastSeq.
	Resync bool `msgpack:"resync,omitempty"`
}

// ResyncRequest asks the authority for full slot state of the listed
// actors. An empty list requests every actor.
type ResyncRequest struct {
	ActorIDs []string `msgpack:"actors"`
}

// Presence announces an actor entering or leaving a world so observers can
// mirror the authority's roster.
type Presence struct {
	World   string         `msgpack:"world"`
	ActorID string         `msgpack:"actor"`
	Class   contract.Class `msgpack:"class"`
	Present bool           `msgpack:"present"`
}

// Frame is a decoded replication frame. Exactly one body is set.
type Frame struct {
	Kind       Kind
	Activation *Activation
	SlotSync   *SlotSync
	Resync     *ResyncRequest
	Presence   *Presence
}

// PeekKind reports the kind of a frame without decoding its body.
func PeekKind(data []byte) (Kind, bool) {
	if len(data) < frameHeaderLen || data[0] != Version {
		return 0, false
	}
	return Kind(data[1]), true
}

// EncodeActivation renders an activation frame.
func EncodeActivation(msg Activation) ([]byte, error) {
	return encodeFrame(KindActivation, &msg)
}

// EncodeSlotSync renders a slot sync frame.
func EncodeSlotSync(msg SlotSync) ([]byte, error) {
	return encodeFrame(KindSlotSync, &msg)
}

// EncodeResyncRequest renders a resync request frame.
func EncodeResyncRequest(msg ResyncRequest) ([]byte, error) {
	return encodeFrame(KindResyncRequest, &msg)
}

// EncodePresence renders a presence frame.
func EncodePresence(msg Presence) ([]byte, error) {
	return encodeFrame(KindPresence, &msg)
}

func encodeFrame(kind Kind, body any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(Version)
	buf.WriteByte(byte(kind))
	if err := msgpack.NewEncoder(&buf).Encode(body); err != nil {
		return nil, oops.In("proto").Code("frame_encode").With("kind", kind.String()).Wrap(err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame parses a binary replication frame. Unknown kinds, bad
// versions, unknown fields and trailing bytes are rejected.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < frameHeaderLen {
		return Frame{}, malformedFrame(0, errors.New("short header"))
	}
	if data[0] != Version {
		return Frame{}, oops.In("proto").
			Code("frame_version").
			With("version", int(data[0])).
			Wrapf(ErrUnsupportedVersion, "frame version %d", data[0])
	}
	frame := Frame{Kind: Kind(data[1])}
	var body any
	switch frame.Kind {
	case KindActivation:
		frame.Activation = &Activation{}
		body = frame.Activation
	case KindSlotSync:
		frame.SlotSync = &SlotSync{}
		body = frame.SlotSync
	case KindResyncRequest:
		frame.Resync = &ResyncRequest{}
		body = frame.Resync
	case KindPresence:
		frame.Presence = &Presence{}
		body = frame.Presence
	default:
		return Frame{}, malformedFrame(frame.Kind, errors.New("unknown kind"))
	}

	reader := bytes.NewReader(data[frameHeaderLen:])
	dec := msgpack.NewDecoder(reader)
	dec.DisallowUnknownFields(true)
	if err := dec.Decode(body); err != nil {
		return Frame{}, malformedFrame(frame.Kind, err)
	}
	if reader.Len() > 0 {
		return Frame{}, malformedFrame(frame.Kind, errors.New("trailing bytes"))
	}
	return frame, nil
}

func malformedFrame(kind Kind, cause error) error {
	return oops.In("proto").
		Code("frame_malformed").
		With("kind", kind.String()).
		Wrapf(errors.Join(ErrMalformedFrame, cause), "decode %s frame", kind)
}
