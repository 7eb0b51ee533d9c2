package proto

import (
	"encoding/json"
	"fmt"

	"github.com/xyzzy121/Unicopia/abilities/contract"
	"github.com/xyzzy121/Unicopia/internal/sim"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	// Type identifiers for websocket payloads.
	typeCommandAck    = "commandAck"
	typeCommandReject = "commandReject"
	typeHeartbeat     = "heartbeat"
	typeJoin          = "join"
)

// Client message type identifiers.
const (
	TypeTrigger   = "trigger"
	TypeRelease   = "release"
	TypeQuick     = "quick"
	TypeEquip     = "equip"
	TypeCast      = "cast"
	TypeHeartbeat = "heartbeat"
)

// ClientMessage captures an inbound websocket message from the client.
type ClientMessage struct {
	Ver        int     `json:"ver,omitempty"`
	Type       string  `json:"type"`
	Slot       int     `json:"slot"`
	Ability    string  `json:"ability,omitempty"`
	Gesture    string  `json:"gesture,omitempty"`
	SentAt     int64   `json:"sentAt"`
	CommandSeq *uint64 `json:"seq,omitempty"`
}

// DecodeClientMessage converts raw websocket payloads into a structured message.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	return msg, nil
}

// ClientCommand captures the structured simulation command carried by a
// websocket message. Origin metadata is populated by the hub when the command
// is accepted for processing.
func ClientCommand(msg ClientMessage) (sim.Command, bool) {
	if msg.Slot < 0 {
		return sim.Command{}, false
	}
	switch msg.Type {
	case TypeTrigger:
		return sim.Command{
			Type:    sim.CommandTrigger,
			Ability: &sim.AbilityCommand{Slot: msg.Slot, Activation: contract.ActivationHold},
		}, true
	case TypeQuick:
		gesture, ok := contract.ParseActivationType(msg.Gesture)
		if !ok || !gesture.IsQuick() {
			return sim.Command{}, false
		}
		return sim.Command{
			Type:    sim.CommandTrigger,
			Ability: &sim.AbilityCommand{Slot: msg.Slot, Activation: gesture},
		}, true
	case TypeRelease:
		return sim.Command{
			Type:    sim.CommandRelease,
			Ability: &sim.AbilityCommand{Slot: msg.Slot},
		}, true
	case TypeEquip:
		return sim.Command{
			Type:    sim.CommandEquip,
			Ability: &sim.AbilityCommand{Slot: msg.Slot, Ability: msg.Ability},
		}, true
	case TypeCast:
		if msg.Ability == "" {
			return sim.Command{}, false
		}
		return sim.Command{
			Type:    sim.CommandCast,
			Ability: &sim.AbilityCommand{Ability: msg.Ability},
		}, true
	default:
		return sim.Command{}, false
	}
}

// CommandAck describes an acknowledgement of a processed command.
type CommandAck struct {
	Seq  uint64
	Tick uint64
}

// EncodeCommandAck renders a command acknowledgement response.
func EncodeCommandAck(msg CommandAck) ([]byte, error) {
	frame := struct {
		Ver  int    `json:"ver"`
		Type string `json:"type"`
		Seq  uint64 `json:"seq"`
		Tick uint64 `json:"tick,omitempty"`
	}{
		Ver:  Version,
		Type: typeCommandAck,
		Seq:  msg.Seq,
		Tick: msg.Tick,
	}
	return json.Marshal(frame)
}

// CommandReject notifies the client that a command was refused.
type CommandReject struct {
	Seq    uint64
	Reason string
	Retry  bool
	Tick   uint64
}

// EncodeCommandReject renders a command rejection response.
func EncodeCommandReject(msg CommandReject) ([]byte, error) {
	frame := struct {
		Ver    int    `json:"ver"`
		Type   string `json:"type"`
		Seq    uint64 `json:"seq"`
		Reason string `json:"reason"`
		Retry  bool   `json:"retry,omitempty"`
		Tick   uint64 `json:"tick,omitempty"`
	}{
		Ver:    Version,
		Type:   typeCommandReject,
		Seq:    msg.Seq,
		Reason: msg.Reason,
		Retry:  msg.Retry,
		Tick:   msg.Tick,
	}
	return json.Marshal(frame)
}

// Heartbeat echoes timing metadata back to the client.
type Heartbeat struct {
	ServerTime int64
	ClientTime int64
	RTTMillis  int64
}

// EncodeHeartbeat renders a heartbeat acknowledgement payload.
func EncodeHeartbeat(msg Heartbeat) ([]byte, error) {
	frame := struct {
		Ver        int    `json:"ver"`
		Type       string `json:"type"`
		ServerTime int64  `json:"serverTime"`
		ClientTime int64  `json:"clientTime"`
		RTTMillis  int64  `json:"rtt"`
	}{
		Ver:        Version,
		Type:       typeHeartbeat,
		ServerTime: msg.ServerTime,
		ClientTime: msg.ClientTime,
		RTTMillis:  msg.RTTMillis,
	}
	return json.Marshal(frame)
}

// JoinResponse is sent once when a session attaches to an actor.
type JoinResponse struct {
	ActorID   string         `json:"id"`
	Class     contract.Class `json:"class"`
	World     string         `json:"world"`
	Abilities []string       `json:"abilities"`
	TickRate  int            `json:"tickRate"`
}

// EncodeJoinResponse renders the join acknowledgement.
func EncodeJoinResponse(msg JoinResponse) ([]byte, error) {
	frame := struct {
		Ver  int    `json:"ver"`
		Type string `json:"type"`
		JoinResponse
	}{
		Ver:          Version,
		Type:         typeJoin,
		JoinResponse: msg,
	}
	return json.Marshal(frame)
}
