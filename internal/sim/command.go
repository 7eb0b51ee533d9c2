package sim

import (
	"time"

	"github.com/xyzzy121/Unicopia/abilities/contract"
)

// CommandType enumerates the supported simulation commands.
type CommandType string

const (
	CommandTrigger   CommandType = "Trigger"
	CommandRelease   CommandType = "Release"
	CommandEquip     CommandType = "Equip"
	CommandSpawn     CommandType = "Spawn"
	CommandDespawn   CommandType = "Despawn"
	CommandCast      CommandType = "Cast"
	CommandHeartbeat CommandType = "Heartbeat"
)

// AbilityCommand carries an input gesture aimed at one equip slot.
type AbilityCommand struct {
	Slot       int                     `json:"slot"`
	Activation contract.ActivationType `json:"activation"`
	Ability    string                  `json:"ability,omitempty"`
}

// SpawnCommand describes an actor joining a world.
type SpawnCommand struct {
	Class contract.Class `json:"class"`
	World string         `json:"world"`
}

// HeartbeatCommand updates connectivity metadata for an actor.
type HeartbeatCommand struct {
	ReceivedAt time.Time     `json:"receivedAt"`
	ClientSent int64         `json:"clientSent"`
	RTT        time.Duration `json:"rtt"`
}

// Command represents an intent captured for processing on the next tick.
type Command struct {
	OriginTick uint64            `json:"originTick"`
	Seq        uint64            `json:"seq,omitempty"`
	ActorID    string            `json:"actorId"`
	Type       CommandType       `json:"type"`
	IssuedAt   time.Time         `json:"issuedAt"`
	Ability    *AbilityCommand   `json:"ability,omitempty"`
	Spawn      *SpawnCommand     `json:"spawn,omitempty"`
	Heartbeat  *HeartbeatCommand `json:"heartbeat,omitempty"`
}
