// Package intake validates client messages and stages them on the engine.
package intake

import (
	"time"

	"github.com/xyzzy121/Unicopia/internal/net/proto"
	"github.com/xyzzy121/Unicopia/internal/sim"
)

// Rejection reasons reported back to the client.
const (
	CommandRejectInvalidAction = "invalid_action"
	CommandRejectUnknownActor  = "unknown_actor"
	CommandRejectUnknownSlot   = "unknown_slot"
)

// CommandContext supplies the hooks StageClientCommand needs from the hub.
type CommandContext struct {
	Engine   sim.Engine
	HasActor func(string) bool
	// Abilities reports whether an ability identity is registered.
	Abilities func(string) bool
	// Effects reports whether a spellcast effect name can be conjured.
	Effects   func(string) bool
	SlotCount int
	Tick      func() uint64
	Now       func() time.Time
}

// StageClientCommand converts a client message into a simulation command
// and enqueues it for the next tick.
func StageClientCommand(ctx CommandContext, actorID string, msg proto.ClientMessage) (sim.Command, bool, string) {
	var zero sim.Command

	command, ok := proto.ClientCommand(msg)
	if !ok || command.Ability == nil {
		return zero, false, CommandRejectInvalidAction
	}
	if ctx.SlotCount > 0 && command.Ability.Slot >= ctx.SlotCount {
		return zero, false, CommandRejectUnknownSlot
	}

	switch command.Type {
	case sim.CommandTrigger, sim.CommandRelease:
	case sim.CommandEquip:
		if command.Ability.Ability != "" && ctx.Abilities != nil && !ctx.Abilities(command.Ability.Ability) {
			return zero, false, CommandRejectInvalidAction
		}
	case sim.CommandCast:
		if ctx.Effects != nil && !ctx.Effects(command.Ability.Ability) {
			return zero, false, CommandRejectInvalidAction
		}
	default:
		return zero, false, CommandRejectInvalidAction
	}

	if ctx.HasActor != nil && !ctx.HasActor(actorID) {
		return zero, false, CommandRejectUnknownActor
	}

	command.ActorID = actorID
	if msg.CommandSeq != nil {
		command.Seq = *msg.CommandSeq
	}
	if ctx.Tick != nil {
		command.OriginTick = ctx.Tick()
	}
	if ctx.Now != nil {
		command.IssuedAt = ctx.Now()
	} else {
		command.IssuedAt = time.Now()
	}

	if ctx.Engine == nil {
		return zero, false, sim.CommandRejectQueueFull
	}
	if ok, reason := ctx.Engine.Enqueue(command); !ok {
		return zero, false, reason
	}

	return command, true, ""
}
