package world

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xyzzy121/Unicopia/abilities/contract"
)

// EntityKind is the store kind under which actor state is saved.
const EntityKind = "actor"

// ActorState is the persisted view of an actor. Relationships such as
// passengers are not saved; carried actors are dropped on save.
type ActorState struct {
	Class    contract.Class `msgpack:"class"`
	Position contract.Pos   `msgpack:"pos"`
	FacingX  int32          `msgpack:"fx"`
	FacingZ  int32          `msgpack:"fz"`
	Flying   bool           `msgpack:"flying"`
	Mana     float64        `msgpack:"mana"`
	Exertion float64        `msgpack:"exertion"`
	Health   float64        `msgpack:"health"`
	Level    float64        `msgpack:"level"`
}

// State captures the actor for persistence.
func (a *Actor) State() ActorState {
	return ActorState{
		Class:    a.class,
		Position: a.position,
		FacingX:  a.facingX,
		FacingZ:  a.facingZ,
		Flying:   a.flying,
		Mana:     a.mana,
		Exertion: a.exertion,
		Health:   a.health,
		Level:    a.level,
	}
}

// Restore overwrites the actor with a saved state. The class is fixed at
// spawn and must match.
func (a *Actor) Restore(state ActorState) error {
	if state.Class != a.class {
		return fmt.Errorf("world: actor %s saved as %s, spawned as %s", a.id, state.Class, a.class)
	}
	a.SetPosition(state.Position)
	a.SetFacing(state.FacingX, state.FacingZ)
	a.SetFlying(state.Flying)
	a.SetMana(state.Mana)
	a.exertion = 0
	a.AddExertion(state.Exertion)
	a.health = state.Health
	a.SetLevel(state.Level)
	return nil
}

// EncodeState renders an actor state for an entity store.
func EncodeState(state ActorState) ([]byte, error) {
	return msgpack.Marshal(state)
}

// DecodeState parses bytes written by EncodeState.
func DecodeState(data []byte) (ActorState, error) {
	var state ActorState
	if err := msgpack.Unmarshal(data, &state); err != nil {
		return ActorState{}, fmt.Errorf("world: decode actor state: %w", err)
	}
	return state, nil
}
