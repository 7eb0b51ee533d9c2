package contract

// Payload is implemented by every activation payload struct that can be
// registered against an ability. Implementations embed ContractPayload to
// satisfy the interface.
type Payload interface {
	payloadMarker()
}

// ContractPayload is embedded into payload structs to mark them as
// activation payloads.
type ContractPayload struct{}

func (ContractPayload) payloadMarker() {}

type payloadSentinel struct{}

func (payloadSentinel) payloadMarker() {}

// NoPayload indicates that an ability resolves without carrying data.
var NoPayload Payload = payloadSentinel{}

// Pos targets a block-aligned world position.
type Pos struct {
	ContractPayload
	X int32 `msgpack:"x" json:"x"`
	Y int32 `msgpack:"y" json:"y"`
	Z int32 `msgpack:"z" json:"z"`
}

// Hit is the unit marker for abilities whose effect needs no data beyond
// the fact that they resolved.
type Hit struct {
	ContractPayload
}

// TargetRef points at another loaded entity.
type TargetRef struct {
	ContractPayload
	EntityID string `msgpack:"entity" json:"entityId"`
}
