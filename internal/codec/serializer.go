package codec

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xyzzy121/Unicopia/abilities/contract"
)

// Serializer converts one ability's payload to and from bytes. Encode and
// Decode must be symmetric.
type Serializer interface {
	Encode(contract.Payload) ([]byte, error)
	Decode([]byte) (contract.Payload, error)
}

// ForPrototype builds the serializer matching a descriptor's payload
// prototype: NoPayload maps to an empty unit encoding, pointers to structs
// map to msgpack.
func ForPrototype(prototype contract.Payload) (Serializer, error) {
	if err := contract.ValidatePayload(prototype); err != nil {
		return nil, err
	}
	if prototype == contract.NoPayload {
		return UnitSerializer(contract.NoPayload), nil
	}
	typ := reflect.TypeOf(prototype)
	if typ.Elem().NumField() == countEmbeddedMarkers(typ.Elem()) {
		value := reflect.New(typ.Elem()).Interface().(contract.Payload)
		return unitSerializer{value: value, typ: typ}, nil
	}
	return msgpackSerializer{typ: typ}, nil
}

func countEmbeddedMarkers(typ reflect.Type) int {
	count := 0
	marker := reflect.TypeOf(contract.ContractPayload{})
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.Anonymous && field.Type == marker {
			count++
		}
	}
	return count
}

// NewMsgpackSerializer returns a msgpack serializer for payloads of type *T.
func NewMsgpackSerializer[T any, P interface {
	*T
	contract.Payload
}]() Serializer {
	return msgpackSerializer{typ: reflect.TypeOf(P(nil))}
}

type msgpackSerializer struct {
	typ reflect.Type
}

func (s msgpackSerializer) Encode(payload contract.Payload) ([]byte, error) {
	if payload == nil || reflect.TypeOf(payload) != s.typ {
		return nil, fmt.Errorf("%w: want %s, got %T", ErrTypeMismatch, s.typ, payload)
	}
	if reflect.ValueOf(payload).IsNil() {
		return nil, fmt.Errorf("%w: nil %s", ErrTypeMismatch, s.typ)
	}
	return msgpack.Marshal(payload)
}

func (s msgpackSerializer) Decode(data []byte) (contract.Payload, error) {
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	reader := bytes.NewReader(data)
	dec := msgpack.NewDecoder(reader)
	dec.DisallowUnknownFields(true)
	value := reflect.New(s.typ.Elem())
	if err := dec.Decode(value.Interface()); err != nil {
		return nil, err
	}
	if reader.Len() > 0 {
		return nil, fmt.Errorf("%d trailing bytes", reader.Len())
	}
	return value.Interface().(contract.Payload), nil
}

// UnitSerializer returns a serializer for payloads that carry no data. Encoding is
// empty; decoding rejects any byte and yields value.
func UnitSerializer(value contract.Payload) Serializer {
	return unitSerializer{value: value, typ: reflect.TypeOf(value)}
}

type unitSerializer struct {
	value contract.Payload
	typ   reflect.Type
}

func (s unitSerializer) Encode(payload contract.Payload) ([]byte, error) {
	if payload != nil && reflect.TypeOf(payload) != s.typ {
		return nil, fmt.Errorf("%w: want %s, got %T", ErrTypeMismatch, s.typ, payload)
	}
	return nil, nil
}

func (s unitSerializer) Decode(data []byte) (contract.Payload, error) {
	if len(data) != 0 {
		return nil, fmt.Errorf("unit payload carries %d bytes", len(data))
	}
	return s.value, nil
}
