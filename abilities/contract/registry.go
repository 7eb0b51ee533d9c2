package contract

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	errEmptyDescriptorID = errors.New("descriptor id must not be empty")
	errNilPayload        = errors.New("payload prototype must not be nil")
	errNonPointer        = errors.New("payload must be a pointer")
	errNonStructPointer  = errors.New("payload must point to a struct")
	errMissingHook       = errors.New("required hook is nil")
)

// Registry is a collection of ability descriptors. Callers should Validate
// before use.
type Registry []Descriptor

// Validate ensures the registry contains unique IDs, structurally valid
// payload prototypes, and every required hook.
func (r Registry) Validate() error {
	seen := make(map[string]struct{}, len(r))
	for _, desc := range r {
		if err := desc.Validate(); err != nil {
			return fmt.Errorf("contract: %w", err)
		}
		if _, exists := seen[desc.ID]; exists {
			return fmt.Errorf("contract: duplicate descriptor id %q", desc.ID)
		}
		seen[desc.ID] = struct{}{}
	}
	return nil
}

// Validate checks a single descriptor.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errEmptyDescriptorID
	}
	if err := ValidatePayload(d.Payload); err != nil {
		return fmt.Errorf("%s payload: %w", d.ID, err)
	}
	hooks := []struct {
		name    string
		missing bool
	}{
		{"Warmup", d.Warmup == nil},
		{"Cooldown", d.Cooldown == nil},
		{"CanUse", d.CanUse == nil},
		{"TryActivate", d.TryActivate == nil},
		{"Apply", d.Apply == nil},
	}
	for _, hook := range hooks {
		if hook.missing {
			return fmt.Errorf("%s %s: %w", d.ID, hook.name, errMissingHook)
		}
	}
	return nil
}

// ValidatePayload checks that a payload prototype is NoPayload or a pointer
// to a struct.
func ValidatePayload(payload Payload) error {
	if payload == nil {
		return errNilPayload
	}
	if payload == NoPayload {
		return nil
	}
	t := reflect.TypeOf(payload)
	if t.Kind() != reflect.Ptr {
		return fmt.Errorf("%w (%s)", errNonPointer, t)
	}
	if t.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w (%s)", errNonStructPointer, t)
	}
	return nil
}

// Index materialises a lookup map from the registry after validation.
func (r Registry) Index() (map[string]Descriptor, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	out := make(map[string]Descriptor, len(r))
	for _, desc := range r {
		out[desc.ID] = desc
	}
	return out, nil
}

// MustIndex materialises the registry and panics if validation fails. Useful for tests.
func (r Registry) MustIndex() map[string]Descriptor {
	index, err := r.Index()
	if err != nil {
		panic(err)
	}
	return index
}

// IDs lists the registered identities in declaration order.
func (r Registry) IDs() []string {
	ids := make([]string, 0, len(r))
	for _, desc := range r {
		ids = append(ids, desc.ID)
	}
	return ids
}
