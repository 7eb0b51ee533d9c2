// Package coordinator drives ability activations end to end: input
// gestures on the authority, slot timing each tick, payload encoding and
// replication, and effect application on observers.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/xyzzy121/Unicopia/abilities/contract"
	"github.com/xyzzy121/Unicopia/internal/codec"
	"github.com/xyzzy121/Unicopia/internal/deferred"
	"github.com/xyzzy121/Unicopia/internal/journal"
	"github.com/xyzzy121/Unicopia/internal/observability"
	"github.com/xyzzy121/Unicopia/internal/slot"
	"github.com/xyzzy121/Unicopia/internal/store"
	"github.com/xyzzy121/Unicopia/internal/telemetry"
	"github.com/xyzzy121/Unicopia/logging"
)

// ErrSealed is returned by RegisterAbility once the first tick has run.
var ErrSealed = errors.New("coordinator: registry sealed")

// Role selects which half of the replication protocol a coordinator runs.
type Role uint8

const (
	// RoleAuthority decides activations and publishes them.
	RoleAuthority Role = iota
	// RoleObserver mirrors activations received from the authority.
	RoleObserver
)

func (r Role) String() string {
	switch r {
	case RoleAuthority:
		return "authority"
	case RoleObserver:
		return "observer"
	default:
		return "unknown"
	}
}

// ParseRole maps configuration strings onto roles.
func ParseRole(value string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "authority":
		return RoleAuthority, true
	case "observer":
		return RoleObserver, true
	default:
		return RoleAuthority, false
	}
}

// Actors resolves currently loaded actors by stable identifier.
type Actors interface {
	Lookup(id string) (contract.Actor, bool)
}

// ActorsFunc adapts a function into Actors.
type ActorsFunc func(id string) (contract.Actor, bool)

func (f ActorsFunc) Lookup(id string) (contract.Actor, bool) { return f(id) }

// Transport hands encoded frames to the other participants. Send must not
// block the simulation goroutine.
type Transport interface {
	Send(frame []byte)
}

// TransportFunc adapts a function into a Transport.
type TransportFunc func(frame []byte)

func (f TransportFunc) Send(frame []byte) { f(frame) }

// Config tunes a coordinator.
type Config struct {
	Role      Role
	SlotCount int
	// MissingActorRetryTicks delays the single retry of an activation whose
	// actor is not loaded yet.
	MissingActorRetryTicks uint64
}

const (
	defaultSlotCount        = 4
	defaultMissingRetryTick = 1
)

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithPublisher routes gameplay events to pub.
func WithPublisher(pub logging.Publisher) Option {
	return func(c *Coordinator) { c.pub = pub }
}

// WithLogger routes process diagnostics to logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics records activation and delivery counters.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Coordinator) { c.metrics = metrics }
}

// WithStore enables SaveActor and RestoreActor.
func WithStore(slots store.SlotStore) Option {
	return func(c *Coordinator) { c.store = slots }
}

// WithIDs overrides activation ID generation.
func WithIDs(next func() string) Option {
	return func(c *Coordinator) { c.newID = next }
}

type actorSlots struct {
	world string
	slots []*slot.Slot
}

// Coordinator owns every slot of every simulated actor. All methods except
// construction and registration run on the simulation goroutine.
type Coordinator struct {
	cfg Config

	descriptors map[string]contract.Descriptor
	order       []string
	codec       *codec.Registry
	sealed      bool

	actors    Actors
	transport Transport
	store     store.SlotStore

	entries map[string]*actorSlots
	journal *journal.Journal
	queue   *deferred.Queue
	tick    uint64

	pub     logging.Publisher
	logger  telemetry.Logger
	metrics *observability.Metrics
	newID   func() string
}

// New constructs a coordinator. actors and transport are required.
func New(cfg Config, actors Actors, transport Transport, opts ...Option) *Coordinator {
	if cfg.SlotCount <= 0 {
		cfg.SlotCount = defaultSlotCount
	}
	if cfg.MissingActorRetryTicks == 0 {
		cfg.MissingActorRetryTicks = defaultMissingRetryTick
	}
	c := &Coordinator{
		cfg:         cfg,
		descriptors: make(map[string]contract.Descriptor),
		codec:       codec.NewRegistry(),
		actors:      actors,
		transport:   transport,
		entries:     make(map[string]*actorSlots),
		journal:     journal.New(),
		pub:         logging.NopPublisher(),
		newID:       func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.metrics != nil {
		c.journal.AttachTelemetry(c.metrics)
	}
	c.queue = deferred.NewQueue(
		deferred.WithLiveness(func(_, owner string) bool {
			_, ok := c.actors.Lookup(owner)
			return ok
		}),
		deferred.WithPanicHandler(func(task deferred.Task, recovered any) {
			c.hookPanic(task.Owner, "", "deferred", recovered)
		}),
	)
	return c
}

// Role reports which half of the protocol the coordinator runs.
func (c *Coordinator) Role() Role { return c.cfg.Role }

// SlotCount reports the number of equip slots per actor.
func (c *Coordinator) SlotCount() int { return c.cfg.SlotCount }

// Tick returns the last tick passed to OnTick.
func (c *Coordinator) Tick() uint64 { return c.tick }

// RegisterAbility adds a descriptor. It must be called during bootstrap,
// before the first OnTick.
func (c *Coordinator) RegisterAbility(desc contract.Descriptor) error {
	if c.sealed {
		return oops.In("coordinator").
			Code("sealed").
			With("ability_id", desc.ID).
			Wrapf(ErrSealed, "register %q", desc.ID)
	}
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	if _, exists := c.descriptors[desc.ID]; exists {
		return fmt.Errorf("coordinator: duplicate ability %q", desc.ID)
	}
	if err := c.codec.RegisterDescriptor(desc); err != nil {
		return err
	}
	c.descriptors[desc.ID] = desc
	c.order = append(c.order, desc.ID)
	return nil
}

// Seal freezes the registry. OnTick seals implicitly.
func (c *Coordinator) Seal() { c.sealed = true }

// Sealed reports whether registration is closed.
func (c *Coordinator) Sealed() bool { return c.sealed }

// Descriptor looks up a registered descriptor.
func (c *Coordinator) Descriptor(id string) (contract.Descriptor, bool) {
	desc, ok := c.descriptors[id]
	return desc, ok
}

// HasAbility reports whether id is registered.
func (c *Coordinator) HasAbility(id string) bool {
	_, ok := c.descriptors[id]
	return ok
}

// Abilities lists registered identities in registration order.
func (c *Coordinator) Abilities() []string {
	return append([]string(nil), c.order...)
}

// Codec exposes the payload codec built from the registered descriptors.
func (c *Coordinator) Codec() *codec.Registry { return c.codec }

// Attach creates the slots of an actor entering the simulation.
func (c *Coordinator) Attach(actor contract.Actor) {
	c.entry(actor)
	c.journal.Unretire(actor.ID())
}

// Detach destroys the actor's slots and retires its replication cursors.
func (c *Coordinator) Detach(actorID string) {
	delete(c.entries, actorID)
	c.journal.Retire(actorID, c.tick)
}

// Slot returns the live slot for inspection. It returns nil for unknown
// actors or indexes.
func (c *Coordinator) Slot(actorID string, index int) *slot.Slot {
	entry, ok := c.entries[actorID]
	if !ok || index < 0 || index >= len(entry.slots) {
		return nil
	}
	return entry.slots[index]
}

// Equip binds abilityID to a slot. An empty abilityID clears it. The slot
// must be idle.
func (c *Coordinator) Equip(actorID string, index int, abilityID string) error {
	actor, ok := c.actors.Lookup(actorID)
	if !ok {
		return contract.Ineligible(contract.ReasonMissingActor, actorID, index)
	}
	if abilityID != "" {
		desc, ok := c.descriptors[abilityID]
		if !ok {
			return contract.Ineligible(contract.ReasonUnknownAbility, actorID, index)
		}
		if !desc.Allows(actor.Class()) {
			return contract.Ineligible(contract.ReasonClass, actorID, index)
		}
	}
	s, err := c.slotFor(actor, index)
	if err != nil {
		return err
	}
	return s.Equip(abilityID)
}

func (c *Coordinator) entry(actor contract.Actor) *actorSlots {
	id := actor.ID()
	entry, ok := c.entries[id]
	if !ok {
		entry = &actorSlots{slots: make([]*slot.Slot, c.cfg.SlotCount)}
		for i := range entry.slots {
			entry.slots[i] = slot.New(id, i)
		}
		c.entries[id] = entry
	}
	entry.world = actor.World()
	return entry
}

func (c *Coordinator) slotFor(actor contract.Actor, index int) (*slot.Slot, error) {
	if index < 0 || index >= c.cfg.SlotCount {
		return nil, contract.Ineligible(contract.ReasonUnknownSlot, actor.ID(), index)
	}
	return c.entry(actor).slots[index], nil
}

// actorIDs returns the ids of actors in world in stable order. An empty
// world selects every actor.
func (c *Coordinator) actorIDs(world string) []string {
	ids := make([]string, 0, len(c.entries))
	for id, entry := range c.entries {
		if world == "" || entry.world == world {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) send(frame []byte, err error) {
	if err != nil {
		telemetry.LogError(c.logger, "[coordinator] encode frame", err)
		return
	}
	if c.transport != nil {
		c.transport.Send(frame)
	}
}

func (c *Coordinator) ctx() context.Context { return context.Background() }
