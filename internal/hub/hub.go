// Package hub hosts one world: it owns the actor roster visible to network
// sessions, feeds their commands through the simulation loop into the
// ability coordinator, and fans replication frames out to subscribers.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xyzzy121/Unicopia/abilities/contract"
	"github.com/xyzzy121/Unicopia/internal/coordinator"
	"github.com/xyzzy121/Unicopia/internal/net/intake"
	"github.com/xyzzy121/Unicopia/internal/net/proto"
	"github.com/xyzzy121/Unicopia/internal/observability"
	"github.com/xyzzy121/Unicopia/internal/sim"
	"github.com/xyzzy121/Unicopia/internal/spellcast"
	"github.com/xyzzy121/Unicopia/internal/store"
	"github.com/xyzzy121/Unicopia/internal/telemetry"
	"github.com/xyzzy121/Unicopia/internal/world"
	"github.com/xyzzy121/Unicopia/logging"
)

const (
	defaultSubscriberBuffer = 256

	metricFramesDropped = "hub_frames_dropped_total"
	metricSubscribers   = "hub_subscribers"
	metricActors        = "hub_actors"
)

var (
	// ErrNotAuthority reports a join attempted against an observer hub.
	ErrNotAuthority = errors.New("hub: joins are only accepted by the authority")
	// ErrInvalidClass reports a join with an unknown class.
	ErrInvalidClass = errors.New("hub: invalid class")
	// ErrUnknownActor reports a subscription for an actor that is not present.
	ErrUnknownActor = errors.New("hub: unknown actor")
)

// Config tunes a hub.
type Config struct {
	Role                   coordinator.Role
	SlotCount              int
	MissingActorRetryTicks uint64
	// SaveIntervalTicks persists every actor and spellcast periodically.
	// Zero saves only on departure and shutdown.
	SaveIntervalTicks uint64
	SubscriberBuffer  int
	// DisconnectAfter removes actors whose sessions stopped heartbeating.
	DisconnectAfter time.Duration
	Loop            sim.LoopConfig
	World           world.Config
}

// Deps carries the hub's collaborators. Registry is required.
type Deps struct {
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   *observability.Metrics
	Store     store.Store
	Registry  contract.Registry
	Clock     logging.Clock
	IDs       func() string
}

// Member is a roster entry as seen by network goroutines.
type Member struct {
	ID            string
	Class         contract.Class
	LastHeartbeat time.Time
	RTT           time.Duration
}

// Hub owns one world. World, coordinator and spellcasts belong to the
// simulation goroutine; the roster, subscribers and inbox are guarded for
// network goroutines.
type Hub struct {
	cfg       Config
	logger    telemetry.Logger
	publisher logging.Publisher
	metrics   *observability.Metrics
	store     store.Store
	clock     logging.Clock

	world  *world.World
	coord  *coordinator.Coordinator
	casts  *spellcast.Manager
	engine sim.Engine

	mu          sync.RWMutex
	roster      map[string]*Member
	subscribers map[string]*Subscriber

	inboxMu sync.Mutex
	inbox   [][]byte

	nextActor atomic.Uint64
	nextSub   atomic.Uint64
	tick      atomic.Uint64

	overrunStreak uint64
}

// New builds a hub, registers the ability registry and restores saved
// spellcasts.
func New(ctx context.Context, cfg Config, deps Deps) (*Hub, error) {
	if len(deps.Registry) == 0 {
		return nil, errors.New("hub: ability registry is empty")
	}
	h := &Hub{
		cfg:         cfg,
		logger:      deps.Logger,
		publisher:   deps.Publisher,
		metrics:     deps.Metrics,
		store:       deps.Store,
		clock:       deps.Clock,
		roster:      make(map[string]*Member),
		subscribers: make(map[string]*Subscriber),
	}
	if h.logger == nil {
		h.logger = telemetry.WrapLogger(log.Default())
	}
	if h.publisher == nil {
		h.publisher = logging.NopPublisher()
	}
	if h.clock == nil {
		h.clock = logging.SystemClock{}
	}
	if h.store == nil {
		h.store = store.NewMemory()
	}

	w, err := world.New(cfg.World, world.Deps{Publisher: h.publisher})
	if err != nil {
		return nil, fmt.Errorf("hub: build world: %w", err)
	}
	h.world = w

	opts := []coordinator.Option{
		coordinator.WithPublisher(h.publisher),
		coordinator.WithLogger(h.logger),
		coordinator.WithMetrics(h.metrics),
		coordinator.WithStore(h.store),
	}
	if deps.IDs != nil {
		opts = append(opts, coordinator.WithIDs(deps.IDs))
	}
	h.coord = coordinator.New(coordinator.Config{
		Role:                   cfg.Role,
		SlotCount:              cfg.SlotCount,
		MissingActorRetryTicks: cfg.MissingActorRetryTicks,
	}, w, coordinator.TransportFunc(h.broadcastFrame), opts...)
	for _, desc := range deps.Registry {
		if err := h.coord.RegisterAbility(desc); err != nil {
			return nil, fmt.Errorf("hub: register %s: %w", desc.ID, err)
		}
	}

	h.casts = spellcast.NewManager(spellcast.Deps{
		World:        w.Name(),
		Publisher:    h.publisher,
		Metrics:      h.metrics,
		RNG:          w.SubsystemRNG(spellcast.EntityKind),
		Surroundings: w,
		Store:        h.store,
	})
	if err := h.casts.Restore(ctx); err != nil {
		return nil, fmt.Errorf("hub: restore spellcasts: %w", err)
	}

	loopCfg := cfg.Loop
	if loopCfg.TickRate <= 0 {
		loopCfg = sim.DefaultLoopConfig()
	}
	h.cfg.Loop = loopCfg
	engine, err := sim.NewEngine(&engineCore{hub: h},
		sim.WithLoopConfig(loopCfg),
		sim.WithLoopHooks(sim.LoopHooks{Prepare: h.prepare, AfterStep: h.afterStep}),
		sim.WithTicker(h.reap),
	)
	if err != nil {
		return nil, err
	}
	h.engine = engine
	return h, nil
}

func (h *Hub) Role() coordinator.Role { return h.cfg.Role }

// Tick reports the last completed simulation tick.
func (h *Hub) Tick() uint64 { return h.tick.Load() }

func (h *Hub) TickRate() int { return h.cfg.Loop.TickRate }

func (h *Hub) WorldName() string { return h.world.Name() }

// Abilities lists the registered ability identities.
func (h *Hub) Abilities() []string { return h.coord.Abilities() }

// Engine exposes the simulation loop, mainly so tests can step it.
func (h *Hub) Engine() sim.Engine { return h.engine }

// Run drives the simulation until ctx is cancelled, then saves everything
// and drops every subscriber.
func (h *Hub) Run(ctx context.Context) error {
	h.engine.Run(ctx.Done())
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.SaveAll(saveCtx)
	h.closeSubscribers()
	return err
}

// Join admits a new actor of class. The actor enters the world on the next
// tick.
func (h *Hub) Join(class contract.Class) (proto.JoinResponse, error) {
	if h.cfg.Role != coordinator.RoleAuthority {
		return proto.JoinResponse{}, ErrNotAuthority
	}
	if !class.Valid() {
		return proto.JoinResponse{}, fmt.Errorf("%w: %q", ErrInvalidClass, class)
	}
	id := fmt.Sprintf("pony-%d", h.nextActor.Add(1))
	return h.admit(id, class)
}

// Rejoin admits a returning actor under its previous id so its saved state
// is restored.
func (h *Hub) Rejoin(id string, class contract.Class) (proto.JoinResponse, error) {
	if h.cfg.Role != coordinator.RoleAuthority {
		return proto.JoinResponse{}, ErrNotAuthority
	}
	if !class.Valid() {
		return proto.JoinResponse{}, fmt.Errorf("%w: %q", ErrInvalidClass, class)
	}
	if h.HasActor(id) {
		return proto.JoinResponse{}, fmt.Errorf("hub: actor %s is already present", id)
	}
	return h.admit(id, class)
}

func (h *Hub) admit(id string, class contract.Class) (proto.JoinResponse, error) {
	h.mu.Lock()
	h.roster[id] = &Member{ID: id, Class: class, LastHeartbeat: h.clock.Now()}
	h.mu.Unlock()

	ok, reason := h.engine.Enqueue(sim.Command{
		ActorID:  id,
		Type:     sim.CommandSpawn,
		IssuedAt: h.clock.Now(),
		Spawn:    &sim.SpawnCommand{Class: class, World: h.world.Name()},
	})
	if !ok {
		h.mu.Lock()
		delete(h.roster, id)
		h.mu.Unlock()
		return proto.JoinResponse{}, fmt.Errorf("hub: join refused: %s", reason)
	}
	return proto.JoinResponse{
		ActorID:   id,
		Class:     class,
		World:     h.world.Name(),
		Abilities: h.coord.Abilities(),
		TickRate:  h.cfg.Loop.TickRate,
	}, nil
}

// Leave removes an actor from the roster and despawns it on the next tick.
func (h *Hub) Leave(actorID string) bool {
	h.mu.Lock()
	_, ok := h.roster[actorID]
	delete(h.roster, actorID)
	var subs []*Subscriber
	for id, sub := range h.subscribers {
		if sub.actorID == actorID {
			subs = append(subs, sub)
			delete(h.subscribers, id)
		}
	}
	h.storeGaugesLocked()
	h.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
	if !ok {
		return false
	}
	h.engine.Enqueue(sim.Command{ActorID: actorID, Type: sim.CommandDespawn, IssuedAt: h.clock.Now()})
	return true
}

// HasActor reports whether actorID is on the roster.
func (h *Hub) HasActor(actorID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.roster[actorID]
	return ok
}

// Roster returns a copy of the roster sorted by id.
func (h *Hub) Roster() []Member {
	h.mu.RLock()
	members := make([]Member, 0, len(h.roster))
	for _, member := range h.roster {
		members = append(members, *member)
	}
	h.mu.RUnlock()
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}

// Subscribe attaches a session. A non-empty actorID must be on the roster
// and replaces that actor's previous session; an empty one subscribes a
// replication peer.
func (h *Hub) Subscribe(actorID string) (*Subscriber, error) {
	id := fmt.Sprintf("sub-%d", h.nextSub.Add(1))
	sub := newSubscriber(id, actorID, h.cfg.SubscriberBuffer)

	h.mu.Lock()
	var replaced []*Subscriber
	if actorID != "" {
		member, ok := h.roster[actorID]
		if !ok {
			h.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrUnknownActor, actorID)
		}
		member.LastHeartbeat = h.clock.Now()
		for existingID, existing := range h.subscribers {
			if existing.actorID == actorID {
				replaced = append(replaced, existing)
				delete(h.subscribers, existingID)
			}
		}
	}
	h.subscribers[id] = sub
	h.storeGaugesLocked()
	h.mu.Unlock()

	for _, old := range replaced {
		old.close()
	}
	return sub, nil
}

// Unsubscribe drops a session without removing its actor. It reports
// false when the session had already been replaced or dropped.
func (h *Hub) Unsubscribe(sub *Subscriber) bool {
	if sub == nil {
		return false
	}
	h.mu.Lock()
	current, ok := h.subscribers[sub.id]
	removed := ok && current == sub
	if removed {
		delete(h.subscribers, sub.id)
	}
	h.storeGaugesLocked()
	h.mu.Unlock()
	sub.close()
	return removed
}

// Stage validates a client message and queues its command for the next
// tick.
func (h *Hub) Stage(actorID string, msg proto.ClientMessage) (sim.Command, bool, string) {
	return intake.StageClientCommand(intake.CommandContext{
		Engine:    h.engine,
		HasActor:  h.HasActor,
		Abilities: h.coord.HasAbility,
		Effects:   h.casts.CanConjure,
		SlotCount: h.coord.SlotCount(),
		Tick:      h.Tick,
		Now:       h.clock.Now,
	}, actorID, msg)
}

// Heartbeat records a session heartbeat and returns the measured RTT.
func (h *Hub) Heartbeat(actorID string, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	member, ok := h.roster[actorID]
	if !ok {
		return 0, false
	}
	member.LastHeartbeat = receivedAt
	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			member.RTT = rtt
		}
	}
	return member.RTT, true
}

// Deliver queues a replication frame received from a peer. It is applied
// at the start of the next tick.
func (h *Hub) Deliver(frame []byte) {
	if len(frame) == 0 {
		return
	}
	data := append([]byte(nil), frame...)
	h.inboxMu.Lock()
	h.inbox = append(h.inbox, data)
	h.inboxMu.Unlock()
}

func (h *Hub) drainInbox() [][]byte {
	h.inboxMu.Lock()
	defer h.inboxMu.Unlock()
	frames := h.inbox
	h.inbox = nil
	return frames
}

func (h *Hub) broadcastFrame(frame []byte) {
	h.broadcast(Message{Binary: true, Data: frame}, "")
}

// broadcast offers msg to every subscriber, or only to actorID's sessions
// when actorID is set.
func (h *Hub) broadcast(msg Message, actorID string) {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		if actorID == "" || sub.actorID == actorID {
			subs = append(subs, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if !sub.offer(msg) {
			h.metrics.Add(metricFramesDropped, 1)
		}
	}
}

func (h *Hub) closeSubscribers() {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs = append(subs, sub)
		delete(h.subscribers, id)
	}
	h.storeGaugesLocked()
	h.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

func (h *Hub) storeGaugesLocked() {
	h.metrics.Store(metricSubscribers, uint64(len(h.subscribers)))
	h.metrics.Store(metricActors, uint64(len(h.roster)))
}

// reap removes actors whose sessions stopped heartbeating.
func (h *Hub) reap(ctx sim.LoopTickContext) {
	if h.cfg.DisconnectAfter <= 0 || h.cfg.Role != coordinator.RoleAuthority {
		return
	}
	now := ctx.Now
	if now.IsZero() {
		now = h.clock.Now()
	}
	var stale []string
	h.mu.RLock()
	for id, member := range h.roster {
		if now.Sub(member.LastHeartbeat) > h.cfg.DisconnectAfter {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()
	sort.Strings(stale)
	for _, id := range stale {
		h.logger.Printf("disconnecting %s due to heartbeat timeout", id)
		h.Leave(id)
	}
}
