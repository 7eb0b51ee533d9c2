package simulation

import (
	"context"

	"github.com/xyzzy121/Unicopia/logging"
)

const (
	// EventTickBudgetOverrun is emitted when the simulation loop exceeds the allotted tick budget.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
	// EventCommandDropped is emitted when an actor's input is rejected by the command buffer.
	EventCommandDropped logging.EventType = "simulation.command_dropped"
	// EventActorSpawned is emitted when an actor enters a world.
	EventActorSpawned logging.EventType = "simulation.actor_spawned"
	// EventActorRemoved is emitted when an actor leaves a world.
	EventActorRemoved logging.EventType = "simulation.actor_removed"
)

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
}

// TickBudgetOverrun publishes a warning when the simulation exceeds the configured tick budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventTickBudgetOverrun,
		Tick:     tick,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// CommandDroppedPayload describes a rejected input command.
type CommandDroppedPayload struct {
	Reason  string `json:"reason"`
	Command string `json:"command"`
}

// CommandDropped publishes a warning when an actor's command is discarded.
func CommandDropped(ctx context.Context, pub logging.Publisher, tick uint64, actorID string, payload CommandDroppedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCommandDropped,
		Tick:     tick,
		Actor:    logging.ActorRef(actorID),
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// ActorLifecyclePayload describes an actor entering or leaving a world.
type ActorLifecyclePayload struct {
	World string `json:"world"`
	Class string `json:"class,omitempty"`
}

// ActorSpawned records an actor entering a world.
func ActorSpawned(ctx context.Context, pub logging.Publisher, tick uint64, actorID string, payload ActorLifecyclePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventActorSpawned,
		Tick:     tick,
		Actor:    logging.ActorRef(actorID),
		Severity: logging.SeverityInfo,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// ActorRemoved records an actor leaving a world.
func ActorRemoved(ctx context.Context, pub logging.Publisher, tick uint64, actorID string, payload ActorLifecyclePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventActorRemoved,
		Tick:     tick,
		Actor:    logging.ActorRef(actorID),
		Severity: logging.SeverityInfo,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}
