// Package abilities publishes structured events for the activation
// pipeline: resolutions, rejections, dropped replication and hook faults.
package abilities

import (
	"context"

	"github.com/xyzzy121/Unicopia/logging"
)

const (
	EventActivated         logging.EventType = "abilities.activated"
	EventAborted           logging.EventType = "abilities.aborted"
	EventIneligible        logging.EventType = "abilities.ineligible"
	EventCancelled         logging.EventType = "abilities.cancelled"
	EventQuickAction       logging.EventType = "abilities.quick_action"
	EventMirrored          logging.EventType = "abilities.mirrored"
	EventMalformedPayload  logging.EventType = "abilities.malformed_payload"
	EventUnknownAbility    logging.EventType = "abilities.unknown_ability"
	EventMissingActor      logging.EventType = "abilities.missing_actor"
	EventDuplicateDelivery logging.EventType = "abilities.duplicate_delivery"
	EventSequenceGap       logging.EventType = "abilities.sequence_gap"
	EventDeferredStale     logging.EventType = "abilities.deferred_stale"
	EventHookPanic         logging.EventType = "abilities.hook_panic"
	EventExhaustion        logging.EventType = "abilities.exhaustion"
)

// ActivationPayload describes a resolved or mirrored activation.
type ActivationPayload struct {
	Ability       string `json:"ability"`
	Slot          int    `json:"slot"`
	Seq           uint64 `json:"seq"`
	ActivationID  string `json:"activationId,omitempty"`
	DurationTicks uint32 `json:"durationTicks"`
	Quick         bool   `json:"quick,omitempty"`
}

// RejectionPayload explains why an activation did not happen.
type RejectionPayload struct {
	Ability string `json:"ability,omitempty"`
	Slot    int    `json:"slot"`
	Reason  string `json:"reason"`
}

// DeliveryPayload describes a replicated frame that was not applied.
type DeliveryPayload struct {
	Ability  string `json:"ability,omitempty"`
	Slot     int    `json:"slot"`
	Seq      uint64 `json:"seq"`
	Expected uint64 `json:"expected,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HookPanicPayload captures a recovered panic.
type HookPanicPayload struct {
	Ability string `json:"ability,omitempty"`
	Hook    string `json:"hook"`
	Value   string `json:"value"`
}

// ExhaustionPayload records an over-cap spellcast consequence.
type ExhaustionPayload struct {
	Outcome    string `json:"outcome"`
	Level      int    `json:"level"`
	Exhaustion int    `json:"exhaustion"`
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	event.Category = logging.CategoryAbilities
	pub.Publish(ctx, event)
}

// Activated records an activation resolved by the authority.
func Activated(ctx context.Context, pub logging.Publisher, tick uint64, actorID string, payload ActivationPayload) {
	eventType := EventActivated
	if payload.Quick {
		eventType = EventQuickAction
	}
	publish(ctx, pub, logging.Event{Type: eventType, Tick: tick, Actor: logging.ActorRef(actorID), Severity: logging.SeverityInfo, Payload: payload})
}

// Mirrored records an activation applied on an observer.
func Mirrored(ctx context.Context, pub logging.Publisher, tick uint64, actorID string, payload ActivationPayload) {
	publish(ctx, pub, logging.Event{Type: EventMirrored, Tick: tick, Actor: logging.ActorRef(actorID), Severity: logging.SeverityDebug, Payload: payload})
}

// Aborted records a warmup whose TryActivate declined. Debug only.
func Aborted(ctx context.Context, pub logging.Publisher, tick uint64, actorID string, payload RejectionPayload) {
	publish(ctx, pub, logging.Event{Type: EventAborted, Tick: tick, Actor: logging.ActorRef(actorID), Severity: logging.SeverityDebug, Payload: payload})
}

// Ineligible reports a rejected trigger back to the triggering actor.
func Ineligible(ctx context.Context, pub logging.Publisher, tick uint64, actorID string, payload RejectionPayload) {
	publish(ctx, pub, logging.Event{Type: EventIneligible, Tick: tick, Actor: logging.ActorRef(actorID), Severity: logging.SeverityInfo, Payload: payload})
}

// Cancelled records a warmup released before it completed.
func Cancelled(ctx context.Context, pub logging.Publisher, tick uint64, actorID string, payload RejectionPayload) {
	publish(ctx, pub, logging.Event{Type: EventCancelled, Tick: tick, Actor: logging.ActorRef(actorID), Severity: logging.SeverityDebug, Payload: payload})
}

// MalformedPayload warns about a replicated frame that failed to decode.
func MalformedPayload(ctx context.Context, pub logging.Publisher, tick uint64, actorID string, payload DeliveryPayload) {
	publish(ctx, pub, logging.Event{Type: EventMalformedPayload, Tick: tick, Actor: logging.ActorRef(actorID), Severity: logging.SeverityWarn, Payload: payload})
}

// UnknownAbility warns about a frame naming an unregistered ability.
func UnknownAbility(ctx context.Context, pub logging.Publisher, tick uint64, actorID string, payload DeliveryPayload) {
	publish(ctx, pub, logging.Event{Type: EventUnknownAbility, Tick: tick, Actor: logging.ActorRef(actorID), Severity: logging.SeverityWarn, Payload: payload})
}

// MissingActor records a frame whose actor is not loaded. Debug only.
func MissingActor(ctx context.Context, pub logging.Publisher, tick uint64, actorID string, payload DeliveryPayload) {
	publish(ctx, pub, logging.Event{Type: EventMissingActor, Tick: tick, Actor: logging.ActorRef(actorID), Severity: logging.SeverityDebug, Payload: payload})
}

// DuplicateDelivery records a frame already applied.
func DuplicateDelivery(ctx context.Context, pub logging.Publisher, tick uint64, actorID string, payload DeliveryPayload) {
	publish(ctx, pub, logging.Event{Type: EventDuplicateDelivery, Tick: tick, Actor: logging.ActorRef(actorID), Severity: logging.SeverityDebug, Payload: payload})
}

// SequenceGap warns that frames were lost and a resync is pending.
func SequenceGap(ctx context.Context, pub logging.Publisher, tick uint64, actorID string, payload DeliveryPayload) {
	publish(ctx, pub, logging.Event{Type: EventSequenceGap, Tick: tick, Actor: logging.ActorRef(actorID), Severity: logging.SeverityWarn, Payload: payload})
}

// DeferredStale counts deferred actions skipped because their owner left.
func DeferredStale(ctx context.Context, pub logging.Publisher, tick uint64, world string, count int) {
	publish(ctx, pub, logging.Event{
		Type:     EventDeferredStale,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: world, Kind: logging.EntityKindWorld},
		Severity: logging.SeverityDebug,
		Extra:    map[string]any{"count": count},
	})
}

// HookPanic reports a recovered panic from a descriptor hook or deferred
// action.
func HookPanic(ctx context.Context, pub logging.Publisher, tick uint64, actorID string, payload HookPanicPayload) {
	publish(ctx, pub, logging.Event{Type: EventHookPanic, Tick: tick, Actor: logging.ActorRef(actorID), Severity: logging.SeverityError, Payload: payload})
}

// Exhaustion records an over-cap spellcast consequence.
func Exhaustion(ctx context.Context, pub logging.Publisher, tick uint64, castID string, payload ExhaustionPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventExhaustion,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: castID, Kind: logging.EntityKindSpellcast},
		Severity: logging.SeverityInfo,
		Payload:  payload,
	})
}
