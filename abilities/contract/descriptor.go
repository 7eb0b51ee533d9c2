package contract

// Descriptor associates an ability identity with its payload prototype and
// the table of hooks the coordinator dispatches to. A Descriptor is
// immutable once registered and shared by every actor.
//
// Warmup, Cooldown, CanUse, TryActivate and Apply are required. The rest
// default to no-ops.
type Descriptor struct {
	ID      string
	Payload Payload

	Warmup       func(Actor) uint32
	Cooldown     func(Actor) uint32
	CostEstimate func(Actor) float64
	CanUse       func(Class) bool
	TryActivate  func(Actor) (Payload, bool)
	// CanApply vets a resolved payload on the authority before any hook
	// runs. A false result aborts without cost or cooldown.
	CanApply  func(Actor, Payload) bool
	Apply     func(Actor, Payload)
	PreApply  func(Actor, SlotRef)
	PostApply func(Actor, SlotRef)

	// PrepareQuickAction produces the optional data handed to QuickAction.
	PrepareQuickAction func(Actor, ActivationType) (Payload, bool)
	// QuickAction handles tap and double-tap gestures without entering the
	// warmup state machine. It reports whether the input was consumed.
	QuickAction func(Actor, ActivationType, Payload) bool

	// ResolveWindow is the number of ticks a slot may stay Active retrying
	// TryActivate after warmup before giving up. Zero aborts immediately.
	ResolveWindow uint32
	// QuickReplicated marks quick actions whose effect must be visible to
	// other observers.
	QuickReplicated bool
}

// Ticks adapts a constant into a timing hook.
func Ticks(n uint32) func(Actor) uint32 {
	return func(Actor) uint32 { return n }
}

// Cost adapts a constant into a cost estimate hook.
func Cost(v float64) func(Actor) float64 {
	return func(Actor) float64 { return v }
}

// WarmupFor evaluates the warmup hook, tolerating nil actors.
func (d Descriptor) WarmupFor(actor Actor) uint32 {
	if d.Warmup == nil {
		return 0
	}
	return d.Warmup(actor)
}

// CooldownFor evaluates the cooldown hook.
func (d Descriptor) CooldownFor(actor Actor) uint32 {
	if d.Cooldown == nil {
		return 0
	}
	return d.Cooldown(actor)
}

// EstimateCost evaluates the cost estimate. Descriptors without an estimate
// are free.
func (d Descriptor) EstimateCost(actor Actor) float64 {
	if d.CostEstimate == nil {
		return 0
	}
	return d.CostEstimate(actor)
}

// Affordable reports whether an actor paying with mana can cover the cost
// estimate. Actors without a resource pool always can.
func (d Descriptor) Affordable(actor Actor) bool {
	energy, ok := actor.(EnergyUser)
	if !ok {
		return true
	}
	return energy.Mana() >= d.EstimateCost(actor)
}

// Applicable evaluates CanApply. Descriptors without the gate accept every
// payload.
func (d Descriptor) Applicable(actor Actor, payload Payload) bool {
	if d.CanApply == nil {
		return true
	}
	return d.CanApply(actor, payload)
}

// Allows evaluates the class gate.
func (d Descriptor) Allows(class Class) bool {
	if d.CanUse == nil {
		return false
	}
	return d.CanUse(class)
}

// HasQuickAction reports whether the descriptor reacts to tap gestures.
func (d Descriptor) HasQuickAction() bool {
	return d.QuickAction != nil
}

// RunPreApply invokes the PreApply hook when present.
func (d Descriptor) RunPreApply(actor Actor, slot SlotRef) {
	if d.PreApply != nil {
		d.PreApply(actor, slot)
	}
}

// RunPostApply invokes the PostApply hook when present.
func (d Descriptor) RunPostApply(actor Actor, slot SlotRef) {
	if d.PostApply != nil {
		d.PostApply(actor, slot)
	}
}

// PrepareQuick evaluates PrepareQuickAction, falling back to no data.
func (d Descriptor) PrepareQuick(actor Actor, kind ActivationType) Payload {
	if d.PrepareQuickAction == nil {
		return nil
	}
	payload, ok := d.PrepareQuickAction(actor, kind)
	if !ok {
		return nil
	}
	return payload
}
