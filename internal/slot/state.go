package slot

// State is the timing phase of a slot.
type State uint8

const (
	Idle State = iota
	WarmingUp
	Active
	CoolingDown
)

const (
	stateIdle        = "idle"
	stateWarmingUp   = "warming_up"
	stateActive      = "active"
	stateCoolingDown = "cooling_down"
)

func (s State) String() string {
	switch s {
	case Idle:
		return stateIdle
	case WarmingUp:
		return stateWarmingUp
	case Active:
		return stateActive
	case CoolingDown:
		return stateCoolingDown
	default:
		return "unknown"
	}
}

// ParseState maps a persisted state name back onto a State.
func ParseState(value string) (State, bool) {
	switch value {
	case stateIdle, "":
		return Idle, true
	case stateWarmingUp:
		return WarmingUp, true
	case stateActive:
		return Active, true
	case stateCoolingDown:
		return CoolingDown, true
	default:
		return Idle, false
	}
}

// Transition events understood by the slot machine.
const (
	EventTrigger = "trigger"
	EventAwait   = "await"
	EventResolve = "resolve"
	EventAbort   = "abort"
	EventCancel  = "cancel"
	EventExpire  = "expire"
	EventMirror  = "mirror"
)
