package sim

import "time"

// Engine defines the minimal surface area exposed to non-simulation callers.
type Engine interface {
	Enqueue(Command) (bool, string)
	Pending() int
	Advance(LoopTickContext) LoopStepResult
	Run(stop <-chan struct{})
}

// EngineCore is the simulation the loop drives: it consumes the tick's
// commands, then steps once.
type EngineCore interface {
	Deps() Deps
	Apply(tick uint64, cmds []Command) error
	Step(ctx LoopTickContext)
}

// LoopTickContext describes the tick about to run.
type LoopTickContext struct {
	Tick  uint64
	Now   time.Time
	Delta float64
}

// LoopStepResult summarises one completed tick.
type LoopStepResult struct {
	Tick         uint64
	Now          time.Time
	Delta        float64
	Commands     []Command
	ApplyErr     error
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	MaxDelta     float64
}

// LoopHooks customise tick sequencing and telemetry fan-out.
type LoopHooks struct {
	Prepare        func(LoopTickContext)
	NextTick       func() uint64
	AfterStep      func(LoopStepResult)
	OnQueueWarning func(length int)
	OnCommandDrop  func(reason string, cmd Command)
}
