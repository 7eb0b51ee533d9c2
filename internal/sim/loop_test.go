package sim

import (
	"errors"
	"testing"
	"time"

	"github.com/xyzzy121/Unicopia/internal/telemetry"
)

type recordingCore struct {
	deps    Deps
	applied [][]Command
	steps   []uint64
	err     error
}

func (c *recordingCore) Deps() Deps { return c.deps }

func (c *recordingCore) Apply(tick uint64, cmds []Command) error {
	c.applied = append(c.applied, cmds)
	return c.err
}

func (c *recordingCore) Step(ctx LoopTickContext) {
	c.steps = append(c.steps, ctx.Tick)
}

func TestLoopEnqueueEnforcesPerActorLimit(t *testing.T) {
	metrics := telemetry.NewCounters()
	core := &recordingCore{deps: Deps{Metrics: metrics}}
	var drops []string
	loop := NewLoop(core, LoopConfig{CommandCapacity: 8, PerActorLimit: 2}, LoopHooks{
		OnCommandDrop: func(reason string, cmd Command) { drops = append(drops, reason) },
	})

	for i := 0; i < 2; i++ {
		if ok, reason := loop.Enqueue(Command{ActorID: "pony", Type: CommandTrigger}); !ok {
			t.Fatalf("expected command %d to be accepted, got %s", i, reason)
		}
	}
	if ok, reason := loop.Enqueue(Command{ActorID: "pony", Type: CommandTrigger}); ok || reason != CommandRejectQueueLimit {
		t.Fatalf("expected queue_limit rejection, got ok=%v reason=%s", ok, reason)
	}
	if ok, _ := loop.Enqueue(Command{ActorID: "griffon", Type: CommandTrigger}); !ok {
		t.Fatal("expected other actors to be unaffected")
	}
	if len(drops) != 1 || drops[0] != CommandRejectQueueLimit {
		t.Fatalf("expected one drop hook call, got %v", drops)
	}
	if metrics.Value(commandDropMetricKey) != 1 {
		t.Fatalf("expected drop metric 1, got %d", metrics.Value(commandDropMetricKey))
	}

	loop.Advance(LoopTickContext{Tick: 1})
	if ok, _ := loop.Enqueue(Command{ActorID: "pony", Type: CommandTrigger}); !ok {
		t.Fatal("expected per-actor budget to reset after a tick")
	}
}

func TestLoopEnqueueReportsFullBuffer(t *testing.T) {
	core := &recordingCore{}
	loop := NewLoop(core, LoopConfig{CommandCapacity: 1}, LoopHooks{})
	loop.Enqueue(Command{ActorID: "a"})
	if ok, reason := loop.Enqueue(Command{ActorID: "b"}); ok || reason != CommandRejectQueueFull {
		t.Fatalf("expected queue_full, got ok=%v reason=%s", ok, reason)
	}
}

func TestLoopAdvanceAppliesThenSteps(t *testing.T) {
	core := &recordingCore{err: errors.New("bad command")}
	var prepared []uint64
	loop := NewLoop(core, LoopConfig{CommandCapacity: 4}, LoopHooks{
		Prepare: func(ctx LoopTickContext) { prepared = append(prepared, ctx.Tick) },
	})
	loop.Enqueue(Command{ActorID: "pony", Type: CommandTrigger, Ability: &AbilityCommand{Slot: 1}})

	result := loop.Advance(LoopTickContext{Tick: 7, Now: time.Unix(0, 0)})
	if len(result.Commands) != 1 || result.Commands[0].Ability.Slot != 1 {
		t.Fatalf("expected staged command in result, got %+v", result.Commands)
	}
	if result.ApplyErr == nil {
		t.Fatal("expected apply error to surface in the result")
	}
	if len(core.steps) != 1 || core.steps[0] != 7 {
		t.Fatalf("expected one step at tick 7 even after apply error, got %v", core.steps)
	}
	if len(prepared) != 1 {
		t.Fatalf("expected prepare hook once, got %d", len(prepared))
	}
	if loop.Pending() != 0 {
		t.Fatalf("expected queue drained, got %d", loop.Pending())
	}
}

func TestLoopRunAdvancesTicksUntilStopped(t *testing.T) {
	core := &recordingCore{}
	results := make(chan LoopStepResult, 16)
	loop := NewLoop(core, LoopConfig{TickRate: 200, CommandCapacity: 4}, LoopHooks{
		AfterStep: func(result LoopStepResult) {
			select {
			case results <- result:
			default:
			}
		},
	})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		loop.Run(stop)
		close(done)
	}()

	first := <-results
	second := <-results
	close(stop)
	<-done

	if first.Tick != 1 || second.Tick != 2 {
		t.Fatalf("expected ticks 1 and 2, got %d and %d", first.Tick, second.Tick)
	}
	if first.Budget != 5*time.Millisecond {
		t.Fatalf("expected 5ms budget, got %s", first.Budget)
	}
}

func TestNewEngineRunsTickers(t *testing.T) {
	core := &recordingCore{}
	var ticked []uint64
	engine, err := NewEngine(core, WithTicker(func(ctx LoopTickContext) { ticked = append(ticked, ctx.Tick) }))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.Advance(LoopTickContext{Tick: 3})
	if len(core.steps) != 1 || len(ticked) != 1 || ticked[0] != 3 {
		t.Fatalf("expected core step then ticker at 3, got steps=%v tickers=%v", core.steps, ticked)
	}

	if _, err := NewEngine(nil); !errors.Is(err, ErrMissingWorld) {
		t.Fatalf("expected ErrMissingWorld, got %v", err)
	}
	if _, err := NewEngine(struct{}{}); !errors.Is(err, ErrUnsupportedWorld) {
		t.Fatalf("expected ErrUnsupportedWorld, got %v", err)
	}
}
