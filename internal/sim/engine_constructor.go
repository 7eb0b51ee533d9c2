package sim

import (
	"errors"
)

var (
	// ErrMissingWorld indicates NewEngine was invoked without a world instance.
	ErrMissingWorld = errors.New("sim: world is nil")
	// ErrUnsupportedWorld indicates the provided world cannot produce an engine core.
	ErrUnsupportedWorld = errors.New("sim: world does not provide an engine adapter")
	// ErrMissingEngineCore indicates the adapter factory returned a nil engine core.
	ErrMissingEngineCore = errors.New("sim: engine adapter returned nil")
)

// EngineOption configures NewEngine behaviour. Options are applied in
// order; later options override earlier ones.
type EngineOption interface {
	apply(*engineConfig)
}

type engineOptionFunc func(*engineConfig)

func (f engineOptionFunc) apply(cfg *engineConfig) {
	if f != nil {
		f(cfg)
	}
}

type engineConfig struct {
	deps       Deps
	hasDeps    bool
	loopConfig LoopConfig
	loopHooks  LoopHooks
	tickers    []Ticker
}

// Ticker is a per-tick callback registered alongside the engine core. It
// runs after the core's Step, in registration order.
type Ticker func(ctx LoopTickContext)

type engineAdapterProvider interface {
	EngineAdapter(Deps) EngineCore
}

// WithDeps injects shared infrastructure dependencies used by the engine core
// and loop orchestration.
func WithDeps(deps Deps) EngineOption {
	return engineOptionFunc(func(cfg *engineConfig) {
		cfg.deps = deps
		cfg.hasDeps = true
	})
}

// WithLoopConfig overrides the default command queue and tick loop sizing used
// by the engine.
func WithLoopConfig(config LoopConfig) EngineOption {
	return engineOptionFunc(func(cfg *engineConfig) {
		cfg.loopConfig = config
	})
}

// WithLoopHooks supplies custom loop callbacks.
func WithLoopHooks(hooks LoopHooks) EngineOption {
	return engineOptionFunc(func(cfg *engineConfig) {
		cfg.loopHooks = hooks
	})
}

// WithTicker registers an extra per-tick callback.
func WithTicker(ticker Ticker) EngineOption {
	return engineOptionFunc(func(cfg *engineConfig) {
		if ticker != nil {
			cfg.tickers = append(cfg.tickers, ticker)
		}
	})
}

// NewEngine constructs an Engine backed by the provided world. The world
// must either implement EngineCore or expose an EngineAdapter factory.
func NewEngine(world any, opts ...EngineOption) (Engine, error) {
	if world == nil {
		return nil, ErrMissingWorld
	}

	cfg := engineConfig{loopConfig: DefaultLoopConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(&cfg)
		}
	}

	var core EngineCore
	switch candidate := world.(type) {
	case engineAdapterProvider:
		core = candidate.EngineAdapter(cfg.deps)
	case EngineCore:
		core = candidate
	default:
		return nil, ErrUnsupportedWorld
	}
	if core == nil {
		return nil, ErrMissingEngineCore
	}
	if cfg.hasDeps || len(cfg.tickers) > 0 {
		core = &tickedCore{EngineCore: core, deps: cfg.deps, hasDeps: cfg.hasDeps, tickers: cfg.tickers}
	}

	engine := NewLoop(core, cfg.loopConfig, cfg.loopHooks)
	if engine == nil {
		return nil, ErrMissingEngineCore
	}
	return engine, nil
}

type tickedCore struct {
	EngineCore
	deps    Deps
	hasDeps bool
	tickers []Ticker
}

func (c *tickedCore) Deps() Deps {
	if c.hasDeps {
		return c.deps
	}
	return c.EngineCore.Deps()
}

func (c *tickedCore) Step(ctx LoopTickContext) {
	c.EngineCore.Step(ctx)
	for _, ticker := range c.tickers {
		ticker(ctx)
	}
}
