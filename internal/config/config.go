// Package config loads server settings from UNICOPIA_* environment
// variables. Command-line flags override individual fields afterwards.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/xyzzy121/Unicopia/internal/coordinator"
	"github.com/xyzzy121/Unicopia/logging"
)

// Config is the complete server configuration.
type Config struct {
	Addr string `env:"UNICOPIA_ADDR" envDefault:":8080"`
	Role string `env:"UNICOPIA_ROLE" envDefault:"authority"`
	// Upstream is the authority's /replicate URL an observer follows.
	Upstream  string `env:"UNICOPIA_UPSTREAM"`
	ClientDir string `env:"UNICOPIA_CLIENT_DIR"`

	World     string `env:"UNICOPIA_WORLD" envDefault:"overworld"`
	Seed      string `env:"UNICOPIA_SEED" envDefault:"prototype"`
	Trees     int    `env:"UNICOPIA_TREES" envDefault:"32"`
	SlotCount int    `env:"UNICOPIA_SLOT_COUNT" envDefault:"4"`

	TickRate               int           `env:"UNICOPIA_TICK_RATE" envDefault:"20"`
	CommandCapacity        int           `env:"UNICOPIA_COMMAND_CAPACITY" envDefault:"1024"`
	PerActorLimit          int           `env:"UNICOPIA_PER_ACTOR_LIMIT" envDefault:"32"`
	MissingActorRetryTicks uint64        `env:"UNICOPIA_MISSING_ACTOR_RETRY_TICKS" envDefault:"5"`
	SaveIntervalTicks      uint64        `env:"UNICOPIA_SAVE_INTERVAL_TICKS" envDefault:"1200"`
	DisconnectAfter        time.Duration `env:"UNICOPIA_DISCONNECT_AFTER" envDefault:"30s"`

	// DBPath selects the sqlite store; empty keeps state in memory.
	DBPath      string   `env:"UNICOPIA_DB_PATH"`
	CatalogPath []string `env:"UNICOPIA_CATALOG_PATH" envSeparator:":"`

	LogJSONPath    string `env:"UNICOPIA_LOG_JSON_PATH"`
	LogMinSeverity string `env:"UNICOPIA_LOG_MIN_SEVERITY" envDefault:"info"`

	EnableMetrics    bool `env:"UNICOPIA_ENABLE_METRICS" envDefault:"true"`
	EnablePprofTrace bool `env:"UNICOPIA_ENABLE_PPROF_TRACE"`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	role, ok := coordinator.ParseRole(c.Role)
	if !ok {
		errs = append(errs, fmt.Errorf("role must be authority or observer, got %q", c.Role))
	}
	if ok && role == coordinator.RoleObserver && c.Upstream == "" {
		errs = append(errs, errors.New("observer role requires an upstream URL"))
	}
	if c.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("tick rate must be positive, got %d", c.TickRate))
	}
	if c.SlotCount <= 0 {
		errs = append(errs, fmt.Errorf("slot count must be positive, got %d", c.SlotCount))
	}
	if c.CommandCapacity <= 0 || c.PerActorLimit <= 0 {
		errs = append(errs, errors.New("command capacity and per-actor limit must be positive"))
	}
	if _, ok := logging.ParseSeverity(c.LogMinSeverity); !ok {
		errs = append(errs, fmt.Errorf("unknown log severity %q", c.LogMinSeverity))
	}
	return errors.Join(errs...)
}

// CoordinatorRole returns the parsed role, defaulting to authority.
func (c Config) CoordinatorRole() coordinator.Role {
	role, _ := coordinator.ParseRole(c.Role)
	return role
}

// Logging derives the event router configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	if severity, ok := logging.ParseSeverity(c.LogMinSeverity); ok {
		cfg.MinimumSeverity = severity
	}
	if c.LogJSONPath != "" {
		cfg.EnabledSinks = append(cfg.EnabledSinks, logging.SinkJSON)
		cfg.JSON.FilePath = c.LogJSONPath
	}
	cfg.Fields = map[string]any{"world": c.World, "role": c.Role}
	return cfg
}
