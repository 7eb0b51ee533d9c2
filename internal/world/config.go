package world

import "strings"

const (
	DefaultSeed  = "prototype"
	DefaultName  = "overworld"
	DefaultWidth = 256
	DefaultDepth = 256
)

// Config describes one simulated world.
type Config struct {
	Name  string `json:"name"`
	Seed  string `json:"seed"`
	Width int32  `json:"width"`
	Depth int32  `json:"depth"`
	// Trees seeds that many destructible blocks when the world is created.
	Trees int `json:"trees"`
}

func (cfg Config) normalized() Config {
	normalized := cfg
	normalized.Name = strings.TrimSpace(normalized.Name)
	if normalized.Name == "" {
		normalized.Name = DefaultName
	}
	normalized.Seed = strings.TrimSpace(normalized.Seed)
	if normalized.Seed == "" {
		normalized.Seed = DefaultSeed
	}
	if normalized.Width <= 0 {
		normalized.Width = DefaultWidth
	}
	if normalized.Depth <= 0 {
		normalized.Depth = DefaultDepth
	}
	if normalized.Trees < 0 {
		normalized.Trees = 0
	}
	return normalized
}
