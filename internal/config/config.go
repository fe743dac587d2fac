// Package config holds the server's tunable parameters, assembled the
// way the teacher assembles server.Config: a struct with a
// DefaultConfig constructor plus functional Option setters, overridable
// from environment variables read once at process startup.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/arborwatch/ecosim/internal/world"
)

// Config holds every parameter the external interface (§6) names plus
// the pass periods the two workers sleep on between ticks.
type Config struct {
	// ListenAddr is the WebSocket listener address (§6: "0.0.0.0:9001").
	ListenAddr string

	// WorldWidth / WorldHeight are WORLD_W / WORLD_H.
	WorldWidth  int
	WorldHeight int

	// TickPeriod is how often the Simulation Worker advances the world
	// by one tick. The design explicitly leaves the exact value as
	// configuration; 2s is the "locally" figure it cites. Set to 0 in
	// tests that want to step ticks manually by calling the worker's
	// tick check once per call rather than waiting on a timer.
	TickPeriod time.Duration

	// NetworkPassPeriod / SimPassPeriod are each worker's per-pass
	// sleep, "one pass every ~50 ms" in the design.
	NetworkPassPeriod time.Duration
	SimPassPeriod     time.Duration

	// MaxFailedAuthAttempts is MAX_FAILED_AUTH_ATTEMPTS.
	MaxFailedAuthAttempts int

	// WorldSeed seeds the random land-energy grid at startup (New
	// Random's one use of randomness). A fixed seed keeps a dev server
	// reproducible across restarts; 0 means "seed from the OS clock".
	WorldSeed int64
}

// DefaultConfig returns the configuration described in §6: a 28x28
// world on 0.0.0.0:9001, both workers pacing at 50ms, and a 2s tick.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:            "0.0.0.0:9001",
		WorldWidth:            world.DefaultWidth,
		WorldHeight:           world.DefaultHeight,
		TickPeriod:            2 * time.Second,
		NetworkPassPeriod:     50 * time.Millisecond,
		SimPassPeriod:         50 * time.Millisecond,
		MaxFailedAuthAttempts: 100,
		WorldSeed:             0,
	}
}

// Option customizes a Config produced by DefaultConfig.
type Option func(*Config)

// WithListenAddr overrides the WebSocket listen address.
func WithListenAddr(addr string) Option {
	return func(c *Config) { c.ListenAddr = addr }
}

// WithWorldSize overrides WORLD_W / WORLD_H.
func WithWorldSize(w, h int) Option {
	return func(c *Config) { c.WorldWidth, c.WorldHeight = w, h }
}

// WithTickPeriod overrides TICK_PERIOD.
func WithTickPeriod(d time.Duration) Option {
	return func(c *Config) { c.TickPeriod = d }
}

// WithWorldSeed fixes the land-energy grid's random seed.
func WithWorldSeed(seed int64) Option {
	return func(c *Config) { c.WorldSeed = seed }
}

// New builds a Config from DefaultConfig with opts applied on top.
func New(opts ...Option) *Config {
	c := DefaultConfig()
	for _, o := range opts {
		o(c)
	}
	return c
}

// ApplyEnv applies ECOSIM_-prefixed environment variables on top of
// an already-built Config, read once at startup by cmd/ecosim-server.
// Unset or unparsable variables leave the existing value untouched.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv("ECOSIM_LISTEN_ADDR"); ok {
		c.ListenAddr = v
	}
	if v, ok := envInt("ECOSIM_WORLD_W"); ok {
		c.WorldWidth = v
	}
	if v, ok := envInt("ECOSIM_WORLD_H"); ok {
		c.WorldHeight = v
	}
	if v, ok := envDuration("ECOSIM_TICK_PERIOD"); ok {
		c.TickPeriod = v
	}
	if v, ok := envInt64("ECOSIM_WORLD_SEED"); ok {
		c.WorldSeed = v
	}
}

func envInt(name string) (int, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt64(name string) (int64, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(name string) (time.Duration, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
