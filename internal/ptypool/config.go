package ptypool

import "time"

// Config holds the recognized pool configuration options, per spec §3
// "Pool Configuration".
type Config struct {
	// InitialWarmCount is the number of handles spawned by Initialize.
	// Default 2, range 0-12.
	InitialWarmCount int

	// MaxIdleHandles is the maximum pool capacity for idle handles.
	// Default 4, range 1-64.
	MaxIdleHandles int

	// MaxActiveSessions is the maximum number of concurrently active
	// handles. Default 12, range 1-64.
	MaxActiveSessions int

	// RecycleEnabled controls whether released handles may be recycled
	// instead of retired. Default true.
	RecycleEnabled bool

	// MaxPTYAge is the maximum age before forced retirement. Default 30m.
	MaxPTYAge time.Duration

	// WarmupDelay is the inter-spawn stagger used during Initialize and
	// background replenishment. Default 100ms.
	WarmupDelay time.Duration

	// WarmupTimeout bounds how long a spawned handle may take to report
	// readiness before it is killed. Default 5s.
	WarmupTimeout time.Duration

	// RecycleTimeout bounds how long a recycle attempt may take to reach
	// the readiness marker again. Default 2s.
	RecycleTimeout time.Duration

	// Shell is the login shell used for every spawned PTY. Defaults to
	// $SHELL, falling back to /bin/bash.
	Shell string
}

// DefaultConfig returns a Config with the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		InitialWarmCount:  2,
		MaxIdleHandles:    4,
		MaxActiveSessions: 12,
		RecycleEnabled:    true,
		MaxPTYAge:         30 * time.Minute,
		WarmupDelay:       100 * time.Millisecond,
		WarmupTimeout:     5 * time.Second,
		RecycleTimeout:    2 * time.Second,
	}
}

// clamp applies the documented ranges, correcting out-of-range values to
// their nearest bound rather than failing configuration load outright.
func (c *Config) clamp() {
	c.InitialWarmCount = clampInt(c.InitialWarmCount, 0, 12)
	c.MaxIdleHandles = clampInt(c.MaxIdleHandles, 1, 64)
	c.MaxActiveSessions = clampInt(c.MaxActiveSessions, 1, 64)
	if c.MaxPTYAge <= 0 {
		c.MaxPTYAge = 30 * time.Minute
	}
	if c.WarmupDelay <= 0 {
		c.WarmupDelay = 100 * time.Millisecond
	}
	if c.WarmupTimeout <= 0 {
		c.WarmupTimeout = 5 * time.Second
	}
	if c.RecycleTimeout <= 0 {
		c.RecycleTimeout = 2 * time.Second
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
