package ptypool

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Shell = "/bin/sh"
	cfg.WarmupTimeout = 3 * time.Second
	cfg.RecycleTimeout = 2 * time.Second
	cfg.WarmupDelay = 20 * time.Millisecond
	return cfg
}

func TestInitializeWarmsIdlePool(t *testing.T) {
	cfg := testConfig()
	cfg.InitialWarmCount = 2
	p := New(cfg, slog.Default())
	defer p.Shutdown()

	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s := p.Stats(); s.Idle == 2 && s.Active == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("pool never reached idle=2 active=0, got %+v", p.Stats())
}

func TestClaimReplenishes(t *testing.T) {
	cfg := testConfig()
	cfg.InitialWarmCount = 2
	p := New(cfg, slog.Default())
	defer p.Shutdown()

	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitForStats(t, p, func(s Stats) bool { return s.Idle == 2 })

	h, err := p.Claim()
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if h.State() != Active {
		t.Fatalf("claimed handle state = %v, want Active", h.State())
	}

	waitForStats(t, p, func(s Stats) bool { return s.Idle == 2 && s.Active == 1 })
}

func TestClaimFailsAtCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.InitialWarmCount = 0
	cfg.MaxActiveSessions = 2
	p := New(cfg, slog.Default())
	defer p.Shutdown()

	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	h1, err := p.Claim()
	if err != nil {
		t.Fatalf("Claim 1: %v", err)
	}
	h2, err := p.Claim()
	if err != nil {
		t.Fatalf("Claim 2: %v", err)
	}

	if _, err := p.Claim(); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Claim 3 = %v, want ErrPoolExhausted", err)
	}

	p.Release(h1, Clean)
	p.Release(h2, Clean)
}

func TestReleaseRetiresHandleOlderThanMaxAge(t *testing.T) {
	cfg := testConfig()
	cfg.InitialWarmCount = 0
	cfg.MaxPTYAge = 1 * time.Millisecond
	p := New(cfg, slog.Default())
	defer p.Shutdown()

	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	h, err := p.Claim()
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	p.Release(h, Clean)
	if h.State() != Dead {
		t.Fatalf("state = %v, want Dead (too old to recycle)", h.State())
	}
}

func TestReleaseRetiresHandleAtIdleCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.InitialWarmCount = 0
	cfg.MaxActiveSessions = 4
	cfg.MaxIdleHandles = 1
	p := New(cfg, slog.Default())
	defer p.Shutdown()

	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	h1, err := p.Claim()
	if err != nil {
		t.Fatalf("Claim 1: %v", err)
	}
	h2, err := p.Claim()
	if err != nil {
		t.Fatalf("Claim 2: %v", err)
	}

	p.Release(h1, Clean)
	waitForStats(t, p, func(s Stats) bool { return s.Idle == 1 })

	p.Release(h2, Clean)
	if h2.State() != Dead {
		t.Fatalf("second release state = %v, want Dead (idle pool already at MaxIdleHandles)", h2.State())
	}
	if s := p.Stats(); s.Idle > cfg.MaxIdleHandles {
		t.Fatalf("idle = %d, want <= MaxIdleHandles (%d)", s.Idle, cfg.MaxIdleHandles)
	}
}

func waitForStats(t *testing.T, p *Pool, ok func(Stats) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ok(p.Stats()) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("stats predicate never satisfied, got %+v", p.Stats())
}
