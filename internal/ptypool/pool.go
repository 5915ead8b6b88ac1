// Package ptypool implements the PTY Pool (C1): it spawns, warms, holds,
// recycles, and retires pseudo-terminal-backed child processes on demand,
// grounded on the retrieval pack's PTY-spawn-and-read-loop pattern but
// generalized into a pool with readiness detection and recycling.
package ptypool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ReleaseMode controls whether a released handle is eligible for recycling.
type ReleaseMode int

const (
	// Clean means the handle may be recycled if policy and age allow.
	Clean ReleaseMode = iota
	// Dirty forces retirement regardless of policy.
	Dirty
)

// Stats is the observational snapshot returned by Pool.Stats.
type Stats struct {
	Idle   int
	Active int
	Total  int
}

// Pool owns every Handle not currently on loan to a Session.
type Pool struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	idle   []*Handle // FIFO: idle[0] is oldest
	active map[int64]*Handle

	nextID atomic.Int64

	bgWG   sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Pool without spawning anything; call Initialize to warm it.
func New(cfg Config, logger *slog.Logger) *Pool {
	cfg.clamp()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:    cfg,
		logger: logger,
		active: make(map[int64]*Handle),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize spawns InitialWarmCount warm handles, staggering spawns by
// WarmupDelay. It returns once all staggered spawns have been launched, not
// once all have reached Idle (spec §4.1).
func (p *Pool) Initialize() error {
	if p.cfg.InitialWarmCount == 0 {
		return nil
	}

	first := make(chan error, 1)
	p.spawnWarmAsync(0, first)
	if err := <-first; err != nil {
		return fmt.Errorf("%w: %v", ErrInitializationFailed, err)
	}

	for i := 1; i < p.cfg.InitialWarmCount; i++ {
		delay := time.Duration(i) * p.cfg.WarmupDelay
		p.bgWG.Add(1)
		go func(idx int, d time.Duration) {
			defer p.bgWG.Done()
			select {
			case <-time.After(d):
			case <-p.ctx.Done():
				return
			}
			if err := p.spawnWarm(); err != nil {
				p.logger.Warn("background warm spawn failed", "index", idx, "error", err)
			}
		}(i, delay)
	}

	return nil
}

// spawnWarmAsync runs the first warm spawn synchronously with respect to
// the caller-visible error (Initialize must know about a synchronous
// first-spawn failure), while still not blocking on subsequent readiness.
func (p *Pool) spawnWarmAsync(index int, result chan<- error) {
	err := p.spawnWarm()
	result <- err
}

// spawnWarm performs one full spawn-and-warm cycle with bounded retry,
// inserting the resulting handle into the idle queue on success.
func (p *Pool) spawnWarm() error {
	const maxRetries = 2
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		h, err := spawnHandle(p.nextID.Add(1), p.cfg.Shell, 24, 80, p.cfg.WarmupTimeout, p.logger)
		if err == nil {
			h.setState(Idle)
			p.mu.Lock()
			p.idle = append(p.idle, h)
			p.mu.Unlock()
			return nil
		}
		lastErr = err
		p.logger.Warn("warm spawn attempt failed", "attempt", attempt, "error", err)
		if attempt < maxRetries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// Claim atomically selects the oldest Idle handle and marks it Active. If
// none is idle and the active count is below MaxActiveSessions, an
// on-demand synchronous spawn is performed instead.
func (p *Pool) Claim() (*Handle, error) {
	p.mu.Lock()
	if len(p.idle) > 0 {
		h := p.idle[0]
		p.idle = p.idle[1:]
		h.setState(Active)
		p.active[h.id] = h
		activeCount := len(p.active)
		p.mu.Unlock()

		p.scheduleReplenish()
		p.logger.Info("claimed idle handle", "pid", h.Pid(), "active", activeCount)
		return h, nil
	}

	if len(p.active) >= p.cfg.MaxActiveSessions {
		p.mu.Unlock()
		return nil, ErrPoolExhausted
	}
	p.mu.Unlock()

	h, err := spawnHandle(p.nextID.Add(1), p.cfg.Shell, 24, 80, p.cfg.WarmupTimeout, p.logger)
	if err != nil {
		return nil, &SpawnError{Cause: err}
	}
	h.setState(Active)

	p.mu.Lock()
	if len(p.active) >= p.cfg.MaxActiveSessions {
		p.mu.Unlock()
		h.terminate(3 * time.Second)
		return nil, ErrPoolExhausted
	}
	p.active[h.id] = h
	p.mu.Unlock()

	p.logger.Info("claimed on-demand handle", "pid", h.Pid())
	return h, nil
}

// scheduleReplenish schedules one asynchronous spawn after WarmupDelay if
// the idle count is below InitialWarmCount. It never blocks the caller.
func (p *Pool) scheduleReplenish() {
	p.mu.Lock()
	need := len(p.idle) < p.cfg.InitialWarmCount
	p.mu.Unlock()
	if !need {
		return
	}

	p.bgWG.Add(1)
	go func() {
		defer p.bgWG.Done()
		select {
		case <-time.After(p.cfg.WarmupDelay):
		case <-p.ctx.Done():
			return
		}
		if err := p.spawnWarm(); err != nil {
			p.logger.Warn("replenishment spawn failed", "error", err)
		}
	}()
}

// Release returns a handle to the pool. A handle past MaxPTYAge is always
// retired, never recycled, regardless of RecycleEnabled (spec §4.1 age
// policy). Otherwise, if RecycleEnabled and mode == Clean, the pool
// attempts to normalize the shell back to a clean state before returning it
// to Idle; on any failure, or if the idle queue is already at
// MaxIdleHandles, the handle is terminated instead (spec §8 invariant 5:
// idle count never exceeds MaxIdleHandles).
func (p *Pool) Release(h *Handle, mode ReleaseMode) {
	p.mu.Lock()
	delete(p.active, h.id)
	p.mu.Unlock()

	tooOld := h.Age() >= p.cfg.MaxPTYAge
	if p.cfg.RecycleEnabled && mode == Clean && !tooOld {
		h.setState(Recycling)
		if err := h.normalize(p.cfg.RecycleTimeout); err == nil {
			p.mu.Lock()
			if len(p.idle) >= p.cfg.MaxIdleHandles {
				p.mu.Unlock()
				p.logger.Info("idle pool at capacity, retiring recycled handle", "pid", h.Pid())
				h.setState(Dead)
				h.terminate(3 * time.Second)
				return
			}
			h.setState(Idle)
			p.idle = append(p.idle, h)
			idleCount := len(p.idle)
			p.mu.Unlock()
			p.logger.Info("recycled handle", "pid", h.Pid())
			p.maybeReplenishAfterRetire(idleCount)
			return
		}
		p.logger.Warn("recycle normalize failed, retiring", "pid", h.Pid())
	}

	h.setState(Dead)
	h.terminate(3 * time.Second)
	p.mu.Lock()
	idleCount := len(p.idle)
	p.mu.Unlock()
	p.maybeReplenishAfterRetire(idleCount)
}

func (p *Pool) maybeReplenishAfterRetire(idleCount int) {
	if idleCount < p.cfg.InitialWarmCount {
		p.bgWG.Add(1)
		go func() {
			defer p.bgWG.Done()
			if err := p.spawnWarm(); err != nil {
				p.logger.Warn("post-retire replenish failed", "error", err)
			}
		}()
	}
}

// Discard marks a handle Dead without attempting recycling, used when a
// session fails after claiming the handle (spec §4.2 failure semantics:
// the PTY must return to the pool as Dead, not Recycling).
func (p *Pool) Discard(h *Handle) {
	p.mu.Lock()
	delete(p.active, h.id)
	p.mu.Unlock()
	h.setState(Dead)
	h.terminate(3 * time.Second)
}

// Shutdown transitions every handle to Dead: terminate signal, 3s grace,
// forceful kill, then close every descriptor. It returns only after every
// child has been reaped.
func (p *Pool) Shutdown() {
	p.cancel()
	p.bgWG.Wait()

	p.mu.Lock()
	all := make([]*Handle, 0, len(p.idle)+len(p.active))
	all = append(all, p.idle...)
	for _, h := range p.active {
		all = append(all, h)
	}
	p.idle = nil
	p.active = make(map[int64]*Handle)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range all {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			h.setState(Dead)
			h.terminate(3 * time.Second)
		}(h)
	}
	wg.Wait()
}

// Stats returns the current idle/active/total counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Idle:   len(p.idle),
		Active: len(p.active),
		Total:  len(p.idle) + len(p.active),
	}
}
