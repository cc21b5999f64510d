// Package backoff implements a score-based circuit breaker guarding
// calls to the remote RPC boundary: repeated RpcError failures raise a
// per-key score; crossing a threshold opens the circuit for a cooldown
// window, after which calls resume. Only recorded successes decay the
// score.
package backoff

import (
	"sync"
	"time"
)

// Config tunes the breaker's thresholds.
type Config struct {
	FailureCost   int32
	SuccessDecay  int32
	OpenThreshold int32
	MinCooldown   time.Duration
	MaxCooldown   time.Duration
}

// DefaultConfig matches spec's "back-off 1-5s, retried" guidance.
func DefaultConfig() Config {
	return Config{
		FailureCost:   10,
		SuccessDecay:  5,
		OpenThreshold: 30,
		MinCooldown:   time.Second,
		MaxCooldown:   5 * time.Second,
	}
}

type state struct {
	mu          sync.Mutex
	score       int32
	openUntil   time.Time
	consecutive int
}

// Breaker tracks per-key (typically per-project) failure state.
type Breaker struct {
	cfg Config

	mu     sync.Mutex
	states map[string]*state
}

// New returns a Breaker using cfg.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, states: make(map[string]*state)}
}

func (b *Breaker) stateFor(key string) *state {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.states[key]
	if !ok {
		s = &state{}
		b.states[key] = s
	}
	return s
}

// Allow reports whether a call for key may proceed right now.
func (b *Breaker) Allow(key string) bool {
	s := b.stateFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().After(s.openUntil)
}

// RecordFailure raises key's score, opening the circuit for an
// increasing cooldown (capped at MaxCooldown) once the threshold is
// crossed.
func (b *Breaker) RecordFailure(key string) {
	s := b.stateFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.score += b.cfg.FailureCost
	s.consecutive++
	if s.score >= b.cfg.OpenThreshold {
		cooldown := b.cfg.MinCooldown * time.Duration(s.consecutive)
		if cooldown > b.cfg.MaxCooldown {
			cooldown = b.cfg.MaxCooldown
		}
		s.openUntil = time.Now().Add(cooldown)
	}
}

// RecordSuccess decays key's score and resets the consecutive-failure
// counter.
func (b *Breaker) RecordSuccess(key string) {
	s := b.stateFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutive = 0
	s.score -= b.cfg.SuccessDecay
	if s.score < 0 {
		s.score = 0
	}
}

// CooldownRemaining returns how long key's circuit stays open, or zero
// if it is already closed.
func (b *Breaker) CooldownRemaining(key string) time.Duration {
	s := b.stateFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	d := time.Until(s.openUntil)
	if d < 0 {
		return 0
	}
	return d
}
