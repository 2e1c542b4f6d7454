// Package auth manages the generative service credentials. A KeyRing holds
// an ordered set of API keys with per-key health scores; quota exhaustion
// rotates to the healthiest alternative so the next gateway attempt uses a
// fresh credential.
package auth

import (
	"fmt"
	"sync"
	"time"
)

// HealthScoreConfig configures the per-key health score system
type HealthScoreConfig struct {
	Initial             int     `yaml:"initial"`
	SuccessReward       int     `yaml:"success_reward"`
	RateLimitPenalty    int     `yaml:"rate_limit_penalty"`
	FailurePenalty      int     `yaml:"failure_penalty"`
	RecoveryRatePerHour float64 `yaml:"recovery_rate_per_hour"`
	MaxScore            int     `yaml:"max_score"`
}

// DefaultHealthScoreConfig returns sensible defaults
func DefaultHealthScoreConfig() HealthScoreConfig {
	return HealthScoreConfig{
		Initial:             70,
		SuccessReward:       1,
		RateLimitPenalty:    15,
		FailurePenalty:      25,
		RecoveryRatePerHour: 5,
		MaxScore:            100,
	}
}

// ErrNoKeys is returned when the ring is empty.
var ErrNoKeys = fmt.Errorf("no API keys configured")

// KeyRing holds the rotation state for a set of API keys.
type KeyRing struct {
	mu          sync.RWMutex
	keys        []string
	active      int
	scores      map[int]int
	lastUpdates map[int]time.Time
	cfg         HealthScoreConfig
}

// NewKeyRing creates a ring over the given keys in priority order.
func NewKeyRing(keys []string) *KeyRing {
	return NewKeyRingWithConfig(keys, DefaultHealthScoreConfig())
}

// NewKeyRingWithConfig creates a ring with a custom health score config.
func NewKeyRingWithConfig(keys []string, cfg HealthScoreConfig) *KeyRing {
	return &KeyRing{
		keys:        append([]string(nil), keys...),
		scores:      make(map[int]int),
		lastUpdates: make(map[int]time.Time),
		cfg:         cfg,
	}
}

// Current returns the active key, or "" if the ring is empty. The gateway
// re-reads this on every attempt, so a rotation takes effect on the very
// next retry.
func (r *KeyRing) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.keys) == 0 {
		return ""
	}
	return r.keys[r.active]
}

// Len returns the number of keys in the ring.
func (r *KeyRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// Add appends a key to the ring.
func (r *KeyRing) Add(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

// Rotate switches the active credential to the healthiest other key.
// With a single key it stays put and reports an error so the caller can
// surface "add another key" instead of silently retrying the same quota.
func (r *KeyRing) Rotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch len(r.keys) {
	case 0:
		return ErrNoKeys
	case 1:
		return fmt.Errorf("only one API key configured, nothing to rotate to")
	}

	best := -1
	bestScore := -1
	for i := range r.keys {
		if i == r.active {
			continue
		}
		if s := r.scoreLocked(i); s > bestScore {
			best, bestScore = i, s
		}
	}
	r.active = best
	return nil
}

// RecordSuccess boosts the active key's score.
func (r *KeyRing) RecordSuccess() {
	r.adjust(r.cfg.SuccessReward)
}

// RecordRateLimit penalizes the active key's score.
func (r *KeyRing) RecordRateLimit() {
	r.adjust(-r.cfg.RateLimitPenalty)
}

// RecordFailure penalizes the active key's score.
func (r *KeyRing) RecordFailure() {
	r.adjust(-r.cfg.FailurePenalty)
}

// Score returns the effective health score of the active key.
func (r *KeyRing) Score() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return 0
	}
	return r.scoreLocked(r.active)
}

func (r *KeyRing) adjust(delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return
	}
	score := r.scoreLocked(r.active) + delta
	if score < 0 {
		score = 0
	}
	if score > r.cfg.MaxScore {
		score = r.cfg.MaxScore
	}
	r.scores[r.active] = score
	r.lastUpdates[r.active] = time.Now()
}

// scoreLocked applies time-based recovery before returning the score.
func (r *KeyRing) scoreLocked(index int) int {
	score, ok := r.scores[index]
	if !ok {
		r.scores[index] = r.cfg.Initial
		r.lastUpdates[index] = time.Now()
		return r.cfg.Initial
	}

	hours := time.Since(r.lastUpdates[index]).Hours()
	recovered := int(hours * r.cfg.RecoveryRatePerHour)
	if recovered > 0 {
		score += recovered
		if score > r.cfg.MaxScore {
			score = r.cfg.MaxScore
		}
		r.scores[index] = score
		r.lastUpdates[index] = time.Now()
	}
	return score
}
