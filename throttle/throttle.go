// Package throttle limits per-function execution: concurrency caps and
// token-bucket rate limits applied by the worker pool before a claimed
// task runs. Functions without a configured limit run unthrottled
// (pool-wide concurrency still applies).
package throttle

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines limits for a single function.
type Config struct {
	// Function is the function name the limits apply to.
	Function string

	// MaxConcurrency limits how many tasks of this function may run
	// simultaneously on the local worker pool. Zero means no
	// function-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained task starts per second for this
	// function. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// state tracks runtime state for a single function.
type state struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager applies per-function rate limiting and concurrency control.
// It is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	functions map[string]*state
}

// NewManager creates a Manager with the given function configurations.
// Functions not listed have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		functions: make(map[string]*state, len(configs)),
	}
	for _, cfg := range configs {
		m.functions[cfg.Function] = newState(cfg)
	}
	return m
}

func newState(cfg Config) *state {
	s := &state{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

// Acquire checks rate limits and concurrency for the given function. If
// the task is allowed to proceed it increments the active counter and
// returns true. The caller MUST call Release when the task completes.
func (m *Manager) Acquire(function string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.functions[function]
	if s == nil {
		return true
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return false
	}
	if s.config.MaxConcurrency > 0 && s.active >= s.config.MaxConcurrency {
		return false
	}

	s.active++
	return true
}

// Release decrements the active task count for the function.
func (m *Manager) Release(function string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.functions[function]; s != nil && s.active > 0 {
		s.active--
	}
}

// SetConfig dynamically updates (or creates) a function configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.functions[cfg.Function]
	s := newState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		s.active = existing.active
	}
	m.functions[cfg.Function] = s
}

// ActiveCount returns the current number of active tasks for a function.
func (m *Manager) ActiveCount(function string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.functions[function]; s != nil {
		return s.active
	}
	return 0
}
