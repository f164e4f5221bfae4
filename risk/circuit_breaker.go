package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - halts new entries after repeated failures
// ═══════════════════════════════════════════════════════════════════════════════
//
// Trips on consecutive losing closures or bursts of executor errors. Only
// entry intents are blocked; trims and exits always pass.
//
// ═══════════════════════════════════════════════════════════════════════════════

type CircuitBreaker struct {
	mu sync.RWMutex

	// Configuration
	maxConsecutiveLosses int
	maxExecErrors        int
	cooldownDuration     time.Duration

	// State
	consecutiveLosses int
	execErrors        int
	tripped           bool
	trippedAt         time.Time
	reason            string
	manual            bool
}

// NewCircuitBreaker creates a breaker with the given limits.
func NewCircuitBreaker(maxLosses, maxExecErrors int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxConsecutiveLosses: maxLosses,
		maxExecErrors:        maxExecErrors,
		cooldownDuration:     cooldown,
	}
}

// EntriesBlocked reports whether new entry intents should be suppressed.
func (cb *CircuitBreaker) EntriesBlocked() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.manual {
		return true
	}
	if !cb.tripped {
		return false
	}
	if time.Since(cb.trippedAt) > cb.cooldownDuration {
		cb.tripped = false
		cb.consecutiveLosses = 0
		cb.execErrors = 0
		log.Info().Msg("✅ Circuit breaker reset after cooldown")
		return false
	}
	return true
}

// RecordClosure feeds a closed trade's outcome into the breaker.
func (cb *CircuitBreaker) RecordClosure(profitable bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if profitable {
		cb.consecutiveLosses = 0
		return
	}
	cb.consecutiveLosses++
	if cb.consecutiveLosses >= cb.maxConsecutiveLosses {
		cb.trip("consecutive losing closures")
	}
}

// RecordExecError counts executor failures; RecordExecOK clears the streak.
func (cb *CircuitBreaker) RecordExecError() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.execErrors++
	if cb.execErrors >= cb.maxExecErrors {
		cb.trip("executor error streak")
	}
}

func (cb *CircuitBreaker) RecordExecOK() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.execErrors = 0
}

// trip activates the breaker. Caller holds the lock.
func (cb *CircuitBreaker) trip(reason string) {
	if cb.tripped {
		return
	}
	cb.tripped = true
	cb.trippedAt = time.Now()
	cb.reason = reason
	log.Warn().
		Str("reason", reason).
		Int("consecutive_losses", cb.consecutiveLosses).
		Int("exec_errors", cb.execErrors).
		Dur("cooldown", cb.cooldownDuration).
		Msg("🚨 CIRCUIT BREAKER TRIPPED")
}

// PauseEntries blocks new entries until ResumeEntries, independent of the
// automatic trip/cooldown cycle.
func (cb *CircuitBreaker) PauseEntries() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.manual = true
	log.Info().Msg("⏸️ Entries paused manually")
}

// ResumeEntries lifts a manual pause and clears any automatic trip.
func (cb *CircuitBreaker) ResumeEntries() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.manual = false
	cb.tripped = false
	cb.consecutiveLosses = 0
	cb.execErrors = 0
	log.Info().Msg("▶️ Entries resumed")
}

// IsTripped returns current trip state without side effects.
func (cb *CircuitBreaker) IsTripped() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.tripped
}

// Stats returns breaker state for display.
func (cb *CircuitBreaker) Stats() (losses, execErrors int, tripped bool, reason string) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.consecutiveLosses, cb.execErrors, cb.tripped, cb.reason
}
