package overrides

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/trendpilot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// OVERRIDE STORE - versioned multiplier adjustments, lock-free reads
// ═══════════════════════════════════════════════════════════════════════════════
//
// The hot path reads the latest committed Set through an atomic pointer swap;
// it never waits on the learner and never observes a half-replaced set.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Set is one immutable generation of overrides. Never mutate after publish.
type Set struct {
	Version   int64
	Overrides []types.Override
	BuiltAt   time.Time
}

// Store hands out the current Set and swaps in replacements atomically.
type Store struct {
	current atomic.Pointer[Set]
	version atomic.Int64
}

// NewStore starts with an empty set (every lookup blends to 1.0).
func NewStore() *Store {
	s := &Store{}
	s.current.Store(&Set{Version: 0, BuiltAt: time.Now()})
	return s
}

// Current returns the latest committed set. Always non-nil.
func (s *Store) Current() *Set {
	return s.current.Load()
}

// Replace publishes a new generation. Readers switch over in one step.
func (s *Store) Replace(list []types.Override) *Set {
	cp := make([]types.Override, len(list))
	copy(cp, list)
	set := &Set{
		Version:   s.version.Add(1),
		Overrides: cp,
		BuiltAt:   time.Now(),
	}
	s.current.Store(set)
	log.Info().
		Int64("version", set.Version).
		Int("overrides", len(cp)).
		Msg("🔁 Override set replaced")
	return set
}

// Multiplier blends every stored override of the given class that matches the
// lookup: pattern and category must agree (empty in the override acts as a
// wildcard) and the override's scope subset must be fully contained in the
// lookup scope. Weight per match is confidence × (|subset|+1)^1.5. With no
// matches the multiplier is a no-op 1.0.
func (set *Set) Multiplier(class types.OverrideClass, patternKey string, cat types.Category, scope types.Scope) float64 {
	var num, den float64
	for i := range set.Overrides {
		o := &set.Overrides[i]
		if o.Class != class {
			continue
		}
		if o.PatternKey != "" && o.PatternKey != patternKey {
			continue
		}
		if o.Category != "" && o.Category != cat {
			continue
		}
		if !scope.Contains(o.Scope) {
			continue
		}
		w := o.Confidence * math.Pow(float64(len(o.Scope))+1, 1.5)
		num += o.Multiplier * w
		den += w
	}
	if den == 0 {
		return 1.0
	}
	return num / den
}

// Sizing is shorthand for the sizing-class blend.
func (set *Set) Sizing(patternKey string, cat types.Category, scope types.Scope) float64 {
	return set.Multiplier(types.OverrideSizing, patternKey, cat, scope)
}

// Threshold is shorthand for the threshold-class blend.
func (set *Set) Threshold(patternKey string, cat types.Category, scope types.Scope) float64 {
	return set.Multiplier(types.OverrideThreshold, patternKey, cat, scope)
}
