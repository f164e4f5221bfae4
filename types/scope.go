package types

import (
	"sort"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SCOPE - key/value context lessons and overrides are conditioned on
// ═══════════════════════════════════════════════════════════════════════════════

// Scope dimension keys, in the fixed order the pattern miner explores them.
const (
	DimTimeframe = "timeframe"
	DimVenue     = "venue"
	DimBucket    = "bucket" // instrument liquidity bucket
	DimState     = "state"  // machine state at decision time
	DimRegime    = "regime" // coarse A-score band
)

// ScopeDims is the canonical dimension order. Subset search and blend
// weighting both depend on it staying fixed.
var ScopeDims = []string{DimTimeframe, DimVenue, DimBucket, DimState, DimRegime}

// Scope is an ordered key→value context. Keys are drawn from ScopeDims.
type Scope map[string]string

// Clone returns a copy.
func (s Scope) Clone() Scope {
	out := make(Scope, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Contains reports whether every key/value pair of sub is present in s.
// This is the override-applier match rule: subset containment, not equality.
func (s Scope) Contains(sub Scope) bool {
	for k, v := range sub {
		if s[k] != v {
			return false
		}
	}
	return true
}

// With returns a copy of s with one extra dimension bound.
func (s Scope) With(key, value string) Scope {
	out := s.Clone()
	out[key] = value
	return out
}

// Key renders the scope as a stable string, dimensions in canonical order.
// Used as a map key and as the serialized form in storage.
func (s Scope) Key() string {
	if len(s) == 0 {
		return "*"
	}
	parts := make([]string, 0, len(s))
	for _, dim := range ScopeDims {
		if v, ok := s[dim]; ok {
			parts = append(parts, dim+"="+v)
		}
	}
	// Unknown dimensions sort after canonical ones so the key stays stable.
	var extra []string
	for k, v := range s {
		if !isCanonicalDim(k) {
			extra = append(extra, k+"="+v)
		}
	}
	sort.Strings(extra)
	return strings.Join(append(parts, extra...), ",")
}

// ParseScope is the inverse of Key.
func ParseScope(key string) Scope {
	s := make(Scope)
	if key == "" || key == "*" {
		return s
	}
	for _, part := range strings.Split(key, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			s[kv[0]] = kv[1]
		}
	}
	return s
}

func isCanonicalDim(k string) bool {
	for _, d := range ScopeDims {
		if d == k {
			return true
		}
	}
	return false
}

// RegimeBand maps an aggressiveness score to a coarse scope value so lessons
// can condition on regime without fragmenting samples.
func RegimeBand(a float64) string {
	switch {
	case a >= 0.7:
		return "hot"
	case a >= 0.3:
		return "warm"
	default:
		return "cold"
	}
}

// LiquidityBucket maps an allocation cap to a coarse instrument bucket.
func LiquidityBucket(cap float64) string {
	switch {
	case cap >= 100000:
		return "large"
	case cap >= 10000:
		return "mid"
	default:
		return "small"
	}
}
