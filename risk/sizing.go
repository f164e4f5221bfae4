package risk

import (
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION SIZING - tiered base sizes with history-aware multipliers
// ═══════════════════════════════════════════════════════════════════════════════
//
// Entries size against REMAINING ALLOCATION CAPACITY, trims against CURRENT
// HOLDINGS. Base comes from a 3-tier lookup on the regime score, then a
// multiplier derived from the position's own history scales it.
//
// ═══════════════════════════════════════════════════════════════════════════════

// MaxTrimFraction hard-caps any single trim.
const MaxTrimFraction = 0.5

// Tier maps a score floor to a base size fraction.
type Tier struct {
	Floor    float64
	Fraction float64
}

// Sizer computes intent size fractions.
type Sizer struct {
	entryTiers []Tier // keyed on aggressiveness A, fraction of remaining capacity
	trimTiers  []Tier // keyed on exit-assertiveness E, fraction of holdings
}

// NewSizer returns a sizer with the default tier tables.
func NewSizer() *Sizer {
	return &Sizer{
		entryTiers: []Tier{
			{Floor: 0.7, Fraction: 0.35},
			{Floor: 0.3, Fraction: 0.20},
			{Floor: 0.0, Fraction: 0.10},
		},
		trimTiers: []Tier{
			{Floor: 0.7, Fraction: 0.10},
			{Floor: 0.3, Fraction: 0.05},
			{Floor: 0.0, Fraction: 0.03},
		},
	}
}

// EntryBase looks up the base entry fraction for an aggressiveness score.
func (s *Sizer) EntryBase(a float64) float64 {
	return lookup(s.entryTiers, a)
}

// TrimBase looks up the base trim fraction for an exit-assertiveness score.
func (s *Sizer) TrimBase(e float64) float64 {
	return lookup(s.trimTiers, e)
}

func lookup(tiers []Tier, score float64) float64 {
	for _, t := range tiers {
		if score >= t.Floor {
			return t.Fraction
		}
	}
	return tiers[len(tiers)-1].Fraction
}

// EntryMultiplier scales entries by realized-profit ratio: positions under
// water size up (average down), heavily profitable ones size down.
func EntryMultiplier(profitRatio float64) float64 {
	return clampF(1-0.5*profitRatio, 0.5, 1.5)
}

// TrimMultiplier scales trims by (deployment, profit): fully deployed and
// profitable positions trim harder, losing positions trim lighter.
func TrimMultiplier(deployedRatio, profitRatio float64) float64 {
	if profitRatio < 0 {
		return 0.5
	}
	p := profitRatio
	if p > 1 {
		p = 1
	}
	return clampF(1+0.5*deployedRatio*p, 1.0, 1.5)
}

// EntrySize is the full entry/add computation: tier base × profit multiplier
// × blended sizing override, clamped to [0,1] of remaining capacity.
func (s *Sizer) EntrySize(a, profitRatio, overrideMult float64) decimal.Decimal {
	frac := s.EntryBase(a) * EntryMultiplier(profitRatio) * overrideMult
	return decimal.NewFromFloat(clampF(frac, 0, 1))
}

// TrimSize is the full trim computation: tier base × trim multiplier, capped
// at MaxTrimFraction of holdings. Overrides never scale trims.
func (s *Sizer) TrimSize(e, deployedRatio, profitRatio float64) decimal.Decimal {
	frac := s.TrimBase(e) * TrimMultiplier(deployedRatio, profitRatio)
	return decimal.NewFromFloat(clampF(frac, 0, MaxTrimFraction))
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
