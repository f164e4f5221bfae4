package signal

import (
	"math"

	"github.com/web3guy0/trendpilot/internal/config"
	"github.com/web3guy0/trendpilot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// GATES & SCORES - numeric gating evaluated per bar
// ═══════════════════════════════════════════════════════════════════════════════

// GateResult breaks the entry gate into its three sub-conditions. The gate is
// the strict conjunction; no sub-condition is ever ignored.
type GateResult struct {
	Proximity bool    // price within halo of the relevant anchor
	Slope     bool    // at least one slower MA slope non-negative
	Strength  bool    // composite trend strength above threshold
	Score     float64 // the composite strength that was compared
}

func (g GateResult) Pass() bool { return g.Proximity && g.Slope && g.Strength }

// EntryGate evaluates the S1/S2 entry gate against the given anchor.
func EntryGate(f *types.FeatureRecord, anchor float64, th config.GateThresholds) GateResult {
	score := CompositeStrength(f, th)
	return GateResult{
		Proximity: withinHalo(f.Price, anchor, f.Volatility, th.HaloMult),
		Slope:     slowerSlopeOK(f),
		Strength:  score > th.StrengthMin,
		Score:     score,
	}
}

// withinHalo checks |price - anchor| <= haloMult * volatility.
func withinHalo(price, anchor, vol, haloMult float64) bool {
	return math.Abs(price-anchor) <= haloMult*vol
}

// slowerSlopeOK requires at least one slope among the slower averages
// (everything past the fastest) to be non-negative.
func slowerSlopeOK(f *types.FeatureRecord) bool {
	for _, s := range f.Slopes[1:] {
		if s >= 0 {
			return true
		}
	}
	return false
}

// CompositeStrength combines raw trend strength with a capped boost for
// proximity to a known support/resistance level. Result is in [0,1].
func CompositeStrength(f *types.FeatureRecord, th config.GateThresholds) float64 {
	boost := proximityBoost(f.Price, f.Levels, f.Volatility, th.BoostCap)
	return clamp01(f.TrendStrength + boost)
}

// proximityBoost grows linearly as price approaches the nearest level, from
// zero at two volatility units away up to cap at the level itself.
func proximityBoost(price float64, levels []float64, vol, cap float64) float64 {
	if len(levels) == 0 || vol <= 0 {
		return 0
	}
	_, dist := nearestLevel(price, levels)
	span := 2 * vol
	if dist >= span {
		return 0
	}
	return cap * (1 - dist/span)
}

// nearestLevel returns the closest support/resistance level and its absolute
// distance from price.
func nearestLevel(price float64, levels []float64) (float64, float64) {
	best, bestDist := 0.0, math.MaxFloat64
	for _, lv := range levels {
		if d := math.Abs(price - lv); d < bestDist {
			best, bestDist = lv, d
		}
	}
	return best, bestDist
}

// resistanceWithin reports whether a level sits above price within
// mult*volatility, and returns it.
func resistanceWithin(price float64, levels []float64, vol, mult float64) (float64, bool) {
	best, bestDist := 0.0, math.MaxFloat64
	for _, lv := range levels {
		if lv <= price {
			continue
		}
		if d := lv - price; d < bestDist {
			best, bestDist = lv, d
		}
	}
	if bestDist <= mult*vol {
		return best, true
	}
	return 0, false
}

// ExhaustionScore (ox) measures how overbought price is: stretch above the
// fastest average in volatility units, saturating at three units.
func ExhaustionScore(f *types.FeatureRecord) float64 {
	if f.Volatility <= 0 {
		return 0
	}
	stretch := (f.Price - f.MAs[0]) / f.Volatility
	return clamp01(stretch / 3.0)
}

// DipScore (dx) measures dip quality inside an aligned trend: pullback depth
// below the fastest average, boosted by nearby support. Zero if the pullback
// has broken the breakout anchor (that is a reversion, not a dip).
func DipScore(f *types.FeatureRecord, th config.GateThresholds) float64 {
	if f.Volatility <= 0 {
		return 0
	}
	if f.Price < f.AnchorBreakout() {
		return 0
	}
	depth := (f.MAs[0] - f.Price) / (2 * f.Volatility)
	if depth <= 0 {
		return 0
	}
	boost := proximityBoost(f.Price, f.Levels, f.Volatility, th.BoostCap)
	return clamp01(depth + boost)
}

// belowAll reports price under every tracked average.
func belowAll(f *types.FeatureRecord) bool {
	for _, ma := range f.MAs {
		if f.Price >= ma {
			return false
		}
	}
	return true
}

// aligned reports full ascending order: fastest > ... > slowest.
func aligned(f *types.FeatureRecord) bool {
	for i := 0; i < len(f.MAs)-1; i++ {
		if f.MAs[i] <= f.MAs[i+1] {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
