package signal

import (
	"testing"
	"time"

	"github.com/web3guy0/trendpilot/internal/config"
	"github.com/web3guy0/trendpilot/types"
)

func gateRecord(price float64, slopeOK bool, strength float64) *types.FeatureRecord {
	slow := -0.5
	if slopeOK {
		slow = 0.1
	}
	return &types.FeatureRecord{
		Instrument:    "TESTUSDT",
		Timeframe:     "15m",
		Price:         price,
		MAs:           []float64{100, 99, 98},
		Slopes:        []float64{0.2, slow, slow},
		Volatility:    1.0,
		TrendStrength: strength,
		BarTime:       time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

// TestEntryGateConjunction drives every combination of the three
// sub-conditions to confirm none is silently ignored.
func TestEntryGateConjunction(t *testing.T) {
	th := config.DefaultGateThresholds() // halo 1.5, strength_min 0.60
	const anchor = 100.0

	cases := []struct {
		name      string
		proximity bool
		slope     bool
		strength  bool
	}{
		{"all_true", true, true, true},
		{"no_proximity", false, true, true},
		{"no_slope", true, false, true},
		{"no_strength", true, true, false},
		{"only_proximity", true, false, false},
		{"only_slope", false, true, false},
		{"only_strength", false, false, true},
		{"all_false", false, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			price := 100.5 // within halo of anchor
			if !tc.proximity {
				price = 110 // 10 units away, far outside 1.5*vol
			}
			strength := 0.75
			if !tc.strength {
				strength = 0.40
			}

			got := EntryGate(gateRecord(price, tc.slope, strength), anchor, th)

			if got.Proximity != tc.proximity {
				t.Errorf("proximity = %v, want %v", got.Proximity, tc.proximity)
			}
			if got.Slope != tc.slope {
				t.Errorf("slope = %v, want %v", got.Slope, tc.slope)
			}
			if got.Strength != tc.strength {
				t.Errorf("strength = %v, want %v", got.Strength, tc.strength)
			}
			want := tc.proximity && tc.slope && tc.strength
			if got.Pass() != want {
				t.Errorf("Pass() = %v, want %v", got.Pass(), want)
			}
		})
	}
}

func TestProximityBoostCapped(t *testing.T) {
	// Price sitting exactly on a level gets the full boost, never more.
	boost := proximityBoost(100, []float64{100}, 1.0, 0.25)
	if boost != 0.25 {
		t.Errorf("boost at level = %v, want cap 0.25", boost)
	}

	// Two volatility units away the boost is gone.
	boost = proximityBoost(100, []float64{102}, 1.0, 0.25)
	if boost != 0 {
		t.Errorf("boost at 2 vol units = %v, want 0", boost)
	}

	// No levels, no boost.
	if b := proximityBoost(100, nil, 1.0, 0.25); b != 0 {
		t.Errorf("boost with no levels = %v, want 0", b)
	}
}

func TestCompositeStrengthClamped(t *testing.T) {
	th := config.DefaultGateThresholds()
	f := gateRecord(100, true, 0.95)
	f.Levels = []float64{100} // full boost on top of 0.95
	if s := CompositeStrength(f, th); s != 1.0 {
		t.Errorf("composite strength = %v, want clamp at 1.0", s)
	}
}

func TestExhaustionScoreSaturates(t *testing.T) {
	f := gateRecord(104, true, 0.5) // 4 vol units above the fast MA
	if ox := ExhaustionScore(f); ox != 1.0 {
		t.Errorf("ox = %v, want saturation at 1.0", ox)
	}
	f2 := gateRecord(99, true, 0.5) // below the fast MA
	if ox := ExhaustionScore(f2); ox != 0 {
		t.Errorf("ox below MA = %v, want 0", ox)
	}
}

func TestDipScoreZeroBelowBreakoutAnchor(t *testing.T) {
	th := config.DefaultGateThresholds()
	f := gateRecord(98.5, true, 0.5) // below MAs[1]=99: reversion, not a dip
	if dx := DipScore(f, th); dx != 0 {
		t.Errorf("dx below breakout anchor = %v, want 0", dx)
	}
}

func TestThresholdScaling(t *testing.T) {
	base := config.DefaultGateThresholds()
	loose := base.Scaled(0.9)

	if loose.StrengthMin >= base.StrengthMin {
		t.Errorf("scaling by 0.9 should lower strength_min, got %v", loose.StrengthMin)
	}
	if loose.HaloMult <= base.HaloMult {
		t.Errorf("scaling by 0.9 should widen the halo, got %v", loose.HaloMult)
	}
	if got := base.Scaled(0); got != base {
		t.Errorf("non-positive multiplier must be a no-op")
	}
}
