package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/web3guy0/trendpilot/types"
)

func rec(strength, vol float64, slopes []float64) *types.FeatureRecord {
	return &types.FeatureRecord{
		Instrument:    "BTC-USD",
		Timeframe:     "15m",
		Price:         100,
		MAs:           []float64{99, 98, 97},
		Slopes:        slopes,
		Volatility:    vol,
		TrendStrength: strength,
		BarTime:       time.Now(),
	}
}

func TestDefaultsForUnseenKey(t *testing.T) {
	d := NewDetector()
	a, e := d.Scores("ETH-USD", "1h")
	require.Equal(t, defaultAggro, a)
	require.Equal(t, defaultExitAssert, e)
}

func TestStrongTrendRaisesAggro(t *testing.T) {
	d := NewDetector()
	for i := 0; i < 30; i++ {
		d.Update(rec(0.9, 1, []float64{0.5, 0.3, 0.1}), types.StateSnapshot{})
	}
	a, _ := d.Scores("BTC-USD", "15m")
	require.Greater(t, a, 0.7, "sustained strength with all slopes rising")
	require.LessOrEqual(t, a, 1.0)
	require.Equal(t, "hot", d.Band("BTC-USD", "15m"))
}

func TestWeakTrendLowersAggro(t *testing.T) {
	d := NewDetector()
	for i := 0; i < 30; i++ {
		d.Update(rec(0.1, 1, []float64{-0.5, -0.3, -0.1}), types.StateSnapshot{})
	}
	a, _ := d.Scores("BTC-USD", "15m")
	require.Less(t, a, 0.3)
	require.Equal(t, "cold", d.Band("BTC-USD", "15m"))
}

func TestVolExpansionRaisesExitAssert(t *testing.T) {
	d := NewDetector()
	// Establish a calm volatility norm.
	for i := 0; i < 50; i++ {
		d.Update(rec(0.5, 1, []float64{0, 0, 0}), types.StateSnapshot{ExhaustionScore: 0.2})
	}
	_, calm := d.Scores("BTC-USD", "15m")

	// One violent bar: the latest record's vol dwarfs the rolling norm.
	d.Update(rec(0.5, 5, []float64{0, 0, 0}), types.StateSnapshot{ExhaustionScore: 0.2})
	_, hot := d.Scores("BTC-USD", "15m")

	require.Greater(t, hot, calm)
}

func TestScoresBounded(t *testing.T) {
	d := NewDetector()
	for i := 0; i < 10; i++ {
		d.Update(rec(5, 100, []float64{9, 9, 9}), types.StateSnapshot{ExhaustionScore: 3})
	}
	a, e := d.Scores("BTC-USD", "15m")
	require.LessOrEqual(t, a, 1.0)
	require.LessOrEqual(t, e, 1.0)
	require.GreaterOrEqual(t, a, 0.0)
	require.GreaterOrEqual(t, e, 0.0)
}
