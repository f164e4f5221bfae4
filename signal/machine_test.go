package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/web3guy0/trendpilot/internal/config"
	"github.com/web3guy0/trendpilot/types"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// bar builds a feature record n bars after t0.
func bar(n int, price float64, mas, slopes []float64, vol, strength float64, levels []float64) *types.FeatureRecord {
	return &types.FeatureRecord{
		Instrument:    "TESTUSDT",
		Timeframe:     "15m",
		Price:         price,
		MAs:           mas,
		Slopes:        slopes,
		Volatility:    vol,
		TrendStrength: strength,
		Levels:        levels,
		BarTime:       t0.Add(time.Duration(n) * 15 * time.Minute),
	}
}

func TestTransitionLadder(t *testing.T) {
	m := NewMachine()
	th := config.DefaultGateThresholds()

	flatMAs := []float64{100, 101, 102} // fast below slow: no alignment
	upSlopes := []float64{0.5, 0.2, 0.1}

	steps := []struct {
		f    *types.FeatureRecord
		want types.State
	}{
		// below fast anchor: stay flat
		{bar(1, 99, flatMAs, upSlopes, 1.0, 0.5, nil), types.StateFlat},
		// cross above fast anchor with positive slope: S1
		{bar(2, 100.5, flatMAs, upSlopes, 1.0, 0.5, nil), types.StateEarly},
		// cross above breakout anchor: S2
		{bar(3, 101.5, flatMAs, upSlopes, 1.0, 0.5, nil), types.StateBreakout},
		// full alignment: S3
		{bar(4, 106, []float64{105, 104, 103}, upSlopes, 1.0, 0.7, nil), types.StateAligned},
		// below breakout anchor, alignment lost: revert to S2
		{bar(5, 103.5, []float64{104, 104.5, 103}, upSlopes, 1.0, 0.5, nil), types.StateBreakout},
		// below breakout anchor again: revert to S1
		{bar(6, 103.2, []float64{104, 104.5, 103}, upSlopes, 1.0, 0.5, nil), types.StateEarly},
		// below terminal anchor: trend invalidated
		{bar(7, 102.5, []float64{104, 104.5, 103}, upSlopes, 1.0, 0.3, nil), types.StateFlat},
	}

	snap := types.StateSnapshot{}
	for i, step := range steps {
		var err error
		snap, _, err = m.Evaluate(snap, step.f, th)
		require.NoError(t, err, "step %d", i)
		require.Equal(t, step.want, snap.State, "step %d", i)
	}
}

func TestS0RequiresPositiveSlope(t *testing.T) {
	m := NewMachine()
	th := config.DefaultGateThresholds()

	// Above the fast anchor but with a falling short-term slope: no entry.
	f := bar(1, 100.5, []float64{100, 101, 102}, []float64{-0.1, 0.2, 0.1}, 1.0, 0.5, nil)
	snap, tr, err := m.Evaluate(types.StateSnapshot{}, f, th)
	require.NoError(t, err)
	require.False(t, tr.Occurred())
	require.Equal(t, types.StateFlat, snap.State)
}

func TestMalformedRecordSkipsCycle(t *testing.T) {
	m := NewMachine()
	th := config.DefaultGateThresholds()

	prev := types.StateSnapshot{State: types.StateBreakout, BarsInState: 4, LastBar: t0}

	cases := []*types.FeatureRecord{
		nil,
		{Price: 100, MAs: []float64{1, 2}, Slopes: []float64{0, 0}, BarTime: t0.Add(time.Hour)},
		bar(1, -5, []float64{100, 101, 102}, []float64{0, 0, 0}, 1, 0.5, nil),
	}
	for i, f := range cases {
		got, tr, err := m.Evaluate(prev, f, th)
		require.Error(t, err, "case %d", i)
		require.Equal(t, prev, got, "case %d: snapshot must be retained", i)
		require.False(t, tr.Occurred(), "case %d", i)
	}
}

func TestStaleBarRejected(t *testing.T) {
	m := NewMachine()
	th := config.DefaultGateThresholds()

	prev := types.StateSnapshot{State: types.StateEarly, LastBar: t0.Add(time.Hour)}
	f := bar(1, 103, []float64{100, 101, 102}, []float64{0.1, 0.1, 0.1}, 1, 0.5, nil) // older than LastBar

	got, _, err := m.Evaluate(prev, f, th)
	require.ErrorIs(t, err, ErrStaleBar)
	require.Equal(t, prev, got)
}

func TestDeterminism(t *testing.T) {
	th := config.DefaultGateThresholds()

	run := func() []types.StateSnapshot {
		m := NewMachine()
		snap := types.StateSnapshot{}
		var out []types.StateSnapshot
		mas := []float64{100, 101, 102}
		for i := 1; i <= 40; i++ {
			price := 98 + float64(i)*0.35
			if i > 25 {
				mas = []float64{105, 104, 103}
			}
			f := bar(i, price, mas, []float64{0.2, 0.1, 0.05}, 1.0, 0.55, []float64{104, 110})
			next, _, err := m.Evaluate(snap, f, th)
			if err == nil {
				snap = next
			}
			out = append(out, snap)
		}
		return out
	}

	require.Equal(t, run(), run(), "identical input sequence must produce identical states and flags")
}

func TestEmergencyAndReclaim(t *testing.T) {
	m := NewMachine()
	th := config.DefaultGateThresholds()

	alignedMAs := []float64{105, 104, 103}
	slopes := []float64{0.1, 0.1, 0.05}

	snap := types.StateSnapshot{State: types.StateAligned, StateEntryBar: t0, LastBar: t0}

	// Price pierces the terminal anchor while the stack is still aligned:
	// emergency flag, state holds.
	snap, tr, err := m.Evaluate(snap, bar(1, 102.5, alignedMAs, slopes, 1.0, 0.6, nil), th)
	require.NoError(t, err)
	require.False(t, tr.Occurred())
	require.Equal(t, types.StateAligned, snap.State)
	require.True(t, snap.EmergencyExit)
	require.True(t, snap.EmergencyArmed)

	// Recovery above the terminal anchor: reclaim fires once, arm clears.
	snap, _, err = m.Evaluate(snap, bar(2, 103.5, alignedMAs, slopes, 1.0, 0.6, nil), th)
	require.NoError(t, err)
	require.False(t, snap.EmergencyExit)
	require.True(t, snap.ReclaimFlag)
	require.False(t, snap.EmergencyArmed)

	// Next bar: no reclaim repeat.
	snap, _, err = m.Evaluate(snap, bar(3, 103.6, alignedMAs, slopes, 1.0, 0.6, nil), th)
	require.NoError(t, err)
	require.False(t, snap.ReclaimFlag)
}

func TestTerminalBreakWithBrokenAlignmentClosesFromS3(t *testing.T) {
	m := NewMachine()
	th := config.DefaultGateThresholds()

	snap := types.StateSnapshot{State: types.StateAligned, StateEntryBar: t0, LastBar: t0}
	// Below terminal and alignment gone: S0.
	f := bar(1, 102.5, []float64{103.5, 104, 103}, []float64{-0.2, -0.1, 0}, 1.0, 0.3, nil)
	snap, tr, err := m.Evaluate(snap, f, th)
	require.NoError(t, err)
	require.Equal(t, types.Transition{From: types.StateAligned, To: types.StateFlat}, tr)
	require.False(t, snap.EmergencyArmed, "arm must clear on S0")
}

func TestTrimFlag(t *testing.T) {
	m := NewMachine()
	th := config.DefaultGateThresholds()

	alignedMAs := []float64{105, 104, 103}
	slopes := []float64{0.1, 0.1, 0.05}
	snap := types.StateSnapshot{State: types.StateAligned, StateEntryBar: t0, LastBar: t0}

	// Stretched 2.5 vol units above the fast MA (ox ≈ 0.83) with resistance
	// 0.5 vol away: trim.
	f := bar(1, 107.5, alignedMAs, slopes, 1.0, 0.6, []float64{108})
	got, _, err := m.Evaluate(snap, f, th)
	require.NoError(t, err)
	require.Greater(t, got.ExhaustionScore, th.TrimExhaustion)
	require.True(t, got.TrimFlag)

	// Same stretch but no resistance nearby: no trim.
	f2 := bar(2, 107.5, alignedMAs, slopes, 1.0, 0.6, []float64{120})
	got2, _, err := m.Evaluate(got, f2, th)
	require.NoError(t, err)
	require.False(t, got2.TrimFlag)
}

func TestDipFlag(t *testing.T) {
	m := NewMachine()
	th := config.DefaultGateThresholds()

	alignedMAs := []float64{105, 104.5, 103}
	slopes := []float64{0.1, 0.1, 0.05}
	snap := types.StateSnapshot{State: types.StateAligned, StateEntryBar: t0, LastBar: t0}

	// Pullback well below the fast MA, still above the breakout anchor, with
	// support right under price.
	f := bar(1, 104.6, alignedMAs, slopes, 0.5, 0.6, []float64{104.5})
	got, _, err := m.Evaluate(snap, f, th)
	require.NoError(t, err)
	require.Greater(t, got.DipScore, th.DipMin)
	require.True(t, got.BuyFlag)
}
