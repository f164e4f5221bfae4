package feeds

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/web3guy0/trendpilot/types"
)

func rec(at time.Time, price float64) *types.FeatureRecord {
	return &types.FeatureRecord{
		Instrument: "BTC-USD",
		Timeframe:  "1h",
		Price:      price,
		MAs:        []float64{price, price, price},
		Slopes:     []float64{0, 0, 0},
		BarTime:    at,
	}
}

func TestReplayServesBarsInOrder(t *testing.T) {
	r := NewReplay()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// Nothing loaded, nothing served.
	_, err := r.Latest(ctx, "BTC-USD", "1h")
	require.ErrorIs(t, err, ErrNoRecord)

	r.Load("BTC-USD", "1h", []*types.FeatureRecord{
		rec(t0, 100),
		rec(t0.Add(time.Hour), 101),
	})

	// Cursor starts before the first bar.
	_, err = r.Latest(ctx, "BTC-USD", "1h")
	require.ErrorIs(t, err, ErrNoRecord)

	require.True(t, r.Advance("BTC-USD", "1h"))
	got, err := r.Latest(ctx, "BTC-USD", "1h")
	require.NoError(t, err)
	require.Equal(t, 100.0, got.Price)

	// Latest is idempotent between advances.
	again, err := r.Latest(ctx, "BTC-USD", "1h")
	require.NoError(t, err)
	require.Equal(t, got, again)

	require.True(t, r.Advance("BTC-USD", "1h"))
	got, err = r.Latest(ctx, "BTC-USD", "1h")
	require.NoError(t, err)
	require.Equal(t, 101.0, got.Price)

	require.False(t, r.Advance("BTC-USD", "1h"), "script exhausted")
}

func TestStreamKeepsNewerBarOnOutOfOrderDelivery(t *testing.T) {
	s := NewStream("ws://unused")
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	newer := rec(t0.Add(time.Hour), 101)
	newer.Volatility = 1
	newer.TrendStrength = 0.5
	older := rec(t0, 100)
	older.Volatility = 1
	older.TrendStrength = 0.5

	s.handleMessage(mustJSON(t, newer))
	s.handleMessage(mustJSON(t, older)) // stale, must not clobber

	got, err := s.Latest(context.Background(), "BTC-USD", "1h")
	require.NoError(t, err)
	require.Equal(t, 101.0, got.Price)
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
