package exec

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/trendpilot/types"
)

type fakeBook struct {
	qty     decimal.Decimal
	capital decimal.Decimal
}

func (b *fakeBook) Quantity(string) decimal.Decimal         { return b.qty }
func (b *fakeBook) RemainingCapital(string) decimal.Decimal { return b.capital }

func fixedQuote(price float64) QuoteFunc {
	return func(string, string) (decimal.Decimal, bool) {
		return decimal.NewFromFloat(price), true
	}
}

func await(t *testing.T, ch <-chan types.ExecResult) types.ExecResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no result arrived")
		return types.ExecResult{}
	}
}

func TestPaperBuyFillsWithSlippageAndFees(t *testing.T) {
	book := &fakeBook{capital: decimal.NewFromInt(1000)}
	p := NewPaper(PaperConfig{SlippageBps: 10, FeeBps: 10, Latency: time.Millisecond}, book, fixedQuote(100))

	intent := types.Intent{
		ID:           "i1",
		PositionID:   "p1",
		Action:       types.ActionAdd,
		SizeFraction: decimal.NewFromFloat(0.2),
		Denominator:  types.DenomRemainingCapacity,
	}
	require.NoError(t, p.Prepare(context.Background(), intent))
	require.NoError(t, p.Execute(context.Background(), intent))

	res := await(t, p.Results())
	require.Equal(t, types.ResultSuccess, res.Status)
	require.Equal(t, "i1", res.IntentID)

	// 0.2 × 1000 = 200 notional at 100×1.001 slipped.
	wantPrice := decimal.NewFromFloat(100.1)
	require.True(t, res.Price.Equal(wantPrice), "price %s", res.Price)
	wantQty := decimal.NewFromInt(200).Div(wantPrice)
	require.True(t, res.QtyDelta.Equal(wantQty), "qty %s", res.QtyDelta)
	// 200 notional × 10bps, modulo division precision on the quantity.
	require.InDelta(t, 0.2, res.Fees.InexactFloat64(), 1e-9)
}

func TestPaperTrimSellsNegativeDelta(t *testing.T) {
	book := &fakeBook{qty: decimal.NewFromInt(10)}
	p := NewPaper(PaperConfig{SlippageBps: 0, FeeBps: 0, Latency: time.Millisecond}, book, fixedQuote(50))

	intent := types.Intent{
		ID:           "i2",
		PositionID:   "p1",
		Action:       types.ActionTrim,
		SizeFraction: decimal.NewFromFloat(0.5),
		Denominator:  types.DenomHoldings,
	}
	require.NoError(t, p.Execute(context.Background(), intent))

	res := await(t, p.Results())
	require.Equal(t, types.ResultSuccess, res.Status)
	require.True(t, res.QtyDelta.Equal(decimal.NewFromInt(-5)), "qty %s", res.QtyDelta)
}

func TestPaperSkipsEmptyPosition(t *testing.T) {
	book := &fakeBook{}
	p := NewPaper(PaperConfig{Latency: time.Millisecond}, book, fixedQuote(50))

	intent := types.Intent{
		ID:           "i3",
		PositionID:   "p1",
		Action:       types.ActionExit,
		SizeFraction: decimal.NewFromInt(1),
		Denominator:  types.DenomHoldings,
	}
	require.NoError(t, p.Execute(context.Background(), intent))

	res := await(t, p.Results())
	require.Equal(t, types.ResultSkipped, res.Status)
	require.True(t, res.QtyDelta.IsZero())
}

func TestPendingTimeoutSweep(t *testing.T) {
	pending := NewPending(time.Minute)

	intent := types.Intent{ID: "i1", PositionID: "p1"}
	require.True(t, pending.Register(intent))
	require.False(t, pending.Register(types.Intent{ID: "i2", PositionID: "p1"}),
		"second intent blocked while one outstanding")
	require.True(t, pending.Outstanding("p1"))

	// Not yet expired.
	require.Zero(t, pending.Sweep(time.Now()))

	// Past the timeout: expired, slot freed, error result emitted.
	require.Equal(t, 1, pending.Sweep(time.Now().Add(2*time.Minute)))
	require.False(t, pending.Outstanding("p1"))

	res := await(t, pending.Expired())
	require.Equal(t, types.ResultError, res.Status)
	require.Equal(t, "timeout", res.Reason)
	require.Equal(t, "i1", res.IntentID)

	// The late real result must be dropped, never double-applied.
	_, ok := pending.Resolve(types.ExecResult{IntentID: "i1", PositionID: "p1"})
	require.False(t, ok)
}

func TestPendingResolve(t *testing.T) {
	pending := NewPending(time.Minute)
	require.True(t, pending.Register(types.Intent{ID: "i1", PositionID: "p1"}))

	// A result for a different intent id does not clear the slot.
	_, ok := pending.Resolve(types.ExecResult{IntentID: "other", PositionID: "p1"})
	require.False(t, ok)
	require.True(t, pending.Outstanding("p1"))

	intent, ok := pending.Resolve(types.ExecResult{IntentID: "i1", PositionID: "p1"})
	require.True(t, ok)
	require.Equal(t, "i1", intent.ID)
	require.False(t, pending.Outstanding("p1"))
}
