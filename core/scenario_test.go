package core

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/trendpilot/types"
)

type fakePersist struct {
	mu            sync.Mutex
	events        []types.TradeEvent
	resolvedTrade string
	resolvedValue float64
	resolvedCalls int
	closed        []types.ClosedTrade
}

func (p *fakePersist) SavePosition(*types.Position) error { return nil }
func (p *fakePersist) LoadPositions() ([]types.Position, error) {
	return nil, nil
}
func (p *fakePersist) AppendTradeEvents(events []types.TradeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}
func (p *fakePersist) ResolveTradeOutcomes(tradeID string, outcome float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolvedTrade = tradeID
	p.resolvedValue = outcome
	p.resolvedCalls++
	return nil
}
func (p *fakePersist) SaveEpisode(*types.Episode) error { return nil }
func (p *fakePersist) OpenEpisodes(string) ([]types.Episode, error) {
	return nil, nil
}
func (p *fakePersist) AppendClosedTrade(ct *types.ClosedTrade) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, *ct)
	return nil
}
func (p *fakePersist) LoadOverrides() ([]types.Override, error) { return nil, nil }

func (p *fakePersist) byPattern(key string) []types.TradeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.TradeEvent
	for _, ev := range p.events {
		if ev.PatternKey == key {
			out = append(out, ev)
		}
	}
	return out
}

// Full lifecycle through the real state machine: S1 entry, S2 breakout, S3
// alignment, exhaustion trim near resistance, then trend invalidation and
// closure with the outcome back-filled onto the event log.
func TestEndToEndTrendRide(t *testing.T) {
	fx := newEngineFixture(t)
	e := fx.engine
	persist := &fakePersist{}
	e.persist = persist

	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	bar := func(h int, price float64, mas [3]float64, vol float64, levels ...float64) *types.FeatureRecord {
		return &types.FeatureRecord{
			Instrument:    "BTC-USD",
			Timeframe:     "1h",
			Price:         price,
			MAs:           []float64{mas[0], mas[1], mas[2]},
			Slopes:        []float64{0.5, 0.2, 0.1},
			Volatility:    vol,
			TrendStrength: 0.7,
			Levels:        levels,
			BarTime:       t0.Add(time.Duration(h) * time.Hour),
		}
	}

	fx.replay.Load("BTC-USD", "1h", []*types.FeatureRecord{
		bar(0, 101, [3]float64{100, 98, 95}, 2),         // S0→S1, entry gate open
		bar(1, 103, [3]float64{101, 99, 95}, 2),         // S1→S2, no gate
		bar(2, 106, [3]float64{104, 100, 96}, 2),        // S2→S3, calm
		bar(3, 108.2, [3]float64{104, 100, 96}, 2, 109), // exhaustion at resistance → trim
		bar(4, 90, [3]float64{96, 97, 98}, 2),           // alignment broken below terminal → S0
	})

	pos := e.UpsertPosition("BTC-USD", "1h")
	step := func() {
		require.True(t, fx.replay.Advance("BTC-USD", "1h"))
		e.processPosition(pos)
	}

	// Bar 0: entry.
	step()
	require.Equal(t, types.StateEarly, pos.Snapshot.State)
	intents := fx.executor.recorded()
	require.Len(t, intents, 1)
	require.Equal(t, types.ActionAdd, intents[0].Action)

	e.applyResult(types.ExecResult{
		IntentID:   intents[0].ID,
		PositionID: pos.ID,
		Status:     types.ResultSuccess,
		QtyDelta:   decimal.NewFromInt(3),
		Price:      decimal.NewFromFloat(100.5),
		Timestamp:  t0.Add(time.Minute),
	})
	tradeID := pos.OpenTradeID
	require.NotEmpty(t, tradeID)

	// Bars 1-2: breakout then alignment, no action.
	step()
	require.Equal(t, types.StateBreakout, pos.Snapshot.State)
	step()
	require.Equal(t, types.StateAligned, pos.Snapshot.State)
	require.Len(t, fx.executor.recorded(), 1, "no intent through the quiet climb")

	// The resolved S1 episode produced one acted event awaiting its outcome.
	require.NotEmpty(t, persist.events)
	entryEvent := persist.events[0]
	require.True(t, entryEvent.Acted)
	require.False(t, entryEvent.OutcomeSet)
	require.Equal(t, tradeID, entryEvent.TradeID)

	// Bar 3: overbought into resistance → one trim, capped at half.
	step()
	intents = fx.executor.recorded()
	require.Len(t, intents, 2)
	trim := intents[1]
	require.Equal(t, types.ActionTrim, trim.Action)
	require.True(t, trim.SizeFraction.LessThanOrEqual(decimal.NewFromFloat(0.5)))

	e.applyResult(types.ExecResult{
		IntentID:   trim.ID,
		PositionID: pos.ID,
		Status:     types.ResultSuccess,
		QtyDelta:   decimal.NewFromInt(-1),
		Price:      decimal.NewFromInt(108),
		Timestamp:  t0.Add(3*time.Hour + time.Minute),
	})
	require.True(t, pos.Quantity.Equal(decimal.NewFromInt(2)))

	// The executed trim has its own learning row, outcome pending until the
	// trade closes.
	trimEvents := persist.byPattern(patternS3Trim)
	require.Len(t, trimEvents, 1)
	require.True(t, trimEvents[0].Acted)
	require.False(t, trimEvents[0].OutcomeSet)
	require.Equal(t, tradeID, trimEvents[0].TradeID)

	// Bar 4: trend invalidated → liquidation intent and immediate closure.
	step()
	require.Equal(t, types.StateFlat, pos.Snapshot.State)
	require.Empty(t, pos.OpenTradeID)

	intents = fx.executor.recorded()
	require.Len(t, intents, 3)
	require.Equal(t, types.ActionExit, intents[2].Action)

	require.Len(t, persist.closed, 1)
	require.True(t, persist.closed[0].OutcomeKnown)
	require.Equal(t, 1, persist.resolvedCalls)
	require.Equal(t, tradeID, persist.resolvedTrade)
	// Entered 3 at 100.5; one unit trimmed at 108, the residual two marked to
	// the closing bar at 90: weighted exit (108 + 2×90)/3 = 96.
	require.InDelta(t, (96.0-100.5)/100.5, persist.resolvedValue, 1e-9)

	// The liquidation fill lands after the books closed; its learning row is
	// settled against the entry price on the spot.
	e.applyResult(types.ExecResult{
		IntentID:   intents[2].ID,
		PositionID: pos.ID,
		Status:     types.ResultSuccess,
		QtyDelta:   decimal.NewFromInt(-2),
		Price:      decimal.NewFromInt(90),
		Timestamp:  t0.Add(4*time.Hour + time.Minute),
	})
	require.True(t, pos.Quantity.IsZero())

	exitEvents := persist.byPattern(patternExit)
	require.Len(t, exitEvents, 1)
	require.True(t, exitEvents[0].Acted)
	require.True(t, exitEvents[0].OutcomeSet)
	require.InDelta(t, (90.0-100.5)/100.5, exitEvents[0].Outcome, 1e-9)
	require.Equal(t, tradeID, exitEvents[0].TradeID)
}
