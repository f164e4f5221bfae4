package exec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/trendpilot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PAPER VENUE - simulated fills with slippage and fees
// ═══════════════════════════════════════════════════════════════════════════════

// BookView resolves intent fractions into absolute amounts. Implemented by
// the engine over its own position book.
type BookView interface {
	Quantity(positionID string) decimal.Decimal
	RemainingCapital(positionID string) decimal.Decimal
}

// QuoteFunc returns the current price for an instrument/timeframe.
type QuoteFunc func(instrument, timeframe string) (decimal.Decimal, bool)

// PaperConfig holds simulation settings.
type PaperConfig struct {
	SlippageBps int           // adverse price movement per fill
	FeeBps      int           // taker fee on notional
	Latency     time.Duration // simulated venue round-trip
}

func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		SlippageBps: 10,
		FeeBps:      10,
		Latency:     50 * time.Millisecond,
	}
}

// Paper simulates a venue: every accepted intent fills fully after a short
// latency, buys paying slightly more and sells receiving slightly less.
type Paper struct {
	config  PaperConfig
	book    BookView
	quote   QuoteFunc
	results chan types.ExecResult

	mu          sync.Mutex
	totalFills  int64
	totalVolume decimal.Decimal
}

func NewPaper(config PaperConfig, book BookView, quote QuoteFunc) *Paper {
	log.Info().
		Int("slippage_bps", config.SlippageBps).
		Int("fee_bps", config.FeeBps).
		Dur("latency", config.Latency).
		Msg("⚡ Paper executor initialized")
	return &Paper{
		config:  config,
		book:    book,
		quote:   quote,
		results: make(chan types.ExecResult, 256),
	}
}

func (p *Paper) Results() <-chan types.ExecResult { return p.results }

// Prepare rejects intents the venue could never fill.
func (p *Paper) Prepare(ctx context.Context, intent types.Intent) error {
	if intent.SizeFraction.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("non-positive size fraction %s", intent.SizeFraction)
	}
	if _, ok := p.quote(intent.Instrument, intent.Timeframe); !ok {
		return fmt.Errorf("no quote for %s/%s", intent.Instrument, intent.Timeframe)
	}
	return nil
}

// Execute fills asynchronously. The result lands on the Results channel.
func (p *Paper) Execute(ctx context.Context, intent types.Intent) error {
	go p.fill(ctx, intent)
	return nil
}

func (p *Paper) fill(ctx context.Context, intent types.Intent) {
	select {
	case <-time.After(p.config.Latency):
	case <-ctx.Done():
		p.emit(types.ExecResult{
			IntentID:   intent.ID,
			PositionID: intent.PositionID,
			Status:     types.ResultSkipped,
			Reason:     "context cancelled",
			Timestamp:  time.Now(),
		})
		return
	}

	mark, ok := p.quote(intent.Instrument, intent.Timeframe)
	if !ok || mark.LessThanOrEqual(decimal.Zero) {
		p.emit(types.ExecResult{
			IntentID:   intent.ID,
			PositionID: intent.PositionID,
			Status:     types.ResultError,
			Reason:     "quote unavailable at fill time",
			Timestamp:  time.Now(),
		})
		return
	}

	buying := intent.Action == types.ActionAdd
	fillPrice := p.slip(mark, buying)

	var qtyDelta decimal.Decimal
	switch intent.Denominator {
	case types.DenomRemainingCapacity:
		notional := p.book.RemainingCapital(intent.PositionID).Mul(intent.SizeFraction)
		if notional.LessThanOrEqual(decimal.Zero) {
			p.skip(intent, "no remaining capacity")
			return
		}
		qtyDelta = notional.Div(fillPrice)
	case types.DenomHoldings:
		held := p.book.Quantity(intent.PositionID)
		if held.LessThanOrEqual(decimal.Zero) {
			p.skip(intent, "nothing held to reduce")
			return
		}
		qtyDelta = held.Mul(intent.SizeFraction).Neg()
	default:
		p.skip(intent, "unknown denominator")
		return
	}

	notional := qtyDelta.Abs().Mul(fillPrice)
	fees := notional.Mul(decimal.NewFromInt(int64(p.config.FeeBps))).Div(decimal.NewFromInt(10000))

	p.mu.Lock()
	p.totalFills++
	p.totalVolume = p.totalVolume.Add(notional)
	p.mu.Unlock()

	log.Info().
		Str("intent", intent.ID).
		Str("action", string(intent.Action)).
		Str("fill_price", fillPrice.StringFixed(4)).
		Str("qty_delta", qtyDelta.StringFixed(6)).
		Msg("✅ Filled (PAPER)")

	p.emit(types.ExecResult{
		IntentID:   intent.ID,
		PositionID: intent.PositionID,
		Status:     types.ResultSuccess,
		QtyDelta:   qtyDelta,
		Price:      fillPrice,
		Fees:       fees,
		Timestamp:  time.Now(),
	})
}

// slip moves the fill price against the taker.
func (p *Paper) slip(mark decimal.Decimal, buying bool) decimal.Decimal {
	slippage := decimal.NewFromInt(int64(p.config.SlippageBps)).Div(decimal.NewFromInt(10000))
	if buying {
		return mark.Mul(decimal.NewFromInt(1).Add(slippage))
	}
	return mark.Mul(decimal.NewFromInt(1).Sub(slippage))
}

func (p *Paper) skip(intent types.Intent, reason string) {
	log.Debug().Str("intent", intent.ID).Str("reason", reason).Msg("Intent skipped")
	p.emit(types.ExecResult{
		IntentID:   intent.ID,
		PositionID: intent.PositionID,
		Status:     types.ResultSkipped,
		Reason:     reason,
		Timestamp:  time.Now(),
	})
}

func (p *Paper) emit(res types.ExecResult) {
	select {
	case p.results <- res:
	default:
		log.Error().Str("intent", res.IntentID).Msg("❌ Result channel full, dropping")
	}
}

// Stats returns fill counters for display.
func (p *Paper) Stats() (fills int64, volume decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalFills, p.totalVolume
}
