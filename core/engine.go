package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/trendpilot/episode"
	"github.com/web3guy0/trendpilot/exec"
	"github.com/web3guy0/trendpilot/feeds"
	"github.com/web3guy0/trendpilot/internal/config"
	"github.com/web3guy0/trendpilot/metrics"
	"github.com/web3guy0/trendpilot/overrides"
	"github.com/web3guy0/trendpilot/regime"
	"github.com/web3guy0/trendpilot/risk"
	"github.com/web3guy0/trendpilot/signal"
	"github.com/web3guy0/trendpilot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - central orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow per bar:
//   Provider → State Machine → {Episode Tracker, Decision Ladder} → Intent
//       → Executor (async) → ExecResult → position/history update
//
// One periodic schedule per timeframe. Positions within a tick run in
// parallel; each position's evaluate+decide+apply is serialized by its own
// lock, so concurrent schedules can never race a closure against a re-entry.
//
// ═══════════════════════════════════════════════════════════════════════════════

// residualEpsilon: closing with more than this much quantity left draws a
// warning (the failed exit is logged, closure proceeds regardless).
var residualEpsilon = decimal.NewFromFloat(1e-9)

// Persistence is the slice of the storage layer the engine touches. Nil
// disables persistence (tests, ephemeral runs).
type Persistence interface {
	SavePosition(pos *types.Position) error
	LoadPositions() ([]types.Position, error)
	AppendTradeEvents(events []types.TradeEvent) error
	ResolveTradeOutcomes(tradeID string, outcome float64) error
	SaveEpisode(ep *types.Episode) error
	OpenEpisodes(positionID string) ([]types.Episode, error)
	AppendClosedTrade(ct *types.ClosedTrade) error
	LoadOverrides() ([]types.Override, error)
}

// Notifier pushes human-facing updates (Telegram). Nil disables.
type Notifier interface {
	NotifyIntent(intent types.Intent)
	NotifyClosure(ct types.ClosedTrade)
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Config   *config.Config
	Provider feeds.Provider
	Executor exec.Executor
	Pending  *exec.Pending
	Store    *overrides.Store
	Tracker  *episode.Tracker
	Regime   *regime.Detector
	Breaker  *risk.CircuitBreaker
	Router   *config.ThresholdRouter
	Persist  Persistence
	Notifier Notifier
}

type Engine struct {
	mu sync.RWMutex

	cfg      *config.Config
	provider feeds.Provider
	executor exec.Executor
	pending  *exec.Pending
	store    *overrides.Store
	tracker  *episode.Tracker
	regime   *regime.Detector
	breaker  *risk.CircuitBreaker
	router   *config.ThresholdRouter
	persist  Persistence
	notifier Notifier

	machine *signal.Machine
	decider *Decider
	gates   map[string]*risk.Gate // per timeframe

	positions map[string]*types.Position
	locks     map[string]*sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewEngine(d Deps) *Engine {
	gates := make(map[string]*risk.Gate, len(d.Config.Timeframes))
	for tf, dur := range d.Config.Timeframes {
		gates[tf] = risk.NewGate(dur)
	}

	return &Engine{
		cfg:       d.Config,
		provider:  d.Provider,
		executor:  d.Executor,
		pending:   d.Pending,
		store:     d.Store,
		tracker:   d.Tracker,
		regime:    d.Regime,
		breaker:   d.Breaker,
		router:    d.Router,
		persist:   d.Persist,
		notifier:  d.Notifier,
		machine:   signal.NewMachine(),
		decider:   NewDecider(risk.NewSizer(), d.Store, d.Breaker),
		gates:     gates,
		positions: make(map[string]*types.Position),
		locks:     make(map[string]*sync.Mutex),
		stopCh:    make(chan struct{}),
	}
}

// Start recovers persisted state and launches the schedules.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	if err := e.recover(); err != nil {
		return err
	}

	for _, inst := range e.cfg.Instruments {
		for tf := range e.cfg.Timeframes {
			e.UpsertPosition(inst, tf)
		}
	}

	e.wg.Add(1)
	go e.resultLoop()

	e.wg.Add(1)
	go e.sweepLoop()

	for tf, interval := range e.cfg.Timeframes {
		e.wg.Add(1)
		go e.scheduleLoop(tf, interval)
	}

	log.Info().
		Int("positions", len(e.positions)).
		Int("timeframes", len(e.cfg.Timeframes)).
		Msg("⚡ Engine started")
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
	log.Info().Msg("Engine stopped")
}

// recover reloads positions, in-flight episodes, and the committed override
// set so a restart picks up exactly where the last run ended.
func (e *Engine) recover() error {
	if e.persist == nil {
		return nil
	}

	positions, err := e.persist.LoadPositions()
	if err != nil {
		return err
	}
	for i := range positions {
		pos := positions[i]
		if pos.History == nil {
			pos.History = types.ExecHistory{}
		}
		e.positions[pos.ID] = &pos
		e.locks[pos.ID] = &sync.Mutex{}

		eps, err := e.persist.OpenEpisodes(pos.ID)
		if err != nil {
			log.Warn().Err(err).Str("position", pos.ID).Msg("Episode recovery failed")
			continue
		}
		if len(eps) > 0 {
			e.tracker.Restore(pos.ID, eps)
		}
	}
	if len(positions) > 0 {
		log.Info().Int("count", len(positions)).Msg("📥 Positions recovered")
	}

	ovr, err := e.persist.LoadOverrides()
	if err != nil {
		log.Warn().Err(err).Msg("Override recovery failed, starting neutral")
	} else if len(ovr) > 0 {
		e.store.Replace(ovr)
	}
	return nil
}

// UpsertPosition ensures a watchlist position exists for the key.
func (e *Engine) UpsertPosition(instrument, timeframe string) *types.Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := instrument + "/" + timeframe
	if pos, ok := e.positions[id]; ok {
		return pos
	}
	pos := &types.Position{
		ID:            id,
		Instrument:    instrument,
		Venue:         e.cfg.Venue,
		Timeframe:     timeframe,
		Status:        types.StatusWatchlist,
		AllocationCap: e.cfg.DefaultAllocationCap,
		History:       types.ExecHistory{},
		CreatedAt:     time.Now(),
	}
	e.positions[id] = pos
	e.locks[id] = &sync.Mutex{}
	metrics.PositionsTracked.Set(float64(len(e.positions)))
	return pos
}

// ─────────────────────────────────────────────
// Schedules
// ─────────────────────────────────────────────

func (e *Engine) scheduleLoop(timeframe string, interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.Tick(timeframe)
		}
	}
}

// Tick evaluates every position of one timeframe. Positions are independent
// and run in parallel; the per-position lock is the atomic unit.
func (e *Engine) Tick(timeframe string) {
	e.mu.RLock()
	batch := make([]*types.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		if pos.Timeframe == timeframe {
			batch = append(batch, pos)
		}
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, pos := range batch {
		wg.Add(1)
		go func(p *types.Position) {
			defer wg.Done()
			e.processPosition(p)
		}(pos)
	}
	wg.Wait()
}

func (e *Engine) processPosition(pos *types.Position) {
	lock := e.lockFor(pos.ID)
	lock.Lock()
	defer lock.Unlock()

	f, err := e.provider.Latest(e.ctx, pos.Instrument, pos.Timeframe)
	if err != nil {
		metrics.CycleSkips.WithLabelValues("no_record").Inc()
		log.Debug().Err(err).Str("position", pos.ID).Msg("No feature record, cycle skipped")
		return
	}

	// Threshold overrides scale the gates before evaluation.
	pattern, cat := entryPatternForState(pos.Snapshot.State)
	preScope := e.scopeFor(pos)
	thMult := e.store.Current().Threshold(pattern, cat, preScope)
	th := e.router.Select(pos.Timeframe).Scaled(thMult)

	snap, tr, err := e.machine.Evaluate(pos.Snapshot, f, th)
	if err != nil {
		if errors.Is(err, signal.ErrStaleBar) {
			metrics.CycleSkips.WithLabelValues("stale_bar").Inc()
		} else {
			metrics.CycleSkips.WithLabelValues("bad_record").Inc()
			log.Warn().Err(err).Str("position", pos.ID).Msg("Feature record rejected")
		}
		return
	}
	pos.Snapshot = snap
	pos.UpdatedAt = time.Now()
	e.regime.Update(f, snap)

	if tr.Occurred() {
		metrics.StateTransitions.WithLabelValues(pos.Timeframe, tr.From.String(), tr.To.String()).Inc()
	}
	metrics.OverrideSetVersion.Set(float64(e.store.Current().Version))

	scope := e.scopeFor(pos)
	events := e.tracker.Observe(pos, tr, f, scope)
	e.persistLearning(pos, events, tr)

	// Closure: S0 is authoritative that the trade ended.
	if snap.State == types.StateFlat && pos.OpenTradeID != "" {
		e.liquidateAndClose(pos, f)
		return
	}

	a, ex := e.regime.Scores(pos.Instrument, pos.Timeframe)
	in := DecisionInput{
		Position:   pos,
		Feature:    f,
		Aggro:      a,
		ExitAssert: ex,
		Scope:      scope,
		Thresholds: th,
		Gate:       e.gates[pos.Timeframe],
	}

	if e.pending.Outstanding(pos.ID) {
		metrics.CycleSkips.WithLabelValues("intent_outstanding").Inc()
		return
	}
	if intent := e.decider.Decide(in); intent != nil {
		e.emit(*intent)
	}
}

func (e *Engine) persistLearning(pos *types.Position, events []types.TradeEvent, tr types.Transition) {
	if e.persist == nil {
		return
	}
	if len(events) > 0 {
		if err := e.persist.AppendTradeEvents(events); err != nil {
			log.Error().Err(err).Msg("Trade event append failed")
		} else {
			metrics.TradeEventsWritten.Add(float64(len(events)))
		}
	}
	if tr.Occurred() {
		for _, ep := range e.tracker.Open(pos.ID) {
			epCopy := ep
			if err := e.persist.SaveEpisode(&epCopy); err != nil {
				log.Error().Err(err).Str("episode", ep.ID).Msg("Episode persist failed")
			}
		}
	}
}

// emit registers and fires one intent. Caller holds the position lock.
func (e *Engine) emit(intent types.Intent) {
	if !e.pending.Register(intent) {
		return
	}
	if err := e.executor.Prepare(e.ctx, intent); err != nil {
		e.pending.Resolve(types.ExecResult{IntentID: intent.ID, PositionID: intent.PositionID})
		log.Warn().Err(err).Str("intent", intent.ID).Msg("Intent rejected at prepare")
		return
	}
	if err := e.executor.Execute(e.ctx, intent); err != nil {
		e.pending.Resolve(types.ExecResult{IntentID: intent.ID, PositionID: intent.PositionID})
		e.breaker.RecordExecError()
		log.Error().Err(err).Str("intent", intent.ID).Msg("Intent submission failed")
		return
	}

	metrics.IntentsEmitted.WithLabelValues(string(intent.Action)).Inc()
	log.Info().
		Str("intent", intent.ID).
		Str("position", intent.PositionID).
		Str("action", string(intent.Action)).
		Str("size", intent.SizeFraction.StringFixed(4)).
		Str("denominator", string(intent.Denominator)).
		Strs("reasons", intent.ReasonCodes).
		Msg("📤 Intent emitted")

	if e.notifier != nil {
		e.notifier.NotifyIntent(intent)
	}
}

// ─────────────────────────────────────────────
// Result application
// ─────────────────────────────────────────────

func (e *Engine) resultLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case res := <-e.executor.Results():
			e.applyResult(res)
		case res := <-e.pending.Expired():
			// Slot already cleared by the sweep; just count the error.
			e.breaker.RecordExecError()
			metrics.ResultsApplied.WithLabelValues(string(res.Status)).Inc()
		}
	}
}

func (e *Engine) sweepLoop() {
	defer e.wg.Done()

	interval := e.cfg.PendingTimeout / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.pending.Sweep(time.Now())
		}
	}
}

// applyResult is the only place position money fields mutate.
func (e *Engine) applyResult(res types.ExecResult) {
	pos := e.position(res.PositionID)
	if pos == nil {
		log.Warn().Str("position", res.PositionID).Msg("Result for unknown position dropped")
		return
	}

	lock := e.lockFor(pos.ID)
	lock.Lock()
	defer lock.Unlock()

	intent, ok := e.pending.Resolve(res)
	if !ok {
		log.Warn().
			Str("intent", res.IntentID).
			Str("position", res.PositionID).
			Msg("Late or unknown result dropped")
		return
	}
	metrics.ResultsApplied.WithLabelValues(string(res.Status)).Inc()

	switch res.Status {
	case types.ResultSuccess, types.ResultPartial:
		e.applyFill(pos, intent, res)
		e.breaker.RecordExecOK()
	case types.ResultSkipped:
		// Nothing executed, nothing to record.
	case types.ResultError:
		e.breaker.RecordExecError()
		log.Warn().
			Str("intent", res.IntentID).
			Str("reason", res.Reason).
			Msg("Execution failed")
	}
}

func (e *Engine) applyFill(pos *types.Position, intent types.Intent, res types.ExecResult) {
	if res.QtyDelta.IsZero() {
		return
	}

	if res.QtyDelta.IsPositive() {
		notional := res.QtyDelta.Mul(res.Price)

		// First executed entry opens the trade and resets the books.
		if pos.OpenTradeID == "" {
			pos.OpenTradeID = uuid.NewString()
			pos.Status = types.StatusActive
			pos.Allocated = decimal.Zero
			pos.Extracted = decimal.Zero
			pos.AvgEntryPrice = decimal.Zero
			pos.AvgExitPrice = decimal.Zero
			log.Info().
				Str("position", pos.ID).
				Str("trade", pos.OpenTradeID).
				Msg("🆕 Trade opened")
		}

		newQty := pos.Quantity.Add(res.QtyDelta)
		pos.AvgEntryPrice = pos.AvgEntryPrice.Mul(pos.Quantity).
			Add(res.Price.Mul(res.QtyDelta)).
			Div(newQty)
		pos.Quantity = newQty
		pos.Allocated = pos.Allocated.Add(notional).Add(res.Fees)
	} else {
		sold := res.QtyDelta.Neg()
		notional := sold.Mul(res.Price)

		prevExitQty := decimal.Zero
		if pos.AvgExitPrice.IsPositive() {
			prevExitQty = pos.Extracted.Div(pos.AvgExitPrice)
		}
		pos.Extracted = pos.Extracted.Add(notional).Sub(res.Fees)
		totalExitQty := prevExitQty.Add(sold)
		if totalExitQty.IsPositive() {
			pos.AvgExitPrice = pos.AvgExitPrice.Mul(prevExitQty).
				Add(res.Price.Mul(sold)).
				Div(totalExitQty)
		}
		pos.Quantity = pos.Quantity.Sub(sold)
		if pos.Quantity.IsNegative() {
			pos.Quantity = decimal.Zero
		}
	}

	e.recordActionEvent(pos, intent, res)

	pos.History.Set(intent.Category, types.Mark{
		At:        res.Timestamp,
		Bar:       intent.BarTime,
		WindowBar: intent.WindowBar,
		TradeID:   pos.OpenTradeID,
		Level:     intent.Level,
	})
	pos.UpdatedAt = time.Now()

	if e.persist != nil {
		if err := e.persist.SavePosition(pos); err != nil {
			log.Error().Err(err).Str("position", pos.ID).Msg("Position persist failed")
		}
	}

	log.Info().
		Str("position", pos.ID).
		Str("category", string(intent.Category)).
		Str("qty_delta", res.QtyDelta.StringFixed(6)).
		Str("price", res.Price.StringFixed(4)).
		Str("quantity", pos.Quantity.StringFixed(6)).
		Msg("💰 Fill applied")
}

// recordActionEvent writes the learning log row for an executed trim or
// exit. Entry rows come from episode windows, which carry the gate context a
// bare fill does not have.
func (e *Engine) recordActionEvent(pos *types.Position, intent types.Intent, res types.ExecResult) {
	if e.persist == nil {
		return
	}
	switch intent.Action {
	case types.ActionTrim, types.ActionExit, types.ActionEmergencyExit:
	default:
		return
	}

	ev := types.TradeEvent{
		ID:         uuid.NewString(),
		TradeID:    intent.TradeID,
		PositionID: pos.ID,
		PatternKey: intent.PatternKey,
		Category:   intent.Category,
		Scope:      intent.Scope.Clone(),
		Acted:      true,
		At:         res.Timestamp,
	}
	if ev.TradeID == "" {
		ev.TradeID = pos.OpenTradeID
	}
	if ev.TradeID == "" {
		return
	}

	// A fill landing after its trade already closed misses the closure's
	// outcome back-fill; settle it against the entry price here.
	if ev.TradeID != pos.OpenTradeID && pos.AvgEntryPrice.IsPositive() && res.Price.IsPositive() {
		r, _ := res.Price.Sub(pos.AvgEntryPrice).Div(pos.AvgEntryPrice).Float64()
		ev.Outcome = r
		ev.OutcomeSet = true
	}

	if err := e.persist.AppendTradeEvents([]types.TradeEvent{ev}); err != nil {
		log.Error().Err(err).Str("intent", intent.ID).Msg("Action event append failed")
		return
	}
	metrics.TradeEventsWritten.Add(1)
}

// ─────────────────────────────────────────────
// Closure
// ─────────────────────────────────────────────

// liquidateAndClose fires a final full exit for whatever is still held and
// closes the trade's books immediately. Closure is keyed on the state, not
// on the quantity reaching zero. Caller holds the position lock.
func (e *Engine) liquidateAndClose(pos *types.Position, f *types.FeatureRecord) {
	if pos.Quantity.GreaterThan(residualEpsilon) && !e.pending.Outstanding(pos.ID) {
		exit := e.decider.intent(DecisionInput{
			Position: pos,
			Feature:  f,
			Scope:    e.scopeFor(pos),
		}, types.ActionExit, types.CatEmergency, patternExit,
			decimal.NewFromInt(1), types.DenomHoldings, types.UrgencyHigh,
			[]string{"trend_invalidated"})
		e.emit(*exit)
	}
	e.closeTrade(pos, decimal.NewFromFloat(f.Price))
}

// closeTrade is idempotent: the open trade id is the check-and-set guard.
// mark is the closing bar's price, used to value quantity whose liquidation
// fill has not arrived yet. Caller holds the position lock.
func (e *Engine) closeTrade(pos *types.Position, mark decimal.Decimal) {
	if pos.OpenTradeID == "" || pos.Status != types.StatusActive {
		return
	}

	if pos.Quantity.GreaterThan(residualEpsilon) {
		log.Warn().
			Str("position", pos.ID).
			Str("residual", pos.Quantity.StringFixed(6)).
			Msg("⚠️ Closing with residual quantity, liquidation still in flight")
	}

	outcome, known := tradeOutcome(pos, mark)
	ct := types.ClosedTrade{
		TradeID:       pos.OpenTradeID,
		PositionID:    pos.ID,
		Instrument:    pos.Instrument,
		Venue:         pos.Venue,
		Timeframe:     pos.Timeframe,
		AvgEntryPrice: pos.AvgEntryPrice,
		AvgExitPrice:  pos.AvgExitPrice,
		Allocated:     pos.Allocated,
		Extracted:     pos.Extracted,
		Outcome:       outcome,
		OutcomeKnown:  known,
		OpenedAt:      pos.CreatedAt,
		ClosedAt:      time.Now(),
	}

	tradeID := pos.OpenTradeID
	pos.OpenTradeID = ""
	pos.Status = types.StatusWatchlist
	pos.UpdatedAt = time.Now()

	if e.persist != nil {
		if err := e.persist.AppendClosedTrade(&ct); err != nil {
			log.Error().Err(err).Str("trade", tradeID).Msg("Closed trade append failed")
		}
		if known {
			if err := e.persist.ResolveTradeOutcomes(tradeID, outcome); err != nil {
				log.Error().Err(err).Str("trade", tradeID).Msg("Outcome resolution failed")
			}
		}
		if err := e.persist.SavePosition(pos); err != nil {
			log.Error().Err(err).Str("position", pos.ID).Msg("Position persist failed")
		}
	}
	if known {
		e.breaker.RecordClosure(outcome > 0)
	}
	metrics.TradesClosed.Inc()

	log.Info().
		Str("position", pos.ID).
		Str("trade", tradeID).
		Float64("outcome", outcome).
		Bool("outcome_known", known).
		Msg("📕 Trade closed")

	if e.notifier != nil {
		e.notifier.NotifyClosure(ct)
	}
}

// tradeOutcome computes the trade's outcome metric from weighted entry/exit
// prices, falling back to the value flow. Quantity still held at close is
// marked to the closing bar — the liquidation fill is in flight and must not
// turn a profitable trade into a recorded total loss. (false, 0) means
// neither path could be computed; no event outcome is written in that case.
func tradeOutcome(pos *types.Position, mark decimal.Decimal) (float64, bool) {
	exitValue := pos.Extracted
	exitQty := decimal.Zero
	if pos.AvgExitPrice.IsPositive() {
		exitQty = pos.Extracted.Div(pos.AvgExitPrice)
	}
	if pos.Quantity.GreaterThan(residualEpsilon) && mark.IsPositive() {
		exitValue = exitValue.Add(pos.Quantity.Mul(mark))
		exitQty = exitQty.Add(pos.Quantity)
	}

	if pos.AvgEntryPrice.IsPositive() && exitQty.IsPositive() {
		avgExit := exitValue.Div(exitQty)
		r, _ := avgExit.Sub(pos.AvgEntryPrice).Div(pos.AvgEntryPrice).Float64()
		return r, true
	}
	if pos.Allocated.IsPositive() {
		r, _ := exitValue.Sub(pos.Allocated).Div(pos.Allocated).Float64()
		return r, true
	}
	return 0, false
}

// ─────────────────────────────────────────────
// Lookups
// ─────────────────────────────────────────────

func (e *Engine) position(id string) *types.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.positions[id]
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// scopeFor builds the full lookup scope for a position's current context.
func (e *Engine) scopeFor(pos *types.Position) types.Scope {
	capF, _ := pos.AllocationCap.Float64()
	return types.Scope{
		types.DimTimeframe: pos.Timeframe,
		types.DimVenue:     pos.Venue,
		types.DimBucket:    types.LiquidityBucket(capF),
		types.DimState:     pos.Snapshot.State.String(),
		types.DimRegime:    e.regime.Band(pos.Instrument, pos.Timeframe),
	}
}

// Quantity implements exec.BookView.
func (e *Engine) Quantity(positionID string) decimal.Decimal {
	if pos := e.position(positionID); pos != nil {
		return pos.Quantity
	}
	return decimal.Zero
}

// RemainingCapital implements exec.BookView.
func (e *Engine) RemainingCapital(positionID string) decimal.Decimal {
	if pos := e.position(positionID); pos != nil {
		return pos.RemainingCapacity()
	}
	return decimal.Zero
}

// Positions returns a snapshot of the book for display.
func (e *Engine) Positions() []types.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]types.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, *pos)
	}
	return out
}
