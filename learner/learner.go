package learner

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/trendpilot/metrics"
	"github.com/web3guy0/trendpilot/overrides"
	"github.com/web3guy0/trendpilot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LEARNER - periodic batch job: event log → lessons → override set
// ═══════════════════════════════════════════════════════════════════════════════
//
// Runs far off the hot per-bar path. A failed pass is non-fatal: the
// previously committed override set stays in effect and the pass is retried
// on the next tick.
//
// ═══════════════════════════════════════════════════════════════════════════════

// EventSource yields a consistent snapshot of the resolved trade event log.
type EventSource interface {
	TradeEvents(ctx context.Context) ([]types.TradeEvent, error)
}

// LessonSink persists mined artifacts before they go live. Persist errors
// abort the swap so disk and memory never disagree.
type LessonSink interface {
	ReplaceLessons(ctx context.Context, lessons []types.Lesson) error
	ReplaceOverrides(ctx context.Context, ovr []types.Override) error
}

type Learner struct {
	source   EventSource
	sink     LessonSink
	store    *overrides.Store
	miner    *Miner
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(source EventSource, sink LessonSink, store *overrides.Store, miner *Miner, interval time.Duration) *Learner {
	return &Learner{
		source:   source,
		sink:     sink,
		store:    store,
		miner:    miner,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the batch loop. One pass runs immediately so a restart
// doesn't wait a full interval to repopulate the override set.
func (l *Learner) Start(ctx context.Context) {
	log.Info().Dur("interval", l.interval).Msg("🧠 Learner started")
	go l.loop(ctx)
}

func (l *Learner) Stop() {
	close(l.stopCh)
	<-l.doneCh
	log.Info().Msg("Learner stopped")
}

func (l *Learner) loop(ctx context.Context) {
	defer close(l.doneCh)

	l.runOnce(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runOnce(ctx)
		}
	}
}

// runOnce executes one full mine-materialize-swap pass.
func (l *Learner) runOnce(ctx context.Context) {
	events, err := l.source.TradeEvents(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Learner pass aborted: event log read failed")
		return
	}

	lessons := l.miner.Mine(events, time.Now())
	ovr := overrides.Materialize(lessons, l.miner.minEdge)
	metrics.LessonsMined.Set(float64(len(lessons)))

	if l.sink != nil {
		if err := l.sink.ReplaceLessons(ctx, lessons); err != nil {
			log.Error().Err(err).Msg("Learner pass aborted: lesson persist failed")
			return
		}
		if err := l.sink.ReplaceOverrides(ctx, ovr); err != nil {
			log.Error().Err(err).Msg("Learner pass aborted: override persist failed")
			return
		}
	}

	l.store.Replace(ovr)
}
