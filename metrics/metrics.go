package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// METRICS - prometheus counters for the decision pipeline
// ═══════════════════════════════════════════════════════════════════════════════

var (
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendpilot_state_transitions_total",
		Help: "State machine edges taken, by timeframe and edge.",
	}, []string{"timeframe", "from", "to"})

	CycleSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendpilot_cycle_skips_total",
		Help: "Evaluation cycles skipped, by reason.",
	}, []string{"reason"})

	IntentsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendpilot_intents_emitted_total",
		Help: "Intents handed to the executor, by action.",
	}, []string{"action"})

	ResultsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendpilot_exec_results_total",
		Help: "Executor results applied, by status.",
	}, []string{"status"})

	TradeEventsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trendpilot_trade_events_written_total",
		Help: "Learning events appended to the log.",
	})

	TradesClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trendpilot_trades_closed_total",
		Help: "Trades closed on reaching the flat state.",
	})

	OverrideSetVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trendpilot_override_set_version",
		Help: "Version of the live override set.",
	})

	LessonsMined = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trendpilot_lessons_mined",
		Help: "Lessons produced by the last mining pass.",
	})

	PositionsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trendpilot_positions_tracked",
		Help: "Positions currently tracked across all timeframes.",
	})
)

// Serve exposes /metrics on addr. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("📊 Metrics server listening")
	return srv.ListenAndServe()
}
