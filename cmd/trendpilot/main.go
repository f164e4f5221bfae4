package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/trendpilot/bot"
	"github.com/web3guy0/trendpilot/core"
	"github.com/web3guy0/trendpilot/episode"
	"github.com/web3guy0/trendpilot/exec"
	"github.com/web3guy0/trendpilot/feeds"
	"github.com/web3guy0/trendpilot/internal/config"
	"github.com/web3guy0/trendpilot/learner"
	"github.com/web3guy0/trendpilot/metrics"
	"github.com/web3guy0/trendpilot/overrides"
	"github.com/web3guy0/trendpilot/regime"
	"github.com/web3guy0/trendpilot/risk"
	"github.com/web3guy0/trendpilot/storage"
	"github.com/web3guy0/trendpilot/types"
)

// lazyBook breaks the construction cycle between the engine (which owns the
// position book) and the paper executor (which reads it at fill time).
type lazyBook struct {
	engine *core.Engine
}

func (b *lazyBook) Quantity(positionID string) decimal.Decimal {
	if b.engine == nil {
		return decimal.Zero
	}
	return b.engine.Quantity(positionID)
}

func (b *lazyBook) RemainingCapital(positionID string) decimal.Decimal {
	if b.engine == nil {
		return decimal.Zero
	}
	return b.engine.RemainingCapital(positionID)
}

// statsAdapter stitches engine, storage, and breaker views together for the
// Telegram bot.
type statsAdapter struct {
	engine  *core.Engine
	db      *storage.Database
	breaker *risk.CircuitBreaker
}

func (s *statsAdapter) Positions() []types.Position { return s.engine.Positions() }

func (s *statsAdapter) ClosedTrades(limit int) ([]types.ClosedTrade, error) {
	if s.db == nil {
		return nil, nil
	}
	return s.db.ClosedTrades(limit)
}

func (s *statsAdapter) BreakerStats() (int, int, bool, string) {
	return s.breaker.Stats()
}

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration invalid")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msg("            TRENDPILOT - ADAPTIVE TREND FOLLOWER")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Storage
	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Warn().Err(err).Msg("Database connection failed, continuing without persistence")
		db = nil
	} else {
		log.Info().Msg("✅ Storage layer initialized")
	}

	// 2. Feature provider
	var provider feeds.Provider
	var stream *feeds.Stream
	if cfg.FeatureStreamURL != "" {
		stream = feeds.NewStream(cfg.FeatureStreamURL)
		stream.Start()
		provider = stream
		log.Info().Msg("✅ Feature stream initialized")
	} else {
		provider = feeds.NewReplay()
		log.Warn().Msg("FEATURE_STREAM_URL not set, running with an empty replay provider")
	}

	// 3. Gate thresholds
	router, err := config.NewThresholdRouter(cfg.ThresholdsPath)
	if err != nil {
		log.Warn().Err(err).Msg("Thresholds config unavailable, using defaults")
		router = config.NewThresholdRouterWithDefaults()
	}
	log.Info().Msg("✅ Gate thresholds loaded")

	// 4. Override store + circuit breaker
	store := overrides.NewStore()
	breaker := risk.NewCircuitBreaker(3, 5, cfg.LearnInterval)

	// 5. Paper executor
	book := &lazyBook{}
	quote := func(instrument, timeframe string) (decimal.Decimal, bool) {
		rec, err := provider.Latest(ctx, instrument, timeframe)
		if err != nil {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(rec.Price), true
	}
	executor := exec.NewPaper(exec.DefaultPaperConfig(), book, quote)
	log.Info().Msg("✅ Paper execution layer initialized")

	// 6. Core engine
	deps := core.Deps{
		Config:   cfg,
		Provider: provider,
		Executor: executor,
		Pending:  exec.NewPending(cfg.PendingTimeout),
		Store:    store,
		Tracker:  episode.NewTracker(),
		Regime:   regime.NewDetector(),
		Breaker:  breaker,
		Router:   router,
	}
	if db != nil {
		deps.Persist = db
	}

	// 7. Telegram bot (optional)
	var tg *bot.TelegramBot
	engineHolder := &statsAdapter{db: db, breaker: breaker}
	if cfg.TelegramToken != "" {
		tg, err = bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID, engineHolder)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram bot unavailable, continuing without it")
		} else {
			tg.SetControlCallbacks(breaker.PauseEntries, breaker.ResumeEntries)
			deps.Notifier = tg
		}
	}

	engine := core.NewEngine(deps)
	book.engine = engine
	engineHolder.engine = engine
	log.Info().Msg("✅ Core engine initialized")

	// 8. Learner (needs persistence for the event log)
	var brain *learner.Learner
	if db != nil {
		miner := learner.NewMiner(cfg.MinLessonSamples, cfg.MinEdge)
		brain = learner.New(db, db, store, miner, cfg.LearnInterval)
	} else {
		log.Warn().Msg("Learner disabled: no persistence for the event log")
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// START
	// ═══════════════════════════════════════════════════════════════════════════════

	go func() {
		if err := metrics.Serve(cfg.MetricsAddr); err != nil {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Engine start failed")
	}
	if brain != nil {
		brain.Start(ctx)
	}
	if tg != nil {
		tg.Start()
		mode := "PAPER"
		if !cfg.DryRun {
			mode = "LIVE"
		}
		tfs := make([]string, 0, len(cfg.Timeframes))
		for tf := range cfg.Timeframes {
			tfs = append(tfs, tf)
		}
		tg.NotifyStartup(mode, tfs)
	}

	log.Info().
		Strs("instruments", cfg.Instruments).
		Int("timeframes", len(cfg.Timeframes)).
		Msg("🚀 All systems running...")

	// ═══════════════════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("🛑 Shutting down...")
	engine.Stop()
	if brain != nil {
		brain.Stop()
	}
	if tg != nil {
		tg.Stop()
	}
	if stream != nil {
		stream.Stop()
	}
	if db != nil {
		db.Close()
	}

	log.Info().Msg("👋 Goodbye!")
}
