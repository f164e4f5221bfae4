package bot

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/trendpilot/types"
)

var hundred = decimal.NewFromInt(100)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - trading notifications & control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   📤 Intent alerts as the engine emits them
//   📕 Trade closure summaries with outcome
//   📈 Aggregate stats over the closed-trade log
//   🎛️ Control commands (/status, /pause, /resume, /positions, /trades)
//
// ═══════════════════════════════════════════════════════════════════════════════

// StatsProvider is what the bot needs from the rest of the system to answer
// commands. Implemented by a thin adapter in main over the engine and the
// database.
type StatsProvider interface {
	Positions() []types.Position
	ClosedTrades(limit int) ([]types.ClosedTrade, error)
	BreakerStats() (losses, execErrors int, tripped bool, reason string)
}

// TelegramBot manages the Telegram interface. It implements the engine's
// Notifier contract.
type TelegramBot struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	stats StatsProvider

	onPause  func()
	onResume func()
}

// NewTelegramBot creates a bot bound to one authorized chat.
func NewTelegramBot(token string, chatID int64, stats StatsProvider) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := &TelegramBot{
		api:    api,
		chatID: chatID,
		stopCh: make(chan struct{}),
		stats:  stats,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return bot, nil
}

// SetControlCallbacks sets pause/resume handlers.
func (b *TelegramBot) SetControlCallbacks(onPause, onResume func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPause = onPause
	b.onResume = onResume
}

// Start begins listening for commands.
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the bot.
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}

	b.running = false
	close(b.stopCh)
	log.Info().Msg("Telegram bot stopped")
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// NotifyIntent sends an alert for one emitted intent.
func (b *TelegramBot) NotifyIntent(intent types.Intent) {
	var emoji string
	switch intent.Action {
	case types.ActionAdd:
		emoji = "🟢"
	case types.ActionTrim:
		emoji = "✂️"
	case types.ActionExit:
		emoji = "📊"
	case types.ActionEmergencyExit:
		emoji = "🚨"
	default:
		emoji = "📌"
	}

	msg := fmt.Sprintf(`%s *%s*

📊 *%s* — %s
━━━━━━━━━━━━━━━━
📦 Size: *%s%%* of %s
🧭 Pattern: %s
📝 %s`,
		emoji, strings.ToUpper(string(intent.Action)),
		intent.Instrument, intent.Timeframe,
		intent.SizeFraction.Mul(hundred).StringFixed(1),
		denomLabel(intent.Denominator),
		intent.PatternKey,
		strings.Join(intent.ReasonCodes, ", "),
	)

	b.sendMarkdown(msg)
}

// NotifyClosure sends the closure summary for one trade.
func (b *TelegramBot) NotifyClosure(ct types.ClosedTrade) {
	emoji := "📈"
	if ct.Outcome < 0 {
		emoji = "📉"
	}

	outcomeStr := "n/a"
	if ct.OutcomeKnown {
		outcomeStr = fmt.Sprintf("%+.2f%%", ct.Outcome*100)
	}

	msg := fmt.Sprintf(`%s *TRADE CLOSED*

📊 *%s* — %s
━━━━━━━━━━━━━━━━
💵 Outcome: *%s*
📥 Allocated: $%s
📤 Extracted: $%s
⏱️ Held: %v`,
		emoji,
		ct.Instrument, ct.Timeframe,
		outcomeStr,
		ct.Allocated.StringFixed(2),
		ct.Extracted.StringFixed(2),
		ct.ClosedAt.Sub(ct.OpenedAt).Round(time.Minute),
	)

	b.sendMarkdown(msg)
}

// NotifyStartup sends the startup banner.
func (b *TelegramBot) NotifyStartup(mode string, timeframes []string) {
	msg := fmt.Sprintf(`🚀 *TRENDPILOT STARTED*
━━━━━━━━━━━━━━━━━━━━

📊 Mode: *%s*
⏱️ Timeframes: *%s*

Use /help for commands`, mode, strings.Join(timeframes, ", "))

	b.sendMarkdown(msg)
}

// NotifyError sends an error alert.
func (b *TelegramBot) NotifyError(err error) {
	b.sendMarkdown(fmt.Sprintf("⚠️ *ERROR*\n\n`%s`", err.Error()))
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			// Only respond to authorized chat
			if update.Message.Chat.ID != b.chatID {
				continue
			}

			b.handleCommand(update.Message)
		}
	}
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	cmd := strings.ToLower(msg.Command())

	switch cmd {
	case "start", "help":
		b.cmdHelp()
	case "status":
		b.cmdStatus()
	case "positions":
		b.cmdPositions()
	case "trades":
		b.cmdTrades()
	case "stats":
		b.cmdStats()
	case "pause":
		b.cmdPause()
	case "resume":
		b.cmdResume()
	case "ping":
		b.send("🏓 Pong!")
	default:
		b.send("❓ Unknown command. Use /help")
	}
}

func (b *TelegramBot) cmdHelp() {
	msg := `🤖 *TRENDPILOT COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Engine status
💼 /positions — Tracked positions
📜 /trades — Last 10 closed trades
📈 /stats — Trading statistics
⏸️ /pause — Pause new entries
▶️ /resume — Resume new entries
🏓 /ping — Test connection`

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdStatus() {
	if b.stats == nil {
		b.send("❌ Status not available")
		return
	}

	positions := b.stats.Positions()
	active := 0
	for _, p := range positions {
		if p.Status == types.StatusActive {
			active++
		}
	}

	breakerStr := "🟢 closed"
	losses, execErrors, tripped, reason := b.stats.BreakerStats()
	if tripped {
		breakerStr = "🔴 OPEN — " + reason
	}

	msg := fmt.Sprintf(`📊 *ENGINE STATUS*
━━━━━━━━━━━━━━━━━━━━

💼 Positions: *%d* tracked, *%d* active
🔌 Breaker: %s
❌ Loss streak: %d | Exec errors: %d`,
		len(positions), active,
		breakerStr,
		losses, execErrors,
	)

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdPositions() {
	if b.stats == nil {
		b.send("❌ Positions not available")
		return
	}

	var active []types.Position
	for _, p := range b.stats.Positions() {
		if p.Status == types.StatusActive {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		b.send("📭 No active positions")
		return
	}

	msg := "💼 *ACTIVE POSITIONS*\n━━━━━━━━━━━━━━━━━━━━\n\n"
	for i, p := range active {
		msg += fmt.Sprintf(`🟢 *%s* — %s [%s]
📦 Qty: %s | Avg: $%s
📥 Deployed: $%s of $%s

`,
			p.Instrument, p.Timeframe, p.Snapshot.State,
			p.Quantity.StringFixed(4),
			p.AvgEntryPrice.StringFixed(2),
			p.Deployed().StringFixed(2),
			p.AllocationCap.StringFixed(2),
		)

		if i >= 4 {
			msg += fmt.Sprintf("_... and %d more_", len(active)-5)
			break
		}
	}

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdTrades() {
	if b.stats == nil {
		b.send("❌ Trades not available")
		return
	}

	trades, err := b.stats.ClosedTrades(10)
	if err != nil {
		b.send("❌ Failed to fetch trades")
		return
	}
	if len(trades) == 0 {
		b.send("📭 No closed trades yet")
		return
	}

	msg := "📜 *LAST 10 TRADES*\n━━━━━━━━━━━━━━━━━━━━\n\n"
	for _, ct := range trades {
		emoji := "📈"
		if ct.Outcome < 0 {
			emoji = "📉"
		}
		outcomeStr := "n/a"
		if ct.OutcomeKnown {
			outcomeStr = fmt.Sprintf("%+.2f%%", ct.Outcome*100)
		}

		msg += fmt.Sprintf("%s %s %s — %s\n   _%s_\n\n",
			emoji, ct.Instrument, ct.Timeframe, outcomeStr,
			ct.ClosedAt.Format("Jan 2 15:04"),
		)
	}

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdStats() {
	if b.stats == nil {
		b.send("❌ Stats not available")
		return
	}

	trades, err := b.stats.ClosedTrades(500)
	if err != nil {
		b.send("❌ Failed to fetch trades")
		return
	}

	var wins, losses, unknown int
	var sum float64
	for _, ct := range trades {
		if !ct.OutcomeKnown {
			unknown++
			continue
		}
		sum += ct.Outcome
		if ct.Outcome > 0 {
			wins++
		} else {
			losses++
		}
	}

	resolved := wins + losses
	winRate := float64(0)
	if resolved > 0 {
		winRate = float64(wins) / float64(resolved) * 100
	}

	msg := fmt.Sprintf(`📈 *TRADING STATS*
━━━━━━━━━━━━━━━━━━━━

📊 Closed Trades: *%d*
✅ Wins: *%d*
❌ Losses: *%d*
❔ Unresolved: *%d*
📈 Win Rate: *%.1f%%*

━━━━━━━━━━━━━━━━━━━━
💵 Cumulative Outcome: *%+.2f%%*`,
		len(trades), wins, losses, unknown, winRate, sum*100,
	)

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdPause() {
	b.mu.RLock()
	cb := b.onPause
	b.mu.RUnlock()

	if cb != nil {
		cb()
	}

	b.send("⏸️ New entries paused")
	log.Info().Msg("Entries paused via Telegram")
}

func (b *TelegramBot) cmdResume() {
	b.mu.RLock()
	cb := b.onResume
	b.mu.RUnlock()

	if cb != nil {
		cb()
	}

	b.send("▶️ New entries resumed")
	log.Info().Msg("Entries resumed via Telegram")
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func denomLabel(d types.Denominator) string {
	if d == types.DenomHoldings {
		return "holdings"
	}
	return "remaining capacity"
}

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
