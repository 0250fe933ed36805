package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/0xnexus/nexus/internal/signal"
	"github.com/0xnexus/nexus/internal/vault"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Trading notifications & control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   📊 Signal and confidence alerts
//   📉 Position notifications (open/close/PnL)
//   🌉 Bridge transfer alerts
//   🎛️ Control commands (/status, /positions, /stats, /pause, /resume)
//
// ═══════════════════════════════════════════════════════════════════════════════

// Book is the position-manager surface the bot needs
type Book interface {
	OpenPositions() []vault.Position
	Metrics() vault.Metrics
	Paused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Bot manages the Telegram interface
type Bot struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	chatID  int64
	book    Book
	running bool
	stopCh  chan struct{}
}

// New creates the bot. Fails if the token is invalid; callers treat a
// missing token as "telegram disabled" and skip construction.
func New(token string, chatID int64, book Book) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := &Bot{
		api:    api,
		chatID: chatID,
		book:   book,
		stopCh: make(chan struct{}),
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return bot, nil
}

// Start begins listening for commands
func (b *Bot) Start() {
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

// Stop shuts down the command loop
func (b *Bot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.running = false
	close(b.stopCh)
	b.api.StopReceivingUpdates()
}

func (b *Bot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(update.Message)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	if msg.Chat.ID != b.chatID {
		log.Debug().Int64("chat_id", msg.Chat.ID).Msg("Ignoring command from unknown chat")
		return
	}

	switch msg.Command() {
	case "start", "help":
		b.cmdHelp()
	case "status":
		b.cmdStatus()
	case "positions":
		b.cmdPositions()
	case "stats":
		b.cmdStats()
	case "pause":
		b.cmdPause()
	case "resume":
		b.cmdResume()
	default:
		b.sendText("❓ Unknown command. Use /help for available commands.")
	}
}

// Commands

func (b *Bot) cmdHelp() {
	b.sendMarkdown(`📚 *NEXUS Commands*

*📊 Monitoring:*
/status - Agent and vault status
/positions - Open shorts
/stats - Performance statistics

*🎛️ Control:*
/pause - Stop opening new positions
/resume - Resume trading

Alerts for signals, entries, exits and bridge
transfers are pushed automatically.`)
}

func (b *Bot) cmdStatus() {
	paused := "🟢 Trading"
	if b.book.Paused() {
		paused = "⏸️ Paused"
	}
	mt := b.book.Metrics()

	b.sendMarkdown(fmt.Sprintf(`📊 *Agent Status*

🤖 *State:* %s
📉 *Open positions:* %d
💰 *Realized PnL:* $%s`,
		paused, mt.Open, mt.TotalPnL.StringFixed(2)))
}

func (b *Bot) cmdPositions() {
	positions := b.book.OpenPositions()
	if len(positions) == 0 {
		b.sendText("📭 No open positions")
		return
	}

	var sb strings.Builder
	sb.WriteString("📉 *Open Shorts*\n")
	for _, p := range positions {
		sb.WriteString(fmt.Sprintf("\n#%d *%s* $%s @ $%s (%dx, conf %.0f)",
			p.ID, p.Asset, p.Collateral.StringFixed(0), p.EntryPrice.StringFixed(2),
			p.Leverage, p.Confidence))
	}
	b.sendMarkdown(sb.String())
}

func (b *Bot) cmdStats() {
	mt := b.book.Metrics()
	b.sendMarkdown(fmt.Sprintf(`📈 *Performance*

• Positions: %d (%d open, %d closed)
• Profitable: %d
• Win rate: %s%%
• Total PnL: $%s
• Avg PnL: $%s`,
		mt.Total, mt.Open, mt.Closed, mt.Profitable,
		mt.WinRate.StringFixed(1), mt.TotalPnL.StringFixed(2), mt.AvgPnL.StringFixed(2)))
}

func (b *Bot) cmdPause() {
	if err := b.book.Pause(context.Background()); err != nil {
		b.sendText("❌ Pause failed: " + err.Error())
		return
	}
	b.sendText("⏸️ Trading paused. Open positions remain managed.")
}

func (b *Bot) cmdResume() {
	if err := b.book.Resume(context.Background()); err != nil {
		b.sendText("❌ Resume failed: " + err.Error())
		return
	}
	b.sendText("▶️ Trading resumed.")
}

// Alerts

// SignalAlert announces a high-confidence candidate
func (b *Bot) SignalAlert(c signal.Candidate) {
	b.sendMarkdown(fmt.Sprintf(`🚨 *Crash Signal: %s*

• Chain: %s
• Confidence: %.0f
• Contributing signals: %d`,
		c.Asset, c.Chain, c.Confidence, c.Signals))
}

// PositionOpened announces a new short
func (b *Bot) PositionOpened(p *vault.Position) {
	b.sendMarkdown(fmt.Sprintf(`📉 *Short Opened: %s*

• Collateral: $%s (%dx)
• Entry: $%s
• Confidence: %.0f
• Tx: `+"`%s`",
		p.Asset, p.Collateral.StringFixed(2), p.Leverage,
		p.EntryPrice.StringFixed(2), p.Confidence, p.TxHash))
}

// PositionClosed announces an exit with realized PnL
func (b *Bot) PositionClosed(p *vault.Position) {
	emoji := "✅"
	if p.PnL.IsNegative() {
		emoji = "🔻"
	}
	b.sendMarkdown(fmt.Sprintf(`%s *Short Closed: %s*

• Entry: $%s → Exit: $%s
• PnL: $%s
• Held: %s`,
		emoji, p.Asset, p.EntryPrice.StringFixed(2), p.ExitPrice.StringFixed(2),
		p.PnL.StringFixed(2), p.ClosedAt.Sub(p.OpenedAt).Round(time.Minute)))
}

// BridgeAlert announces bridge transfer outcomes that need attention
func (b *Bot) BridgeAlert(txHash, state string) {
	b.sendMarkdown(fmt.Sprintf(`🌉 *Bridge Transfer %s*

Tx: `+"`%s`", state, txHash))
}

// DailySummary pushes the end-of-day rollup
func (b *Bot) DailySummary(signals int, opened, closed int, pnl decimal.Decimal) {
	b.sendMarkdown(fmt.Sprintf(`🌙 *Daily Summary*

• Signals detected: %d
• Positions opened: %d
• Positions closed: %d
• Realized PnL: $%s`,
		signals, opened, closed, pnl.StringFixed(2)))
}

// Send helpers

func (b *Bot) sendText(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Telegram send failed")
	}
}

func (b *Bot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Telegram send failed")
	}
}
