// Package notify delivers signal and alarm messages.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crypto-signal-bot-go/internal/models"
	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier delivers messages. Delivery is best effort: a false return is
// logged by the caller and never undoes persistence.
type Notifier interface {
	Notify(ctx context.Context, rec *models.SignalRecord) bool
	Send(ctx context.Context, text string) bool
}

// sender is the part of *tgbot.BotAPI the notifier uses.
type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram posts messages to a single chat.
type Telegram struct {
	bot    sender
	chatID int64
	logger *zap.Logger
}

var _ Notifier = (*Telegram)(nil)

func NewTelegram(token string, chatID int64, logger *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Telegram{bot: b, chatID: chatID, logger: logger.Named("telegram")}, nil
}

func (t *Telegram) Notify(ctx context.Context, rec *models.SignalRecord) bool {
	return t.Send(ctx, FormatSignal(rec))
}

func (t *Telegram) Send(ctx context.Context, text string) bool {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	msg := tgbot.NewMessage(t.chatID, text)
	msg.ParseMode = tgbot.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warn("Failed to send telegram message", zap.Error(err))
		return false
	}
	return true
}

// LogNotifier writes messages to the log. It is used when Telegram is disabled.
type LogNotifier struct {
	logger *zap.Logger
}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, rec *models.SignalRecord) bool {
	n.logger.Info("Signal",
		zap.String("symbol", rec.Coin),
		zap.String("direction", rec.SignalType),
		zap.Float64("probability", rec.Probability),
		zap.Float64("entry", rec.EntryPrice),
		zap.Float64("tp", rec.TakeProfit),
		zap.Float64("sl", rec.StopLoss))
	return true
}

func (n *LogNotifier) Send(ctx context.Context, text string) bool {
	n.logger.Info("Message", zap.String("text", text))
	return true
}

// FormatSignal renders a signal as an HTML Telegram message.
func FormatSignal(rec *models.SignalRecord) string {
	var b strings.Builder
	arrow := "📈"
	if rec.SignalType == models.SignalShort {
		arrow = "📉"
	}
	fmt.Fprintf(&b, "📊 <b>SIGNAL BOT</b>\n\n")
	fmt.Fprintf(&b, "🪙 <b>%s</b> — <b>%s %s</b>\n", rec.Coin, arrow, rec.SignalType)
	fmt.Fprintf(&b, "💰 Entry: <code>$%.4f</code>\n", rec.EntryPrice)
	fmt.Fprintf(&b, "💯 Probability: <b>%.2f%%</b>  (threshold: %.2f%%)\n", rec.Probability, rec.ThresholdUsed)
	fmt.Fprintf(&b, "⏱ Timeframe: %s\n\n", rec.Timeframe)

	fmt.Fprintf(&b, "<b>🎯 Targets:</b>\n")
	fmt.Fprintf(&b, "✅ Take Profit: <code>$%.4f</code>\n", rec.TakeProfit)
	fmt.Fprintf(&b, "🛡 Stop Loss: <code>$%.4f</code>\n", rec.StopLoss)

	if rec.EntryPrice > 0 {
		gain, loss := potential(rec)
		rr := 0.0
		if loss > 0 {
			rr = gain / loss
		}
		fmt.Fprintf(&b, "\n📊 Potential gain: <b>+%.2f%%</b>\n", gain)
		fmt.Fprintf(&b, "📊 Potential loss: <b>-%.2f%%</b>\n", loss)
		fmt.Fprintf(&b, "⚖️ Risk/Reward: <b>1:%.1f</b>\n", rr)
	}

	if rec.RSISignal != "" || rec.MACDSignal != "" {
		fmt.Fprintf(&b, "\n📐 RSI: %s  MACD: %s\n", orDash(rec.RSISignal), orDash(rec.MACDSignal))
	}
	fmt.Fprintf(&b, "\n🕐 %s UTC\n", rec.CreatedAt.UTC().Format(time.DateTime))
	return b.String()
}

func potential(rec *models.SignalRecord) (gain, loss float64) {
	p := rec.EntryPrice
	if rec.SignalType == models.SignalShort {
		return (p - rec.TakeProfit) / p * 100, (rec.StopLoss - p) / p * 100
	}
	return (rec.TakeProfit - p) / p * 100, (p - rec.StopLoss) / p * 100
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// FormatAlarm renders a triggered alarm.
func FormatAlarm(a *models.PriceAlarm, price float64) string {
	return fmt.Sprintf("🔔 <b>%s</b> reached the %s entry <code>$%.4f</code> (now <code>$%.4f</code>)",
		a.Coin, a.SignalType, a.TargetPrice, price)
}

// FormatOutcome renders a closed signal.
func FormatOutcome(rec *models.SignalRecord, status string, profitLoss float64) string {
	icon := "⌛"
	switch status {
	case models.StatusHitTP:
		icon = "✅"
	case models.StatusHitSL:
		icon = "🛑"
	}
	return fmt.Sprintf("%s <b>%s</b> %s closed as %s: %+.2f%%", icon, rec.Coin, rec.SignalType, status, profitLoss)
}
