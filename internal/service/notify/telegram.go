package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"SignalLoop/internal/domain/models"
	drepo "SignalLoop/internal/domain/repository"
)

// Sender is the part of *tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts closed simulations to a chat. Predictions are not forwarded.
type Telegram struct {
	bot    Sender
	chatID int64
}

// NewTelegram connects to the Bot API with token.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegramWithSender(bot, chatID), nil
}

// NewTelegramWithSender creates a new Telegram instance over an existing sender.
func NewTelegramWithSender(bot Sender, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

var _ drepo.EventPublisher = (*Telegram)(nil)

func (t *Telegram) PublishPrediction(context.Context, models.PredictionResult) error { return nil }

func (t *Telegram) PublishSimulation(_ context.Context, ev models.SimulationEvent) error {
	if ev.Type != models.EventSimulationClosed {
		return nil
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, FormatClosed(ev.Simulation))); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (t *Telegram) Close() error { return nil }

// FormatClosed renders a closed simulation as a short chat message.
func FormatClosed(sim models.Simulation) string {
	outcome := "LOSS"
	if sim.Won() {
		outcome = "WIN"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %+.4f%%\n", outcome, sim.Symbol, sim.Trend, sim.ResultPct)
	fmt.Fprintf(&b, "entry %.4f exit %.4f\n", sim.EntryPrice, sim.ExitPrice)
	fmt.Fprintf(&b, "confidence %.2f (%s)", sim.Confidence, sim.Prediction.ModelDetail.Method)
	return b.String()
}
