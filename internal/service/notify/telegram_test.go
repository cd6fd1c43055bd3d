package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"SignalLoop/internal/domain/models"
)

type recordingSender struct{ texts []string }

func (r *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		r.texts = append(r.texts, m.Text)
	}
	return tgbotapi.Message{}, nil
}

func TestTelegramSendsOnlyClosedSimulations(t *testing.T) {
	s := &recordingSender{}
	n := NewTelegramWithSender(s, 42)
	sim := models.Simulation{ID: "sim-1", Symbol: "BTCUSDT", Trend: models.DirectionUp, EntryPrice: 100}

	_ = n.PublishSimulation(context.Background(), models.SimulationEvent{Type: models.EventSimulationOpened, Simulation: sim})
	closed := sim.Apply(models.Outcome{ClosedAt: time.Now(), ExitPrice: 100.5, ResultPct: 0.5, Success: true})
	if err := n.PublishSimulation(context.Background(), models.SimulationEvent{Type: models.EventSimulationClosed, Simulation: closed}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(s.texts) != 1 {
		t.Fatalf("expected one message, got %d", len(s.texts))
	}
	if !strings.HasPrefix(s.texts[0], "WIN BTCUSDT UP +0.5000%") {
		t.Fatalf("unexpected text %q", s.texts[0])
	}
}
