package telegram_bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"callguard/internal/alerts"
	"callguard/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	sent    []tgbotapi.Chattable
	failFor map[int64]bool
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok && f.failFor[msg.ChatID] {
		return tgbotapi.Message{}, errors.New("chat not found")
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) texts() []string {
	var out []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		}
	}
	return out
}

type fakeReporter struct {
	session    *models.Session
	stats      *models.SessionStats
	detections []*models.Detection
}

func (r *fakeReporter) ActiveSession(ctx context.Context) (*models.Session, error) {
	return r.session, nil
}

func (r *fakeReporter) SessionStats(ctx context.Context, sessionID string) (*models.SessionStats, error) {
	return r.stats, nil
}

func (r *fakeReporter) RecentDetections(ctx context.Context, limit int) ([]*models.Detection, error) {
	return r.detections, nil
}

const subscribedChat = 42

func command(text string) *tgbotapi.Message {
	return commandFrom(subscribedChat, text)
}

func commandFrom(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: 7, FirstName: "Asha"},
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len(text)},
		},
	}
}

func blockEvent() alerts.Event {
	return alerts.Event{
		Level:     alerts.LevelBlock,
		Severity:  alerts.SeverityHigh,
		SessionID: "session-1",
		Detection: &models.Detection{
			ID:         "det-1",
			Confidence: 85,
			ScamType:   "Bank impersonation",
			Patterns:   models.Patterns{"OTP request", "urgency"},
			Analysis:   "Caller asks for the OTP",
		},
	}
}

func TestNotifySendsBlockAlerts(t *testing.T) {
	api := &fakeSender{}
	bot := newBot(api, []int64{1, 2}, &fakeReporter{}, zap.NewNop())

	require.NoError(t, bot.Notify(context.Background(), blockEvent()))
	texts := api.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "85% confidence")
	assert.Contains(t, texts[0], "Bank impersonation")
	assert.Contains(t, texts[0], "OTP request, urgency")
}

func TestNotifyIgnoresWarnings(t *testing.T) {
	api := &fakeSender{}
	bot := newBot(api, []int64{1}, &fakeReporter{}, zap.NewNop())

	event := blockEvent()
	event.Level = alerts.LevelWarn
	require.NoError(t, bot.Notify(context.Background(), event))
	assert.Empty(t, api.sent)
}

func TestNotifyReportsFailedChats(t *testing.T) {
	api := &fakeSender{failFor: map[int64]bool{2: true}}
	bot := newBot(api, []int64{1, 2}, &fakeReporter{}, zap.NewNop())

	err := bot.Notify(context.Background(), blockEvent())
	require.Error(t, err)
	assert.Len(t, api.sent, 1)
}

func TestStatusCommand(t *testing.T) {
	api := &fakeSender{}
	reporter := &fakeReporter{
		session: &models.Session{ID: "session-1", StartedAt: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC), IsActive: true},
		stats:   models.NewSessionStats(3, 1),
	}
	bot := newBot(api, []int64{subscribedChat}, reporter, zap.NewNop())

	bot.handleMessage(context.Background(), command("/status"))
	texts := api.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Conversations: 3")
	assert.Contains(t, texts[0], "Scams: 1")
	assert.Contains(t, texts[0], "66.7%")
}

func TestStatusCommandWithoutSession(t *testing.T) {
	api := &fakeSender{}
	bot := newBot(api, []int64{subscribedChat}, &fakeReporter{}, zap.NewNop())

	bot.handleMessage(context.Background(), command("/status"))
	assert.Equal(t, []string{"ℹ️ No active monitoring session"}, api.texts())
}

func TestRecentCommand(t *testing.T) {
	api := &fakeSender{}
	reporter := &fakeReporter{detections: []*models.Detection{
		{ID: "d2", ScamType: "Lottery", Confidence: 55, DetectedAt: time.Now()},
		{ID: "d1", ScamType: "Bank impersonation", Confidence: 90, DetectedAt: time.Now()},
	}}
	bot := newBot(api, []int64{subscribedChat}, reporter, zap.NewNop())

	bot.handleMessage(context.Background(), command("/recent"))
	texts := api.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "🟡")
	assert.Contains(t, texts[0], "Lottery (55%)")
	assert.Contains(t, texts[0], "🔴")
}

func TestAcknowledgeCallback(t *testing.T) {
	api := &fakeSender{}
	bot := newBot(api, nil, &fakeReporter{}, zap.NewNop())

	bot.handleCallbackQuery(&tgbotapi.CallbackQuery{
		ID:   "cb",
		Data: "ack:det-1",
		From: &tgbotapi.User{ID: 7, FirstName: "Asha"},
		Message: &tgbotapi.Message{
			MessageID: 10,
			Text:      "🚨 Scam detected",
			Chat:      &tgbotapi.Chat{ID: 42},
		},
	})

	texts := api.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Acknowledged by Asha")
}

func TestCommandsFromUnsubscribedChat(t *testing.T) {
	api := &fakeSender{}
	reporter := &fakeReporter{
		session:    &models.Session{ID: "session-1", StartedAt: time.Now(), IsActive: true},
		stats:      models.NewSessionStats(3, 1),
		detections: []*models.Detection{{ID: "d1", ScamType: "Bank impersonation", Confidence: 90, DetectedAt: time.Now()}},
	}
	bot := newBot(api, []int64{1}, reporter, zap.NewNop())

	bot.handleMessage(context.Background(), commandFrom(7, "/recent"))
	bot.handleMessage(context.Background(), commandFrom(7, "/status"))

	texts := api.texts()
	require.Len(t, texts, 2)
	for _, text := range texts {
		assert.Contains(t, text, "not subscribed")
		assert.NotContains(t, text, "Bank impersonation")
		assert.NotContains(t, text, "Conversations")
	}
}

func TestHelpAnswersAnyChat(t *testing.T) {
	api := &fakeSender{}
	bot := newBot(api, []int64{1}, &fakeReporter{}, zap.NewNop())

	bot.handleMessage(context.Background(), commandFrom(7, "/help"))
	texts := api.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Your chat ID: 7")
}
