package telegram_bot

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"callguard/internal/alerts"
	"callguard/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const recentLimit = 5

// Reporter answers the read-only bot commands
type Reporter interface {
	ActiveSession(ctx context.Context) (*models.Session, error)
	SessionStats(ctx context.Context, sessionID string) (*models.SessionStats, error)
	RecentDetections(ctx context.Context, limit int) ([]*models.Detection, error)
}

// sender is the part of *tgbotapi.BotAPI the bot uses
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot sends block-level scam alerts to subscribed chats and answers
// /status and /recent
type Bot struct {
	api      sender
	updates  func() (tgbotapi.UpdatesChannel, func())
	logger   *zap.Logger
	reporter Reporter
	chatIDs  []int64
}

// NewBot authorizes against the Bot API
func NewBot(token string, chatIDs []int64, reporter Reporter, logger *zap.Logger) (*Bot, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}

	logger.Info("Telegram bot authorized",
		zap.String("username", botAPI.Self.UserName),
		zap.Int("alert_chats", len(chatIDs)))

	b := newBot(botAPI, chatIDs, reporter, logger)
	b.updates = func() (tgbotapi.UpdatesChannel, func()) {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		return botAPI.GetUpdatesChan(u), botAPI.StopReceivingUpdates
	}
	return b, nil
}

func newBot(api sender, chatIDs []int64, reporter Reporter, logger *zap.Logger) *Bot {
	return &Bot{
		api:      api,
		logger:   logger,
		reporter: reporter,
		chatIDs:  chatIDs,
	}
}

// Start begins listening for updates from Telegram
func (b *Bot) Start(ctx context.Context) error {
	if b.updates == nil {
		return nil
	}

	updates, stop := b.updates()
	b.logger.Info("Telegram bot started, waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telegram bot shutting down...")
			stop()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.CallbackQuery != nil {
				b.handleCallbackQuery(update.CallbackQuery)
			} else if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) Name() string { return "telegram" }

// Notify sends block-level alerts to every configured chat
func (b *Bot) Notify(ctx context.Context, event alerts.Event) error {
	if event.Level != alerts.LevelBlock || event.Detection == nil {
		return nil
	}

	text := formatAlert(event)
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Acknowledge", "ack:"+event.Detection.ID),
		),
	)

	var failed int
	for _, chatID := range b.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg := tgbotapi.NewMessage(chatID, text)
		msg.ReplyMarkup = keyboard
		if _, err := b.api.Send(msg); err != nil {
			failed++
			b.logger.Error("Failed to send scam alert",
				zap.Int64("chat_id", chatID),
				zap.String("detection_id", event.Detection.ID),
				zap.Error(err))
		}
	}

	if failed > 0 {
		return fmt.Errorf("alert not delivered to %d of %d chats", failed, len(b.chatIDs))
	}
	return nil
}

func formatAlert(event alerts.Event) string {
	det := event.Detection

	var sb strings.Builder
	fmt.Fprintf(&sb, "🚨 Scam detected (%d%% confidence)\n\n", det.Confidence)
	fmt.Fprintf(&sb, "⚠️ Type: %s\n", det.ScamType)
	if len(det.Patterns) > 0 {
		fmt.Fprintf(&sb, "🔎 Patterns: %s\n", strings.Join(det.Patterns, ", "))
	}
	if det.Analysis != "" {
		fmt.Fprintf(&sb, "\n%s\n", det.Analysis)
	}
	fmt.Fprintf(&sb, "\nSession: %s", event.SessionID)
	return sb.String()
}

// handleCallbackQuery marks an alert message as acknowledged
func (b *Bot) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	b.logger.Info("Received callback query",
		zap.String("data", query.Data),
		zap.Int64("user_id", query.From.ID))

	callback := tgbotapi.NewCallback(query.ID, "")
	if _, err := b.api.Request(callback); err != nil {
		b.logger.Error("Failed to send callback response", zap.Error(err))
	}

	action, detectionID, ok := strings.Cut(query.Data, ":")
	if !ok || action != "ack" || query.Message == nil {
		b.logger.Warn("Unknown callback data", zap.String("data", query.Data))
		return
	}

	edit := tgbotapi.NewEditMessageText(
		query.Message.Chat.ID,
		query.Message.MessageID,
		query.Message.Text+"\n\n✅ Acknowledged by "+query.From.FirstName,
	)
	if _, err := b.api.Send(edit); err != nil {
		b.logger.Error("Failed to edit message", zap.Error(err))
		return
	}

	b.logger.Info("Alert acknowledged",
		zap.String("detection_id", detectionID),
		zap.Int64("user_id", query.From.ID))
}

// handleMessage processes incoming messages
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if !message.IsCommand() {
		return
	}

	switch message.Command() {
	case "start":
		b.handleStartCommand(message)
	case "help":
		b.handleHelpCommand(message)
	case "status", "recent":
		// Stats and detections are only shown to alert subscribers
		if !b.subscribed(message.Chat.ID) {
			b.logger.Warn("Command from unsubscribed chat",
				zap.String("command", message.Command()),
				zap.Int64("chat_id", message.Chat.ID))
			b.sendMessage(message.Chat.ID, "🔒 This chat is not subscribed to alerts. Use /help to get its chat ID.")
			return
		}
		if message.Command() == "status" {
			b.handleStatusCommand(ctx, message)
		} else {
			b.handleRecentCommand(ctx, message)
		}
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help for the list of commands.")
	}
}

func (b *Bot) subscribed(chatID int64) bool {
	return slices.Contains(b.chatIDs, chatID)
}

func (b *Bot) handleStartCommand(message *tgbotapi.Message) {
	name := "there"
	if message.From != nil {
		name = message.From.FirstName
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf(
		"👋 Hi, %s!\n\nI send an alert here whenever a monitored call looks like a scam.\n\nUse /help to see what else I can do.",
		name))
}

func (b *Bot) handleHelpCommand(message *tgbotapi.Message) {
	helpText := "📚 Commands:\n\n" +
		"/status - protection stats for the active session\n" +
		"/recent - latest scam detections\n" +
		"/help - this message\n\n" +
		"Your chat ID: " + strconv.FormatInt(message.Chat.ID, 10)
	b.sendMessage(message.Chat.ID, helpText)
}

func (b *Bot) handleStatusCommand(ctx context.Context, message *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	session, err := b.reporter.ActiveSession(ctx)
	if err != nil {
		b.logger.Error("Failed to load active session", zap.Error(err))
		b.sendMessage(message.Chat.ID, "❌ Could not load the session status")
		return
	}
	if session == nil {
		b.sendMessage(message.Chat.ID, "ℹ️ No active monitoring session")
		return
	}

	stats, err := b.reporter.SessionStats(ctx, session.ID)
	if err != nil {
		b.logger.Error("Failed to load session stats", zap.String("session_id", session.ID), zap.Error(err))
		b.sendMessage(message.Chat.ID, "❌ Could not load the session status")
		return
	}

	b.sendMessage(message.Chat.ID, fmt.Sprintf(
		"🛡 Monitoring since %s\n\nConversations: %d\nScams: %d\nProtection rate: %.1f%%",
		session.StartedAt.Format(time.RFC822),
		stats.TotalConversations,
		stats.TotalScams,
		stats.ProtectionRate))
}

func (b *Bot) handleRecentCommand(ctx context.Context, message *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	detections, err := b.reporter.RecentDetections(ctx, recentLimit)
	if err != nil {
		b.logger.Error("Failed to load recent detections", zap.Error(err))
		b.sendMessage(message.Chat.ID, "❌ Could not load recent detections")
		return
	}
	if len(detections) == 0 {
		b.sendMessage(message.Chat.ID, "✅ No scams detected yet")
		return
	}

	var sb strings.Builder
	sb.WriteString("🕑 Recent detections:\n")
	for _, d := range detections {
		fmt.Fprintf(&sb, "\n%s %s: %s (%d%%)",
			severityMark(alerts.SeverityFor(d.Confidence)),
			d.DetectedAt.Format("15:04:05"),
			d.ScamType,
			d.Confidence)
	}
	b.sendMessage(message.Chat.ID, sb.String())
}

func severityMark(s alerts.Severity) string {
	switch s {
	case alerts.SeverityHigh:
		return "🔴"
	case alerts.SeverityMedium:
		return "🟡"
	default:
		return "⚪"
	}
}

// sendMessage is a helper to send a simple text message
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
