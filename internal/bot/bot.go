// Package bot is a Telegram front end for operators: it answers read-only
// analytics and collective memory queries.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/memory-service/internal/models"
)

const (
	maxStatsDays = 90
	factsLimit   = 10
)

// Admin is the read-only surface of the memory service.
type Admin interface {
	GetAnalytics(ctx context.Context, windowDays int) (*models.AnalyticsReport, error)
	GetRealTimeMetrics(ctx context.Context) (*models.RealTimeMetrics, error)
	ListFacts(ctx context.Context, filter models.FactFilter) ([]models.CollectiveMemoryEntry, error)
	SearchFacts(ctx context.Context, query string) ([]models.CollectiveMemoryEntry, error)
}

type Bot struct {
	api     *tgbotapi.BotAPI
	admin   Admin
	allowed map[int64]struct{}
	logger  *zap.Logger
}

// New connects to Telegram. With an empty allow list every user is answered.
func New(token string, admin Admin, allowedUsers []int64, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Bot{
		api:     api,
		admin:   admin,
		allowed: allowSet(allowedUsers),
		logger:  logger,
	}, nil
}

func allowSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Start polls for updates until ctx is canceled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Operator bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			go b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil {
		return
	}
	if !b.isAllowed(message.From.ID) {
		b.logger.Warn("Ignoring message from unknown user", zap.Int64("user_id", message.From.ID))
		b.sendMessage(message.Chat.ID, "Sorry, you are not allowed to use this bot.")
		return
	}
	if !message.IsCommand() {
		b.sendMessage(message.Chat.ID, "Use /help to see available commands.")
		return
	}

	text := b.respond(ctx, message.Command(), message.CommandArguments())
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send response",
			zap.Error(err),
			zap.String("command", message.Command()),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) isAllowed(userID int64) bool {
	if len(b.allowed) == 0 {
		return true
	}
	_, ok := b.allowed[userID]
	return ok
}

// respond returns the MarkdownV2 reply to a command.
func (b *Bot) respond(ctx context.Context, command, args string) string {
	args = strings.TrimSpace(args)
	switch command {
	case "start":
		return escapeMarkdown(welcomeText)
	case "help":
		return escapeMarkdown(helpText)
	case "stats":
		return b.handleStats(ctx, args)
	case "realtime":
		return b.handleRealTime(ctx)
	case "facts":
		return b.handleFacts(ctx, args)
	case "search":
		return b.handleSearch(ctx, args)
	default:
		return escapeMarkdown("Unknown command. Use /help to see available commands.")
	}
}

const welcomeText = `Memory service operator bot.
I report how well conversation memory works and show what the team has learned.
Use /help to see all available commands.`

const helpText = `Available commands:
/stats [days] - Analytics for the last days (default 7)
/realtime - Activity over the last 5 minutes
/facts [type] - Most important collective memory entries
/search <text> - Find facts sharing words with the text
/help - Show this help message`

func (b *Bot) handleStats(ctx context.Context, args string) string {
	days := 0
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n <= 0 || n > maxStatsDays {
			return escapeMarkdown(fmt.Sprintf("Usage: /stats [days], days between 1 and %d.", maxStatsDays))
		}
		days = n
	}

	report, err := b.admin.GetAnalytics(ctx, days)
	if err != nil {
		b.logger.Error("Failed to get analytics", zap.Error(err))
		return escapeMarkdown("Sorry, failed to load analytics. Please try again later.")
	}
	return formatReport(report)
}

func (b *Bot) handleRealTime(ctx context.Context) string {
	metrics, err := b.admin.GetRealTimeMetrics(ctx)
	if err != nil {
		b.logger.Error("Failed to get real-time metrics", zap.Error(err))
		return escapeMarkdown("Sorry, failed to load metrics. Please try again later.")
	}
	return formatRealTime(metrics)
}

func (b *Bot) handleFacts(ctx context.Context, args string) string {
	memType := strings.ToLower(args)
	if memType != "" && !models.KnownMemoryType(memType) {
		return escapeMarkdown("Unknown memory type. Known types: " + strings.Join(memoryTypes, ", "))
	}

	entries, err := b.admin.ListFacts(ctx, models.FactFilter{Type: memType, Limit: factsLimit})
	if err != nil {
		b.logger.Error("Failed to list facts", zap.Error(err), zap.String("memory_type", memType))
		return escapeMarkdown("Sorry, failed to load facts. Please try again later.")
	}

	title := "Top facts"
	if memType != "" {
		title += " (" + memType + ")"
	}
	return formatFacts(title, entries)
}

func (b *Bot) handleSearch(ctx context.Context, query string) string {
	if query == "" {
		return escapeMarkdown("Usage: /search <text>")
	}

	entries, err := b.admin.SearchFacts(ctx, query)
	if err != nil {
		b.logger.Error("Failed to search facts", zap.Error(err))
		return escapeMarkdown("Sorry, search failed. Please try again later.")
	}
	return formatFacts("Similar facts", entries)
}

var memoryTypes = []string{
	models.MemoryTypeClientPreference,
	models.MemoryTypeVisaRule,
	models.MemoryTypeLegalRequirement,
	models.MemoryTypeBusinessProcess,
	models.MemoryTypeDecision,
	models.MemoryTypeGeneral,
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
