package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"soma-bot/internal/conversation"
	"soma-bot/internal/dispatch"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Submitter accepts conversation events for asynchronous handling.
type Submitter interface {
	Submit(ev conversation.Event) error
}

type Bot struct {
	api     *tgbotapi.BotAPI
	logger  *zap.Logger
	catalog conversation.ProductCatalog
}

func New(token string, cat conversation.ProductCatalog, logger *zap.Logger) (*Bot, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	return newBot(botAPI, cat, logger), nil
}

// NewWithEndpoint talks to a Telegram Bot API server at endpoint, formatted
// like tgbotapi.APIEndpoint.
func NewWithEndpoint(token, endpoint string, client *http.Client, cat conversation.ProductCatalog, logger *zap.Logger) (*Bot, error) {
	botAPI, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	return newBot(botAPI, cat, logger), nil
}

func newBot(botAPI *tgbotapi.BotAPI, cat conversation.ProductCatalog, logger *zap.Logger) *Bot {
	logger.Info("Bot authorized",
		zap.String("username", botAPI.Self.UserName),
		zap.Int64("id", botAPI.Self.ID))

	for _, p := range cat.Products() {
		if len(conversation.ItemToken(p.Name)) > maxCallbackData {
			logger.Warn("Product name too long for an inline button",
				zap.String("product", p.Name),
				zap.Int("limit", maxCallbackData))
		}
	}

	return &Bot{
		api:     botAPI,
		logger:  logger,
		catalog: cat,
	}
}

// Send delivers one outbound message. Choices become inline buttons.
func (b *Bot) Send(_ context.Context, out conversation.Outbound) error {
	if _, err := b.api.Send(buildMessage(out)); err != nil {
		return fmt.Errorf("send message to %d: %w", out.UserID, err)
	}
	return nil
}

// Run long-polls Telegram for updates until ctx is done.
func (b *Bot) Run(ctx context.Context, sub Submitter) error {
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	b.logger.Info("Starting bot in polling mode")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("Shutting down bot")
			return nil

		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, sub, update)
		}
	}
}

// SetWebhook points Telegram at url.
func (b *Bot) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if _, err := b.api.Request(wh); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	b.logger.Info("Webhook registered", zap.String("url", url))
	return nil
}

// WebhookHandler accepts updates pushed by Telegram.
func (b *Bot) WebhookHandler(sub Submitter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		update, err := b.api.HandleUpdate(r)
		if err != nil {
			b.logger.Warn("Rejected webhook update", zap.Error(err))
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}

		b.HandleUpdate(r.Context(), sub, *update)
		_, _ = w.Write([]byte("OK"))
	})
}

func (b *Bot) HandleUpdate(ctx context.Context, sub Submitter, update tgbotapi.Update) {
	in, ok := parseUpdate(update)
	if !ok {
		return
	}

	if in.callbackID != "" {
		if _, err := b.api.Request(tgbotapi.NewCallback(in.callbackID, "")); err != nil {
			b.logger.Warn("Failed to answer callback",
				zap.Int64("chat_id", in.chatID),
				zap.Error(err))
		}
	}
	if in.chatID == 0 {
		return
	}

	b.logger.Debug("Processing update",
		zap.Int64("chat_id", in.chatID),
		zap.Stringer("kind", in.event.Kind),
		zap.String("command", in.local))

	switch in.local {
	case "":
	case "start":
		b.reply(ctx, in.chatID, msgWelcome)
		return
	case "help":
		b.reply(ctx, in.chatID, msgHelp)
		return
	case "info":
		b.reply(ctx, in.chatID, infoText(b.catalog, in.args))
		return
	case unsupported:
		b.reply(ctx, in.chatID, msgUnsupportedKind)
		return
	}

	if err := sub.Submit(in.event); err != nil {
		b.submitFailed(ctx, in.chatID, err)
	}
}

func (b *Bot) submitFailed(ctx context.Context, chatID int64, err error) {
	switch {
	case errors.Is(err, dispatch.ErrThrottled):
		b.reply(ctx, chatID, msgThrottled)
	case errors.Is(err, dispatch.ErrBacklogFull):
		b.logger.Warn("Dispatch backlog full", zap.Int64("chat_id", chatID))
		b.reply(ctx, chatID, msgBusy)
	default:
		b.logger.Warn("Dropped update", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.Send(ctx, conversation.Outbound{UserID: chatID, Text: text}); err != nil {
		b.logger.Error("Failed to send message",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}
}

func infoText(cat conversation.ProductCatalog, query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		var sb strings.Builder
		sb.WriteString(msgInfoHeader)
		for _, p := range cat.Products() {
			fmt.Fprintf(&sb, "\n• %s – %s", p.Name, p.Price.StringFixed(2))
		}
		return sb.String()
	}

	p, ok := cat.Find(query)
	if !ok {
		return fmt.Sprintf(msgInfoUnknown, query)
	}
	text := fmt.Sprintf("%s – %s", p.Name, p.Price.StringFixed(2))
	if p.Description != "" {
		text += "\n" + p.Description
	}
	return text
}
