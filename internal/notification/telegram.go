package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TelegramNotifier sends alerts via the Telegram Bot API.
type TelegramNotifier struct {
	bot    *tgbot.BotAPI
	chatID int64
}

// NewTelegramNotifier creates a Telegram notifier.
// botToken: Bot API token from @BotFather
// chatID: Target chat/group/channel ID
func NewTelegramNotifier(botToken string, chatID int64) (*TelegramNotifier, error) {
	return NewTelegramNotifierWithEndpoint(botToken, chatID, tgbot.APIEndpoint)
}

// NewTelegramNotifierWithEndpoint is NewTelegramNotifier against a custom
// API endpoint format ("https://host/bot%s/%s").
func NewTelegramNotifierWithEndpoint(botToken string, chatID int64, endpoint string) (*TelegramNotifier, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	bot, err := tgbot.NewBotAPIWithClient(botToken, endpoint, client)
	if err != nil {
		return nil, errors.Wrap(err, "telegram: init bot")
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (t *TelegramNotifier) Send(_ context.Context, alert Alert) error {
	emoji := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}

	text := fmt.Sprintf("%s *%s*\n\n%s", emoji,
		tgbot.EscapeText(tgbot.ModeMarkdownV2, alert.Title),
		tgbot.EscapeText(tgbot.ModeMarkdownV2, alert.Message))

	msg := tgbot.NewMessage(t.chatID, text)
	msg.ParseMode = tgbot.ModeMarkdownV2
	if _, err := t.bot.Send(msg); err != nil {
		return errors.Wrap(err, "telegram: send")
	}

	log.Debug().Str("component", "telegram").Str("title", alert.Title).Msg("sent alert")
	return nil
}
