package notification

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"alpha-trade-engine/config"
)

// telegramSender is the slice of tgbotapi.BotAPI the notifier uses
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier delivers messages to a single chat via the Bot API
type TelegramNotifier struct {
	api     telegramSender
	chatID  int64
	enabled bool
	logger  zerolog.Logger
}

// NewTelegramNotifier connects to the Bot API. A disabled or incomplete
// config yields a notifier that reports Enabled() == false instead of an
// error so callers can register it unconditionally.
func NewTelegramNotifier(cfg config.TelegramConfig, logger zerolog.Logger) (*TelegramNotifier, error) {
	n := &TelegramNotifier{
		logger: logger.With().Str("component", "telegram_notifier").Logger(),
	}
	if !cfg.Enabled || cfg.BotToken == "" || cfg.ChatID == "" {
		return n, nil
	}

	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", cfg.ChatID, err)
	}
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}

	n.logger.Info().Str("username", api.Self.UserName).Msg("Telegram bot connected")
	n.api = api
	n.chatID = chatID
	n.enabled = true
	return n, nil
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) Enabled() bool { return t.enabled }

func (t *TelegramNotifier) Send(ctx context.Context, m *Message) error {
	if !t.enabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("*%s*\n\n%s", escapeMarkdown(m.Title), m.Body))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}

func escapeMarkdown(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '_', '*', '[', ']', '`':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
