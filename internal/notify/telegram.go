package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"taskbeat/internal/core"
)

// TelegramSender posts messages with a bot to the channel's chat id.
type TelegramSender struct {
	bot *tele.Bot
}

// NewTelegramSender creates a sender for the bot token. No polling is started.
func NewTelegramSender(token string) (*TelegramSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramSender{bot: b}, nil
}

func (t *TelegramSender) Send(ctx context.Context, ch core.Channel, title, body string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(ch.ChatID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", ch.ChatID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	text := body
	if title != "" {
		text = title + "\n\n" + body
	}
	if _, err := t.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
