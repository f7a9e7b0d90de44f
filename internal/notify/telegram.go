package notify

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"
)

// TelegramSink sends notifications to a fixed chat. The hub never polls for
// updates; the bot is outbound-only.
type TelegramSink struct {
	bot    *tele.Bot
	chatID int64
}

func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramSink{bot: b, chatID: chatID}, nil
}

func (t *TelegramSink) Send(_ context.Context, text string) error {
	_, err := t.bot.Send(&tele.Chat{ID: t.chatID}, text)
	return err
}
